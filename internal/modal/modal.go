// Package modal holds the single confirm/cancel action an operator can have
// open at a time.
package modal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrBusy is returned by Open while another action is visible.
	ErrBusy = errors.New("another action is already open")

	// ErrNoAction is returned when confirming or cancelling with nothing open.
	ErrNoAction = errors.New("no open action")

	// ErrStale is returned when the caller names an action that is no longer open.
	ErrStale = errors.New("action is no longer open")

	// ErrRunning is returned when confirming an action whose callback is in progress.
	ErrRunning = errors.New("action is already running")
)

// ConfirmFunc performs the action once the operator confirms it.
type ConfirmFunc func(ctx context.Context) error

// Action describes a pending confirmation.
type Action struct {
	Title   string
	Message string
	Confirm ConfirmFunc
}

// State is a snapshot of the open action for display.
type State struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Message  string    `json:"message"`
	Error    string    `json:"error,omitempty"`
	Running  bool      `json:"running"`
	OpenedAt time.Time `json:"opened_at"`
}

// Controller owns the single action slot.
type Controller struct {
	mu      sync.Mutex
	visible bool
	current Action
	state   State
	now     func() time.Time
}

// NewController returns an empty Controller.
func NewController() *Controller {
	return &Controller{now: time.Now}
}

// Open shows a new action and returns its ID.
func (c *Controller) Open(a Action) (string, error) {
	if a.Confirm == nil {
		return "", fmt.Errorf("modal: action %q has no confirm callback", a.Title)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.visible {
		return "", ErrBusy
	}
	c.visible = true
	c.current = a
	c.state = State{
		ID:       uuid.NewString(),
		Title:    a.Title,
		Message:  a.Message,
		OpenedAt: c.now(),
	}
	return c.state.ID, nil
}

// Current returns the open action, if any.
func (c *Controller) Current() (State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.visible
}

// Confirm runs the open action's callback. On failure the error message is
// kept on the action, which stays open so the operator can retry or cancel.
// On success the action closes. id may be empty to target whatever is open.
func (c *Controller) Confirm(ctx context.Context, id string) error {
	c.mu.Lock()
	if !c.visible {
		c.mu.Unlock()
		return ErrNoAction
	}
	if id != "" && id != c.state.ID {
		c.mu.Unlock()
		return ErrStale
	}
	if c.state.Running {
		c.mu.Unlock()
		return ErrRunning
	}
	c.state.Running = true
	c.state.Error = ""
	actionID := c.state.ID
	confirm := c.current.Confirm
	c.mu.Unlock()

	err := confirm(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.visible || c.state.ID != actionID {
		return err
	}
	c.state.Running = false
	if err != nil {
		c.state.Error = ErrorMessage(err)
		return err
	}
	c.closeLocked()
	return nil
}

// Cancel closes the open action without running it. id may be empty.
func (c *Controller) Cancel(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.visible {
		return ErrNoAction
	}
	if id != "" && id != c.state.ID {
		return ErrStale
	}
	c.closeLocked()
	return nil
}

func (c *Controller) closeLocked() {
	c.visible = false
	c.current = Action{}
	c.state = State{}
}
