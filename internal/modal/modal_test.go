package modal

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"live-stream-manager/internal/fabric"
)

func TestController_single_action(t *testing.T) {
	c := NewController()
	noop := func(context.Context) error { return nil }

	id, err := c.Open(Action{Title: "Remove", Confirm: noop})
	if err != nil || id == "" {
		t.Fatalf("Open: id=%q err=%v", id, err)
	}
	if _, err := c.Open(Action{Title: "Other", Confirm: noop}); !errors.Is(err, ErrBusy) {
		t.Errorf("second Open: expected ErrBusy, got %v", err)
	}

	st, ok := c.Current()
	if !ok || st.Title != "Remove" || st.ID != id {
		t.Errorf("Current = %+v, %v", st, ok)
	}
}

func TestController_Confirm_success_closes(t *testing.T) {
	c := NewController()
	calls := 0
	_, _ = c.Open(Action{Title: "Start", Confirm: func(context.Context) error { calls++; return nil }})

	if err := c.Confirm(context.Background(), ""); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d", calls)
	}
	if _, ok := c.Current(); ok {
		t.Error("action should be closed after success")
	}
	if err := c.Confirm(context.Background(), ""); !errors.Is(err, ErrNoAction) {
		t.Errorf("expected ErrNoAction, got %v", err)
	}
}

func TestController_Confirm_failure_is_retryable(t *testing.T) {
	c := NewController()
	fail := true
	id, _ := c.Open(Action{Title: "Stop", Confirm: func(context.Context) error {
		if fail {
			return &fabric.Error{Op: "stop", StatusCode: 500, Msg: "node unreachable"}
		}
		return nil
	}})

	if err := c.Confirm(context.Background(), id); err == nil {
		t.Fatal("expected error")
	}
	st, ok := c.Current()
	if !ok {
		t.Fatal("action should stay open after failure")
	}
	if st.Error != "node unreachable" || st.Running {
		t.Errorf("state after failure = %+v", st)
	}

	fail = false
	if err := c.Confirm(context.Background(), id); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if _, ok := c.Current(); ok {
		t.Error("action should close after successful retry")
	}
}

func TestController_stale_id_and_cancel(t *testing.T) {
	c := NewController()
	ran := false
	id, _ := c.Open(Action{Title: "Reset", Confirm: func(context.Context) error { ran = true; return nil }})

	if err := c.Confirm(context.Background(), "other"); !errors.Is(err, ErrStale) {
		t.Errorf("expected ErrStale, got %v", err)
	}
	if err := c.Cancel(id); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if ran {
		t.Error("cancelled action must not run")
	}
	if err := c.Cancel(""); !errors.Is(err, ErrNoAction) {
		t.Errorf("expected ErrNoAction, got %v", err)
	}
	if _, err := c.Open(Action{Title: "Next", Confirm: func(context.Context) error { return nil }}); err != nil {
		t.Errorf("slot should be free after cancel: %v", err)
	}
}

func TestController_Open_requires_callback(t *testing.T) {
	if _, err := NewController().Open(Action{Title: "x"}); err == nil {
		t.Error("expected error for missing callback")
	}
}

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"message", &fabric.Error{Msg: "quota exceeded", Kind: "Limit"}, "quota exceeded"},
		{"kind fallback", fmt.Errorf("wrap: %w", &fabric.Error{Kind: "Permission"}), "Permission"},
		{"plain", errors.New("boom"), "boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ErrorMessage(tt.err); got != tt.want {
				t.Errorf("ErrorMessage = %q, want %q", got, tt.want)
			}
		})
	}
}
