// Package bridge exchanges typed messages with an embedded frame. The frame
// asks for fabric reads on the service's credentials and signals lifecycle
// events; the service answers each request once, under its request ID.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"live-stream-manager/internal/fabric"
	"live-stream-manager/internal/platform/metrics"
)

// Executor runs generic frame requests. fabric.Client satisfies it.
type Executor interface {
	Execute(ctx context.Context, req fabric.Request) (any, error)
}

// Sender delivers a message to the frame.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, msg Message) error

// Send implements Sender.
func (f SenderFunc) Send(ctx context.Context, msg Message) error { return f(ctx, msg) }

// RegionResetter clears a routing override the frame may have set on the
// shared fabric client.
type RegionResetter interface {
	ResetRegion()
}

// Callback handles a lifecycle operation.
type Callback func(ctx context.Context, msg Message)

// Config wires a Bridge.
type Config struct {
	Executor Executor
	Sender   Sender
	Log      *slog.Logger

	// Region is reset on Close; may be nil.
	Region RegionResetter

	// Metrics may be nil.
	Metrics *metrics.Metrics
}

// Bridge dispatches inbound frame messages for one frame session.
type Bridge struct {
	exec    Executor
	send    Sender
	region  RegionResetter
	log     *slog.Logger
	metrics *metrics.Metrics

	mu        sync.RWMutex
	callbacks map[Operation]Callback
	closed    bool
}

// New returns a Bridge with no callbacks registered.
func New(cfg Config) *Bridge {
	log := cfg.Log
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Bridge{
		exec:      cfg.Executor,
		send:      cfg.Sender,
		region:    cfg.Region,
		log:       log,
		metrics:   cfg.Metrics,
		callbacks: make(map[Operation]Callback),
	}
}

// On registers cb for a lifecycle operation, replacing any previous one.
func (b *Bridge) On(op Operation, cb Callback) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.callbacks[op] = cb
}

// Receive decodes raw and dispatches it. Undecodable input is reported and
// otherwise ignored since it carries no request ID to answer.
func (b *Bridge) Receive(ctx context.Context, raw []byte) error {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return fmt.Errorf("bridge: decode message: %w", err)
	}
	b.Dispatch(ctx, msg)
	return nil
}

// Dispatch handles one inbound message. Requests without an operation go
// to the executor and get exactly one response; known operations run their
// callback and get no response; anything that is not a request is ignored.
func (b *Bridge) Dispatch(ctx context.Context, msg Message) {
	b.mu.RLock()
	closed := b.closed
	cb := b.callbacks[msg.Operation]
	b.mu.RUnlock()

	if closed || msg.Type != TypeRequest {
		return
	}
	if b.metrics != nil {
		label := string(msg.Operation)
		if label != "" && !msg.Operation.Known() {
			label = "unknown"
		}
		b.metrics.IncFrameMessages(label)
	}

	if msg.Operation != "" {
		switch {
		case !msg.Operation.Known():
			b.log.Warn("unknown frame operation", slog.String("operation", string(msg.Operation)))
			b.reply(ctx, msg.RequestID, nil, fmt.Errorf("unknown operation %q", msg.Operation))
		case cb == nil:
			b.log.Debug("frame operation without handler", slog.String("operation", string(msg.Operation)))
		default:
			cb(ctx, msg)
		}
		return
	}

	req, err := requestFromPayload(msg.Payload)
	if err != nil {
		b.reply(ctx, msg.RequestID, nil, err)
		return
	}
	res, err := b.exec.Execute(ctx, req)
	b.reply(ctx, msg.RequestID, res, err)
}

// Close stops dispatching and resets the fabric region override.
func (b *Bridge) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	if b.region != nil {
		b.region.ResetRegion()
	}
}

func requestFromPayload(p map[string]any) (fabric.Request, error) {
	method, _ := p["calledMethod"].(string)
	if method == "" {
		return fabric.Request{}, fmt.Errorf("request has no calledMethod")
	}
	req := fabric.Request{Method: method}
	switch args := p["args"].(type) {
	case map[string]any:
		req.Args = args
	case nil:
	default:
		return fabric.Request{}, fmt.Errorf("args of %s must be an object", method)
	}
	return req, nil
}

// reply sends the response for requestID. Send failures are logged and
// swallowed.
func (b *Bridge) reply(ctx context.Context, requestID any, res any, execErr error) {
	payload := make(map[string]any, 1)
	if execErr != nil {
		payload["error"] = SerializeError(execErr)
	} else {
		clean, err := Prepare(res)
		if err == nil {
			// Transferable values may still be unencodable, e.g. sets with struct keys.
			if _, merr := json.Marshal(clean); merr != nil {
				clean, err = Sanitize(res)
			}
		}
		if err != nil {
			payload["error"] = SerializeError(err)
		} else {
			payload["response"] = clean
		}
	}

	msg := Message{Type: TypeResponse, RequestID: requestID, Payload: payload}
	if err := b.send.Send(ctx, msg); err != nil {
		b.log.Error("frame reply failed",
			slog.String("request_id", requestIDString(requestID)),
			slog.String("error", err.Error()))
	}
}
