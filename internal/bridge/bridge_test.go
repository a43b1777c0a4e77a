package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"live-stream-manager/internal/fabric"
	"live-stream-manager/internal/fabric/fabrictest"
)

type recorder struct {
	mu   sync.Mutex
	msgs []Message
	err  error
}

func (r *recorder) Send(_ context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return r.err
}

func (r *recorder) sent() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.msgs...)
}

func newTestBridge(t *testing.T) (*Bridge, *fabrictest.Fake, *recorder) {
	t.Helper()
	fake := fabrictest.New()
	rec := &recorder{}
	b := New(Config{Executor: fake, Sender: rec, Region: fake})
	return b, fake, rec
}

func request(id string, payload map[string]any) Message {
	return Message{Type: TypeRequest, RequestID: id, Payload: payload}
}

func TestBridge_request_gets_one_reply(t *testing.T) {
	b, fake, rec := newTestBridge(t)

	b.Dispatch(context.Background(), request("r1", map[string]any{
		"calledMethod": "ContentObjectMetadata",
		"args":         map[string]any{"objectId": "iq__1"},
	}))

	if n := fake.CallCount("Execute"); n != 1 {
		t.Fatalf("Execute called %d times, want 1", n)
	}
	sent := rec.sent()
	if len(sent) != 1 {
		t.Fatalf("sent %d replies, want 1", len(sent))
	}
	reply := sent[0]
	if reply.Type != TypeResponse || reply.RequestID != "r1" {
		t.Errorf("unexpected reply envelope %+v", reply)
	}
	res, ok := reply.Payload["response"].(map[string]any)
	if !ok || res["method"] != "ContentObjectMetadata" {
		t.Errorf("response = %#v", reply.Payload["response"])
	}
	if _, ok := reply.Payload["error"]; ok {
		t.Error("successful reply should carry no error")
	}
}

func TestBridge_executor_error(t *testing.T) {
	b, fake, rec := newTestBridge(t)
	fake.SetError("Execute", &fabric.Error{Op: "call", StatusCode: 403, Msg: "denied", Kind: "Permission"})

	b.Dispatch(context.Background(), request("r2", map[string]any{"calledMethod": "EditContentObject"}))

	sent := rec.sent()
	if len(sent) != 1 || sent[0].RequestID != "r2" {
		t.Fatalf("replies = %+v", sent)
	}
	fe, ok := sent[0].Payload["error"].(*FrameError)
	if !ok {
		t.Fatalf("error payload = %T", sent[0].Payload["error"])
	}
	if fe.Fields["kind"] != "Permission" {
		t.Errorf("error fields = %v", fe.Fields)
	}
	if _, ok := sent[0].Payload["response"]; ok {
		t.Error("error reply should carry no response")
	}
}

func TestBridge_missing_method_replies_error(t *testing.T) {
	b, fake, rec := newTestBridge(t)

	b.Dispatch(context.Background(), request("r3", map[string]any{"args": map[string]any{}}))

	if fake.CallCount("Execute") != 0 {
		t.Error("executor should not run without a method")
	}
	sent := rec.sent()
	if len(sent) != 1 || sent[0].Payload["error"] == nil {
		t.Fatalf("replies = %+v", sent)
	}
}

func TestBridge_nontransferable_response_is_sanitized(t *testing.T) {
	b, fake, rec := newTestBridge(t)
	fake.ExecuteFunc = func(ctx context.Context, req fabric.Request) (any, error) {
		return map[string]any{"ok": true, "cb": func() {}, "list": []any{1, func() {}}}, nil
	}

	b.Dispatch(context.Background(), request("r4", map[string]any{"calledMethod": "Anything"}))

	sent := rec.sent()
	if len(sent) != 1 {
		t.Fatalf("sent %d replies", len(sent))
	}
	res, ok := sent[0].Payload["response"].(map[string]any)
	if !ok {
		t.Fatalf("response = %#v", sent[0].Payload["response"])
	}
	if res["ok"] != true {
		t.Errorf("ok = %v", res["ok"])
	}
	if _, ok := res["cb"]; ok {
		t.Error("function should be dropped from objects")
	}
	if list, _ := res["list"].([]any); len(list) != 2 || list[1] != nil {
		t.Errorf("list = %#v", res["list"])
	}
}

func TestBridge_operations_dispatch_to_callbacks(t *testing.T) {
	b, fake, rec := newTestBridge(t)
	var got []Operation
	for _, op := range []Operation{OpComplete, OpCancel, OpReload} {
		b.On(op, func(_ context.Context, msg Message) { got = append(got, msg.Operation) })
	}

	for _, op := range []Operation{OpComplete, OpCancel, OpReload} {
		b.Dispatch(context.Background(), Message{Type: TypeRequest, RequestID: "x", Operation: op})
	}

	if len(got) != 3 || got[0] != OpComplete || got[1] != OpCancel || got[2] != OpReload {
		t.Errorf("callbacks = %v", got)
	}
	if len(rec.sent()) != 0 {
		t.Error("lifecycle operations should get no reply")
	}
	if fake.CallCount("Execute") != 0 {
		t.Error("lifecycle operations should not reach the executor")
	}
}

func TestBridge_unknown_operation_and_ignored_messages(t *testing.T) {
	b, fake, rec := newTestBridge(t)

	b.Dispatch(context.Background(), Message{Type: TypeRequest, RequestID: "u1", Operation: "Explode"})
	if sent := rec.sent(); len(sent) != 1 || sent[0].RequestID != "u1" || sent[0].Payload["error"] == nil {
		t.Fatalf("unknown operation replies = %+v", sent)
	}

	b.Dispatch(context.Background(), Message{Type: TypeResponse, RequestID: "u2", Payload: map[string]any{"calledMethod": "X"}})
	b.Dispatch(context.Background(), Message{Type: "Other", RequestID: "u3"})
	if len(rec.sent()) != 1 || fake.CallCount("Execute") != 0 {
		t.Error("non-request messages should be ignored")
	}
}

func TestBridge_send_failure_is_swallowed(t *testing.T) {
	b, fake, rec := newTestBridge(t)
	rec.err = errors.New("frame gone")

	b.Dispatch(context.Background(), request("r5", map[string]any{"calledMethod": "X"}))

	if fake.CallCount("Execute") != 1 || len(rec.sent()) != 1 {
		t.Error("request should still run and attempt one reply")
	}
}

func TestBridge_Receive(t *testing.T) {
	b, _, rec := newTestBridge(t)

	if err := b.Receive(context.Background(), []byte(`{"type":"ElvFrameRequest","requestId":7,"calledMethod":"X"}`)); err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if sent := rec.sent(); len(sent) != 1 || sent[0].RequestID != json.Number("7") {
		t.Errorf("replies = %+v", sent)
	}
	if err := b.Receive(context.Background(), []byte(`not json`)); err == nil {
		t.Error("expected decode error")
	}
}

func TestBridge_Close_resets_region(t *testing.T) {
	b, fake, rec := newTestBridge(t)

	b.Dispatch(context.Background(), request("r6", map[string]any{
		"calledMethod": fabric.MethodUseRegion,
		"args":         map[string]any{"region": "na-east"},
	}))
	if fake.Region() != "na-east" {
		t.Fatalf("Region = %q", fake.Region())
	}

	b.Close()
	if fake.Region() != "" {
		t.Errorf("Region after Close = %q", fake.Region())
	}

	b.Dispatch(context.Background(), request("r7", map[string]any{"calledMethod": "X"}))
	if len(rec.sent()) != 1 {
		t.Error("closed bridge should ignore messages")
	}
	b.Close()
}
