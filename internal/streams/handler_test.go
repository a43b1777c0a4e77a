package streams

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"live-stream-manager/internal/fabric"
	"live-stream-manager/internal/fabric/fabrictest"
	"live-stream-manager/internal/modal"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

type testEnv struct {
	repo   *InMemoryRepository
	fake   *fabrictest.Fake
	router *chi.Mux
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	repo := NewInMemoryRepository()
	fake := fabrictest.New()
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	svc := NewService(repo, fake, log, ServiceConfig{})
	h := NewHandler(svc, modal.NewController(), log, nil, nil)
	r := chi.NewRouter()
	h.Routes(r)
	return &testEnv{repo: repo, fake: fake, router: r}
}

func (e *testEnv) do(method, path string, body any) *httptest.ResponseRecorder {
	var rdr *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rdr = bytes.NewReader(b)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestHandler_Create_and_Get(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/streams", map[string]any{"slug": "news", "library_id": "ilib1", "title": "News"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}

	rec = env.do(http.MethodGet, "/streams/news", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", rec.Code)
	}
	var st Stream
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatal(err)
	}
	if st.Title != "News" || st.Status != StatusUninitialized {
		t.Errorf("unexpected stream %+v", st)
	}

	rec = env.do(http.MethodPost, "/streams", map[string]any{"slug": "news", "library_id": "ilib1"})
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate: expected 409, got %d", rec.Code)
	}
}

func TestHandler_Create_bad_request(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/streams", strings.NewReader("not json"))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}

	rec = env.do(http.MethodPost, "/streams", map[string]any{"slug": "Bad Slug", "library_id": "ilib1"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid slug: expected 400, got %d", rec.Code)
	}
}

func TestHandler_Get_not_found(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodGet, "/streams/missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
	var body errorBody
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Error != ErrNotFound.Error() {
		t.Errorf("error body = %+v", body)
	}
}

func TestHandler_List(t *testing.T) {
	env := newTestEnv(t)
	env.repo.Put(&Stream{Slug: "b"})
	env.repo.Put(&Stream{Slug: "a"})

	rec := env.do(http.MethodGet, "/streams", nil)
	var list []Stream
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].Slug != "a" {
		t.Errorf("list = %+v", list)
	}
}

func TestHandler_Configure(t *testing.T) {
	env := newTestEnv(t)
	env.repo.Put(&Stream{Slug: "a", ObjectID: "iq__a"})

	rec := env.do(http.MethodPut, "/streams/a/config", map[string]any{"drm": "drm-public", "retention_sec": 60})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	rec = env.do(http.MethodPut, "/streams/a/config", map[string]any{"drm": "nope"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestHandler_Start_runs_immediately(t *testing.T) {
	env := newTestEnv(t)
	env.repo.Put(&Stream{Slug: "a", ObjectID: "iq__a", Status: StatusInactive})

	rec := env.do(http.MethodPost, "/streams/a/ops/start", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	st, _ := env.repo.Get("a")
	if st.Status != StatusStarting {
		t.Errorf("status = %q", st.Status)
	}

	rec = env.do(http.MethodPost, "/streams/a/ops/explode", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown op: expected 400, got %d", rec.Code)
	}
}

func TestHandler_Stop_goes_through_modal(t *testing.T) {
	env := newTestEnv(t)
	env.repo.Put(&Stream{Slug: "a", ObjectID: "iq__a", Title: "A", Status: StatusRunning})

	rec := env.do(http.MethodPost, "/streams/a/ops/stop", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	var state modal.State
	_ = json.Unmarshal(rec.Body.Bytes(), &state)
	if state.ID == "" || state.Title != "Stop A" {
		t.Errorf("modal state = %+v", state)
	}
	if len(env.fake.Ops) != 0 {
		t.Fatal("stop must wait for confirmation")
	}

	rec = env.do(http.MethodPost, "/streams/a/ops/reset", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("second action while one is open: expected 409, got %d", rec.Code)
	}

	rec = env.do(http.MethodPost, "/modal/confirm", map[string]string{"id": state.ID})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("confirm: expected 204, got %d (%s)", rec.Code, rec.Body.String())
	}
	st, _ := env.repo.Get("a")
	if st.Status != StatusStopped {
		t.Errorf("status after confirm = %q", st.Status)
	}
	if rec := env.do(http.MethodGet, "/modal", nil); rec.Code != http.StatusNoContent {
		t.Errorf("modal should be closed, got %d", rec.Code)
	}
}

func TestHandler_Remove_error_shown_inline(t *testing.T) {
	env := newTestEnv(t)
	env.repo.Put(&Stream{Slug: "a", ObjectID: "iq__a", Title: "A", Status: StatusInactive})
	env.fake.SetError("DeleteObject", &fabric.Error{Op: "delete object", StatusCode: 403, Msg: "not allowed"})

	rec := env.do(http.MethodDelete, "/streams/a", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}

	rec = env.do(http.MethodPost, "/modal/confirm", nil)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
	var state modal.State
	_ = json.Unmarshal(rec.Body.Bytes(), &state)
	if state.Error != "not allowed" {
		t.Errorf("modal error = %q", state.Error)
	}

	env.fake.SetError("DeleteObject", nil)
	rec = env.do(http.MethodPost, "/modal/confirm", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("retry: expected 204, got %d", rec.Code)
	}
	if _, ok := env.repo.Get("a"); ok {
		t.Error("stream should be removed after retry")
	}
}

func TestHandler_Modal_cancel(t *testing.T) {
	env := newTestEnv(t)
	env.repo.Put(&Stream{Slug: "a", ObjectID: "iq__a"})

	if rec := env.do(http.MethodPost, "/modal/cancel", nil); rec.Code != http.StatusNotFound {
		t.Errorf("cancel with nothing open: expected 404, got %d", rec.Code)
	}
	env.do(http.MethodDelete, "/streams/a", nil)
	if rec := env.do(http.MethodPost, "/modal/cancel", nil); rec.Code != http.StatusNoContent {
		t.Errorf("cancel: expected 204, got %d", rec.Code)
	}
	if _, ok := env.repo.Get("a"); !ok {
		t.Error("cancelled removal must keep the stream")
	}
}

func TestHandler_CopyToVoD(t *testing.T) {
	env := newTestEnv(t)
	env.repo.Put(&Stream{Slug: "a", ObjectID: "iq__a", RecordingPeriod: &fabric.RecordingPeriod{StartTimeEpochSec: 10}})
	env.repo.Put(&Stream{Slug: "b", ObjectID: "iq__b"})

	if rec := env.do(http.MethodPost, "/streams/a/vod", nil); rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	if rec := env.do(http.MethodPost, "/streams/b/vod", nil); rec.Code != http.StatusConflict {
		t.Errorf("no recording: expected 409, got %d", rec.Code)
	}
}

func TestHandler_Refresh(t *testing.T) {
	env := newTestEnv(t)
	env.repo.Put(&Stream{Slug: "a", ObjectID: "iq__a"})
	env.fake.SetStatus("iq__a", "running")

	rec := env.do(http.MethodPost, "/streams/refresh", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	st, _ := env.repo.Get("a")
	if st.Status != StatusRunning {
		t.Errorf("status = %q", st.Status)
	}
}

func TestHandler_DRMProfiles_and_AccessGroups(t *testing.T) {
	env := newTestEnv(t)
	if rec := env.do(http.MethodGet, "/drm-profiles", nil); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "drm-fairplay") {
		t.Errorf("drm profiles: %d %s", rec.Code, rec.Body.String())
	}
	env.fake.SetError("ListAccessGroups", errors.New("down"))
	rec := env.do(http.MethodGet, "/access-groups", nil)
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("access groups on failure: %d %q", rec.Code, rec.Body.String())
	}
}

func TestHandler_Feed(t *testing.T) {
	env := newTestEnv(t)
	env.repo.Put(&Stream{Slug: "a", ObjectID: "iq__a"})

	srv := httptest.NewServer(env.router)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/streams", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var ev Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if ev.Kind != EventUpdated || ev.Slug != "a" {
		t.Errorf("snapshot event = %+v", ev)
	}

	env.repo.Remove("a")
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read removal: %v", err)
	}
	if ev.Kind != EventRemoved || ev.Slug != "a" {
		t.Errorf("removal event = %+v", ev)
	}
}
