package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func scrape(t *testing.T, m *Metrics, update func()) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler(update).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("scrape: status %d", rec.Code)
	}
	return rec.Body.String()
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.ObserveStatusPoll(nil)
	m.ObserveStatusPoll(errors.New("boom"))
	m.ObservePreviewFetch(nil)
	m.IncFrameMessages("")
	m.IncFrameMessages("Reload")

	body := scrape(t, m, func() { m.SetActiveStreams(3) })

	for _, want := range []string{
		"lsm_status_polls_total 2",
		"lsm_status_poll_errors_total 1",
		`lsm_preview_fetches_total{result="ok"} 1`,
		`lsm_frame_messages_total{operation="request"} 1`,
		`lsm_frame_messages_total{operation="Reload"} 1`,
		"lsm_active_streams 3",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestRequestMiddleware(t *testing.T) {
	m := New()
	h := RequestMiddleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/bad" {
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ok", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/bad", nil))

	body := scrape(t, m, nil)
	if !strings.Contains(body, "lsm_requests_total 2") {
		t.Errorf("expected 2 requests:\n%s", body)
	}
	if !strings.Contains(body, "lsm_errors_total 1") {
		t.Errorf("expected 1 error:\n%s", body)
	}
}
