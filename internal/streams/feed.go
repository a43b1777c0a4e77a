package streams

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const feedWriteTimeout = 10 * time.Second

// Feed handles GET /ws/streams. It sends the current list as "updated"
// events, then every repository event until the client goes away.
func (h *Handler) Feed(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("feed upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	repo := h.svc.Repository()
	events, unsubscribe := repo.Subscribe()
	defer unsubscribe()

	// Reads only detect the close; clients have nothing to send.
	go func() {
		defer unsubscribe()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for _, st := range repo.List() {
		if err := writeEvent(conn, Event{Kind: EventUpdated, Slug: st.Slug, Stream: st}); err != nil {
			return
		}
	}
	for ev := range events {
		if err := writeEvent(conn, ev); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Debug("feed write failed", slog.String("error", err.Error()))
			}
			return
		}
	}
}

func writeEvent(conn *websocket.Conn, ev Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
	return conn.WriteJSON(ev)
}
