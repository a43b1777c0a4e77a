package streams

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"live-stream-manager/internal/fabric"
	"live-stream-manager/internal/modal"
	"live-stream-manager/internal/platform/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

// Handler exposes stream endpoints using go-chi.
type Handler struct {
	svc      *Service
	modal    *modal.Controller
	log      *slog.Logger
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader
}

// NewHandler returns a Handler. Metrics may be nil to disable metric
// recording. checkOrigin guards the event feed; nil uses gorilla's
// same-origin default.
func NewHandler(svc *Service, ctrl *modal.Controller, log *slog.Logger, m *metrics.Metrics, checkOrigin func(*http.Request) bool) *Handler {
	return &Handler{
		svc:     svc,
		modal:   ctrl,
		log:     log,
		metrics: m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
	}
}

// Routes mounts the handler's endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/drm-profiles", h.DRMProfiles)
	r.Get("/access-groups", h.AccessGroups)
	r.Get("/ws/streams", h.Feed)
	r.Route("/streams", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Create)
		r.Post("/refresh", h.Refresh)
		r.Route("/{slug}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Delete("/", h.Remove)
			r.Put("/config", h.Configure)
			r.Post("/ops/{op}", h.Operate)
			r.Post("/vod", h.CopyToVoD)
		})
	})
	r.Route("/modal", func(r chi.Router) {
		r.Get("/", h.ModalState)
		r.Post("/confirm", h.ModalConfirm)
		r.Post("/cancel", h.ModalCancel)
	})
}

// List handles GET /streams.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Repository().List())
}

// Get handles GET /streams/{slug}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	st, ok := h.svc.Repository().Get(chi.URLParam(r, "slug"))
	if !ok {
		h.writeError(w, ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Create handles POST /streams.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log.Debug("invalid create body", slog.String("error", err.Error()))
		h.writeError(w, fmt.Errorf("%w: %v", ErrInvalid, err))
		return
	}
	st, err := h.svc.Create(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

// Configure handles PUT /streams/{slug}/config.
func (h *Handler) Configure(w http.ResponseWriter, r *http.Request) {
	var cfg Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		h.writeError(w, fmt.Errorf("%w: %v", ErrInvalid, err))
		return
	}
	st, err := h.svc.Configure(r.Context(), chi.URLParam(r, "slug"), cfg)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Operate handles POST /streams/{slug}/ops/{op}. Start runs immediately;
// stop, reset and deactivate open a confirmation in the modal slot and
// answer 202 with its state.
func (h *Handler) Operate(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	op := fabric.Op(chi.URLParam(r, "op"))
	if !op.Valid() {
		h.writeError(w, fmt.Errorf("%w: unknown operation %q", ErrInvalid, op))
		return
	}
	st, ok := h.svc.Repository().Get(slug)
	if !ok {
		h.writeError(w, ErrNotFound)
		return
	}

	if op == fabric.OpStart {
		updated, err := h.svc.Operate(r.Context(), slug, op)
		if err != nil {
			h.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
		return
	}

	h.openAction(w, modal.Action{
		Title:   fmt.Sprintf("%s %s", opTitles[op], st.Title),
		Message: fmt.Sprintf("Are you sure you want to %s the stream %q?", op, slug),
		Confirm: func(ctx context.Context) error {
			_, err := h.svc.Operate(ctx, slug, op)
			return err
		},
	})
}

var opTitles = map[fabric.Op]string{
	fabric.OpStop:       "Stop",
	fabric.OpReset:      "Reset",
	fabric.OpDeactivate: "Deactivate",
}

// Remove handles DELETE /streams/{slug} by opening a confirmation.
func (h *Handler) Remove(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	st, ok := h.svc.Repository().Get(slug)
	if !ok {
		h.writeError(w, ErrNotFound)
		return
	}
	h.openAction(w, modal.Action{
		Title:   "Remove " + st.Title,
		Message: fmt.Sprintf("Are you sure you want to remove the stream %q? This deletes its object.", slug),
		Confirm: func(ctx context.Context) error {
			return h.svc.Remove(ctx, slug)
		},
	})
}

// CopyToVoD handles POST /streams/{slug}/vod.
func (h *Handler) CopyToVoD(w http.ResponseWriter, r *http.Request) {
	var req fabric.CopyRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, fmt.Errorf("%w: %v", ErrInvalid, err))
			return
		}
	}
	res, err := h.svc.CopyToVoD(r.Context(), chi.URLParam(r, "slug"), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// Refresh handles POST /streams/refresh with a synchronous bulk status fetch.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	h.svc.RefreshStatuses(r.Context())
	writeJSON(w, http.StatusOK, h.svc.Repository().List())
}

// DRMProfiles handles GET /drm-profiles.
func (h *Handler) DRMProfiles(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, DRMProfiles())
}

// AccessGroups handles GET /access-groups. An unreachable fabric yields an
// empty list rather than an error.
func (h *Handler) AccessGroups(w http.ResponseWriter, r *http.Request) {
	groups := h.svc.AccessGroups(r.Context())
	if groups == nil {
		groups = []fabric.AccessGroup{}
	}
	writeJSON(w, http.StatusOK, groups)
}

type modalRequest struct {
	ID string `json:"id"`
}

// ModalState handles GET /modal.
func (h *Handler) ModalState(w http.ResponseWriter, r *http.Request) {
	st, ok := h.modal.Current()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// ModalConfirm handles POST /modal/confirm. A failed action answers with the
// still-open modal state so the error can be shown inline.
func (h *Handler) ModalConfirm(w http.ResponseWriter, r *http.Request) {
	req := decodeModalRequest(r)
	err := h.modal.Confirm(r.Context(), req.ID)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, modal.ErrNoAction), errors.Is(err, modal.ErrStale), errors.Is(err, modal.ErrRunning):
		h.writeError(w, err)
	default:
		h.log.Info("modal action failed", slog.String("error", err.Error()))
		st, _ := h.modal.Current()
		writeJSON(w, statusFor(err), st)
	}
}

// ModalCancel handles POST /modal/cancel.
func (h *Handler) ModalCancel(w http.ResponseWriter, r *http.Request) {
	if err := h.modal.Cancel(decodeModalRequest(r).ID); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decodeModalRequest(r *http.Request) modalRequest {
	var req modalRequest
	if r.ContentLength != 0 {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	return req
}

func (h *Handler) openAction(w http.ResponseWriter, a modal.Action) {
	if _, err := h.modal.Open(a); err != nil {
		h.writeError(w, err)
		return
	}
	st, _ := h.modal.Current()
	writeJSON(w, http.StatusAccepted, st)
}

type errorBody struct {
	Error string `json:"error"`
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		h.log.Error("request failed", slog.String("error", err.Error()))
	}
	writeJSON(w, code, errorBody{Error: modal.ErrorMessage(err)})
}

func statusFor(err error) int {
	var fe *fabric.Error
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, modal.ErrNoAction):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, ErrExists), errors.Is(err, ErrActive), errors.Is(err, ErrNoRecording),
		errors.Is(err, modal.ErrBusy), errors.Is(err, modal.ErrStale), errors.Is(err, modal.ErrRunning):
		return http.StatusConflict
	case errors.As(err, &fe):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
