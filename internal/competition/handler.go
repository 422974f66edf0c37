package competition

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/papertrade/ledger-engine/internal/auth"
	apperrors "github.com/papertrade/ledger-engine/internal/errors"
	"github.com/papertrade/ledger-engine/internal/httpapi"
	"github.com/papertrade/ledger-engine/internal/model"
)

// Handler serves the competition endpoints. Every route expects
// auth.Middleware to have run.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// Routes mounts the competition endpoints under r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/competitions", h.Create)
	r.Get("/competitions", h.List)
	r.Get("/competitions/{competitionID}", h.Get)
	r.Delete("/competitions/{competitionID}", h.Delete)
	r.Post("/competitions/{competitionID}/join", h.Join)
	r.Get("/competitions/{competitionID}/portfolio", h.Portfolio)
	r.Get("/competitions/{competitionID}/leaderboard", h.Leaderboard)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	httpapi.WriteError(w, r, h.logger, err)
}

func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		h.fail(w, r, apperrors.ErrUnauthorized)
	}
	return userID, ok
}

// Create handles POST /api/v1/competitions
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.caller(w, r)
	if !ok {
		return
	}
	var in CreateInput
	if err := httpapi.Decode(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	c, err := h.svc.Create(r.Context(), userID, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusCreated, c)
}

// List handles GET /api/v1/competitions. With ?joined=true it lists the
// caller's competitions instead of the public ones.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.caller(w, r)
	if !ok {
		return
	}
	var (
		list []model.Competition
		err  error
	)
	if r.URL.Query().Get("joined") == "true" {
		list, err = h.svc.Joined(r.Context(), userID)
	} else {
		list, err = h.svc.ListPublic(r.Context())
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, list)
}

// Get handles GET /api/v1/competitions/{competitionID}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.Get(r.Context(), chi.URLParam(r, "competitionID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, c)
}

// Delete handles DELETE /api/v1/competitions/{competitionID}
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.caller(w, r)
	if !ok {
		return
	}
	if err := h.svc.Delete(r.Context(), chi.URLParam(r, "competitionID"), userID); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Join handles POST /api/v1/competitions/{competitionID}/join
func (h *Handler) Join(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.caller(w, r)
	if !ok {
		return
	}
	p, err := h.svc.Join(r.Context(), chi.URLParam(r, "competitionID"), userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusCreated, p)
}

// Portfolio handles GET /api/v1/competitions/{competitionID}/portfolio
func (h *Handler) Portfolio(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.caller(w, r)
	if !ok {
		return
	}
	v, err := h.svc.Portfolio(r.Context(), chi.URLParam(r, "competitionID"), userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, v)
}

// Leaderboard handles GET /api/v1/competitions/{competitionID}/leaderboard
func (h *Handler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	board, err := h.svc.Leaderboard(r.Context(), chi.URLParam(r, "competitionID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, board)
}
