package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/booking-wizard/internal/sessions"
	"github.com/wolfman30/booking-wizard/internal/wizard"
	"github.com/wolfman30/booking-wizard/pkg/logging"
)

// SessionRegistry is the part of sessions.Registry the handler needs.
type SessionRegistry interface {
	Create(ctx context.Context) (*wizard.Session, error)
	Get(ctx context.Context, id string) (*wizard.Session, error)
	Persist(ctx context.Context, s *wizard.Session) error
	Remove(ctx context.Context, id string) error
}

// WizardHandler exposes booking wizard sessions over HTTP.
type WizardHandler struct {
	sessions SessionRegistry
	logger   *logging.Logger
}

// NewWizardHandler creates a wizard handler.
func NewWizardHandler(registry SessionRegistry, logger *logging.Logger) *WizardHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &WizardHandler{sessions: registry, logger: logger}
}

// Routes mounts the session endpoints. submit is wrapped around the submit
// endpoint only, typically a rate limiter.
func (h *WizardHandler) Routes(submit func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.CreateSession)
	r.Route("/{sessionID}", func(r chi.Router) {
		r.Get("/", h.GetSession)
		r.Delete("/", h.DeleteSession)
		r.Get("/stages/{stage}/candidates", h.Candidates)
		r.Put("/stages/{stage}", h.Select)
		r.Post("/back", h.Back)
		r.Post("/advance", h.Advance)
		r.Get("/events", h.Stream)
		if submit != nil {
			r.With(submit).Post("/submit", h.Submit)
		} else {
			r.Post("/submit", h.Submit)
		}
	})
	return r
}

// StageView is one stage of a session with its current selection.
type StageView struct {
	wizard.Stage
	Selection *wizard.Selection `json:"selection,omitempty"`
	Ready     bool              `json:"ready"`
}

// SessionView is the JSON form of a session.
type SessionView struct {
	ID               string         `json:"id"`
	CurrentStage     wizard.StageID `json:"current_stage"`
	CurrentStageName string         `json:"current_stage_name"`
	CanAdvance       bool           `json:"can_advance"`
	Submitting       bool           `json:"submitting"`
	Stages           []StageView    `json:"stages"`
	CreatedAt        time.Time      `json:"created_at"`
}

func viewOf(s *wizard.Session) SessionView {
	current := s.Controller.Current()
	view := SessionView{
		ID:           s.ID,
		CurrentStage: current,
		CanAdvance:   s.Controller.CanAdvance(),
		Submitting:   s.Coordinator.InFlight(),
		CreatedAt:    s.CreatedAt,
	}
	for _, st := range s.Graph.Stages() {
		sv := StageView{Stage: st, Ready: s.Store.IsComplete(st.ID)}
		if sel, ok := s.Store.Get(st.ID); ok {
			sv.Selection = &sel
		}
		if st.ID == current {
			view.CurrentStageName = st.Name
		}
		view.Stages = append(view.Stages, sv)
	}
	return view
}

type selectRequest struct {
	Value string `json:"value"`
	Label string `json:"label,omitempty"`
}

// CreateSession handles POST /wizard/sessions.
func (h *WizardHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessions.Create(r.Context())
	if err != nil {
		h.logger.Error("wizard: create session failed", "error", err)
		jsonError(w, "failed to create session", http.StatusInternalServerError)
		return
	}
	if err := s.Controller.Start(r.Context()); err != nil {
		// the first stage can be retried through the candidates endpoint
		h.logger.Warn("wizard: initial candidates failed", "session_id", s.ID, "error", err)
	}
	writeJSON(w, http.StatusCreated, viewOf(s))
}

// GetSession handles GET /wizard/sessions/{sessionID}.
func (h *WizardHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, viewOf(s))
}

// DeleteSession handles DELETE /wizard/sessions/{sessionID}.
func (h *WizardHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if err := h.sessions.Remove(r.Context(), id); err != nil && !sessions.IsNotFound(err) {
		h.logger.Error("wizard: remove session failed", "session_id", id, "error", err)
		jsonError(w, "failed to remove session", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Candidates handles GET .../stages/{stage}/candidates. A non-empty q runs a
// free-text search instead of a plain load.
func (h *WizardHandler) Candidates(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	stage, ok := h.stage(w, r, s)
	if !ok {
		return
	}
	var (
		list *wizard.CandidateList
		err  error
	)
	if q := strings.TrimSpace(r.URL.Query().Get("q")); q != "" {
		list, err = s.Controller.Search(r.Context(), stage.ID, q)
	} else {
		list, err = s.Controller.Candidates(r.Context(), stage.ID)
	}
	if err != nil {
		h.writeWizardError(w, s, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// Select handles PUT .../stages/{stage}.
func (h *WizardHandler) Select(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	stage, ok := h.stage(w, r, s)
	if !ok {
		return
	}
	var req selectRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.Controller.SelectValue(r.Context(), stage.ID, req.Value, req.Label); err != nil {
		h.writeWizardError(w, s, err)
		return
	}
	h.persist(r.Context(), s)
	writeJSON(w, http.StatusOK, viewOf(s))
}

// Back handles POST .../back.
func (h *WizardHandler) Back(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := s.Controller.GoBack(); err != nil {
		h.writeWizardError(w, s, err)
		return
	}
	h.persist(r.Context(), s)
	writeJSON(w, http.StatusOK, viewOf(s))
}

// Advance handles POST .../advance.
func (h *WizardHandler) Advance(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := s.Controller.Advance(r.Context()); err != nil {
		h.writeWizardError(w, s, err)
		return
	}
	h.persist(r.Context(), s)
	writeJSON(w, http.StatusOK, viewOf(s))
}

// Submit handles POST .../submit. The session is removed once the booking
// is created.
func (h *WizardHandler) Submit(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	conf, err := s.Submit(r.Context())
	if err != nil {
		h.writeWizardError(w, s, err)
		return
	}
	h.logger.Info("wizard: booking submitted", "session_id", s.ID, "record_id", conf.ID)
	// a booked session is finished; keeping it would let a repeat POST book twice
	if err := h.sessions.Remove(r.Context(), s.ID); err != nil && !sessions.IsNotFound(err) {
		h.logger.Warn("wizard: remove submitted session failed", "session_id", s.ID, "error", err)
	}
	writeJSON(w, http.StatusCreated, conf)
}

func (h *WizardHandler) session(w http.ResponseWriter, r *http.Request) (*wizard.Session, bool) {
	id := chi.URLParam(r, "sessionID")
	s, err := h.sessions.Get(r.Context(), id)
	if err != nil {
		if sessions.IsNotFound(err) {
			jsonError(w, "session not found", http.StatusNotFound)
			return nil, false
		}
		h.logger.Error("wizard: load session failed", "session_id", id, "error", err)
		jsonError(w, "failed to load session", http.StatusInternalServerError)
		return nil, false
	}
	return s, true
}

// stage resolves the {stage} path parameter by name or numeric id.
func (h *WizardHandler) stage(w http.ResponseWriter, r *http.Request, s *wizard.Session) (wizard.Stage, bool) {
	raw := chi.URLParam(r, "stage")
	if st, ok := s.Graph.ByName(raw); ok {
		return st, true
	}
	if n, err := strconv.Atoi(raw); err == nil {
		if st, ok := s.Graph.Stage(wizard.StageID(n)); ok {
			return st, true
		}
	}
	jsonError(w, "unknown stage "+strconv.Quote(raw), http.StatusNotFound)
	return wizard.Stage{}, false
}

// persist saves the snapshot after a mutation. A failed save only costs
// restart recovery, so the request still succeeds.
func (h *WizardHandler) persist(ctx context.Context, s *wizard.Session) {
	if err := h.sessions.Persist(ctx, s); err != nil {
		h.logger.Warn("wizard: snapshot save failed", "session_id", s.ID, "error", err)
	}
}

type errorResponse struct {
	Error        string            `json:"error"`
	Code         string            `json:"code"`
	Fields       map[string]string `json:"fields,omitempty"`
	CurrentStage *wizard.StageID   `json:"current_stage,omitempty"`
}

func (h *WizardHandler) writeWizardError(w http.ResponseWriter, s *wizard.Session, err error) {
	status, code := statusFor(err)
	resp := errorResponse{Error: err.Error(), Code: code}
	var verr *wizard.ValidationError
	if errors.As(err, &verr) {
		resp.Fields = verr.Fields
	}
	if s != nil {
		cur := s.Controller.Current()
		resp.CurrentStage = &cur
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("wizard: request failed", "session_id", sessionID(s), "error", err)
	}
	writeJSON(w, status, resp)
}

func sessionID(s *wizard.Session) string {
	if s == nil {
		return ""
	}
	return s.ID
}

// statusFor maps wizard errors onto HTTP statuses.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, wizard.ErrValidationFailed):
		return http.StatusUnprocessableEntity, "validation_failed"
	case errors.Is(err, wizard.ErrOutOfOrderSelection):
		return http.StatusConflict, "out_of_order"
	case errors.Is(err, wizard.ErrSubmissionInProgress):
		return http.StatusConflict, "submission_in_progress"
	case errors.Is(err, wizard.ErrCandidateUnavailable):
		return http.StatusConflict, "candidate_unavailable"
	case errors.Is(err, wizard.ErrStaleCandidates):
		return http.StatusConflict, "stale_candidates"
	case errors.Is(err, wizard.ErrTerminalStage),
		errors.Is(err, wizard.ErrAtFirstStage),
		errors.Is(err, wizard.ErrSelectionMissing):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, wizard.ErrPrerequisiteMissing):
		return http.StatusFailedDependency, "prerequisite_missing"
	case errors.Is(err, wizard.ErrEmptyValue):
		return http.StatusBadRequest, "empty_value"
	case errors.Is(err, wizard.ErrUnknownStage):
		return http.StatusNotFound, "unknown_stage"
	case errors.Is(err, wizard.ErrLookupFailed):
		return http.StatusBadGateway, "lookup_failed"
	case errors.Is(err, wizard.ErrServerError):
		return http.StatusBadGateway, "submission_failed"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func jsonError(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, status, map[string]string{"error": msg})
}
