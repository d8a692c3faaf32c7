package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/phrazzld/leitbox/internal/api/shared"
	"github.com/phrazzld/leitbox/internal/domain"
	"github.com/phrazzld/leitbox/internal/service/review"
)

// ReviewService is the subset of the review controller used by the API.
type ReviewService interface {
	Start(ctx context.Context, userID, boxID uuid.UUID) (review.View, error)
	Get(ctx context.Context, userID, sessionID uuid.UUID) (review.View, error)
	Answer(ctx context.Context, userID, sessionID uuid.UUID, ans domain.Answer) (*review.Outcome, error)
	Grade(ctx context.Context, userID, sessionID uuid.UUID, correct bool) (*review.Outcome, error)
	End(ctx context.Context, userID, sessionID uuid.UUID) error
}

// GradeRequest is the body of POST /api/sessions/{sessionID}/grade.
type GradeRequest struct {
	Correct *bool `json:"correct" validate:"required"`
}

// SessionHandler handles review session endpoints.
type SessionHandler struct {
	review ReviewService
	logger *slog.Logger
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(review ReviewService, logger *slog.Logger) *SessionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionHandler{
		review: review,
		logger: logger.With(slog.String("component", "session_handler")),
	}
}

// StartSession handles POST /api/boxes/{boxID}/sessions. The session queue
// is a snapshot of the cards due when it starts.
func (h *SessionHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	userID, boxID, ok := handleUserIDAndPathUUID(w, r, "boxID")
	if !ok {
		return
	}
	view, err := h.review.Start(r.Context(), userID, boxID)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	h.logger.DebugContext(r.Context(), "review session started",
		slog.String("session_id", view.ID.String()),
		slog.Int("due", view.Total))
	shared.RespondWithJSON(w, r, http.StatusCreated, view)
}

// GetSession handles GET /api/sessions/{sessionID}.
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	userID, sessionID, ok := handleUserIDAndPathUUID(w, r, "sessionID")
	if !ok {
		return
	}
	view, err := h.review.Get(r.Context(), userID, sessionID)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, view)
}

// EndSession handles DELETE /api/sessions/{sessionID}.
func (h *SessionHandler) EndSession(w http.ResponseWriter, r *http.Request) {
	userID, sessionID, ok := handleUserIDAndPathUUID(w, r, "sessionID")
	if !ok {
		return
	}
	if err := h.review.End(r.Context(), userID, sessionID); err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AnswerCard handles POST /api/sessions/{sessionID}/answer. The answer is
// checked against the presented card's kind.
func (h *SessionHandler) AnswerCard(w http.ResponseWriter, r *http.Request) {
	userID, sessionID, ok := handleUserIDAndPathUUID(w, r, "sessionID")
	if !ok {
		return
	}
	var ans domain.Answer
	if err := shared.DecodeJSON(w, r, &ans); err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	outcome, err := h.review.Answer(r.Context(), userID, sessionID, ans)
	h.respondOutcome(w, r, outcome, err)
}

// GradeCard handles POST /api/sessions/{sessionID}/grade with an explicit
// outcome.
func (h *SessionHandler) GradeCard(w http.ResponseWriter, r *http.Request) {
	userID, sessionID, ok := handleUserIDAndPathUUID(w, r, "sessionID")
	if !ok {
		return
	}
	var req GradeRequest
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	if err := shared.ValidateRequest(&req); err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	outcome, err := h.review.Grade(r.Context(), userID, sessionID, *req.Correct)
	h.respondOutcome(w, r, outcome, err)
}

// respondOutcome writes the outcome of an answer. An outcome that could not
// be saved is still returned with persisted=false since the session has
// already moved on.
func (h *SessionHandler) respondOutcome(w http.ResponseWriter, r *http.Request, outcome *review.Outcome, err error) {
	if err != nil && !(errors.Is(err, review.ErrOutcomeNotPersisted) && outcome != nil) {
		respondWithServiceError(w, r, err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, outcome)
}
