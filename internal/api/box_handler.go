package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/phrazzld/leitbox/internal/api/shared"
	"github.com/phrazzld/leitbox/internal/domain"
	"github.com/phrazzld/leitbox/internal/service/boxes"
)

// BoxService is the subset of the box service used by the API.
type BoxService interface {
	Create(ctx context.Context, userID uuid.UUID, name string, dailyNewCardLimit int) (*domain.Box, error)
	Get(ctx context.Context, userID, boxID uuid.UUID) (*domain.Box, error)
	List(ctx context.Context, userID uuid.UUID) ([]*domain.Box, error)
	UpdateSettings(ctx context.Context, userID, boxID uuid.UUID, settings boxes.Settings) (*domain.Box, error)
	Rebalance(ctx context.Context, userID, boxID uuid.UUID) (int, error)
	Delete(ctx context.Context, userID, boxID uuid.UUID) error
}

// CreateBoxRequest is the body of POST /api/boxes.
type CreateBoxRequest struct {
	Name              string `json:"name" validate:"required,max=200"`
	DailyNewCardLimit int    `json:"daily_new_card_limit" validate:"gte=0"`
}

// UpdateBoxRequest is the body of PATCH /api/boxes/{boxID}.
type UpdateBoxRequest struct {
	Name              *string `json:"name,omitempty" validate:"omitempty,max=200"`
	DailyNewCardLimit *int    `json:"daily_new_card_limit,omitempty" validate:"omitempty,gte=0"`
}

// RebalanceResponse reports how many new cards were rescheduled.
type RebalanceResponse struct {
	Rescheduled int `json:"rescheduled"`
}

// BoxHandler handles box endpoints.
type BoxHandler struct {
	boxes  BoxService
	logger *slog.Logger
}

// NewBoxHandler creates a new BoxHandler.
func NewBoxHandler(boxes BoxService, logger *slog.Logger) *BoxHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &BoxHandler{
		boxes:  boxes,
		logger: logger.With(slog.String("component", "box_handler")),
	}
}

// ListBoxes handles GET /api/boxes.
func (h *BoxHandler) ListBoxes(w http.ResponseWriter, r *http.Request) {
	userID, ok := handleUserID(w, r)
	if !ok {
		return
	}
	list, err := h.boxes.List(r.Context(), userID)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	if list == nil {
		list = []*domain.Box{}
	}
	shared.RespondWithJSON(w, r, http.StatusOK, list)
}

// CreateBox handles POST /api/boxes.
func (h *BoxHandler) CreateBox(w http.ResponseWriter, r *http.Request) {
	userID, ok := handleUserID(w, r)
	if !ok {
		return
	}

	var req CreateBoxRequest
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	if err := shared.ValidateRequest(&req); err != nil {
		respondWithServiceError(w, r, err)
		return
	}

	box, err := h.boxes.Create(r.Context(), userID, req.Name, req.DailyNewCardLimit)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusCreated, box)
}

// GetBox handles GET /api/boxes/{boxID}.
func (h *BoxHandler) GetBox(w http.ResponseWriter, r *http.Request) {
	userID, boxID, ok := handleUserIDAndPathUUID(w, r, "boxID")
	if !ok {
		return
	}
	box, err := h.boxes.Get(r.Context(), userID, boxID)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, box)
}

// UpdateBox handles PATCH /api/boxes/{boxID}. Changing the daily new card
// limit rebalances the box's new cards.
func (h *BoxHandler) UpdateBox(w http.ResponseWriter, r *http.Request) {
	userID, boxID, ok := handleUserIDAndPathUUID(w, r, "boxID")
	if !ok {
		return
	}

	var req UpdateBoxRequest
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	if err := shared.ValidateRequest(&req); err != nil {
		respondWithServiceError(w, r, err)
		return
	}

	box, err := h.boxes.UpdateSettings(r.Context(), userID, boxID, boxes.Settings{
		Name:              req.Name,
		DailyNewCardLimit: req.DailyNewCardLimit,
	})
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, box)
}

// DeleteBox handles DELETE /api/boxes/{boxID}.
func (h *BoxHandler) DeleteBox(w http.ResponseWriter, r *http.Request) {
	userID, boxID, ok := handleUserIDAndPathUUID(w, r, "boxID")
	if !ok {
		return
	}
	if err := h.boxes.Delete(r.Context(), userID, boxID); err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RebalanceBox handles POST /api/boxes/{boxID}/rebalance.
func (h *BoxHandler) RebalanceBox(w http.ResponseWriter, r *http.Request) {
	userID, boxID, ok := handleUserIDAndPathUUID(w, r, "boxID")
	if !ok {
		return
	}
	moved, err := h.boxes.Rebalance(r.Context(), userID, boxID)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	h.logger.DebugContext(r.Context(), "box rebalanced",
		slog.String("box_id", boxID.String()),
		slog.Int("rescheduled", moved))
	shared.RespondWithJSON(w, r, http.StatusOK, RebalanceResponse{Rescheduled: moved})
}
