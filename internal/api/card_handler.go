package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/phrazzld/leitbox/internal/api/shared"
	"github.com/phrazzld/leitbox/internal/domain"
	"github.com/phrazzld/leitbox/internal/service/cards"
)

// CardService is the subset of the card service used by the API.
type CardService interface {
	Create(ctx context.Context, userID, boxID uuid.UUID, cfg domain.CardConfig) (*domain.Card, error)
	Get(ctx context.Context, userID, cardID uuid.UUID) (*domain.Card, error)
	List(ctx context.Context, userID, boxID uuid.UUID, filter cards.Filter) ([]*domain.Card, error)
	UpdateConfig(ctx context.Context, userID, cardID uuid.UUID, cfg domain.CardConfig) (*domain.Card, error)
	Delete(ctx context.Context, userID, cardID uuid.UUID) error
	BatchDelete(ctx context.Context, userID, boxID uuid.UUID, ids []uuid.UUID) (int, error)
}

// CardConfigRequest is the body of card create and update requests. Config
// is a card configuration object carrying its "type" discriminator.
type CardConfigRequest struct {
	Config json.RawMessage `json:"config" validate:"required"`
}

// BatchDeleteRequest is the body of POST /api/boxes/{boxID}/cards/batch-delete.
type BatchDeleteRequest struct {
	CardIDs []uuid.UUID `json:"card_ids" validate:"required,min=1,max=1000"`
}

// BatchDeleteResponse reports how many cards were removed.
type BatchDeleteResponse struct {
	Deleted int `json:"deleted"`
}

// CardHandler handles card endpoints.
type CardHandler struct {
	cards  CardService
	logger *slog.Logger
}

// NewCardHandler creates a new CardHandler.
func NewCardHandler(cards CardService, logger *slog.Logger) *CardHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CardHandler{
		cards:  cards,
		logger: logger.With(slog.String("component", "card_handler")),
	}
}

// ListCards handles GET /api/boxes/{boxID}/cards. The optional filter query
// parameter selects due or new cards.
func (h *CardHandler) ListCards(w http.ResponseWriter, r *http.Request) {
	userID, boxID, ok := handleUserIDAndPathUUID(w, r, "boxID")
	if !ok {
		return
	}
	filter, err := cards.ParseFilter(r.URL.Query().Get("filter"))
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}

	list, err := h.cards.List(r.Context(), userID, boxID, filter)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	if list == nil {
		list = []*domain.Card{}
	}
	shared.RespondWithJSON(w, r, http.StatusOK, list)
}

// CreateCard handles POST /api/boxes/{boxID}/cards.
func (h *CardHandler) CreateCard(w http.ResponseWriter, r *http.Request) {
	userID, boxID, ok := handleUserIDAndPathUUID(w, r, "boxID")
	if !ok {
		return
	}
	cfg, ok := decodeCardConfig(w, r)
	if !ok {
		return
	}

	card, err := h.cards.Create(r.Context(), userID, boxID, cfg)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusCreated, card)
}

// GetCard handles GET /api/cards/{cardID}.
func (h *CardHandler) GetCard(w http.ResponseWriter, r *http.Request) {
	userID, cardID, ok := handleUserIDAndPathUUID(w, r, "cardID")
	if !ok {
		return
	}
	card, err := h.cards.Get(r.Context(), userID, cardID)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, card)
}

// UpdateCard handles PUT /api/cards/{cardID}. Only the configuration can be
// changed; the card keeps its kind and scheduling state.
func (h *CardHandler) UpdateCard(w http.ResponseWriter, r *http.Request) {
	userID, cardID, ok := handleUserIDAndPathUUID(w, r, "cardID")
	if !ok {
		return
	}
	cfg, ok := decodeCardConfig(w, r)
	if !ok {
		return
	}

	card, err := h.cards.UpdateConfig(r.Context(), userID, cardID, cfg)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, card)
}

// DeleteCard handles DELETE /api/cards/{cardID}.
func (h *CardHandler) DeleteCard(w http.ResponseWriter, r *http.Request) {
	userID, cardID, ok := handleUserIDAndPathUUID(w, r, "cardID")
	if !ok {
		return
	}
	if err := h.cards.Delete(r.Context(), userID, cardID); err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// BatchDeleteCards handles POST /api/boxes/{boxID}/cards/batch-delete.
// IDs of cards outside the box are ignored.
func (h *CardHandler) BatchDeleteCards(w http.ResponseWriter, r *http.Request) {
	userID, boxID, ok := handleUserIDAndPathUUID(w, r, "boxID")
	if !ok {
		return
	}

	var req BatchDeleteRequest
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	if err := shared.ValidateRequest(&req); err != nil {
		respondWithServiceError(w, r, err)
		return
	}

	n, err := h.cards.BatchDelete(r.Context(), userID, boxID, req.CardIDs)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, BatchDeleteResponse{Deleted: n})
}

func decodeCardConfig(w http.ResponseWriter, r *http.Request) (domain.CardConfig, bool) {
	var req CardConfigRequest
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		respondWithServiceError(w, r, err)
		return nil, false
	}
	if err := shared.ValidateRequest(&req); err != nil {
		respondWithServiceError(w, r, err)
		return nil, false
	}
	cfg, err := domain.UnmarshalCardConfig(req.Config)
	if err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			err = verr.WithPrefix("config")
		}
		respondWithServiceError(w, r, err)
		return nil, false
	}
	return cfg, true
}
