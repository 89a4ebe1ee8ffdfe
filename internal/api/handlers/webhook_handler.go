package handlers

import (
	"context"
	"errors"
	"net/http"

	"spottrader/internal/bot"
	"spottrader/pkg/utils"
)

// IntentHandler - маршрутизатор намерений с точки зрения HTTP слоя
type IntentHandler interface {
	HandleWebhook(ctx context.Context, w bot.WebhookIntent) (*bot.IntentResult, error)
	ManualBuy(ctx context.Context, ownerID, exchangeName, symbol string, amount float64) (*bot.IntentResult, error)
	ManualSell(ctx context.Context, ownerID, exchangeName, symbol string) (*bot.IntentResult, error)
}

// WebhookHandler принимает сигналы внешних систем (TradingView и т.п.)
//
// Endpoints:
// - POST /api/webhook
//
// Аутентификация - секрет в теле запроса, API токен не требуется.
type WebhookHandler struct {
	router IntentHandler
	log    *utils.Logger
}

// NewWebhookHandler создает новый WebhookHandler
func NewWebhookHandler(router IntentHandler) *WebhookHandler {
	return &WebhookHandler{
		router: router,
		log:    utils.L().WithComponent("webhook"),
	}
}

// Handle обрабатывает вебхук
//
// POST /api/webhook
//
// Request body:
//
//	{
//	  "owner": "alice",
//	  "action": "BUY",
//	  "instrument": "BTCUSDT",
//	  "exchange": "binance",
//	  "secret": "..."
//	}
//
// HTTP коды:
// - 200 OK: намерение обработано (ok=false при неудаче исполнения или блокировке)
// - 400 Bad Request: некорректный JSON, действие или инструмент
// - 401 Unauthorized: секрет не совпал
// - 404 Not Found: владелец неизвестен
// - 500 Internal Server Error: ошибка хранилища
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	var req bot.WebhookIntent
	if err := decodeBody(r, &req); err != nil {
		respondWithErrorCode(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	result, err := h.router.HandleWebhook(r.Context(), req)
	if err != nil {
		status := intentErrorStatus(err)
		if status == http.StatusInternalServerError {
			h.log.Error("webhook failed", utils.Owner(req.Owner), utils.Err(err))
		}
		respondWithError(w, status, err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, result)
}

// intentErrorStatus переводит ошибки маршрутизатора в HTTP статус
func intentErrorStatus(err error) int {
	switch {
	case errors.Is(err, bot.ErrUnknownOwner):
		return http.StatusNotFound
	case errors.Is(err, bot.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, bot.ErrInvalidIntent):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
