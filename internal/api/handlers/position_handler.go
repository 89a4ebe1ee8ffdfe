package handlers

import (
	"context"
	"net/http"

	"spottrader/internal/bot"
	"spottrader/internal/models"
	"spottrader/pkg/utils"
)

// PositionLister - стеки лотов владельца
type PositionLister interface {
	Positions(owner string) ([]*models.StackedPosition, error)
}

// PendingLister - отложенные продажи владельца
type PendingLister interface {
	Pending(owner string) []models.DeferredExit
}

// PriceReader - текущая цена инструмента и курс валюты комиссии
type PriceReader interface {
	Price(ctx context.Context, exchangeName, symbol string) (float64, error)
	FeePriceInQuote(ctx context.Context, exchangeName, feeCurrency, quote string) float64
}

// PositionHandler отвечает за открытые позиции и ручную торговлю
//
// Endpoints:
// - GET /api/positions - стеки лотов с оценкой по текущей цене
// - POST /api/positions/buy - ручная покупка
// - POST /api/positions/sell - ручная продажа всей группы
// - GET /api/positions/pending - отложенные продажи
type PositionHandler struct {
	positions PositionLister
	pending   PendingLister
	router    IntentHandler
	prices    PriceReader
	feeRate   float64
	log       *utils.Logger
}

// NewPositionHandler создает новый PositionHandler. prices может быть nil,
// тогда позиции отдаются без оценки.
func NewPositionHandler(positions PositionLister, pending PendingLister, router IntentHandler, prices PriceReader, feeRate float64) *PositionHandler {
	return &PositionHandler{
		positions: positions,
		pending:   pending,
		router:    router,
		prices:    prices,
		feeRate:   feeRate,
		log:       utils.L().WithComponent("position_handler"),
	}
}

// PositionDTO - стек лотов с оценкой
type PositionDTO struct {
	*models.StackedPosition
	Estimate *bot.ProfitEstimate `json:"estimate,omitempty"`
}

// GetPositionsResponse представляет ответ списка позиций
type GetPositionsResponse struct {
	Positions []PositionDTO `json:"positions"`
	Total     int           `json:"total"`
}

// GetPositions возвращает стеки лотов владельца
//
// GET /api/positions
//
// HTTP коды:
// - 200 OK
// - 400 Bad Request: нет заголовка владельца
// - 500 Internal Server Error: ошибка хранилища
func (h *PositionHandler) GetPositions(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}

	stacks, err := h.positions.Positions(owner)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to get positions: "+err.Error())
		return
	}

	dtos := make([]PositionDTO, 0, len(stacks))
	for _, pos := range stacks {
		dto := PositionDTO{StackedPosition: pos}
		if h.prices != nil {
			// Позиция без цены всё равно показывается
			if price, err := h.prices.Price(r.Context(), pos.Key.Exchange, pos.Key.Symbol); err == nil && price > 0 {
				_, quote, _ := utils.ParseSymbol(pos.Key.Symbol)
				feePrice := func(currency string) float64 {
					return h.prices.FeePriceInQuote(r.Context(), pos.Key.Exchange, currency, quote)
				}
				est := bot.EstimateProfit(pos, price, h.feeRate, feePrice)
				dto.Estimate = &est
			} else if err != nil {
				h.log.Debug("price unavailable for estimate", utils.Exchange(pos.Key.Exchange),
					utils.Symbol(pos.Key.Symbol), utils.Err(err))
			}
		}
		dtos = append(dtos, dto)
	}

	respondWithJSON(w, http.StatusOK, GetPositionsResponse{Positions: dtos, Total: len(dtos)})
}

// GetPending возвращает отложенные продажи владельца
//
// GET /api/positions/pending
func (h *PositionHandler) GetPending(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	pending := h.pending.Pending(owner)
	if pending == nil {
		pending = []models.DeferredExit{}
	}
	respondWithJSON(w, http.StatusOK, pending)
}

// ManualBuyRequest - тело ручной покупки
type ManualBuyRequest struct {
	Exchange string  `json:"exchange"`
	Symbol   string  `json:"symbol"`
	Amount   float64 `json:"amount"` // в котируемой валюте
}

// ManualSellRequest - тело ручной продажи
type ManualSellRequest struct {
	Exchange string `json:"exchange"`
	Symbol   string `json:"symbol"`
}

// Buy - ручная покупка в обход фильтра
//
// POST /api/positions/buy
//
// HTTP коды:
// - 200 OK: ok=false если ордер не исполнен
// - 400 Bad Request: некорректные параметры
// - 404 Not Found: владелец неизвестен
func (h *PositionHandler) Buy(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	var req ManualBuyRequest
	if err := decodeBody(r, &req); err != nil {
		respondWithErrorCode(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	result, err := h.router.ManualBuy(r.Context(), owner, req.Exchange, req.Symbol, req.Amount)
	if err != nil {
		respondWithError(w, intentErrorStatus(err), err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

// Sell - ручная продажа всей группы без откладывания
//
// POST /api/positions/sell
func (h *PositionHandler) Sell(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	var req ManualSellRequest
	if err := decodeBody(r, &req); err != nil {
		respondWithErrorCode(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	result, err := h.router.ManualSell(r.Context(), owner, req.Exchange, req.Symbol)
	if err != nil {
		respondWithError(w, intentErrorStatus(err), err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}
