package handlers

import (
	"net/http"

	"spottrader/internal/models"
)

// StatsServiceInterface - история и сводки закрытых сделок
type StatsServiceInterface interface {
	GetSummaries(owner string) ([]*models.TradeSummary, error)
	GetTrades(owner string, limit int) ([]*models.ClosedTrade, error)
}

// StatsHandler отвечает за историю сделок
//
// Endpoints:
// - GET /api/trades?limit=100 - последние закрытые сделки
// - GET /api/trades/summary - сводки за сутки, неделю, месяц и всё время
type StatsHandler struct {
	statsService StatsServiceInterface
}

// NewStatsHandler создает новый StatsHandler
func NewStatsHandler(statsService StatsServiceInterface) *StatsHandler {
	return &StatsHandler{statsService: statsService}
}

// GetTradesResponse представляет ответ списка сделок
type GetTradesResponse struct {
	Trades []*models.ClosedTrade `json:"trades"`
	Total  int                   `json:"total"`
}

// GetTrades возвращает последние закрытые сделки
//
// GET /api/trades
//
// Query параметры:
// - limit (int): количество записей (по умолчанию 100, максимум 500)
func (h *StatsHandler) GetTrades(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	trades, err := h.statsService.GetTrades(owner, queryLimit(r))
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to get trades: "+err.Error())
		return
	}
	if trades == nil {
		trades = []*models.ClosedTrade{}
	}
	respondWithJSON(w, http.StatusOK, GetTradesResponse{Trades: trades, Total: len(trades)})
}

// GetSummary возвращает сводки P&L по периодам
//
// GET /api/trades/summary
func (h *StatsHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	summaries, err := h.statsService.GetSummaries(owner)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to get summary: "+err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, summaries)
}
