package handlers

import (
	"errors"
	"net/http"

	"spottrader/internal/models"
	"spottrader/internal/service"
	"spottrader/pkg/utils"
)

// RuleServiceInterface - операции с правилами автоматической покупки
type RuleServiceInterface interface {
	List(owner string) ([]*models.AutomationRule, error)
	Save(owner, exchangeName, symbol string, amount float64, enabled bool) (*models.AutomationRule, error)
	Delete(owner, exchangeName, symbol string) error
}

// RuleHandler отвечает за правила автоматической покупки
//
// Endpoints:
// - GET /api/rules - список правил владельца
// - PUT /api/rules - создать или обновить правило
// - DELETE /api/rules?exchange=binance&symbol=BTC/USDT - удалить правило
type RuleHandler struct {
	ruleService RuleServiceInterface
}

// NewRuleHandler создает новый RuleHandler
func NewRuleHandler(ruleService RuleServiceInterface) *RuleHandler {
	return &RuleHandler{ruleService: ruleService}
}

// SaveRuleRequest - тело PUT /api/rules
type SaveRuleRequest struct {
	Exchange string  `json:"exchange"`
	Symbol   string  `json:"symbol"`
	Amount   float64 `json:"amount"` // -1 - весь свободный баланс
	Enabled  *bool   `json:"enabled,omitempty"`
}

// GetRules возвращает правила владельца
//
// GET /api/rules
func (h *RuleHandler) GetRules(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	rules, err := h.ruleService.List(owner)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to get rules: "+err.Error())
		return
	}
	if rules == nil {
		rules = []*models.AutomationRule{}
	}
	respondWithJSON(w, http.StatusOK, rules)
}

// SaveRule создает или обновляет правило. Без поля enabled правило включено.
//
// PUT /api/rules
//
// HTTP коды:
// - 200 OK: правило сохранено
// - 400 Bad Request: неподдерживаемая биржа, символ или сумма
// - 500 Internal Server Error: ошибка хранилища
func (h *RuleHandler) SaveRule(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	var req SaveRuleRequest
	if err := decodeBody(r, &req); err != nil {
		respondWithErrorCode(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	rule, err := h.ruleService.Save(owner, req.Exchange, req.Symbol, req.Amount, enabled)
	if err != nil {
		if isValidationError(err) {
			respondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		respondWithError(w, http.StatusInternalServerError, "Failed to save rule: "+err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, rule)
}

// DeleteRule удаляет правило
//
// DELETE /api/rules?exchange=binance&symbol=BTC/USDT
//
// HTTP коды:
// - 200 OK
// - 400 Bad Request: некорректный символ
// - 404 Not Found: правила нет
func (h *RuleHandler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	err := h.ruleService.Delete(owner, q.Get("exchange"), q.Get("symbol"))
	switch {
	case err == nil:
		respondWithJSON(w, http.StatusOK, SuccessResponse{Message: "Rule deleted"})
	case errors.Is(err, service.ErrRuleNotFound):
		respondWithError(w, http.StatusNotFound, err.Error())
	case isValidationError(err):
		respondWithError(w, http.StatusBadRequest, err.Error())
	default:
		respondWithError(w, http.StatusInternalServerError, "Failed to delete rule: "+err.Error())
	}
}

// isValidationError - ошибка входных данных, а не хранилища
func isValidationError(err error) bool {
	return errors.Is(err, service.ErrExchangeNotSupported) ||
		errors.Is(err, service.ErrInvalidRuleAmount) ||
		errors.Is(err, utils.ErrEmptySymbol) ||
		errors.Is(err, utils.ErrInvalidSymbol) ||
		errors.Is(err, utils.ErrUnknownQuote)
}
