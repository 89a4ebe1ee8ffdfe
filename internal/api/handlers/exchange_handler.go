package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"spottrader/internal/bot"
	"spottrader/internal/exchange"
	"spottrader/internal/models"
	"spottrader/internal/service"
)

// ExchangeServiceInterface - управление ключами бирж владельца
type ExchangeServiceInterface interface {
	ConnectExchange(ctx context.Context, owner, name, apiKey, secretKey, passphrase string) (*models.ExchangeAccount, error)
	DisconnectExchange(owner, name string) error
	GetAccounts(owner string) ([]*models.ExchangeAccount, error)
	GetCredentials(owner, name string) (exchange.Credentials, error)
	RecordError(owner, name string, cause error)
}

// ConnectExchangeRequest - тело запроса для подключения биржи
type ConnectExchangeRequest struct {
	APIKey     string `json:"api_key"`
	SecretKey  string `json:"secret_key"`
	Passphrase string `json:"passphrase,omitempty"` // для OKX
}

// ExchangeResponse - биржа и статус её подключения
type ExchangeResponse struct {
	Name      string `json:"name"`
	Connected bool   `json:"connected"`
	LastError string `json:"last_error,omitempty"`
}

// BalanceResponse - ответ с балансом биржи
type BalanceResponse struct {
	Exchange string  `json:"exchange"`
	Balance  float64 `json:"balance"`
	Currency string  `json:"currency"`
}

// defaultBalanceCurrency - валюта баланса по умолчанию
const defaultBalanceCurrency = "USDT"

// ExchangeHandler отвечает за управление биржевыми аккаунтами
//
// Endpoints:
// - POST /api/exchanges/{name}/connect - подключение биржи
// - DELETE /api/exchanges/{name} - отключение биржи
// - GET /api/exchanges - список поддерживаемых бирж и их статусов
// - GET /api/exchanges/{name}/balance?currency=USDT - свободный баланс
type ExchangeHandler struct {
	exchangeService ExchangeServiceInterface
	balances        bot.BalanceReader
}

// NewExchangeHandler создает новый ExchangeHandler
func NewExchangeHandler(exchangeService ExchangeServiceInterface, balances bot.BalanceReader) *ExchangeHandler {
	return &ExchangeHandler{
		exchangeService: exchangeService,
		balances:        balances,
	}
}

// ConnectExchange подключает биржу с API ключами
//
// POST /api/exchanges/{name}/connect
//
// Ключи проверяются запросом баланса до сохранения.
//
// HTTP коды:
// - 200 OK: биржа подключена
// - 400 Bad Request: неподдерживаемая биржа, пустые ключи или нет passphrase
// - 401 Unauthorized: биржа отвергла ключи
// - 500 Internal Server Error: ошибка шифрования или хранилища
func (h *ExchangeHandler) ConnectExchange(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	name := strings.ToLower(mux.Vars(r)["name"])

	var req ConnectExchangeRequest
	if err := decodeBody(r, &req); err != nil {
		respondWithErrorCode(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	req.APIKey = strings.TrimSpace(req.APIKey)
	req.SecretKey = strings.TrimSpace(req.SecretKey)
	req.Passphrase = strings.TrimSpace(req.Passphrase)

	account, err := h.exchangeService.ConnectExchange(r.Context(), owner, name, req.APIKey, req.SecretKey, req.Passphrase)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrExchangeNotSupported):
			respondWithErrorCode(w, http.StatusBadRequest, "unsupported_exchange", err.Error())
		case errors.Is(err, service.ErrPassphraseRequired):
			respondWithErrorCode(w, http.StatusBadRequest, "passphrase_required", err.Error())
		case errors.Is(err, service.ErrInvalidCredentials):
			if req.APIKey == "" || req.SecretKey == "" {
				respondWithErrorCode(w, http.StatusBadRequest, "missing_credentials", err.Error())
				return
			}
			respondWithErrorCode(w, http.StatusUnauthorized, "invalid_credentials", err.Error())
		default:
			respondWithError(w, http.StatusInternalServerError, "Failed to connect exchange: "+err.Error())
		}
		return
	}

	respondWithJSON(w, http.StatusOK, SuccessResponse{Message: "Exchange connected", Data: account})
}

// DisconnectExchange удаляет ключи биржи
//
// DELETE /api/exchanges/{name}
//
// HTTP коды:
// - 200 OK
// - 404 Not Found: биржа не подключена
func (h *ExchangeHandler) DisconnectExchange(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	name := strings.ToLower(mux.Vars(r)["name"])

	if err := h.exchangeService.DisconnectExchange(owner, name); err != nil {
		if errors.Is(err, service.ErrExchangeNotConnected) {
			respondWithError(w, http.StatusNotFound, err.Error())
			return
		}
		respondWithError(w, http.StatusInternalServerError, "Failed to disconnect exchange: "+err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, SuccessResponse{Message: "Exchange disconnected"})
}

// GetExchanges возвращает все поддерживаемые биржи со статусом подключения
//
// GET /api/exchanges
func (h *ExchangeHandler) GetExchanges(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	accounts, err := h.exchangeService.GetAccounts(owner)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to get exchanges: "+err.Error())
		return
	}

	connected := make(map[string]*models.ExchangeAccount, len(accounts))
	for _, a := range accounts {
		connected[a.Exchange] = a
	}

	result := make([]ExchangeResponse, 0, len(exchange.SupportedExchanges))
	for _, name := range exchange.SupportedExchanges {
		resp := ExchangeResponse{Name: name}
		if a, ok := connected[name]; ok {
			resp.Connected = true
			resp.LastError = a.LastError
		}
		result = append(result, resp)
	}
	respondWithJSON(w, http.StatusOK, result)
}

// GetExchangeBalance читает свободный баланс валюты
//
// GET /api/exchanges/{name}/balance?currency=USDT
//
// Ошибка биржи сохраняется как last_error аккаунта.
//
// HTTP коды:
// - 200 OK
// - 404 Not Found: биржа не подключена
// - 502 Bad Gateway: биржа вернула ошибку
func (h *ExchangeHandler) GetExchangeBalance(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	name := strings.ToLower(mux.Vars(r)["name"])
	currency := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("currency")))
	if currency == "" {
		currency = defaultBalanceCurrency
	}

	creds, err := h.exchangeService.GetCredentials(owner, name)
	if err != nil {
		if errors.Is(err, service.ErrExchangeNotConnected) {
			respondWithError(w, http.StatusNotFound, err.Error())
			return
		}
		respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}

	balance, err := h.balances.Balance(r.Context(), name, creds, currency)
	if err != nil {
		h.exchangeService.RecordError(owner, name, err)
		respondWithError(w, http.StatusBadGateway, "Failed to get balance: "+err.Error())
		return
	}
	h.exchangeService.RecordError(owner, name, nil)

	respondWithJSON(w, http.StatusOK, BalanceResponse{Exchange: name, Balance: balance, Currency: currency})
}
