package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	bybitBaseURL    = "https://api.bybit.com"
	bybitRecvWindow = "5000"
)

var bybitIntervals = map[string]string{
	"1m": "1", "5m": "5", "15m": "15", "1h": "60", "4h": "240", "1d": "D",
}

// Bybit реализует Exchange для спотовой категории Bybit API v5.
//
// Подпись: HMAC-SHA256 (hex) над timestamp+apiKey+recvWindow+payload, где
// payload - строка запроса для GET или JSON тело для POST.
// Ответ создания ордера содержит только orderId, исполнение читается отдельно;
// поле execFee у рыночных ордеров UTA бывает нулевым.
type Bybit struct {
	restClient
}

// NewBybit создаёт клиент Bybit
func NewBybit(creds Credentials, opts ...Option) *Bybit {
	return &Bybit{restClient: newRestClient("bybit", bybitBaseURL, creds, opts)}
}

// Sign создает подпись для запроса к Bybit API v5
func (b *Bybit) Sign(req SignRequest) SignedRequest {
	timestamp := strconv.FormatInt(req.Timestamp.UnixMilli(), 10)
	payload := req.Query
	if req.Method != http.MethodGet {
		payload = req.Body
	}

	h := hmac.New(sha256.New, []byte(b.creds.SecretKey))
	h.Write([]byte(timestamp + b.creds.APIKey + bybitRecvWindow + payload))

	return SignedRequest{
		Query: req.Query,
		Headers: map[string]string{
			"X-BAPI-API-KEY":     b.creds.APIKey,
			"X-BAPI-SIGN":        hex.EncodeToString(h.Sum(nil)),
			"X-BAPI-SIGN-TYPE":   "2",
			"X-BAPI-TIMESTAMP":   timestamp,
			"X-BAPI-RECV-WINDOW": bybitRecvWindow,
		},
	}
}

// doRequest выполняет HTTP запрос к Bybit API и проверяет retCode
func (b *Bybit) doRequest(ctx context.Context, method, path string, params url.Values, body map[string]string, signed bool) ([]byte, error) {
	query := ""
	if params != nil {
		query = params.Encode()
	}

	var payload []byte
	if len(body) > 0 {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, err
		}
	}

	var headers map[string]string
	if signed {
		if err := b.requireCredentials(); err != nil {
			return nil, err
		}
		sr := b.Sign(SignRequest{Method: method, Path: path, Query: query, Body: string(payload), Timestamp: b.now()})
		headers = sr.Headers
	}

	status, respBody, err := b.send(ctx, method, path, query, payload, headers)
	if err != nil {
		return nil, err
	}
	if status >= http.StatusBadRequest && len(respBody) == 0 {
		return nil, b.httpError(status, respBody)
	}

	var baseResp struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
	}
	if err := json.Unmarshal(respBody, &baseResp); err != nil {
		return nil, b.httpError(status, respBody)
	}
	if baseResp.RetCode != 0 {
		return nil, &ExchangeError{
			Exchange: b.name,
			Code:     strconv.Itoa(baseResp.RetCode),
			Message:  baseResp.RetMsg,
		}
	}
	return respBody, nil
}

func (b *Bybit) nativeSymbol(symbol string) (string, error) {
	base, quote, err := splitSymbol(b.name, symbol)
	if err != nil {
		return "", err
	}
	return base + quote, nil
}

// SubmitOrder размещает рыночный ордер.
// Для BUY сумма задаётся в котируемой валюте (marketUnit=quoteCoin).
func (b *Bybit) SubmitOrder(ctx context.Context, req OrderRequest) (*Fill, error) {
	if err := validateOrder(b.name, req); err != nil {
		return nil, err
	}
	symbol, err := b.nativeSymbol(req.Symbol)
	if err != nil {
		return nil, err
	}

	body := map[string]string{
		"category":  "spot",
		"symbol":    symbol,
		"orderType": "Market",
	}
	if req.Side == SideBuy {
		body["side"] = "Buy"
		body["qty"] = formatFloat(req.QuoteAmount)
		body["marketUnit"] = "quoteCoin"
	} else {
		body["side"] = "Sell"
		body["qty"] = formatFloat(req.Quantity)
		body["marketUnit"] = "baseCoin"
	}

	respBody, err := b.doRequest(ctx, http.MethodPost, "/v5/order/create", nil, body, true)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Result struct {
			OrderID string `json:"orderId"`
		} `json:"result"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	if resp.Result.OrderID == "" {
		return nil, &ExchangeError{Exchange: b.name, Code: "order", Message: "empty orderId in response"}
	}
	return &Fill{OrderID: resp.Result.OrderID}, nil
}

// ReadFill читает исполнения ордера через /v5/execution/list
func (b *Bybit) ReadFill(ctx context.Context, symbol, orderID string) (*Fill, error) {
	native, err := b.nativeSymbol(symbol)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("category", "spot")
	params.Set("symbol", native)
	params.Set("orderId", orderID)

	body, err := b.doRequest(ctx, http.MethodGet, "/v5/execution/list", params, nil, true)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Result struct {
			List []struct {
				ExecPrice   flexFloat `json:"execPrice"`
				ExecQty     flexFloat `json:"execQty"`
				ExecValue   flexFloat `json:"execValue"`
				ExecFee     flexFloat `json:"execFee"`
				FeeCurrency string    `json:"feeCurrency"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Result.List) == 0 {
		return nil, ErrFillNotFound
	}

	parts := make([]tradePart, 0, len(resp.Result.List))
	for _, e := range resp.Result.List {
		parts = append(parts, tradePart{
			price:       float64(e.ExecPrice),
			qty:         float64(e.ExecQty),
			quote:       float64(e.ExecValue),
			fee:         float64(e.ExecFee),
			feeCurrency: e.FeeCurrency,
		})
	}
	return aggregateTrades(orderID, parts), nil
}

// GetBalance возвращает доступный баланс монеты в едином аккаунте
func (b *Bybit) GetBalance(ctx context.Context, asset string) (float64, error) {
	asset = strings.ToUpper(asset)
	params := url.Values{}
	params.Set("accountType", "UNIFIED")
	params.Set("coin", asset)

	body, err := b.doRequest(ctx, http.MethodGet, "/v5/account/wallet-balance", params, nil, true)
	if err != nil {
		return 0, err
	}

	var resp struct {
		Result struct {
			List []struct {
				Coin []struct {
					Coin          string    `json:"coin"`
					WalletBalance flexFloat `json:"walletBalance"`
					Locked        flexFloat `json:"locked"`
				} `json:"coin"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, err
	}

	for _, acc := range resp.Result.List {
		for _, c := range acc.Coin {
			if c.Coin == asset {
				return float64(c.WalletBalance - c.Locked), nil
			}
		}
	}
	return 0, nil
}

// GetPrice возвращает последнюю цену спотового тикера
func (b *Bybit) GetPrice(ctx context.Context, symbol string) (float64, error) {
	native, err := b.nativeSymbol(symbol)
	if err != nil {
		return 0, err
	}

	params := url.Values{}
	params.Set("category", "spot")
	params.Set("symbol", native)

	body, err := b.doRequest(ctx, http.MethodGet, "/v5/market/tickers", params, nil, false)
	if err != nil {
		return 0, err
	}

	var resp struct {
		Result struct {
			List []struct {
				LastPrice flexFloat `json:"lastPrice"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, err
	}
	if len(resp.Result.List) == 0 || resp.Result.List[0].LastPrice <= 0 {
		return 0, ErrEmptyResponse
	}
	return float64(resp.Result.List[0].LastPrice), nil
}

// GetCandles возвращает свечи /v5/market/kline.
// Bybit отдаёт их от новых к старым, поэтому список разворачивается.
func (b *Bybit) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error) {
	native, err := b.nativeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	iv, ok := bybitIntervals[interval]
	if !ok {
		return nil, ErrUnsupportedInterval
	}
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}

	params := url.Values{}
	params.Set("category", "spot")
	params.Set("symbol", native)
	params.Set("interval", iv)
	params.Set("limit", strconv.Itoa(limit))

	body, err := b.doRequest(ctx, http.MethodGet, "/v5/market/kline", params, nil, false)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Result struct {
			List [][]string `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	candles := make([]Candle, 0, len(resp.Result.List))
	for _, r := range resp.Result.List {
		if len(r) < 6 {
			continue
		}
		candles = append(candles, Candle{
			OpenTime: msTime(toInt64(r[0])),
			Open:     toFloat(r[1]),
			High:     toFloat(r[2]),
			Low:      toFloat(r[3]),
			Close:    toFloat(r[4]),
			Volume:   toFloat(r[5]),
		})
	}
	reverseCandles(candles)
	return candles, nil
}
