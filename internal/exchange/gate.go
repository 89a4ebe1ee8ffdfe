package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	gateBaseURL    = "https://api.gateio.ws"
	gateAPIPrefix  = "/api/v4"
	gateMaxCandles = 1000
)

var gateIntervals = map[string]string{
	"1m": "1m", "5m": "5m", "15m": "15m", "1h": "1h", "4h": "4h", "1d": "1d",
}

// Gate реализует Exchange для спотового API Gate.io v4.
//
// Подпись: HMAC-SHA512 (hex) над
// "METHOD\n/api/v4/path\nquery\nhex(sha512(body))\ntimestamp", timestamp в секундах.
// Ошибки приходят с HTTP статусом >= 400 в виде {label, message}.
// Ответ ордера уже содержит filled_total / avg_deal_price / fee.
type Gate struct {
	restClient
}

// NewGate создаёт клиент Gate
func NewGate(creds Credentials, opts ...Option) *Gate {
	return &Gate{restClient: newRestClient("gate", gateBaseURL, creds, opts)}
}

// Sign подписывает запрос по схеме Gate v4
func (g *Gate) Sign(req SignRequest) SignedRequest {
	timestamp := strconv.FormatInt(req.Timestamp.Unix(), 10)

	bodyHash := sha512.Sum512([]byte(req.Body))
	payload := strings.Join([]string{
		strings.ToUpper(req.Method),
		req.Path,
		req.Query,
		hex.EncodeToString(bodyHash[:]),
		timestamp,
	}, "\n")

	h := hmac.New(sha512.New, []byte(g.creds.SecretKey))
	h.Write([]byte(payload))

	return SignedRequest{
		Query: req.Query,
		Headers: map[string]string{
			"KEY":       g.creds.APIKey,
			"SIGN":      hex.EncodeToString(h.Sum(nil)),
			"Timestamp": timestamp,
		},
	}
}

// doRequest выполняет запрос; path указывается без префикса /api/v4
func (g *Gate) doRequest(ctx context.Context, method, path string, params url.Values, body map[string]string, signed bool) ([]byte, error) {
	fullPath := gateAPIPrefix + path
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
		if err := g.requireCredentials(); err != nil {
			return nil, err
		}
		sr := g.Sign(SignRequest{Method: method, Path: fullPath, Query: query, Body: string(payload), Timestamp: g.now()})
		headers = sr.Headers
	}

	status, respBody, err := g.send(ctx, method, fullPath, query, payload, headers)
	if err != nil {
		return nil, err
	}

	if status >= http.StatusBadRequest {
		var apiErr struct {
			Label   string `json:"label"`
			Message string `json:"message"`
		}
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Label != "" {
			return nil, &ExchangeError{Exchange: g.name, Code: apiErr.Label, Message: apiErr.Message}
		}
		return nil, g.httpError(status, respBody)
	}
	return respBody, nil
}

func (g *Gate) currencyPair(symbol string) (string, error) {
	base, quote, err := splitSymbol(g.name, symbol)
	if err != nil {
		return "", err
	}
	return base + "_" + quote, nil
}

// SubmitOrder размещает рыночный IOC ордер.
// Для BUY amount - сумма в котируемой валюте, для SELL - количество базовой.
func (g *Gate) SubmitOrder(ctx context.Context, req OrderRequest) (*Fill, error) {
	if err := validateOrder(g.name, req); err != nil {
		return nil, err
	}
	pair, err := g.currencyPair(req.Symbol)
	if err != nil {
		return nil, err
	}

	body := map[string]string{
		"currency_pair": pair,
		"type":          "market",
		"side":          req.Side,
		"time_in_force": "ioc",
	}
	if req.Side == SideBuy {
		body["amount"] = formatFloat(req.QuoteAmount)
	} else {
		body["amount"] = formatFloat(req.Quantity)
	}

	respBody, err := g.doRequest(ctx, http.MethodPost, "/spot/orders", nil, body, true)
	if err != nil {
		return nil, err
	}

	var resp struct {
		ID           flexString `json:"id"`
		FilledTotal  flexFloat  `json:"filled_total"`
		AvgDealPrice flexFloat  `json:"avg_deal_price"`
		Fee          flexFloat  `json:"fee"`
		FeeCurrency  string     `json:"fee_currency"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	if resp.ID == "" {
		return nil, &ExchangeError{Exchange: g.name, Code: "order", Message: "empty id in response"}
	}

	fill := &Fill{
		OrderID:     string(resp.ID),
		Price:       float64(resp.AvgDealPrice),
		Gross:       float64(resp.FilledTotal),
		Fee:         float64(resp.Fee),
		FeeCurrency: resp.FeeCurrency,
	}
	if fill.Price > 0 {
		fill.Quantity = fill.Gross / fill.Price
	}
	return fill, nil
}

// ReadFill читает сделки ордера через /spot/my_trades
func (g *Gate) ReadFill(ctx context.Context, symbol, orderID string) (*Fill, error) {
	pair, err := g.currencyPair(symbol)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("currency_pair", pair)
	params.Set("order_id", orderID)

	body, err := g.doRequest(ctx, http.MethodGet, "/spot/my_trades", params, nil, true)
	if err != nil {
		return nil, err
	}

	var trades []struct {
		Price       flexFloat `json:"price"`
		Amount      flexFloat `json:"amount"`
		Fee         flexFloat `json:"fee"`
		FeeCurrency string    `json:"fee_currency"`
	}
	if err := json.Unmarshal(body, &trades); err != nil {
		return nil, err
	}
	if len(trades) == 0 {
		return nil, ErrFillNotFound
	}

	parts := make([]tradePart, 0, len(trades))
	for _, t := range trades {
		parts = append(parts, tradePart{
			price:       float64(t.Price),
			qty:         float64(t.Amount),
			fee:         float64(t.Fee),
			feeCurrency: t.FeeCurrency,
		})
	}
	return aggregateTrades(orderID, parts), nil
}

// GetBalance возвращает доступный баланс спотового аккаунта
func (g *Gate) GetBalance(ctx context.Context, asset string) (float64, error) {
	asset = strings.ToUpper(asset)
	params := url.Values{}
	params.Set("currency", asset)

	body, err := g.doRequest(ctx, http.MethodGet, "/spot/accounts", params, nil, true)
	if err != nil {
		return 0, err
	}

	var accounts []struct {
		Currency  string    `json:"currency"`
		Available flexFloat `json:"available"`
	}
	if err := json.Unmarshal(body, &accounts); err != nil {
		return 0, err
	}
	for _, acc := range accounts {
		if strings.EqualFold(acc.Currency, asset) {
			return float64(acc.Available), nil
		}
	}
	return 0, nil
}

// GetPrice возвращает последнюю цену
func (g *Gate) GetPrice(ctx context.Context, symbol string) (float64, error) {
	pair, err := g.currencyPair(symbol)
	if err != nil {
		return 0, err
	}

	params := url.Values{}
	params.Set("currency_pair", pair)
	body, err := g.doRequest(ctx, http.MethodGet, "/spot/tickers", params, nil, false)
	if err != nil {
		return 0, err
	}

	var tickers []struct {
		Last flexFloat `json:"last"`
	}
	if err := json.Unmarshal(body, &tickers); err != nil {
		return 0, err
	}
	if len(tickers) == 0 || tickers[0].Last <= 0 {
		return 0, ErrEmptyResponse
	}
	return float64(tickers[0].Last), nil
}

// GetCandles возвращает свечи /spot/candlesticks (от старых к новым).
// Формат строки: [t(sec), quote_volume, close, high, low, open, base_volume, closed].
func (g *Gate) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error) {
	pair, err := g.currencyPair(symbol)
	if err != nil {
		return nil, err
	}
	iv, ok := gateIntervals[interval]
	if !ok {
		return nil, ErrUnsupportedInterval
	}
	if limit <= 0 || limit > gateMaxCandles {
		limit = gateMaxCandles
	}

	params := url.Values{}
	params.Set("currency_pair", pair)
	params.Set("interval", iv)
	params.Set("limit", strconv.Itoa(limit))

	body, err := g.doRequest(ctx, http.MethodGet, "/spot/candlesticks", params, nil, false)
	if err != nil {
		return nil, err
	}

	var rows [][]string
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, err
	}

	candles := make([]Candle, 0, len(rows))
	for _, r := range rows {
		if len(r) < 6 {
			continue
		}
		c := Candle{
			OpenTime: fromUnixSeconds(toInt64(r[0])),
			Close:    toFloat(r[2]),
			High:     toFloat(r[3]),
			Low:      toFloat(r[4]),
			Open:     toFloat(r[5]),
		}
		if len(r) > 6 {
			c.Volume = toFloat(r[6])
		}
		candles = append(candles, c)
	}
	return candles, nil
}
