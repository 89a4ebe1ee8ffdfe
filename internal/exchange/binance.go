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
	binanceBaseURL    = "https://api.binance.com"
	binanceRecvWindow = "5000"
)

var binanceIntervals = map[string]string{
	"1m": "1m", "5m": "5m", "15m": "15m", "1h": "1h", "4h": "4h", "1d": "1d",
}

// Binance реализует Exchange для спотового API Binance.
//
// Подпись: HMAC-SHA256 (hex) над строкой запроса, передаётся параметром
// signature; ключ - в заголовке X-MBX-APIKEY. Параметры POST тоже идут в query.
type Binance struct {
	restClient
}

// NewBinance создаёт клиент Binance
func NewBinance(creds Credentials, opts ...Option) *Binance {
	return &Binance{restClient: newRestClient("binance", binanceBaseURL, creds, opts)}
}

// Sign подписывает строку запроса
func (b *Binance) Sign(req SignRequest) SignedRequest {
	h := hmac.New(sha256.New, []byte(b.creds.SecretKey))
	h.Write([]byte(req.Query))
	signature := hex.EncodeToString(h.Sum(nil))

	query := req.Query
	if query != "" {
		query += "&"
	}
	query += "signature=" + signature

	return SignedRequest{
		Query:   query,
		Headers: map[string]string{"X-MBX-APIKEY": b.creds.APIKey},
	}
}

// doRequest выполняет запрос к Binance API и проверяет конверт ошибки {code, msg}
func (b *Binance) doRequest(ctx context.Context, method, path string, params url.Values, signed bool) ([]byte, error) {
	if params == nil {
		params = url.Values{}
	}
	var headers map[string]string

	query := params.Encode()
	if signed {
		if err := b.requireCredentials(); err != nil {
			return nil, err
		}
		params.Set("timestamp", strconv.FormatInt(b.now().UnixMilli(), 10))
		params.Set("recvWindow", binanceRecvWindow)
		sr := b.Sign(SignRequest{Method: method, Path: path, Query: params.Encode(), Timestamp: b.now()})
		query = sr.Query
		headers = sr.Headers
	}

	status, body, err := b.send(ctx, method, path, query, nil, headers)
	if err != nil {
		return nil, err
	}

	if status >= http.StatusBadRequest {
		var apiErr struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Msg != "" {
			return nil, &ExchangeError{Exchange: b.name, Code: strconv.Itoa(apiErr.Code), Message: apiErr.Msg}
		}
		return nil, b.httpError(status, body)
	}
	return body, nil
}

func (b *Binance) nativeSymbol(symbol string) (string, error) {
	base, quote, err := splitSymbol(b.name, symbol)
	if err != nil {
		return "", err
	}
	return base + quote, nil
}

type binanceTrade struct {
	Price           flexFloat `json:"price"`
	Qty             flexFloat `json:"qty"`
	QuoteQty        flexFloat `json:"quoteQty"`
	Commission      flexFloat `json:"commission"`
	CommissionAsset string    `json:"commissionAsset"`
}

func binanceParts(trades []binanceTrade) []tradePart {
	parts := make([]tradePart, 0, len(trades))
	for _, t := range trades {
		parts = append(parts, tradePart{
			price:       float64(t.Price),
			qty:         float64(t.Qty),
			quote:       float64(t.QuoteQty),
			fee:         float64(t.Commission),
			feeCurrency: t.CommissionAsset,
		})
	}
	return parts
}

// SubmitOrder размещает рыночный ордер с newOrderRespType=FULL,
// поэтому ответ уже содержит частичные исполнения и комиссии.
func (b *Binance) SubmitOrder(ctx context.Context, req OrderRequest) (*Fill, error) {
	if err := validateOrder(b.name, req); err != nil {
		return nil, err
	}
	symbol, err := b.nativeSymbol(req.Symbol)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", strings.ToUpper(req.Side))
	params.Set("type", "MARKET")
	params.Set("newOrderRespType", "FULL")
	if req.Side == SideBuy {
		params.Set("quoteOrderQty", formatFloat(req.QuoteAmount))
	} else {
		params.Set("quantity", formatFloat(req.Quantity))
	}

	body, err := b.doRequest(ctx, http.MethodPost, "/api/v3/order", params, true)
	if err != nil {
		return nil, err
	}

	var resp struct {
		OrderID             flexString     `json:"orderId"`
		ExecutedQty         flexFloat      `json:"executedQty"`
		CummulativeQuoteQty flexFloat      `json:"cummulativeQuoteQty"`
		Fills               []binanceTrade `json:"fills"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	fill := aggregateTrades(string(resp.OrderID), binanceParts(resp.Fills))
	// Итоговые значения ордера точнее суммы частей (округления биржи)
	if resp.ExecutedQty > 0 {
		fill.Quantity = float64(resp.ExecutedQty)
		fill.Gross = float64(resp.CummulativeQuoteQty)
		fill.Price = fill.Gross / fill.Quantity
	}
	return fill, nil
}

// ReadFill читает сделки ордера через /api/v3/myTrades
func (b *Binance) ReadFill(ctx context.Context, symbol, orderID string) (*Fill, error) {
	native, err := b.nativeSymbol(symbol)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("symbol", native)
	params.Set("orderId", orderID)

	body, err := b.doRequest(ctx, http.MethodGet, "/api/v3/myTrades", params, true)
	if err != nil {
		return nil, err
	}

	var trades []binanceTrade
	if err := json.Unmarshal(body, &trades); err != nil {
		return nil, err
	}
	if len(trades) == 0 {
		return nil, ErrFillNotFound
	}
	return aggregateTrades(orderID, binanceParts(trades)), nil
}

// GetBalance возвращает свободный баланс актива
func (b *Binance) GetBalance(ctx context.Context, asset string) (float64, error) {
	params := url.Values{}
	params.Set("omitZeroBalances", "true")

	body, err := b.doRequest(ctx, http.MethodGet, "/api/v3/account", params, true)
	if err != nil {
		return 0, err
	}

	var resp struct {
		Balances []struct {
			Asset string    `json:"asset"`
			Free  flexFloat `json:"free"`
		} `json:"balances"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, err
	}

	asset = strings.ToUpper(asset)
	for _, bal := range resp.Balances {
		if bal.Asset == asset {
			return float64(bal.Free), nil
		}
	}
	return 0, nil
}

// GetPrice возвращает последнюю цену
func (b *Binance) GetPrice(ctx context.Context, symbol string) (float64, error) {
	native, err := b.nativeSymbol(symbol)
	if err != nil {
		return 0, err
	}

	params := url.Values{}
	params.Set("symbol", native)
	body, err := b.doRequest(ctx, http.MethodGet, "/api/v3/ticker/price", params, false)
	if err != nil {
		return 0, err
	}

	var resp struct {
		Price flexFloat `json:"price"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, err
	}
	if resp.Price <= 0 {
		return 0, ErrEmptyResponse
	}
	return float64(resp.Price), nil
}

// GetCandles возвращает свечи /api/v3/klines (уже от старых к новым)
func (b *Binance) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error) {
	native, err := b.nativeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	iv, ok := binanceIntervals[interval]
	if !ok {
		return nil, ErrUnsupportedInterval
	}
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}

	params := url.Values{}
	params.Set("symbol", native)
	params.Set("interval", iv)
	params.Set("limit", strconv.Itoa(limit))

	body, err := b.doRequest(ctx, http.MethodGet, "/api/v3/klines", params, false)
	if err != nil {
		return nil, err
	}

	var rows [][]interface{}
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, err
	}

	candles := make([]Candle, 0, len(rows))
	for _, r := range rows {
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
	return candles, nil
}
