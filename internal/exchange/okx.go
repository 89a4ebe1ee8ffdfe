package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

const okxBaseURL = "https://www.okx.com"

var okxIntervals = map[string]string{
	"1m": "1m", "5m": "5m", "15m": "15m", "1h": "1H", "4h": "4H", "1d": "1Dutc",
}

// OKX реализует Exchange для спотового (cash) режима OKX API v5.
//
// Подпись: base64(HMAC-SHA256(timestamp + METHOD + path[?query] + body)),
// timestamp в ISO8601 с миллисекундами; нужен passphrase.
// Комиссия в истории сделок отрицательная (списание), приводим к модулю.
type OKX struct {
	restClient
}

// NewOKX создаёт клиент OKX
func NewOKX(creds Credentials, opts ...Option) *OKX {
	return &OKX{restClient: newRestClient("okx", okxBaseURL, creds, opts)}
}

// Sign подписывает запрос по схеме OKX
func (o *OKX) Sign(req SignRequest) SignedRequest {
	timestamp := req.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z")
	path := req.Path
	if req.Query != "" {
		path += "?" + req.Query
	}

	h := hmac.New(sha256.New, []byte(o.creds.SecretKey))
	h.Write([]byte(timestamp + strings.ToUpper(req.Method) + path + req.Body))

	return SignedRequest{
		Query: req.Query,
		Headers: map[string]string{
			"OK-ACCESS-KEY":        o.creds.APIKey,
			"OK-ACCESS-SIGN":       base64.StdEncoding.EncodeToString(h.Sum(nil)),
			"OK-ACCESS-TIMESTAMP":  timestamp,
			"OK-ACCESS-PASSPHRASE": o.creds.Passphrase,
		},
	}
}

// okxResponse - общий конверт ответа {code, msg, data}
type okxResponse struct {
	Code string              `json:"code"`
	Msg  string              `json:"msg"`
	Data jsoniter.RawMessage `json:"data"`
}

// doRequest выполняет запрос и возвращает поле data при code == "0"
func (o *OKX) doRequest(ctx context.Context, method, path string, params url.Values, body map[string]string, signed bool) (jsoniter.RawMessage, error) {
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
		if err := o.requireCredentials(); err != nil {
			return nil, err
		}
		sr := o.Sign(SignRequest{Method: method, Path: path, Query: query, Body: string(payload), Timestamp: o.now()})
		headers = sr.Headers
	}

	status, respBody, err := o.send(ctx, method, path, query, payload, headers)
	if err != nil {
		return nil, err
	}

	var resp okxResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, o.httpError(status, respBody)
	}
	if resp.Code != "0" {
		// Ошибки ордеров приходят с деталями в data[0].sCode/sMsg
		var details []struct {
			SCode string `json:"sCode"`
			SMsg  string `json:"sMsg"`
		}
		if json.Unmarshal(resp.Data, &details) == nil && len(details) > 0 && details[0].SMsg != "" {
			return nil, &ExchangeError{Exchange: o.name, Code: details[0].SCode, Message: details[0].SMsg}
		}
		return nil, &ExchangeError{Exchange: o.name, Code: resp.Code, Message: resp.Msg}
	}
	return resp.Data, nil
}

func (o *OKX) instID(symbol string) (string, error) {
	base, quote, err := splitSymbol(o.name, symbol)
	if err != nil {
		return "", err
	}
	return base + "-" + quote, nil
}

// SubmitOrder размещает рыночный ордер в cash режиме.
// Для BUY tgtCcy=quote_ccy, т.е. sz - сумма в котируемой валюте.
func (o *OKX) SubmitOrder(ctx context.Context, req OrderRequest) (*Fill, error) {
	if err := validateOrder(o.name, req); err != nil {
		return nil, err
	}
	instID, err := o.instID(req.Symbol)
	if err != nil {
		return nil, err
	}

	body := map[string]string{
		"instId":  instID,
		"tdMode":  "cash",
		"side":    req.Side,
		"ordType": "market",
	}
	if req.Side == SideBuy {
		body["sz"] = formatFloat(req.QuoteAmount)
		body["tgtCcy"] = "quote_ccy"
	} else {
		body["sz"] = formatFloat(req.Quantity)
		body["tgtCcy"] = "base_ccy"
	}

	data, err := o.doRequest(ctx, http.MethodPost, "/api/v5/trade/order", nil, body, true)
	if err != nil {
		return nil, err
	}

	var orders []struct {
		OrdID string `json:"ordId"`
		SCode string `json:"sCode"`
		SMsg  string `json:"sMsg"`
	}
	if err := json.Unmarshal(data, &orders); err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, ErrEmptyResponse
	}
	if orders[0].SCode != "" && orders[0].SCode != "0" {
		return nil, &ExchangeError{Exchange: o.name, Code: orders[0].SCode, Message: orders[0].SMsg}
	}
	return &Fill{OrderID: orders[0].OrdID}, nil
}

// ReadFill читает исполнения ордера через /api/v5/trade/fills
func (o *OKX) ReadFill(ctx context.Context, symbol, orderID string) (*Fill, error) {
	instID, err := o.instID(symbol)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("instType", "SPOT")
	params.Set("instId", instID)
	params.Set("ordId", orderID)

	data, err := o.doRequest(ctx, http.MethodGet, "/api/v5/trade/fills", params, nil, true)
	if err != nil {
		return nil, err
	}

	var fills []struct {
		FillPx flexFloat `json:"fillPx"`
		FillSz flexFloat `json:"fillSz"`
		Fee    flexFloat `json:"fee"`
		FeeCcy string    `json:"feeCcy"`
	}
	if err := json.Unmarshal(data, &fills); err != nil {
		return nil, err
	}
	if len(fills) == 0 {
		return nil, ErrFillNotFound
	}

	parts := make([]tradePart, 0, len(fills))
	for _, f := range fills {
		parts = append(parts, tradePart{
			price:       float64(f.FillPx),
			qty:         float64(f.FillSz),
			fee:         math.Abs(float64(f.Fee)),
			feeCurrency: f.FeeCcy,
		})
	}
	return aggregateTrades(orderID, parts), nil
}

// GetBalance возвращает доступный баланс валюты торгового аккаунта
func (o *OKX) GetBalance(ctx context.Context, asset string) (float64, error) {
	asset = strings.ToUpper(asset)
	params := url.Values{}
	params.Set("ccy", asset)

	data, err := o.doRequest(ctx, http.MethodGet, "/api/v5/account/balance", params, nil, true)
	if err != nil {
		return 0, err
	}

	var accounts []struct {
		Details []struct {
			Ccy      string    `json:"ccy"`
			AvailBal flexFloat `json:"availBal"`
		} `json:"details"`
	}
	if err := json.Unmarshal(data, &accounts); err != nil {
		return 0, err
	}
	for _, acc := range accounts {
		for _, d := range acc.Details {
			if d.Ccy == asset {
				return float64(d.AvailBal), nil
			}
		}
	}
	return 0, nil
}

// GetPrice возвращает последнюю цену
func (o *OKX) GetPrice(ctx context.Context, symbol string) (float64, error) {
	instID, err := o.instID(symbol)
	if err != nil {
		return 0, err
	}

	params := url.Values{}
	params.Set("instId", instID)
	data, err := o.doRequest(ctx, http.MethodGet, "/api/v5/market/ticker", params, nil, false)
	if err != nil {
		return 0, err
	}

	var tickers []struct {
		Last flexFloat `json:"last"`
	}
	if err := json.Unmarshal(data, &tickers); err != nil {
		return 0, err
	}
	if len(tickers) == 0 || tickers[0].Last <= 0 {
		return 0, ErrEmptyResponse
	}
	return float64(tickers[0].Last), nil
}

// GetCandles возвращает свечи /api/v5/market/candles (максимум 300 за запрос).
// OKX отдаёт их от новых к старым.
func (o *OKX) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error) {
	instID, err := o.instID(symbol)
	if err != nil {
		return nil, err
	}
	bar, ok := okxIntervals[interval]
	if !ok {
		return nil, ErrUnsupportedInterval
	}
	if limit <= 0 || limit > 300 {
		limit = 300
	}

	params := url.Values{}
	params.Set("instId", instID)
	params.Set("bar", bar)
	params.Set("limit", strconv.Itoa(limit))

	data, err := o.doRequest(ctx, http.MethodGet, "/api/v5/market/candles", params, nil, false)
	if err != nil {
		return nil, err
	}

	var rows [][]string
	if err := json.Unmarshal(data, &rows); err != nil {
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
	reverseCandles(candles)
	return candles, nil
}
