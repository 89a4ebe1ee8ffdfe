package exchange

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"spottrader/pkg/ratelimit"
	"spottrader/pkg/utils"
)

// Ответы бирж разбираются через jsoniter (совместим со стандартной библиотекой)
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Option настраивает клиент биржи
type Option func(*clientOptions)

type clientOptions struct {
	baseURL    string
	httpClient *http.Client
	limiter    *ratelimit.RateLimiter
	now        func() time.Time
}

// WithBaseURL переопределяет адрес API (тестовые стенды, httptest)
func WithBaseURL(u string) Option {
	return func(o *clientOptions) { o.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient задаёт собственный http.Client
func WithHTTPClient(c *http.Client) Option {
	return func(o *clientOptions) { o.httpClient = c }
}

// WithRateLimiter задаёт ограничитель исходящих запросов
func WithRateLimiter(l *ratelimit.RateLimiter) Option {
	return func(o *clientOptions) { o.limiter = l }
}

// WithClock подменяет источник времени для подписи
func WithClock(now func() time.Time) Option {
	return func(o *clientOptions) { o.now = now }
}

// restClient - общая часть всех вариантов: транспорт, лимитер, время
type restClient struct {
	name    string
	baseURL string
	creds   Credentials
	http    *http.Client
	limiter *ratelimit.RateLimiter
	now     func() time.Time
}

func newRestClient(name, defaultURL string, creds Credentials, opts []Option) restClient {
	o := clientOptions{baseURL: defaultURL}
	for _, opt := range opts {
		opt(&o)
	}
	if o.httpClient == nil {
		o.httpClient = GetGlobalHTTPClient().GetClient()
	}
	if o.limiter == nil {
		o.limiter = limiterFor(name)
	}
	if o.now == nil {
		o.now = time.Now
	}
	return restClient{
		name:    name,
		baseURL: o.baseURL,
		creds:   creds,
		http:    o.httpClient,
		limiter: o.limiter,
		now:     o.now,
	}
}

// GetName возвращает имя биржи
func (c *restClient) GetName() string {
	return c.name
}

// send выполняет HTTP запрос и возвращает статус и тело.
// Сетевые ошибки заворачиваются в ExchangeError с кодом "network".
func (c *restClient) send(ctx context.Context, method, path, query string, body []byte, headers map[string]string) (int, []byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return 0, nil, err
		}
	}

	reqURL := c.baseURL + path
	if query != "" {
		reqURL += "?" + query
	}

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, &ExchangeError{Exchange: c.name, Code: "network", Message: err.Error(), Original: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, &ExchangeError{Exchange: c.name, Code: "network", Message: err.Error(), Original: err}
	}
	return resp.StatusCode, data, nil
}

func (c *restClient) requireCredentials() error {
	if c.creds.Empty() {
		return &ExchangeError{Exchange: c.name, Code: "auth", Message: ErrNoCredentials.Error(), Original: ErrNoCredentials}
	}
	return nil
}

func (c *restClient) httpError(status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return &ExchangeError{Exchange: c.name, Code: strconv.Itoa(status), Message: msg}
}

// ============ Разбор чисел ============

// flexFloat принимает число как в виде строки ("0.01"), так и числом
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("parse number %q: %w", s, err)
	}
	*f = flexFloat(v)
	return nil
}

// flexString принимает идентификатор как строкой, так и числом
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	*s = flexString(strings.Trim(string(data), `"`))
	return nil
}

// toFloat приводит элемент массива свечи к float64
func toFloat(v interface{}) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	default:
		return 0
	}
}

func toInt64(v interface{}) int64 {
	switch t := v.(type) {
	case float64:
		return int64(t)
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	default:
		return 0
	}
}

func msTime(ms int64) time.Time {
	return utils.FromUnixMillis(ms)
}

func fromUnixSeconds(sec int64) time.Time {
	return utils.FromUnixSeconds(sec)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// reverseCandles разворачивает свечи, если биржа отдаёт их от новых к старым
func reverseCandles(c []Candle) {
	for i, j := 0, len(c)-1; i < j; i, j = i+1, j-1 {
		c[i], c[j] = c[j], c[i]
	}
}

// splitSymbol разбирает каноничный символ на валюты
func splitSymbol(name, symbol string) (string, string, error) {
	base, quote, err := utils.ParseSymbol(symbol)
	if err != nil {
		return "", "", &ExchangeError{Exchange: name, Code: "symbol", Message: err.Error(), Original: err}
	}
	return base, quote, nil
}

// validateOrder проверяет ордер до любого сетевого вызова
func validateOrder(name string, req OrderRequest) error {
	switch req.Side {
	case SideBuy:
		if req.QuoteAmount <= 0 {
			return &ExchangeError{Exchange: name, Code: "order", Message: "quote amount must be positive", Original: ErrInvalidOrder}
		}
	case SideSell:
		if req.Quantity <= 0 {
			return &ExchangeError{Exchange: name, Code: "order", Message: "quantity must be positive", Original: ErrInvalidOrder}
		}
	default:
		return &ExchangeError{Exchange: name, Code: "order", Message: "unknown side " + req.Side, Original: ErrInvalidOrder}
	}
	return nil
}

// aggregateTrades сводит частичные исполнения в один Fill.
// Комиссия суммируется по валюте первой сделки; комиссии в иных валютах
// складываются в OtherFees.
func aggregateTrades(orderID string, trades []tradePart) *Fill {
	fill := &Fill{OrderID: orderID}
	for i, t := range trades {
		fill.Quantity += t.qty
		if t.quote > 0 {
			fill.Gross += t.quote
		} else {
			fill.Gross += t.qty * t.price
		}
		if i == 0 {
			fill.FeeCurrency = t.feeCurrency
		}
		switch {
		case t.feeCurrency == fill.FeeCurrency:
			fill.Fee += t.fee
		case t.fee != 0:
			if fill.OtherFees == nil {
				fill.OtherFees = make(map[string]float64)
			}
			fill.OtherFees[t.feeCurrency] += t.fee
			utils.L().Warn("partial fill charged in second fee currency",
				utils.OrderID(orderID), utils.String("fee_currency", t.feeCurrency),
				utils.String("primary_currency", fill.FeeCurrency), utils.Float64("fee", t.fee))
		}
	}
	if fill.Quantity > 0 {
		fill.Price = fill.Gross / fill.Quantity
	}
	return fill
}

type tradePart struct {
	price       float64
	qty         float64
	quote       float64
	fee         float64
	feeCurrency string
}
