package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"spottrader/internal/config"
	"spottrader/internal/exchange"
	"spottrader/internal/models"
	"spottrader/pkg/utils"
)

// ClientFactory создаёт клиента биржи с ключами владельца
type ClientFactory func(name string, creds exchange.Credentials) (exchange.Exchange, error)

// OrderRequest - запрос на рыночный ордер.
// Для BUY Amount - сумма в котируемой валюте, для SELL - количество базовой.
type OrderRequest struct {
	Exchange    string
	Action      string
	Symbol      string
	Amount      float64
	IsPaper     bool
	Credentials exchange.Credentials
}

// OrderGateway - шлюз исполнения ордеров.
//
// Приводит четыре схемы подписи и отчётов об исполнении к одному FillResult.
// Никогда не паникует и не возвращает error наружу: любая неудача -
// FillResult{OK: false, Reason}. Повторов нет: устаревший подписанный
// запрос всё равно будет отклонён.
type OrderGateway struct {
	newClient ClientFactory
	market    PriceSource
	cfg       config.TradingConfig
	sleep     func(ctx context.Context, d time.Duration) error
	log       *utils.Logger
}

// NewOrderGateway создаёт шлюз
func NewOrderGateway(newClient ClientFactory, market PriceSource, cfg config.TradingConfig) *OrderGateway {
	if newClient == nil {
		newClient = exchange.NewClient
	}
	return &OrderGateway{
		newClient: newClient,
		market:    market,
		cfg:       cfg,
		sleep:     sleepCtx,
		log:       utils.L().WithComponent("order_gateway"),
	}
}

// sleepCtx ждёт d или отмены контекста
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// validatedOrder - запрос после проверки входных данных
type validatedOrder struct {
	OrderRequest
	side  string
	base  string
	quote string
}

func validateOrderRequest(req OrderRequest) (*validatedOrder, error) {
	if err := utils.ValidateAmount(req.Amount); err != nil {
		return nil, err
	}
	action, err := utils.NormalizeAction(req.Action)
	if err != nil {
		return nil, err
	}
	symbol, err := utils.NormalizeSymbol(req.Symbol)
	if err != nil {
		return nil, err
	}
	name := strings.ToLower(req.Exchange)
	if !exchange.IsSupported(name) {
		return nil, fmt.Errorf("%w: %s", exchange.ErrUnsupportedExchange, req.Exchange)
	}
	base, quote, _ := utils.ParseSymbol(symbol)

	v := &validatedOrder{OrderRequest: req, base: base, quote: quote}
	v.Action = action
	v.Symbol = symbol
	v.Exchange = name
	v.side = exchange.SideBuy
	if action == models.ActionSell {
		v.side = exchange.SideSell
	}
	return v, nil
}

// PlaceOrder исполняет рыночный ордер в paper или live режиме
func (g *OrderGateway) PlaceOrder(ctx context.Context, req OrderRequest) models.FillResult {
	started := time.Now()

	order, err := validateOrderRequest(req)
	if err != nil {
		g.log.Warn("order rejected", utils.Exchange(req.Exchange), utils.Symbol(req.Symbol),
			utils.Action(req.Action), utils.Err(err))
		return models.Failed(err.Error())
	}

	var result models.FillResult
	if order.IsPaper {
		result = g.placePaper(ctx, order)
	} else {
		result = g.placeLive(ctx, order)
	}

	RecordOrder(order.Exchange, order.Action, order.IsPaper, result.OK, started)
	if result.OK {
		FeeSources.WithLabelValues(order.Exchange, result.FeeSource).Inc()
		g.log.Info("order filled",
			utils.Exchange(order.Exchange), utils.Symbol(order.Symbol), utils.Action(order.Action),
			utils.Price(result.Price), utils.Quantity(result.Quantity), utils.OrderID(result.OrderID),
			utils.Bool("paper", result.IsPaper), utils.String("fee_source", result.FeeSource))
	} else {
		g.log.Warn("order failed",
			utils.Exchange(order.Exchange), utils.Symbol(order.Symbol), utils.Action(order.Action),
			utils.Reason(result.Reason), utils.Bool("paper", order.IsPaper))
	}
	return result
}

// placePaper - синтетическое исполнение по рыночной цене без обращения к бирже
func (g *OrderGateway) placePaper(ctx context.Context, order *validatedOrder) models.FillResult {
	price := 0.0
	if g.market != nil {
		if p, err := g.market.Price(ctx, order.Exchange, order.Symbol); err == nil && p > 0 {
			price = p
		}
	}
	if price <= 0 {
		price = g.cfg.PaperFallbackPrice
	}
	if price <= 0 {
		return models.Failed("paper price is not available")
	}

	result := models.FillResult{
		OK:        true,
		Price:     price,
		FeeSource: models.FeeSourceNone,
		OrderID:   "paper-" + uuid.NewString(),
		IsPaper:   true,
	}
	if order.Action == models.ActionBuy {
		result.Gross = order.Amount
		result.Quantity = order.Amount / price
	} else {
		result.Quantity = order.Amount
		result.Gross = order.Amount * price
	}
	return result
}

// balances - снимок балансов базовой и котируемой валют
type balances struct {
	base  float64
	quote float64
}

func (g *OrderGateway) snapshot(ctx context.Context, client exchange.Exchange, order *validatedOrder) (balances, error) {
	base, err := client.GetBalance(ctx, order.base)
	if err != nil {
		return balances{}, err
	}
	quote, err := client.GetBalance(ctx, order.quote)
	if err != nil {
		return balances{}, err
	}
	return balances{base: base, quote: quote}, nil
}

// placeLive - снимок балансов, рыночный ордер, чтение исполнения, при
// необходимости вывод комиссии из разницы балансов
func (g *OrderGateway) placeLive(ctx context.Context, order *validatedOrder) models.FillResult {
	if order.Credentials.Empty() {
		return models.Failed(exchange.ErrNoCredentials.Error())
	}
	client, err := g.newClient(order.Exchange, order.Credentials)
	if err != nil {
		return models.Failed(err.Error())
	}

	before, snapErr := g.snapshot(ctx, client, order)
	if snapErr != nil {
		// Ошибка авторизации проявится здесь раньше, чем на ордере
		var exErr *exchange.ExchangeError
		if errors.As(snapErr, &exErr) && exErr.Code != "network" {
			return models.Failed(snapErr.Error())
		}
		g.log.Warn("balance snapshot failed, balance-delta fallback disabled",
			utils.Exchange(order.Exchange), utils.Err(snapErr))
	}

	exReq := exchange.OrderRequest{Symbol: order.Symbol, Side: order.side}
	if order.side == exchange.SideBuy {
		exReq.QuoteAmount = order.Amount
	} else {
		qty := order.Amount
		if snapErr == nil && before.base < qty {
			qty = utils.RoundToLotSize(before.base, utils.QuantityStep)
			g.log.Info("sell quantity clamped to available balance",
				utils.Exchange(order.Exchange), utils.Symbol(order.Symbol),
				utils.Float64("requested", order.Amount), utils.Quantity(qty))
		}
		if qty <= 0 {
			return models.Failed("no " + order.base + " balance to sell")
		}
		exReq.Quantity = qty
	}

	fill, err := client.SubmitOrder(ctx, exReq)
	if err != nil {
		return models.Failed(err.Error())
	}
	if fill == nil {
		return models.Failed(exchange.ErrEmptyResponse.Error())
	}

	feeSource := models.FeeSourceReport
	if !fill.Complete() || fill.Fee == 0 {
		if read, readErr := client.ReadFill(ctx, order.Symbol, fill.OrderID); readErr == nil && read.Complete() {
			read.OrderID = fill.OrderID
			fill = read
		} else if readErr != nil {
			g.log.Debug("read fill failed", utils.Exchange(order.Exchange), utils.OrderID(fill.OrderID), utils.Err(readErr))
		}
	}

	if (!fill.Complete() || fill.Fee == 0) && snapErr == nil {
		if err := g.sleep(ctx, g.cfg.SettleDelay); err == nil {
			after, err := g.snapshot(ctx, client, order)
			if err == nil {
				if inferFromDelta(order, fill, before, after) {
					feeSource = models.FeeSourceBalanceDelta
				}
			} else {
				g.log.Warn("post-trade balance read failed", utils.Exchange(order.Exchange), utils.Err(err))
			}
		}
	}

	if !fill.Complete() {
		r := models.Failed("fill could not be confirmed for order " + fill.OrderID)
		r.OrderID = fill.OrderID
		return r
	}
	if fill.Fee == 0 {
		feeSource = models.FeeSourceNone
	}

	result := models.FillResult{
		OK:        true,
		Price:     fill.Price,
		Quantity:  fill.Quantity,
		Gross:     fill.Gross,
		FeeSource: feeSource,
		OrderID:   fill.OrderID,
	}
	if result.Gross <= 0 {
		result.Gross = fill.Price * fill.Quantity
	}
	if fill.Fee > 0 {
		if fill.FeeCurrency == "" || strings.EqualFold(fill.FeeCurrency, order.quote) {
			result.FeeQuote = fill.Fee
		} else {
			result.FeeBase = fill.Fee
			result.FeeCurrency = strings.ToUpper(fill.FeeCurrency)
		}
	}
	g.foldOtherFees(ctx, order, fill.OtherFees, &result)
	return result
}

// foldOtherFees переводит комиссии во второй валюте в котируемую валюту
func (g *OrderGateway) foldOtherFees(ctx context.Context, order *validatedOrder, fees map[string]float64, result *models.FillResult) {
	for currency, fee := range fees {
		if fee <= 0 {
			continue
		}
		var rate float64
		switch {
		case strings.EqualFold(currency, order.quote):
			rate = 1
		case g.market != nil:
			rate = g.market.FeePriceInQuote(ctx, order.Exchange, currency, order.quote)
		}
		if rate <= 0 {
			g.log.Warn("second currency fee not counted", utils.Exchange(order.Exchange),
				utils.OrderID(result.OrderID), utils.String("fee_currency", currency), utils.Float64("fee", fee))
			continue
		}
		result.FeeQuote += fee * rate
	}
}

// dust - порог, ниже которого расхождение балансов считается шумом округления
const dust = 1e-12

// inferFromDelta достраивает исполнение по разнице балансов.
//
// BUY: получено базовой = after.base - before.base, потрачено котируемой =
// before.quote - after.quote. Если отчёт дал количество больше полученного,
// разница - комиссия в базовой валюте; иначе излишек потраченного - комиссия
// в котируемой. SELL симметрично: недополученная котируемая - комиссия.
// Возвращает true, если fill изменён.
func inferFromDelta(order *validatedOrder, fill *exchange.Fill, before, after balances) bool {
	changed := false

	if order.side == exchange.SideBuy {
		gotBase := after.base - before.base
		spentQuote := before.quote - after.quote
		if gotBase <= dust || spentQuote <= dust {
			return false
		}
		if fill.Quantity <= 0 || fill.Price <= 0 {
			fill.Quantity = gotBase
			fill.Gross = spentQuote
			fill.Price = spentQuote / gotBase
			changed = true
		}
		if fill.Fee == 0 {
			if fill.Quantity-gotBase > dust {
				fill.Fee = fill.Quantity - gotBase
				fill.FeeCurrency = order.base
				changed = true
			} else if fill.Gross > 0 && spentQuote-fill.Gross > dust {
				fill.Fee = spentQuote - fill.Gross
				fill.FeeCurrency = order.quote
				changed = true
			}
		}
		return changed
	}

	soldBase := before.base - after.base
	gotQuote := after.quote - before.quote
	if soldBase <= dust || gotQuote <= dust {
		return false
	}
	if fill.Quantity <= 0 || fill.Price <= 0 {
		fill.Quantity = soldBase
		fill.Price = gotQuote / soldBase
		fill.Gross = gotQuote
		changed = true
	}
	if fill.Fee == 0 && fill.Gross-gotQuote > dust {
		fill.Fee = fill.Gross - gotQuote
		fill.FeeCurrency = order.quote
		changed = true
	}
	return changed
}

// Balance читает свободный баланс валюты с ключами владельца
func (g *OrderGateway) Balance(ctx context.Context, exchangeName string, creds exchange.Credentials, currency string) (float64, error) {
	if creds.Empty() {
		return 0, exchange.ErrNoCredentials
	}
	client, err := g.newClient(strings.ToLower(exchangeName), creds)
	if err != nil {
		return 0, err
	}
	return client.GetBalance(ctx, strings.ToUpper(currency))
}
