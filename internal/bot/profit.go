package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"spottrader/internal/config"
	"spottrader/internal/models"
	"spottrader/pkg/utils"
)

// PositionSource - все активные стеки для обхода менеджером прибыли
type PositionSource interface {
	AllPositions() ([]*models.StackedPosition, error)
}

// ProfitEstimate - оценка позиции по текущей цене
type ProfitEstimate struct {
	Price      float64 `json:"price"`
	Cost       float64 `json:"cost"` // стоимость + комиссии покупок
	NetPnl     float64 `json:"net_pnl"`
	NetPercent float64 `json:"net_percent"`
}

// EstimateProfit оценивает чистый результат продажи стека по цене price:
// qty*price - qty*price*feeRate - (стоимость + комиссии покупок).
// Комиссии покупок в другой валюте переводятся через feePrice; nil - не учитываются.
func EstimateProfit(pos *models.StackedPosition, price, feeRate float64, feePrice func(currency string) float64) ProfitEstimate {
	qty := decimal.NewFromFloat(pos.Quantity)
	p := decimal.NewFromFloat(price)
	proceeds := qty.Mul(p)
	sellFee := proceeds.Mul(decimal.NewFromFloat(feeRate))

	var cost decimal.Decimal
	if len(pos.Lots) > 0 {
		if feePrice == nil {
			feePrice = func(string) float64 { return 0 }
		}
		notional, fees := buyCosts(pos.Lots, feePrice)
		cost = notional.Add(fees)
	} else {
		cost = decimal.NewFromFloat(pos.EntryNotional).Add(decimal.NewFromFloat(pos.BuyFeesQuote))
	}

	net := proceeds.Sub(sellFee).Sub(cost)
	est := ProfitEstimate{
		Price:  price,
		Cost:   cost.InexactFloat64(),
		NetPnl: net.InexactFloat64(),
	}
	if cost.IsPositive() {
		est.NetPercent = net.Div(cost).Mul(decimal.NewFromInt(100)).InexactFloat64()
	}
	return est
}

// ExitTrigger возвращает причину выхода или "" если позицию держим
func ExitTrigger(pos *models.StackedPosition, est ProfitEstimate, cfg config.ProfitConfig, now time.Time) string {
	switch {
	case est.NetPercent >= cfg.TargetPct:
		return TriggerTarget
	case cfg.StopPct != 0 && est.NetPercent <= cfg.StopPct:
		return TriggerStop
	case cfg.MaxHold > 0 && now.Sub(pos.OpenedAt) >= cfg.MaxHold:
		return TriggerMaxHold
	default:
		return ""
	}
}

// ProfitManager закрывает стеки по целевой прибыли, стопу и возрасту
type ProfitManager struct {
	positions PositionSource
	market    PriceSource
	closer    GroupCloser
	cfg       config.ProfitConfig
	now       func() time.Time
	log       *utils.Logger
}

// NewProfitManager создаёт менеджер
func NewProfitManager(positions PositionSource, market PriceSource, closer GroupCloser, cfg config.ProfitConfig) *ProfitManager {
	return &ProfitManager{
		positions: positions,
		market:    market,
		closer:    closer,
		cfg:       cfg,
		now:       time.Now,
		log:       utils.L().WithComponent("profit"),
	}
}

// Tick обходит все активные стеки. Нет цены - стек пропускается до следующего тика.
func (m *ProfitManager) Tick(ctx context.Context) error {
	stacks, err := m.positions.AllPositions()
	if err != nil {
		return fmt.Errorf("load positions: %w", err)
	}

	now := m.now()
	failed := 0
	for _, pos := range stacks {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if now.Sub(pos.LastBuyAt) < m.cfg.MinHold {
			continue
		}

		price, err := m.market.Price(ctx, pos.Key.Exchange, pos.Key.Symbol)
		if err != nil || price <= 0 {
			m.log.Debug("no price, skipping stack", utils.Exchange(pos.Key.Exchange), utils.Symbol(pos.Key.Symbol), utils.Err(err))
			continue
		}

		est := EstimateProfit(pos, price, m.cfg.FeeRate, m.feePrice(ctx, pos.Key))
		trigger := ExitTrigger(pos, est, m.cfg, now)
		if trigger == "" {
			continue
		}

		m.log.Info("profit exit triggered",
			utils.Owner(pos.Key.Owner), utils.Exchange(pos.Key.Exchange), utils.Symbol(pos.Key.Symbol),
			utils.String("trigger", trigger), utils.Float64("net_pct", est.NetPercent), utils.Price(price))

		res, err := m.closer.CloseGroup(ctx, pos.Key, trigger)
		if err != nil && (res == nil || !res.Closed) {
			failed++
			m.log.Error("profit exit failed", utils.Owner(pos.Key.Owner), utils.Symbol(pos.Key.Symbol), utils.Err(err))
			continue
		}
		if res.Closed {
			RecordExit(trigger)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d profit exits failed", failed)
	}
	return nil
}

// feePrice - перевод валюты комиссии в котируемую валюту группы
func (m *ProfitManager) feePrice(ctx context.Context, key models.LotGroupKey) func(string) float64 {
	_, quote, _ := utils.ParseSymbol(key.Symbol)
	return func(currency string) float64 {
		return m.market.FeePriceInQuote(ctx, key.Exchange, currency, quote)
	}
}
