package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"spottrader/internal/config"
	"spottrader/internal/exchange"
	"spottrader/internal/models"
	"spottrader/pkg/utils"
)

// ErrNotEnoughCandles - истории не хватает для EMA200
var ErrNotEnoughCandles = errors.New("not enough candles")

// GateBroadcaster - получатель новых состояний фильтра (websocket hub)
type GateBroadcaster interface {
	BroadcastGateState(state models.GateState)
}

// Indicators - значения индикаторов по одному инструменту
type Indicators struct {
	Price    float64
	EMA      float64
	EMAPrev  float64
	RSI      float64
	Momentum float64
}

// SlopeUp - EMA растёт
func (ind Indicators) SlopeUp() bool {
	return ind.EMA > ind.EMAPrev
}

// ComputeIndicators считает индикаторы по свечам от старых к новым
func ComputeIndicators(candles []exchange.Candle) (Indicators, error) {
	n := len(candles)
	if n < MinGateCandles {
		return Indicators{}, fmt.Errorf("%w: have %d, need %d", ErrNotEnoughCandles, n, MinGateCandles)
	}

	closes := make([]float64, n)
	highs := make([]float64, n)
	lows := make([]float64, n)
	for i, c := range candles {
		closes[i] = c.Close
		highs[i] = c.High
		lows[i] = c.Low
	}

	ema := EMA(closes, EMAPeriod)
	rsi := RSI(closes, RSIPeriod)

	return Indicators{
		Price:    closes[n-1],
		EMA:      ema[n-1],
		EMAPrev:  ema[n-2],
		RSI:      rsi[n-1],
		Momentum: RangeMomentum(highs, lows, MomentumWindow),
	}, nil
}

// Allows - правило допуска автоматических входов:
// RSI не ниже порога, EMA растёт или есть импульс, и цена не под EMA без импульса
func (ind Indicators) Allows(p config.ModeProfile) (bool, string) {
	momentumOK := ind.Momentum >= p.MinMomentum
	switch {
	case ind.RSI < p.RSIFloor:
		return false, fmt.Sprintf("RSI %.1f below %.1f", ind.RSI, p.RSIFloor)
	case !ind.SlopeUp() && !momentumOK:
		return false, fmt.Sprintf("EMA falling and momentum %.2f%% below %.2f%%", ind.Momentum, p.MinMomentum)
	case ind.Price < ind.EMA && !momentumOK:
		return false, fmt.Sprintf("price below EMA and momentum %.2f%% below %.2f%%", ind.Momentum, p.MinMomentum)
	default:
		return true, "trend confirmed"
	}
}

// Strong - тренд достаточно силён, чтобы отложить продажу
func (ind Indicators) Strong(p config.ModeProfile) bool {
	return ind.SlopeUp() && ind.Price > ind.EMA && ind.Momentum >= p.MinMomentum
}

// Evaluate строит состояние фильтра по свечам опорного инструмента
func Evaluate(candles []exchange.Candle, mode models.GateMode, p config.ModeProfile, now time.Time) (models.GateState, error) {
	ind, err := ComputeIndicators(candles)
	if err != nil {
		return models.GateState{}, err
	}
	allow, reason := ind.Allows(p)
	return models.GateState{
		Allow:     allow,
		Mode:      mode,
		Reason:    reason,
		RSI:       ind.RSI,
		EMA:       ind.EMA,
		EMAPrev:   ind.EMAPrev,
		Momentum:  ind.Momentum,
		Price:     ind.Price,
		UpdatedAt: now,
	}, nil
}

// SignalGate - фильтр автоматических входов по опорному инструменту.
//
// Состояние заменяется целиком на каждом успешном тике; при ошибке
// остаётся последнее. До первого тика входы запрещены.
type SignalGate struct {
	candles     CandleSource
	cfg         config.GateConfig
	broadcaster GateBroadcaster
	now         func() time.Time
	log         *utils.Logger

	mu    sync.RWMutex
	mode  models.GateMode
	state models.GateState
}

// NewSignalGate создаёт фильтр в режиме из конфигурации
func NewSignalGate(candles CandleSource, cfg config.GateConfig, broadcaster GateBroadcaster) (*SignalGate, error) {
	mode, err := ParseMode(cfg.Mode)
	if err != nil {
		return nil, err
	}
	return &SignalGate{
		candles:     candles,
		cfg:         cfg,
		broadcaster: broadcaster,
		now:         time.Now,
		log:         utils.L().WithComponent("signal_gate"),
		mode:        mode,
		state: models.GateState{
			Allow:  false,
			Mode:   mode,
			Reason: "waiting for first evaluation",
		},
	}, nil
}

// Tick пересчитывает состояние по свежим свечам
func (g *SignalGate) Tick(ctx context.Context) error {
	candles, err := g.candles.Candles(ctx, g.cfg.Exchange, g.cfg.Symbol, g.cfg.CandleInterval, g.cfg.CandleLimit)
	if err != nil {
		GateTicks.WithLabelValues("error").Inc()
		return fmt.Errorf("fetch candles: %w", err)
	}

	mode := g.Mode()
	state, err := Evaluate(candles, mode, g.Profile(), g.now())
	if err != nil {
		GateTicks.WithLabelValues("error").Inc()
		return err
	}

	g.mu.Lock()
	// Режим мог смениться во время запроса свечей
	if g.mode != mode {
		g.mu.Unlock()
		return nil
	}
	prev := g.state
	g.state = state
	g.mu.Unlock()

	RecordGateState(state.Allow, state.RSI, state.EMA, state.Momentum, state.Price)
	if prev.Allow != state.Allow {
		g.log.Info("gate state changed",
			utils.Bool("allow", state.Allow), utils.Reason(state.Reason), utils.Mode(string(mode)),
			utils.Float64("rsi", state.RSI), utils.Float64("momentum", state.Momentum))
	}
	if g.broadcaster != nil {
		g.broadcaster.BroadcastGateState(state)
	}
	return nil
}

// State возвращает копию текущего состояния
func (g *SignalGate) State() models.GateState {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

// Allowed - разрешены ли автоматические входы
func (g *SignalGate) Allowed() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state.Allow
}

// Mode возвращает текущий режим
func (g *SignalGate) Mode() models.GateMode {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.mode
}

// Profile возвращает пороги текущего режима
func (g *SignalGate) Profile() config.ModeProfile {
	return profileFor(g.cfg.Modes, g.Mode())
}

// SetMode меняет режим. Состояние сбрасывается в deny до следующего тика:
// старый вывод сделан по чужим порогам.
func (g *SignalGate) SetMode(s string) error {
	mode, err := ParseMode(s)
	if err != nil {
		return err
	}

	g.mu.Lock()
	if g.mode == mode {
		g.mu.Unlock()
		return nil
	}
	g.mode = mode
	g.state = models.GateState{Allow: false, Mode: mode, Reason: "mode changed, waiting for evaluation"}
	state := g.state
	g.mu.Unlock()

	GateAllowed.Set(0)
	g.log.Info("gate mode changed", utils.Mode(string(mode)))
	if g.broadcaster != nil {
		g.broadcaster.BroadcastGateState(state)
	}
	return nil
}

// IsStrong проверяет силу тренда конкретного инструмента в текущем режиме
func (g *SignalGate) IsStrong(ctx context.Context, exchangeName, symbol string) (bool, error) {
	candles, err := g.candles.Candles(ctx, exchangeName, symbol, g.cfg.CandleInterval, g.cfg.CandleLimit)
	if err != nil {
		return false, fmt.Errorf("fetch candles: %w", err)
	}
	ind, err := ComputeIndicators(candles)
	if err != nil {
		return false, err
	}
	return ind.Strong(g.Profile()), nil
}
