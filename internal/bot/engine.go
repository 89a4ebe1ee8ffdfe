package bot

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"spottrader/internal/config"
	"spottrader/internal/models"
	"spottrader/pkg/utils"
)

// Notifier - неблокирующая доставка уведомлений владельцу.
//
// Реализуется service.NotificationService: очередь, запись в БД,
// рассылка через websocket hub и FCM.
type Notifier interface {
	Notify(owner, notifType, severity, message string, meta map[string]interface{})
}

// WebSocketHub - интерфейс для отправки данных клиентам UI
//
// Реализуется пакетом internal/websocket/Hub
type WebSocketHub interface {
	GateBroadcaster

	// BroadcastNotification отправляет уведомление владельцу
	BroadcastNotification(notif *models.Notification)
}

// Ticker - один шаг фонового цикла
type Ticker interface {
	Tick(ctx context.Context) error
}

// loop - описание фонового цикла
type loop struct {
	name      string
	interval  time.Duration
	immediate bool // первый тик сразу при старте
	ticker    Ticker
}

// Engine запускает фоновые циклы: фильтр, отложенные продажи, целевая прибыль.
//
// Каждый цикл на своём тикере; ошибка или паника в тике логируется,
// цикл продолжает работу до отмены контекста.
type Engine struct {
	loops []loop
	log   *utils.Logger
}

// NewEngine создаёт движок поверх готовых компонентов
func NewEngine(cfg *config.Config, gate *SignalGate, deferred *DeferredScheduler, profit *ProfitManager) *Engine {
	return &Engine{
		loops: []loop{
			{name: "gate", interval: cfg.Gate.Interval, immediate: true, ticker: gate},
			{name: "deferred", interval: cfg.Deferred.Interval, ticker: deferred},
			{name: "profit", interval: cfg.Profit.Interval, ticker: profit},
		},
		log: utils.L().WithComponent("engine"),
	}
}

// Run запускает циклы и блокируется до отмены контекста и их остановки
func (e *Engine) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, l := range e.loops {
		if l.ticker == nil || l.interval <= 0 {
			e.log.Warn("loop disabled", utils.String("loop", l.name))
			continue
		}
		wg.Add(1)
		go func(l loop) {
			defer wg.Done()
			e.runLoop(ctx, l)
		}(l)
	}

	e.log.Info("engine started", utils.Int("loops", len(e.loops)))
	<-ctx.Done()
	wg.Wait()
	e.log.Info("engine stopped")
	return ctx.Err()
}

func (e *Engine) runLoop(ctx context.Context, l loop) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	if l.immediate {
		e.safeTick(ctx, l)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.safeTick(ctx, l)
		}
	}
}

// safeTick выполняет один тик, не давая панике остановить цикл
func (e *Engine) safeTick(ctx context.Context, l loop) {
	started := time.Now()
	defer func() {
		LoopDuration.WithLabelValues(l.name).Observe(float64(time.Since(started).Milliseconds()))
		if r := recover(); r != nil {
			RecordLoopError(l.name, "panic")
			e.log.Error("loop tick panicked",
				utils.String("loop", l.name),
				utils.String("panic", fmt.Sprint(r)),
				utils.String("stack", string(debug.Stack())))
		}
	}()

	if err := l.ticker.Tick(ctx); err != nil && ctx.Err() == nil {
		RecordLoopError(l.name, "error")
		e.log.Warn("loop tick failed", utils.String("loop", l.name), utils.Err(err))
	}
}
