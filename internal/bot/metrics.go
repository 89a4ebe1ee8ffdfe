package bot

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики торгового ядра
// ============================================================

// ============ Ордера ============

// OrdersTotal - исполненные и отклонённые ордера
var OrdersTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "spottrader",
		Subsystem: "orders",
		Name:      "total",
		Help:      "Total number of orders by result",
	},
	[]string{"exchange", "action", "mode", "result"}, // mode: paper, live; result: ok, failed
)

// OrderLatency - время полного цикла ордера (снимок балансов, отправка, чтение исполнения)
var OrderLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "spottrader",
		Subsystem: "orders",
		Name:      "latency_ms",
		Help:      "Order round trip latency in milliseconds",
		Buckets:   []float64{50, 100, 250, 500, 1000, 2000, 5000, 10000, 20000},
	},
	[]string{"exchange", "action"},
)

// FeeSources - откуда взята комиссия исполнения
var FeeSources = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "spottrader",
		Subsystem: "orders",
		Name:      "fee_source_total",
		Help:      "Number of fills by fee source",
	},
	[]string{"exchange", "source"}, // report, balance_delta, none
)

// ============ Позиции ============

// ClosedGroups - закрытые группы лотов
var ClosedGroups = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "spottrader",
		Subsystem: "ledger",
		Name:      "closed_groups_total",
		Help:      "Number of closed lot groups",
	},
	[]string{"exchange", "result"}, // win, loss
)

// RealizedPnlTotal - суммарный реализованный PnL в котируемой валюте
var RealizedPnlTotal = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "spottrader",
		Subsystem: "ledger",
		Name:      "realized_pnl_quote",
		Help:      "Cumulative realized net PnL in quote currency",
	},
)

// ============ Сигнальный фильтр ============

// GateAllowed - текущее состояние фильтра (1=allow, 0=deny)
var GateAllowed = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "spottrader",
		Subsystem: "gate",
		Name:      "allowed",
		Help:      "Signal gate state (1=allow, 0=deny)",
	},
)

// GateIndicators - последние значения индикаторов опорного инструмента
var GateIndicators = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "spottrader",
		Subsystem: "gate",
		Name:      "indicator",
		Help:      "Last computed gate indicators",
	},
	[]string{"name"}, // rsi, ema, momentum, price
)

// GateTicks - результаты тиков фильтра
var GateTicks = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "spottrader",
		Subsystem: "gate",
		Name:      "ticks_total",
		Help:      "Signal gate evaluations by result",
	},
	[]string{"result"}, // allow, deny, error
)

// ============ Отложенные продажи и прибыль ============

// DeferredQueueSize - размер очереди отложенных продаж
var DeferredQueueSize = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "spottrader",
		Subsystem: "deferred",
		Name:      "queue_size",
		Help:      "Number of queued deferred exits",
	},
)

// ExitsTotal - продажи по причинам
var ExitsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "spottrader",
		Subsystem: "exits",
		Name:      "total",
		Help:      "Number of exits by trigger",
	},
	[]string{"trigger"}, // instant, deferred_weak, deferred_timeout, target, stop, max_hold, manual
)

// IntentsTotal - входящие торговые намерения
var IntentsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "spottrader",
		Subsystem: "router",
		Name:      "intents_total",
		Help:      "Trade intents by source and outcome",
	},
	[]string{"source", "action", "outcome"},
)

// ============ Фоновые циклы ============

// LoopErrors - ошибки и паники внутри тиков фоновых циклов
var LoopErrors = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "spottrader",
		Subsystem: "engine",
		Name:      "loop_errors_total",
		Help:      "Errors and recovered panics in background loops",
	},
	[]string{"loop", "kind"}, // kind: error, panic
)

// LoopDuration - длительность одного тика
var LoopDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "spottrader",
		Subsystem: "engine",
		Name:      "tick_duration_ms",
		Help:      "Background loop tick duration in milliseconds",
		Buckets:   []float64{1, 10, 50, 100, 500, 1000, 5000, 15000},
	},
	[]string{"loop"},
)

// ============ Вспомогательные функции ============

// RecordOrder записывает результат ордера
func RecordOrder(exchange, action string, isPaper, ok bool, started time.Time) {
	mode := "live"
	if isPaper {
		mode = "paper"
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	OrdersTotal.WithLabelValues(exchange, action, mode, result).Inc()
	if !isPaper {
		OrderLatency.WithLabelValues(exchange, action).Observe(float64(time.Since(started).Milliseconds()))
	}
}

// RecordClose записывает закрытие группы
func RecordClose(exchange string, netPnl float64) {
	result := "win"
	if netPnl < 0 {
		result = "loss"
	}
	ClosedGroups.WithLabelValues(exchange, result).Inc()
	RealizedPnlTotal.Add(netPnl)
}

// RecordGateState обновляет метрики фильтра
func RecordGateState(allow bool, rsi, ema, momentum, price float64) {
	if allow {
		GateAllowed.Set(1)
		GateTicks.WithLabelValues("allow").Inc()
	} else {
		GateAllowed.Set(0)
		GateTicks.WithLabelValues("deny").Inc()
	}
	GateIndicators.WithLabelValues("rsi").Set(rsi)
	GateIndicators.WithLabelValues("ema").Set(ema)
	GateIndicators.WithLabelValues("momentum").Set(momentum)
	GateIndicators.WithLabelValues("price").Set(price)
}

// RecordExit записывает продажу по причине
func RecordExit(trigger string) {
	ExitsTotal.WithLabelValues(trigger).Inc()
}

// RecordIntent записывает обработанное намерение
func RecordIntent(source, action, outcome string) {
	IntentsTotal.WithLabelValues(source, action, outcome).Inc()
}

// RecordLoopError записывает ошибку или панику фонового цикла
func RecordLoopError(loop, kind string) {
	LoopErrors.WithLabelValues(loop, kind).Inc()
}
