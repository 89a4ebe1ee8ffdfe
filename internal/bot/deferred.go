package bot

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"spottrader/internal/config"
	"spottrader/internal/models"
	"spottrader/pkg/utils"
)

// Исходы запроса на выход
const (
	ExitInstant       = "instant"
	ExitDeferred      = "deferred"
	ExitAlreadyQueued = "already_queued"
)

// Причины продажи (метка метрики ExitsTotal)
const (
	TriggerInstant         = "instant"
	TriggerDeferredWeak    = "deferred_weak"
	TriggerDeferredTimeout = "deferred_timeout"
	TriggerTarget          = "target"
	TriggerStop            = "stop"
	TriggerMaxHold         = "max_hold"
	TriggerManual          = "manual"
)

// GroupCloser закрывает группу лотов целиком
type GroupCloser interface {
	CloseGroup(ctx context.Context, key models.LotGroupKey, trigger string) (*CloseResult, error)
}

// StrengthChecker - источник оценки тренда для отложенных продаж
type StrengthChecker interface {
	Allowed() bool
	IsStrong(ctx context.Context, exchangeName, symbol string) (bool, error)
	Profile() config.ModeProfile
}

// ExitDecision - результат RequestExit
type ExitDecision struct {
	Outcome string       `json:"outcome"`
	Close   *CloseResult `json:"close,omitempty"`
}

// DeferredScheduler - очередь отложенных продаж.
//
// Сигнал на продажу при сильном тренде не исполняется сразу: позиция
// держится, пока тренд не ослабнет или не истечёт MaxHold режима.
// Очередь живёт только в памяти. Сетевые вызовы никогда не делаются под мьютексом.
type DeferredScheduler struct {
	closer   GroupCloser
	strength StrengthChecker
	notifier Notifier
	now      func() time.Time
	log      *utils.Logger

	mu      sync.Mutex
	pending map[models.DeferredKey]*models.DeferredExit
}

// NewDeferredScheduler создаёт пустую очередь
func NewDeferredScheduler(closer GroupCloser, strength StrengthChecker, notifier Notifier) *DeferredScheduler {
	return &DeferredScheduler{
		closer:   closer,
		strength: strength,
		notifier: notifier,
		now:      time.Now,
		log:      utils.L().WithComponent("deferred"),
		pending:  make(map[models.DeferredKey]*models.DeferredExit),
	}
}

// RequestExit решает судьбу сигнала на продажу: закрыть сейчас или отложить.
// Повторный запрос по уже отложенному ключу ничего не делает.
func (s *DeferredScheduler) RequestExit(ctx context.Context, key models.DeferredKey, isPaper bool, reason string) (*ExitDecision, error) {
	s.mu.Lock()
	_, queued := s.pending[key]
	s.mu.Unlock()
	if queued {
		return &ExitDecision{Outcome: ExitAlreadyQueued}, nil
	}

	strong := false
	if s.strength.Allowed() {
		var err error
		strong, err = s.strength.IsStrong(ctx, key.Exchange, key.Symbol)
		if err != nil {
			s.log.Warn("strength check failed, closing instantly",
				utils.Owner(key.Owner), utils.Exchange(key.Exchange), utils.Symbol(key.Symbol), utils.Err(err))
			strong = false
		}
	}

	if !strong {
		groupKey := models.LotGroupKey{Owner: key.Owner, Exchange: key.Exchange, Symbol: key.Symbol, IsPaper: isPaper}
		res, err := s.closer.CloseGroup(ctx, groupKey, TriggerInstant)
		if err != nil {
			return nil, err
		}
		if res.Closed {
			RecordExit(TriggerInstant)
		}
		return &ExitDecision{Outcome: ExitInstant, Close: res}, nil
	}

	now := s.now()
	entry := &models.DeferredExit{
		Key:         key,
		IsPaper:     isPaper,
		CreatedAt:   now,
		LastCheckAt: now,
		MaxHold:     s.strength.Profile().MaxHold,
		Reason:      reason,
	}

	s.mu.Lock()
	if _, queued := s.pending[key]; queued {
		s.mu.Unlock()
		return &ExitDecision{Outcome: ExitAlreadyQueued}, nil
	}
	s.pending[key] = entry
	size := len(s.pending)
	s.mu.Unlock()

	DeferredQueueSize.Set(float64(size))
	s.log.Info("exit deferred, trend is strong",
		utils.Owner(key.Owner), utils.Exchange(key.Exchange), utils.Symbol(key.Symbol),
		utils.Dur("max_hold", entry.MaxHold))
	if s.notifier != nil {
		s.notifier.Notify(key.Owner, models.NotificationTypeDeferred, models.SeverityInfo,
			fmt.Sprintf("Продажа %s на %s отложена: тренд сильный", key.Symbol, key.Exchange),
			map[string]interface{}{"max_hold": entry.MaxHold.String(), "paper": isPaper})
	}
	return &ExitDecision{Outcome: ExitDeferred}, nil
}

// Tick проходит по очереди: просроченные закрываются принудительно,
// остальные - если тренд ослаб. Ошибка закрытия оставляет запись до следующего тика.
func (s *DeferredScheduler) Tick(ctx context.Context) error {
	entries := s.snapshot()
	now := s.now()
	failed := 0

	for _, entry := range entries {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		trigger := TriggerDeferredTimeout
		if !entry.Expired(now) {
			strong, err := s.strength.IsStrong(ctx, entry.Key.Exchange, entry.Key.Symbol)
			s.touch(entry.Key, now)
			if err != nil {
				s.log.Warn("strength re-check failed, keeping exit queued",
					utils.Owner(entry.Key.Owner), utils.Symbol(entry.Key.Symbol), utils.Err(err))
				continue
			}
			if strong {
				continue
			}
			trigger = TriggerDeferredWeak
		}

		res, err := s.closer.CloseGroup(ctx, entry.GroupKey(), trigger)
		if err != nil && (res == nil || !res.Closed) {
			failed++
			s.log.Error("deferred close failed, retrying next tick",
				utils.Owner(entry.Key.Owner), utils.Exchange(entry.Key.Exchange), utils.Symbol(entry.Key.Symbol),
				utils.String("trigger", trigger), utils.Err(err))
			continue
		}
		if res.Closed {
			RecordExit(trigger)
		}
		s.Remove(entry.Key)
	}

	if failed > 0 {
		return fmt.Errorf("%d deferred exits failed to close", failed)
	}
	return nil
}

func (s *DeferredScheduler) snapshot() []models.DeferredExit {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := make([]models.DeferredExit, 0, len(s.pending))
	for _, e := range s.pending {
		entries = append(entries, *e)
	}
	return entries
}

func (s *DeferredScheduler) touch(key models.DeferredKey, at time.Time) {
	s.mu.Lock()
	if e, ok := s.pending[key]; ok {
		e.LastCheckAt = at
	}
	s.mu.Unlock()
}

// Remove убирает запись из очереди (ручная продажа уже закрыла группу)
func (s *DeferredScheduler) Remove(key models.DeferredKey) {
	s.mu.Lock()
	delete(s.pending, key)
	size := len(s.pending)
	s.mu.Unlock()
	DeferredQueueSize.Set(float64(size))
}

// Pending возвращает копию очереди владельца, owner == "" - вся очередь
func (s *DeferredScheduler) Pending(owner string) []models.DeferredExit {
	entries := s.snapshot()
	result := make([]models.DeferredExit, 0, len(entries))
	for _, e := range entries {
		if owner == "" || e.Key.Owner == owner {
			result = append(result, e)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}
