package service

import (
	"time"

	"spottrader/internal/models"
)

// Периоды сводки
const (
	PeriodDay   = "day"
	PeriodWeek  = "week"
	PeriodMonth = "month"
	PeriodAll   = "all"
)

// StatsService - отчётность по закрытым сделкам владельца
type StatsService struct {
	tradeRepo TradeRepositoryInterface
	now       func() time.Time
}

// NewStatsService создает новый экземпляр StatsService
func NewStatsService(tradeRepo TradeRepositoryInterface) *StatsService {
	return &StatsService{tradeRepo: tradeRepo, now: time.Now}
}

// periodStart возвращает начало периода; для PeriodAll - нулевое время
func periodStart(period string, now time.Time) (time.Time, bool) {
	switch period {
	case PeriodDay:
		return now.Add(-24 * time.Hour), true
	case PeriodWeek:
		return now.Add(-7 * 24 * time.Hour), true
	case PeriodMonth:
		return now.AddDate(0, -1, 0), true
	case PeriodAll:
		return time.Time{}, true
	default:
		return time.Time{}, false
	}
}

// GetSummaries возвращает сводки за сутки, неделю, месяц и всё время
func (s *StatsService) GetSummaries(owner string) ([]*models.TradeSummary, error) {
	now := s.now()
	periods := []string{PeriodDay, PeriodWeek, PeriodMonth, PeriodAll}

	summaries := make([]*models.TradeSummary, 0, len(periods))
	for _, period := range periods {
		since, _ := periodStart(period, now)
		summary, err := s.tradeRepo.Summary(owner, since)
		if err != nil {
			return nil, err
		}
		summary.Period = period
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// GetTrades возвращает последние закрытые сделки (limit 1..500, по умолчанию 100)
func (s *StatsService) GetTrades(owner string, limit int) ([]*models.ClosedTrade, error) {
	return s.tradeRepo.GetByOwner(owner, clampLimit(limit))
}

// clampLimit приводит лимит выборки к допустимому диапазону
func clampLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	if limit > 500 {
		return 500
	}
	return limit
}
