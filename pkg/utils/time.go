package utils

import (
	"strings"
	"time"
)

// time.go - утилиты для работы со временем
//
// Используются:
// - сводкой закрытых сделок по периодам (день/неделя/месяц)
// - разбором времени свечей бирж (unix ms / unix s)
// - текстами уведомлений (сколько держали позицию)

// PeriodType тип периода для статистики
type PeriodType string

const (
	PeriodDay   PeriodType = "day"
	PeriodWeek  PeriodType = "week"
	PeriodMonth PeriodType = "month"
	PeriodAll   PeriodType = "all"
)

// ParsePeriod разбирает период из строки запроса, по умолчанию all
func ParsePeriod(s string) PeriodType {
	switch PeriodType(strings.ToLower(s)) {
	case PeriodDay:
		return PeriodDay
	case PeriodWeek:
		return PeriodWeek
	case PeriodMonth:
		return PeriodMonth
	default:
		return PeriodAll
	}
}

// GetDayStartFrom возвращает начало дня для указанного времени в UTC
func GetDayStartFrom(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// GetWeekStartFrom возвращает понедельник 00:00:00 UTC недели, содержащей t
//
// Неделя начинается с понедельника (ISO 8601)
func GetWeekStartFrom(t time.Time) time.Time {
	t = t.UTC()

	// 0=Sunday → 7, чтобы понедельник был 1
	weekday := int(t.Weekday())
	if weekday == 0 {
		weekday = 7
	}

	monday := t.AddDate(0, 0, -(weekday - 1))
	return time.Date(monday.Year(), monday.Month(), monday.Day(), 0, 0, 0, 0, time.UTC)
}

// GetMonthStartFrom возвращает 1-е число месяца 00:00:00 UTC
func GetMonthStartFrom(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// GetPeriodStartFrom возвращает начало периода относительно now.
// Для PeriodAll возвращает нулевое время.
func GetPeriodStartFrom(period PeriodType, now time.Time) time.Time {
	switch period {
	case PeriodDay:
		return GetDayStartFrom(now)
	case PeriodWeek:
		return GetWeekStartFrom(now)
	case PeriodMonth:
		return GetMonthStartFrom(now)
	default:
		return time.Time{}
	}
}

// FormatDuration форматирует продолжительность в человекочитаемый формат
//
// Примеры:
//   - "45s"
//   - "5m30s"
//   - "2h15m0s"
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	return d.Truncate(time.Second).String()
}

// FromUnixMillis конвертирует миллисекунды Unix в time.Time
func FromUnixMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// FromUnixSeconds конвертирует секунды Unix в time.Time
func FromUnixSeconds(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}
