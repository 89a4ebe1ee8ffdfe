package utils

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
)

// validator.go - валидация входных данных торговых намерений
//
// Инструмент принимается в любом из распространённых написаний
// (BTC/USDT, BTC-USDT, BTC_USDT, BTCUSDT) и приводится к каноничному
// виду BASE/QUOTE. Для слитного написания котируемая валюта определяется
// по списку известных суффиксов.

var (
	ErrEmptySymbol   = errors.New("symbol is empty")
	ErrInvalidSymbol = errors.New("invalid symbol format")
	ErrUnknownQuote  = errors.New("cannot determine quote currency")
	ErrInvalidAmount = errors.New("amount must be positive")
	ErrInvalidAction = errors.New("action must be BUY or SELL")
)

// Порядок важен: более длинные суффиксы проверяются раньше (USDT раньше USD)
var knownQuotes = []string{"USDT", "USDC", "FDUSD", "BUSD", "TUSD", "USD", "EUR", "TRY", "BTC", "ETH", "BNB"}

var symbolPattern = regexp.MustCompile(`^[A-Za-z0-9]{1,15}([/_-][A-Za-z0-9]{1,15})?$`)

// ValidateSymbol проверяет формат символа без разбора на валюты
func ValidateSymbol(symbol string) error {
	if symbol == "" {
		return ErrEmptySymbol
	}
	if len(symbol) < 2 || len(symbol) > 30 || !symbolPattern.MatchString(symbol) {
		return fmt.Errorf("%w: %q", ErrInvalidSymbol, symbol)
	}
	return nil
}

// ParseSymbol разбирает символ на базовую и котируемую валюты
func ParseSymbol(symbol string) (base, quote string, err error) {
	if err := ValidateSymbol(symbol); err != nil {
		return "", "", err
	}

	s := strings.ToUpper(strings.TrimSpace(symbol))
	if i := strings.IndexAny(s, "/_-"); i >= 0 {
		base, quote = s[:i], s[i+1:]
		if base == "" || quote == "" {
			return "", "", fmt.Errorf("%w: %q", ErrInvalidSymbol, symbol)
		}
		return base, quote, nil
	}

	for _, q := range knownQuotes {
		if strings.HasSuffix(s, q) && len(s) > len(q) {
			return s[:len(s)-len(q)], q, nil
		}
	}
	return "", "", fmt.Errorf("%w: %q", ErrUnknownQuote, symbol)
}

// NormalizeSymbol возвращает каноничный вид BASE/QUOTE или ошибку
func NormalizeSymbol(symbol string) (string, error) {
	base, quote, err := ParseSymbol(symbol)
	if err != nil {
		return "", err
	}
	return base + "/" + quote, nil
}

// NormalizeAction приводит действие к BUY/SELL
func NormalizeAction(action string) (string, error) {
	switch strings.ToUpper(strings.TrimSpace(action)) {
	case "BUY", "LONG":
		return "BUY", nil
	case "SELL", "CLOSE", "EXIT":
		return "SELL", nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidAction, action)
	}
}

// ValidateAmount проверяет что сумма/количество положительные и конечные
func ValidateAmount(amount float64) error {
	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return ErrInvalidAmount
	}
	return nil
}

// ValidatePercentage проверяет процент в диапазоне [min, max]
func ValidatePercentage(value, min, max float64) error {
	if math.IsNaN(value) || value < min || value > max {
		return fmt.Errorf("percentage %.4f out of range [%.2f, %.2f]", value, min, max)
	}
	return nil
}
