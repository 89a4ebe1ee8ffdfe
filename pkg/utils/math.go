package utils

import (
	"math"
)

// QuantityStep - шаг округления количества базовой валюты по умолчанию
const QuantityStep = 1e-8

// RoundToLotSize округляет значение ВНИЗ до ближайшего кратного lotSize.
// Округление вниз не даёт продать больше, чем есть на балансе.
//
//   - RoundToLotSize(0.123456, 0.001) = 0.123
//   - RoundToLotSize(1.999, 0.01) = 1.99
//
// Если lotSize <= 0, возвращает исходное значение.
func RoundToLotSize(value, lotSize float64) float64 {
	if lotSize <= 0 {
		return value
	}
	// Небольшой допуск против 0.3/0.1 = 2.9999999
	return math.Floor(value/lotSize+1e-9) * lotSize
}

// RangePercent - размах (high - low) в процентах от low, 0 если low <= 0
func RangePercent(high, low float64) float64 {
	if low <= 0 {
		return 0
	}
	return (high - low) / low * 100
}

// Clamp ограничивает значение диапазоном [min, max].
func Clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
