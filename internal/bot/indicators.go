package bot

import "spottrader/pkg/utils"

// Периоды индикаторов сигнального фильтра
const (
	EMAPeriod      = 200
	RSIPeriod      = 14
	MomentumWindow = 3

	// MinGateCandles - EMA200 плюс предыдущее значение и запас на сглаживание
	MinGateCandles = 210
)

// EMA возвращает ряд экспоненциальной средней той же длины, что data.
// Первое значение (индекс period-1) - простая средняя, до него нули.
func EMA(data []float64, period int) []float64 {
	ema := make([]float64, len(data))
	if period <= 0 || len(data) < period {
		return ema
	}

	k := 2.0 / (float64(period) + 1.0)

	sum := 0.0
	for i := 0; i < period; i++ {
		sum += data[i]
	}
	ema[period-1] = sum / float64(period)

	for i := period; i < len(data); i++ {
		ema[i] = data[i]*k + ema[i-1]*(1-k)
	}
	return ema
}

// RSI возвращает ряд RSI со сглаживанием Уайлдера.
// Первое значение на индексе period; без убытков RSI = 100.
func RSI(closes []float64, period int) []float64 {
	rsi := make([]float64, len(closes))
	if period <= 0 || len(closes) < period+1 {
		return rsi
	}

	gains := make([]float64, len(closes)-1)
	losses := make([]float64, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			gains[i-1] = change
		} else {
			losses[i-1] = -change
		}
	}

	avgGain, avgLoss := 0.0, 0.0
	for i := 0; i < period; i++ {
		avgGain += gains[i]
		avgLoss += losses[i]
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	rsi[period] = rsiValue(avgGain, avgLoss)

	for i := period + 1; i < len(closes); i++ {
		avgGain = (avgGain*float64(period-1) + gains[i-1]) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + losses[i-1]) / float64(period)
		rsi[i] = rsiValue(avgGain, avgLoss)
	}
	return rsi
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	return 100 - 100/(1+avgGain/avgLoss)
}

// RangeMomentum - размах последних window свечей в процентах:
// (max high - min low) / min low * 100
func RangeMomentum(highs, lows []float64, window int) float64 {
	n := len(highs)
	if n == 0 || n != len(lows) || window <= 0 {
		return 0
	}
	if window > n {
		window = n
	}

	high, low := highs[n-window], lows[n-window]
	for i := n - window + 1; i < n; i++ {
		if highs[i] > high {
			high = highs[i]
		}
		if lows[i] < low {
			low = lows[i]
		}
	}
	return utils.RangePercent(high, low)
}
