package engine

import "math"

// Indicator math over close series. Positions without enough history are NaN.

// SMA is the simple moving average
func SMA(values []float64, period int) []float64 {
	result := nanSeries(len(values))
	if period <= 0 || len(values) < period {
		return result
	}
	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			result[i] = sum / float64(period)
		}
	}
	return result
}

// EMA seeds with the SMA of the first period defined values, then applies
// alpha = 2/(period+1). Leading NaNs in values are skipped.
func EMA(values []float64, period int) []float64 {
	result := nanSeries(len(values))
	if period <= 0 {
		return result
	}
	first := 0
	for first < len(values) && math.IsNaN(values[first]) {
		first++
	}
	if len(values)-first < period {
		return result
	}
	k := 2.0 / float64(period+1)
	seed := first + period - 1
	sum := 0.0
	for i := first; i <= seed; i++ {
		sum += values[i]
	}
	ema := sum / float64(period)
	result[seed] = ema
	for i := seed + 1; i < len(values); i++ {
		ema = values[i]*k + ema*(1-k)
		result[i] = ema
	}
	return result
}

// RSI uses Wilder smoothing. The first value is seeded from the average gain
// and loss of up to period changes, so a series of period closes already
// yields a reading.
func RSI(values []float64, period int) []float64 {
	result := nanSeries(len(values))
	if period <= 0 || len(values) < 2 {
		return result
	}
	seed := period
	if seed > len(values)-1 {
		seed = len(values) - 1
	}

	gain, loss := 0.0, 0.0
	for i := 1; i <= seed; i++ {
		change := values[i] - values[i-1]
		if change > 0 {
			gain += change
		} else {
			loss -= change
		}
	}
	avgGain := gain / float64(seed)
	avgLoss := loss / float64(seed)
	result[seed] = rsiValue(avgGain, avgLoss)

	n := float64(period)
	for i := seed + 1; i < len(values); i++ {
		change := values[i] - values[i-1]
		g, l := 0.0, 0.0
		if change > 0 {
			g = change
		} else {
			l = -change
		}
		avgGain = (avgGain*(n-1) + g) / n
		avgLoss = (avgLoss*(n-1) + l) / n
		result[i] = rsiValue(avgGain, avgLoss)
	}
	return result
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgGain == 0 && avgLoss == 0 {
		return 50
	}
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// MACD returns the MACD line (EMA fast - EMA slow) and its signal line
func MACD(values []float64, fast, slow, signal int) (macdLine, signalLine []float64) {
	fastEMA := EMA(values, fast)
	slowEMA := EMA(values, slow)
	macdLine = nanSeries(len(values))
	for i := range values {
		if math.IsNaN(fastEMA[i]) || math.IsNaN(slowEMA[i]) {
			continue
		}
		macdLine[i] = fastEMA[i] - slowEMA[i]
	}
	signalLine = EMA(macdLine, signal)
	return macdLine, signalLine
}

func nanSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

func last(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	return values[len(values)-1]
}
