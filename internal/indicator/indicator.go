// Package indicator holds pure functions over ordered price series, oldest first.
// Nothing here keeps state between calls.
package indicator

import "math"

// SMA returns the simple moving average of the last period values.
func SMA(values []float64, period int) (float64, bool) {
	if period <= 0 || len(values) < period {
		return 0, false
	}
	sum := 0.0
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period), true
}

// EMASeries returns the exponential moving average for every index from
// period-1 onward, seeded with the SMA of the first period values.
func EMASeries(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}
	k := 2.0 / float64(period+1)
	out := make([]float64, 0, len(values)-period+1)

	seed, _ := SMA(values[:period], period)
	out = append(out, seed)
	prev := seed
	for _, v := range values[period:] {
		prev = (v-prev)*k + prev
		out = append(out, prev)
	}
	return out
}

// RSI uses Wilder smoothing and needs period+1 values.
func RSI(values []float64, period int) (float64, bool) {
	if period <= 0 || len(values) < period+1 {
		return 0, false
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		gain, loss := split(values[i] - values[i-1])
		avgGain += gain
		avgLoss += loss
	}
	p := float64(period)
	avgGain /= p
	avgLoss /= p

	for i := period + 1; i < len(values); i++ {
		gain, loss := split(values[i] - values[i-1])
		avgGain = (avgGain*(p-1) + gain) / p
		avgLoss = (avgLoss*(p-1) + loss) / p
	}

	switch {
	case avgLoss == 0 && avgGain == 0:
		return 50, true
	case avgLoss == 0:
		return 100, true
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), true
}

func split(delta float64) (gain, loss float64) {
	if delta > 0 {
		return delta, 0
	}
	return 0, -delta
}

// Bands is a Bollinger envelope around a simple moving average.
type Bands struct {
	Upper, Middle, Lower float64
}

// Bollinger uses the population standard deviation over the last period values.
func Bollinger(values []float64, period int, k float64) (Bands, bool) {
	mid, ok := SMA(values, period)
	if !ok {
		return Bands{}, false
	}
	var ss float64
	for _, v := range values[len(values)-period:] {
		d := v - mid
		ss += d * d
	}
	sd := math.Sqrt(ss / float64(period))
	return Bands{Upper: mid + k*sd, Middle: mid, Lower: mid - k*sd}, true
}

// MACDValue is the last point of a MACD series.
type MACDValue struct {
	Line, Signal, Histogram float64
}

// MACD needs slow+signal-1 values before the signal line exists.
func MACD(values []float64, fast, slow, signal int) (MACDValue, bool) {
	if fast <= 0 || slow <= fast || signal <= 0 || len(values) < slow+signal-1 {
		return MACDValue{}, false
	}
	fastEMA := EMASeries(values, fast)
	slowEMA := EMASeries(values, slow)

	// align both series on the slow EMA's first index
	offset := slow - fast
	line := make([]float64, len(slowEMA))
	for i := range slowEMA {
		line[i] = fastEMA[i+offset] - slowEMA[i]
	}

	sig := EMASeries(line, signal)
	if len(sig) == 0 {
		return MACDValue{}, false
	}
	l := line[len(line)-1]
	s := sig[len(sig)-1]
	return MACDValue{Line: l, Signal: s, Histogram: l - s}, true
}
