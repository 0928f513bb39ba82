// Package indicators implements the pure, deterministic calculators of C5:
// RSI, EMA(9/21/50/200), VWAP, MACD, volume ratio and swing highs/lows.
package indicators

import (
	"time"

	"scalping-engine/internal/engineerr"
	"scalping-engine/internal/model"
)

// Periods configures the lookback windows for each calculator (spec §6
// RSI_PERIOD, EMA{9,21,50,200}_PERIOD, VWAP period, volume average period,
// swing lookback).
type Periods struct {
	RSI        int
	EMA9       int
	EMA21      int
	EMA50      int
	EMA200     int
	VWAP       int
	VolumeAvg  int
	SwingLookback int
}

// DefaultPeriods returns the spec's documented defaults.
func DefaultPeriods() Periods {
	return Periods{RSI: 14, EMA9: 9, EMA21: 21, EMA50: 50, EMA200: 200, VWAP: 24, VolumeAvg: 20, SwingLookback: 20}
}

// Compute derives an IndicatorSnapshot from window (oldest to newest).
// Requires len(window) >= p.EMA200, else returns InsufficientData.
func Compute(window []model.Candle, p Periods) (model.IndicatorSnapshot, error) {
	if len(window) < p.EMA200 {
		return model.IndicatorSnapshot{}, engineerr.New(engineerr.InsufficientData, "Compute", nil)
	}

	closes := closesOf(window)

	ema9 := EMA(closes, p.EMA9)
	ema21 := EMA(closes, p.EMA21)
	ema50 := EMA(closes, p.EMA50)
	ema200 := EMA(closes, p.EMA200)
	rsi := RSI(closes, p.RSI)
	vwap := VWAP(window, p.VWAP)
	macd, macdSignal := MACD(closes, 12, 26)
	volRatio := VolumeRatio(window, p.VolumeAvg)
	swingHigh, swingLow := SwingLevels(window, p.SwingLookback)

	trend := model.TrendSideways
	last := closes[len(closes)-1]
	if last > ema50 && ema50 > ema200 {
		trend = model.TrendUp
	} else if last < ema50 && ema50 < ema200 {
		trend = model.TrendDown
	}

	return model.IndicatorSnapshot{
		RSI:         rsi,
		EMA9:        ema9,
		EMA21:       ema21,
		EMA50:       ema50,
		EMA200:      ema200,
		VWAP:        vwap,
		MACD:        macd,
		MACDSignal:  macdSignal,
		Volume:      window[len(window)-1].Volume,
		AvgVolume20: averageVolume(window, p.VolumeAvg),
		SwingHigh:   swingHigh,
		SwingLow:    swingLow,
		Trend:       trend,
		ComputedAt:  time.Now(),
	}, nil
}

func closesOf(window []model.Candle) []float64 {
	out := make([]float64, len(window))
	for i, c := range window {
		out[i] = c.Close
	}
	return out
}

// SMA is the plain average of the last period closes.
func SMA(closes []float64, period int) float64 {
	if len(closes) == 0 {
		return 0
	}
	if period > len(closes) {
		period = len(closes)
	}
	tail := closes[len(closes)-period:]
	sum := 0.0
	for _, c := range tail {
		sum += c
	}
	return sum / float64(len(tail))
}

// EMA seeds with the SMA of the first period closes, then iterates
// ema = close*alpha + ema*(1-alpha), alpha = 2/(period+1). If the window is
// shorter than period, returns the mean of available closes.
func EMA(closes []float64, period int) float64 {
	if len(closes) == 0 {
		return 0
	}
	if len(closes) < period {
		return SMA(closes, len(closes))
	}

	alpha := 2.0 / float64(period+1)
	ema := SMA(closes[:period], period)
	for _, c := range closes[period:] {
		ema = c*alpha + ema*(1-alpha)
	}
	return ema
}

// RSI is the Wilder-style average gain/loss over the last period returns.
// Returns 50 if there isn't enough data and 100 if average loss is zero.
func RSI(closes []float64, period int) float64 {
	if len(closes) < 2 {
		return 50
	}
	start := len(closes) - period - 1
	if start < 0 {
		start = 0
	}
	tail := closes[start:]

	var gainSum, lossSum float64
	var count int
	for i := 1; i < len(tail); i++ {
		delta := tail[i] - tail[i-1]
		if delta > 0 {
			gainSum += delta
		} else {
			lossSum += -delta
		}
		count++
	}
	if count == 0 {
		return 50
	}
	avgGain := gainSum / float64(count)
	avgLoss := lossSum / float64(count)
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// VWAP is the volume weighted average price over the last `period` candles:
// sum(typicalPrice*volume)/sum(volume), 0 if total volume is zero.
func VWAP(window []model.Candle, period int) float64 {
	if len(window) == 0 {
		return 0
	}
	if period > len(window) {
		period = len(window)
	}
	tail := window[len(window)-period:]

	var pvSum, volSum float64
	for _, c := range tail {
		typical := (c.High + c.Low + c.Close) / 3
		pvSum += typical * c.Volume
		volSum += c.Volume
	}
	if volSum == 0 {
		return 0
	}
	return pvSum / volSum
}

// MACD returns EMA(fast) - EMA(slow) and its signal line, approximated as
// macd*0.9 per the documented open-question resolution (spec §9): the
// source does not maintain a true rolling 9-EMA of MACD history.
func MACD(closes []float64, fast, slow int) (macd, signal float64) {
	macd = EMA(closes, fast) - EMA(closes, slow)
	signal = macd * 0.9
	return macd, signal
}

// VolumeRatio is currentVolume / avg(last N volumes).
func VolumeRatio(window []model.Candle, n int) float64 {
	avg := averageVolume(window, n)
	if avg == 0 {
		return 0
	}
	return window[len(window)-1].Volume / avg
}

func averageVolume(window []model.Candle, n int) float64 {
	if len(window) == 0 {
		return 0
	}
	if n > len(window) {
		n = len(window)
	}
	tail := window[len(window)-n:]
	var sum float64
	for _, c := range tail {
		sum += c.Volume
	}
	return sum / float64(len(tail))
}

// SwingLevels scans the last `lookback` candles for a local maximum of
// highs (swing high) and local minimum of lows (swing low), each higher/
// lower than its immediate neighbors.
func SwingLevels(window []model.Candle, lookback int) (swingHigh, swingLow float64) {
	if lookback > len(window) {
		lookback = len(window)
	}
	tail := window[len(window)-lookback:]
	if len(tail) < 3 {
		if len(tail) > 0 {
			return tail[len(tail)-1].High, tail[len(tail)-1].Low
		}
		return 0, 0
	}

	swingHigh = tail[0].High
	swingLow = tail[0].Low
	for i := 1; i < len(tail)-1; i++ {
		if tail[i].High > tail[i-1].High && tail[i].High > tail[i+1].High && tail[i].High > swingHigh {
			swingHigh = tail[i].High
		}
		if tail[i].Low < tail[i-1].Low && tail[i].Low < tail[i+1].Low && tail[i].Low < swingLow {
			swingLow = tail[i].Low
		}
	}
	return swingHigh, swingLow
}
