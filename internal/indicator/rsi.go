package indicator

import (
	"fmt"
	"time"

	"signaltrader/internal/model"
)

// RSI votes from the Relative Strength Index using Wilder's smoothing.
// Update is O(1) per bar with no history scans.
//
// Vote mapping: oversold (<= low threshold, default 30) leans LONG,
// overbought (>= high threshold, default 70) leans SHORT. Crossing back
// through the 50 midline emits the matching close vote: downward crossings
// vote CLOSE_LONG, upward crossings CLOSE_SHORT. Strength is (50-RSI)/50,
// clamped to [-1, 1].
type RSI struct {
	name       string
	period     int
	oversold   float64
	overbought float64

	count     int
	prevClose float64
	avgGain   float64
	avgLoss   float64
	current   float64
	previous  float64
	barTime   time.Time
}

// NewRSI creates an RSI voter with the given period (typically 14) and
// 30/70 thresholds.
func NewRSI(period int) *RSI {
	return &RSI{
		name:       fmt.Sprintf("RSI_%d", period),
		period:     period,
		oversold:   30,
		overbought: 70,
	}
}

func (r *RSI) Name() string { return r.name }
func (r *RSI) Ready() bool  { return r.count > r.period }

func (r *RSI) Update(bar model.Bar) {
	price := bar.Close
	r.barTime = bar.OpenTime
	r.count++

	if r.count == 1 {
		r.prevClose = price
		return
	}

	delta := price - r.prevClose
	r.prevClose = price

	gain, loss := 0.0, 0.0
	if delta > 0 {
		gain = delta
	} else {
		loss = -delta
	}

	r.previous = r.current

	if r.count <= r.period+1 {
		// Accumulation phase: build initial averages, SMA seed.
		r.avgGain += gain
		r.avgLoss += loss
		if r.count == r.period+1 {
			r.avgGain /= float64(r.period)
			r.avgLoss /= float64(r.period)
			r.current = r.value()
		}
		return
	}

	p := float64(r.period)
	r.avgGain = (r.avgGain*(p-1) + gain) / p
	r.avgLoss = (r.avgLoss*(p-1) + loss) / p
	r.current = r.value()
}

func (r *RSI) value() float64 {
	if r.avgLoss == 0 {
		return 100.0
	}
	rs := r.avgGain / r.avgLoss
	return 100.0 - (100.0 / (1.0 + rs))
}

func (r *RSI) Signal() model.Signal {
	sig := model.Signal{
		Type:     model.SignalNeutral,
		Source:   r.name,
		BarTime:  r.barTime,
		Strength: clamp((50 - r.current) / 50),
	}
	if !r.Ready() {
		sig.Strength = 0
		return sig
	}

	switch {
	case r.current <= r.oversold:
		sig.Type = model.SignalLong
	case r.current >= r.overbought:
		sig.Type = model.SignalShort
	case r.previous > 50 && r.current <= 50:
		sig.Type = model.SignalCloseLong
	case r.previous < 50 && r.current >= 50:
		sig.Type = model.SignalCloseShort
	}
	return sig
}
