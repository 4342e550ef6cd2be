package indicator

import (
	"fmt"
	"time"

	"signaltrader/internal/model"
)

// EMACross votes on exponential moving average crossovers.
//
// Golden cross (fast crossing above slow) votes LONG, death cross votes
// SHORT; bars without a cross are NEUTRAL. Strength is the fast/slow spread
// as a percentage of the slow average, clamped so a 1% spread saturates at
// full conviction.
type EMACross struct {
	name       string
	fastPeriod int
	slowPeriod int

	fast ema
	slow ema

	prevFast float64
	prevSlow float64
	crossed  model.SignalType // cross observed on the latest bar
	barTime  time.Time
	warm     bool
}

// ema is a minimal streaming EMA with SMA seeding.
type ema struct {
	period     int
	multiplier float64
	current    float64
	count      int
	sum        float64
}

func newEMA(period int) ema {
	return ema{period: period, multiplier: 2.0 / float64(period+1)}
}

func (e *ema) update(price float64) {
	e.count++
	if e.count <= e.period {
		e.sum += price
		if e.count == e.period {
			e.current = e.sum / float64(e.period)
		}
		return
	}
	e.current = price*e.multiplier + e.current*(1-e.multiplier)
}

func (e *ema) ready() bool { return e.count >= e.period }

// NewEMACross creates an EMA crossover voter. fastPeriod < slowPeriod
// (e.g. 9 and 21).
func NewEMACross(fastPeriod, slowPeriod int) *EMACross {
	return &EMACross{
		name:       fmt.Sprintf("EMA_%d_%d", fastPeriod, slowPeriod),
		fastPeriod: fastPeriod,
		slowPeriod: slowPeriod,
		fast:       newEMA(fastPeriod),
		slow:       newEMA(slowPeriod),
	}
}

func (c *EMACross) Name() string { return c.name }
func (c *EMACross) Ready() bool  { return c.slow.ready() && c.warm }

func (c *EMACross) Update(bar model.Bar) {
	c.barTime = bar.OpenTime
	c.fast.update(bar.Close)
	c.slow.update(bar.Close)
	c.crossed = model.SignalNeutral

	if !c.fast.ready() || !c.slow.ready() {
		return
	}
	if c.warm {
		if c.prevFast <= c.prevSlow && c.fast.current > c.slow.current {
			c.crossed = model.SignalLong
		} else if c.prevFast >= c.prevSlow && c.fast.current < c.slow.current {
			c.crossed = model.SignalShort
		}
	}
	c.prevFast = c.fast.current
	c.prevSlow = c.slow.current
	c.warm = true
}

func (c *EMACross) Signal() model.Signal {
	sig := model.Signal{
		Type:    model.SignalNeutral,
		Source:  c.name,
		BarTime: c.barTime,
	}
	if !c.Ready() {
		return sig
	}
	if c.slow.current != 0 {
		sig.Strength = clamp((c.fast.current - c.slow.current) / c.slow.current * 100)
	}
	sig.Type = c.crossed
	return sig
}
