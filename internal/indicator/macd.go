package indicator

import (
	"fmt"
	"time"

	"signaltrader/internal/model"
)

// MACD votes on MACD line crossings of its signal line (standard 12/26/9).
//
// An upward crossing votes LONG, a downward crossing SHORT; otherwise
// NEUTRAL. Strength is the histogram as a fraction of price, scaled so a
// histogram worth 1% of price saturates conviction.
type MACD struct {
	name string

	fast   ema
	slow   ema
	signal ema

	prevMACD   float64
	prevSignal float64
	crossed    model.SignalType
	lastPrice  float64
	barTime    time.Time
	warm       bool
}

// NewMACD creates a MACD voter with the given fast/slow/signal periods.
func NewMACD(fastPeriod, slowPeriod, signalPeriod int) *MACD {
	return &MACD{
		name:   fmt.Sprintf("MACD_%d_%d_%d", fastPeriod, slowPeriod, signalPeriod),
		fast:   newEMA(fastPeriod),
		slow:   newEMA(slowPeriod),
		signal: newEMA(signalPeriod),
	}
}

func (m *MACD) Name() string { return m.name }
func (m *MACD) Ready() bool  { return m.signal.ready() && m.warm }

func (m *MACD) Update(bar model.Bar) {
	m.barTime = bar.OpenTime
	m.lastPrice = bar.Close
	m.fast.update(bar.Close)
	m.slow.update(bar.Close)
	m.crossed = model.SignalNeutral

	if !m.slow.ready() {
		return
	}
	macd := m.fast.current - m.slow.current
	m.signal.update(macd)
	if !m.signal.ready() {
		return
	}

	if m.warm {
		if m.prevMACD <= m.prevSignal && macd > m.signal.current {
			m.crossed = model.SignalLong
		} else if m.prevMACD >= m.prevSignal && macd < m.signal.current {
			m.crossed = model.SignalShort
		}
	}
	m.prevMACD = macd
	m.prevSignal = m.signal.current
	m.warm = true
}

func (m *MACD) Signal() model.Signal {
	sig := model.Signal{
		Type:    model.SignalNeutral,
		Source:  m.name,
		BarTime: m.barTime,
	}
	if !m.Ready() {
		return sig
	}
	if m.lastPrice > 0 {
		hist := m.prevMACD - m.prevSignal
		sig.Strength = clamp(hist / m.lastPrice * 100)
	}
	sig.Type = m.crossed
	return sig
}
