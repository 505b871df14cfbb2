package credit

import (
	"sync/atomic"
)

// Status is the budget status returned after recording a turn.
type Status int

const (
	StatusOK Status = iota
	StatusWarning
	StatusDepleted
)

// String returns the lower-case name of the status.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusWarning:
		return "warning"
	case StatusDepleted:
		return "depleted"
	default:
		return "unknown"
	}
}

// Unlimited is the balance of a meter that never depletes.
const Unlimited = -1

// Receipt is the outcome of recording one turn.
type Receipt struct {
	// Cost is the full price of the turn; Charged is what was actually
	// booked, capped at the remaining balance.
	Cost      int
	Charged   int
	Used      int
	Remaining int
	Status    Status
	// WarningCrossed is true only for the turn that first crossed the
	// warning threshold.
	WarningCrossed bool
}

// Meter tracks actual consumption of one session against the balance at
// start. Record is safe for concurrent use; consumption only ever grows.
type Meter struct {
	pricing *Pricing
	balance int64
	warnAt  int64
	used    atomic.Int64
	warned  atomic.Bool
}

// NewMeter creates a meter for balance credits. warnFraction is the consumed
// share of the balance at which a warning is raised (e.g. 0.8). A negative
// balance disables depletion.
func NewMeter(balance int, warnFraction float64, p *Pricing) *Meter {
	if p == nil {
		p = NewPricing(nil)
	}

	m := &Meter{pricing: p, balance: int64(balance)}

	if balance >= 0 && warnFraction > 0 {
		m.warnAt = int64(float64(balance) * warnFraction)
		if m.warnAt < 1 {
			m.warnAt = 1
		}
	}

	return m
}

// Balance returns the balance the meter was created with.
func (m *Meter) Balance() int { return int(m.balance) }

// Used returns the credits consumed so far.
func (m *Meter) Used() int { return int(m.used.Load()) }

// Remaining returns the credits left, or Unlimited.
func (m *Meter) Remaining() int {
	if m.balance < 0 {
		return Unlimited
	}

	return int(m.balance - m.used.Load())
}

// Depleted reports whether the balance is exhausted.
func (m *Meter) Depleted() bool {
	return m.balance >= 0 && m.used.Load() >= m.balance
}

// Cost prices one turn without recording it.
func (m *Meter) Cost(model string, inputTokens, outputTokens int) int {
	return m.pricing.TurnCost(model, inputTokens, outputTokens)
}

// Record books the cost of one completed turn.
func (m *Meter) Record(model string, inputTokens, outputTokens int) Receipt {
	return m.Charge(m.Cost(model, inputTokens, outputTokens))
}

// Charge books cost credits, never exceeding the balance.
func (m *Meter) Charge(cost int) Receipt {
	if cost < 0 {
		cost = 0
	}

	for {
		cur := m.used.Load()

		charge := int64(cost)
		if m.balance >= 0 && cur+charge > m.balance {
			charge = max(0, m.balance-cur)
		}

		if !m.used.CompareAndSwap(cur, cur+charge) {
			continue
		}

		used := cur + charge
		r := Receipt{Cost: cost, Charged: int(charge), Used: int(used), Remaining: Unlimited}

		if m.balance < 0 {
			return r
		}

		r.Remaining = int(m.balance - used)

		switch {
		case used >= m.balance:
			r.Status = StatusDepleted
		case m.warnAt > 0 && used >= m.warnAt:
			r.Status = StatusWarning
		}

		if m.warnAt > 0 && used >= m.warnAt && m.warned.CompareAndSwap(false, true) {
			r.WarningCrossed = true
		}

		return r
	}
}
