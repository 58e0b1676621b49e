// Package backpressure implements the rate-advisory controller from spec
// §4.4: an EWMA of inbound message rate, turned into a per-peer tolerated
// rate advisory, reported only when it has moved enough to be worth
// sending (hysteresis).
package backpressure

import (
	"sync"
	"time"

	"github.com/datatrails/go-datatrails-common/logger"
)

const (
	// SanityMin is the lowest tolerated rate ever advertised.
	SanityMin = 1.0
	// SanityMax is the initial ceiling and the highest tolerated rate ever
	// advertised.
	SanityMax = 1000.0

	// defaultAlpha weights the most recent inter-arrival sample against the
	// running average.
	defaultAlpha = 0.2

	// headroom is the 10x multiplier: the advertised rate is a ceiling the
	// sender should stay under, not the observed current rate.
	headroom = 10.0

	// hysteresis bounds: a new value is only reported outside this band
	// relative to the last advertised one.
	hysteresisLow  = 0.95
	hysteresisHigh = 1.10
)

// lastReport is the most recently advertised value for one peer.
type lastReport struct {
	at    time.Time
	value float64
}

// Controller tracks inbound message rate and decides when to re-advertise
// a tolerated rate to each calling peer. All state is protected by a
// single writer-preferring rw-lock; Go's sync.RWMutex is writer-preferring
// in the sense relevant here (pending writers block new readers), matching
// the teacher's single-rwlock discipline used throughout massifs/storage.
type Controller struct {
	mu sync.RWMutex

	alpha            float64
	ewma             float64
	haveSample       bool
	lastEventAt      time.Time
	activePeers      int
	lastReportByPeer map[string]lastReport

	now func() time.Time
	log logger.Logger
}

// New constructs a Controller with the default smoothing factor.
func New() *Controller {
	return &Controller{
		alpha:            defaultAlpha,
		lastReportByPeer: make(map[string]lastReport),
		now:              time.Now,
		log:              logger.Sugar.WithServiceName("backpressure"),
	}
}

// RecordInbound registers one inbound message, folding the inter-arrival
// time into the EWMA.
func (c *Controller) RecordInbound() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if !c.haveSample {
		c.ewma = 1.0 // first message: assume a conservative 1 msg/s until a second sample arrives
		c.haveSample = true
		c.lastEventAt = now
		return
	}

	dt := now.Sub(c.lastEventAt).Seconds()
	c.lastEventAt = now
	if dt <= 0 {
		return
	}
	instant := 1.0 / dt
	c.ewma = c.alpha*instant + (1-c.alpha)*c.ewma
}

// SetActivePeerSessions updates the active peer session count used in the
// tolerated-rate derivation.
func (c *Controller) SetActivePeerSessions(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.activePeers = n
}

func (c *Controller) toleratedLocked() float64 {
	active := c.activePeers
	if active < 1 {
		active = 1
	}
	t := headroom * c.ewma / float64(active)
	return clamp(t, SanityMin, SanityMax)
}

// Tolerated returns the current tolerated rate without affecting report
// history, for diagnostics.
func (c *Controller) Tolerated() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.toleratedLocked()
}

// AdviseFor computes the tolerated rate for peer and reports whether it
// should be (re-)advertised per the hysteresis policy: a value is only
// pushed when it falls below 0.95 or exceeds 1.10 of what was last
// advertised to that peer. The first advisory for a peer applies the same
// rule with the static ceiling (SanityMax) as the baseline, so it is not
// reported when the tolerated rate is already within that band of the
// ceiling.
func (c *Controller) AdviseFor(peer string) (value float64, shouldReport bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tolerated := c.toleratedLocked()
	prev, ok := c.lastReportByPeer[peer]
	baseline := SanityMax
	if ok {
		baseline = prev.value
	}

	ratio := tolerated / baseline
	if ratio >= hysteresisLow && ratio <= hysteresisHigh {
		return tolerated, false
	}

	c.lastReportByPeer[peer] = lastReport{at: c.now(), value: tolerated}
	c.log.Debugf("advertising tolerated rate %.2f msg/s to peer %s (was %.2f)", tolerated, peer, baseline)
	return tolerated, true
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
