package strategy

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/algoengine/internal/domain"
)

// TimeUnit is the unit a cadence interval is expressed in.
type TimeUnit string

const (
	Second TimeUnit = "SECOND"
	Minute TimeUnit = "MINUTE"
	Hour   TimeUnit = "HOUR"
	Day    TimeUnit = "DAY"
)

var unitDurations = map[TimeUnit]time.Duration{
	Second: time.Second,
	Minute: time.Minute,
	Hour:   time.Hour,
	Day:    24 * time.Hour,
}

// ParseTimeUnit accepts SECOND, MINUTE, HOUR or DAY in any casing, with or
// without a trailing S.
func ParseTimeUnit(s string) (TimeUnit, error) {
	u := TimeUnit(strings.TrimSuffix(strings.ToUpper(strings.TrimSpace(s)), "S"))
	if _, ok := unitDurations[u]; !ok {
		return "", fmt.Errorf("time unit %q: %w", s, domain.ErrValidation)
	}
	return u, nil
}

// Cadence is how often a strategy fires: every Interval units.
type Cadence struct {
	Unit     TimeUnit
	Interval int
}

// Every builds a Cadence.
func Every(interval int, unit TimeUnit) Cadence {
	return Cadence{Unit: unit, Interval: interval}
}

// Duration returns the cadence period, or 0 when invalid.
func (c Cadence) Duration() time.Duration {
	if c.Interval <= 0 {
		return 0
	}
	return time.Duration(c.Interval) * unitDurations[c.Unit]
}

// Validate checks the unit is known and the interval positive.
func (c Cadence) Validate() error {
	if _, ok := unitDurations[c.Unit]; !ok {
		return fmt.Errorf("cadence unit %q: %w", c.Unit, domain.ErrValidation)
	}
	if c.Interval <= 0 {
		return fmt.Errorf("cadence interval %d: %w", c.Interval, domain.ErrValidation)
	}
	return nil
}

func (c Cadence) String() string {
	return fmt.Sprintf("every %d %s", c.Interval, strings.ToLower(string(c.Unit)))
}

// GreatestCommonStep returns the greatest duration that evenly divides every
// cadence, or fallback when there is none.
func GreatestCommonStep(fallback time.Duration, cadences ...Cadence) time.Duration {
	var step time.Duration
	for _, c := range cadences {
		d := c.Duration()
		if d <= 0 {
			continue
		}
		step = gcd(step, d)
	}
	if step <= 0 {
		return fallback
	}
	return step
}

func gcd(a, b time.Duration) time.Duration {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
