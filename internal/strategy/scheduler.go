package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/algoengine/internal/domain"
)

// Profile is the runtime record of one registered strategy.
type Profile struct {
	Name      string     `json:"name"`
	Cadence   string     `json:"cadence"`
	Runs      int64      `json:"runs"`
	Skips     int64      `json:"skips"`
	Errors    int64      `json:"errors"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	LastError string     `json:"last_error,omitempty"`
}

type registration struct {
	strategy Strategy
	cadence  Cadence
	lastRun  time.Time
	profile  Profile
}

// Scheduler decides on every tick which strategies are due and runs them, in
// registration order, one at a time. A strategy failing or panicking is
// logged and counted; it never stops the others or the scheduler.
type Scheduler struct {
	algo   Algorithm
	data   DataSource
	clock  domain.Clock
	after  func(time.Duration) <-chan time.Time
	logger *slog.Logger

	mu      sync.Mutex
	regs    []*registration
	anchor  time.Time
	running bool
	stop    chan struct{}
}

// NewScheduler creates a Scheduler. data may be nil when no strategy
// requests market data.
func NewScheduler(algo Algorithm, data DataSource, clock domain.Clock, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		algo:   algo,
		data:   data,
		clock:  clock,
		after:  time.After,
		logger: logger.With(slog.String("component", "scheduler")),
	}
}

// WithAfter replaces the timer used between live ticks.
func (s *Scheduler) WithAfter(after func(time.Duration) <-chan time.Time) *Scheduler {
	s.after = after
	return s
}

// Add registers strategies after those already present. Names must be unique
// and cadences valid.
func (s *Scheduler) Add(strategies ...Strategy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range strategies {
		c := st.Cadence()
		if err := c.Validate(); err != nil {
			return fmt.Errorf("scheduler: strategy %q: %w", st.Name(), err)
		}
		for _, r := range s.regs {
			if r.strategy.Name() == st.Name() {
				return fmt.Errorf("scheduler: strategy %q: %w", st.Name(), domain.ErrAlreadyExists)
			}
		}
		s.regs = append(s.regs, &registration{
			strategy: st,
			cadence:  c,
			lastRun:  s.anchor,
			profile:  Profile{Name: st.Name(), Cadence: c.String()},
		})
	}
	return nil
}

// Anchor sets every strategy's last run to t, so the first due tick of a
// strategy with cadence d is t+d. Last runs never move backwards.
func (s *Scheduler) Anchor(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.anchor = t
	for _, r := range s.regs {
		if t.After(r.lastRun) {
			r.lastRun = t
		}
	}
}

// Step is the tick period: the greatest common divisor of all cadences.
func (s *Scheduler) Step() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	cadences := make([]Cadence, 0, len(s.regs))
	for _, r := range s.regs {
		cadences = append(cadences, r.cadence)
	}
	return GreatestCommonStep(0, cadences...)
}

// Len returns the number of registered strategies.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.regs)
}

// Tick runs every strategy due at now and returns their names.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) []string {
	return s.runAll(ctx, now, s.due(now))
}

// RunPending is the single pass of a stateless invocation: it runs the
// strategies due at now and returns. Strategies that have never run are due,
// so a fresh process without an anchor runs all of them.
func (s *Scheduler) RunPending(ctx context.Context, now time.Time) []string {
	ran := s.runAll(ctx, now, s.due(now))
	s.logger.DebugContext(ctx, "pending strategies ran",
		slog.Int("ran", len(ran)),
		slog.Int("registered", s.Len()),
	)
	return ran
}

func (s *Scheduler) due(now time.Time) []*registration {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*registration
	for _, r := range s.regs {
		if now.Sub(r.lastRun) >= r.cadence.Duration() {
			due = append(due, r)
		}
	}
	return due
}

func (s *Scheduler) runAll(ctx context.Context, now time.Time, regs []*registration) []string {
	ran := make([]string, 0, len(regs))
	for _, r := range regs {
		s.invoke(ctx, r, now)
		ran = append(ran, r.strategy.Name())
	}
	return ran
}

func (s *Scheduler) invoke(ctx context.Context, r *registration, now time.Time) {
	name := r.strategy.Name()

	s.mu.Lock()
	if now.After(r.lastRun) {
		r.lastRun = now
	}
	last := now
	r.profile.LastRun = &last
	s.mu.Unlock()

	data, err := s.fetch(ctx, r.strategy, now)
	if err == nil {
		err = s.safeRun(ctx, r.strategy, data)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case err == nil:
		r.profile.Runs++
	case errors.Is(err, domain.ErrDataUnavailable):
		r.profile.Skips++
		s.logger.DebugContext(ctx, "strategy skipped, no data",
			slog.String("strategy", name),
			slog.String("error", err.Error()),
		)
	default:
		r.profile.Errors++
		r.profile.LastError = err.Error()
		s.logger.ErrorContext(ctx, "strategy run failed",
			slog.String("strategy", name),
			slog.Time("tick", now),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Scheduler) safeRun(ctx context.Context, st Strategy, data MarketData) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("strategy %s panicked: %v", st.Name(), p)
		}
	}()
	return st.Run(ctx, s.algo, data)
}

// fetch loads the market data a strategy asked for, as of now.
func (s *Scheduler) fetch(ctx context.Context, st Strategy, now time.Time) (MarketData, error) {
	data := MarketData{Now: now}
	req, ok := st.(DataRequester)
	if !ok {
		return data, nil
	}
	requests := req.DataRequests()
	if len(requests) == 0 {
		return data, nil
	}
	if s.data == nil {
		return data, fmt.Errorf("strategy %s requests data but no source is configured: %w", st.Name(), domain.ErrDataUnavailable)
	}

	data.OHLCV = make(map[string][]domain.Candle, len(requests))
	data.Tickers = make(map[string]domain.Ticker)
	for _, dr := range requests {
		if dr.Window > 0 && dr.TimeFrame != "" {
			from := now.Add(-time.Duration(dr.Window) * dr.TimeFrame.Duration())
			to := now
			candles, err := s.data.GetOHLCV(ctx, dr.Symbol, dr.TimeFrame, from, dr.Market, &to)
			if err != nil {
				return data, err
			}
			data.OHLCV[dr.Symbol] = candles
		}
		if dr.Ticker {
			t, err := s.data.GetTicker(ctx, dr.Symbol, dr.Market)
			if err != nil {
				return data, err
			}
			data.Tickers[dr.Symbol] = t
		}
	}
	return data, nil
}

// Run ticks at anchor+k*step until iterations ticks have run (0 means
// unbounded), Stop is called, or ctx is done. Tick times are computed from
// the anchor rather than the previous tick, so slow ticks do not drift the
// schedule. Stop takes effect between ticks.
func (s *Scheduler) Run(ctx context.Context, iterations int) error {
	step := s.Step()
	if step <= 0 {
		return fmt.Errorf("scheduler: no strategies registered: %w", domain.ErrValidation)
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler: already running")
	}
	s.running = true
	stop := make(chan struct{})
	s.stop = stop
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.stop = nil
		s.mu.Unlock()
	}()

	anchor := s.clock.Now()
	s.Anchor(anchor)
	s.logger.InfoContext(ctx, "scheduler started",
		slog.Duration("step", step),
		slog.Int("strategies", s.Len()),
		slog.Int("iterations", iterations),
	)
	defer s.logger.InfoContext(ctx, "scheduler stopped")

	for k := 1; iterations <= 0 || k <= iterations; k++ {
		next := anchor.Add(time.Duration(k) * step)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		case <-s.after(next.Sub(s.clock.Now())):
		}
		select {
		case <-stop:
			return nil
		default:
		}
		s.Tick(ctx, next)
	}
	return nil
}

// Stop ends a running Run after the current tick. It is a no-op otherwise.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
}

// Running reports whether Run is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Profiles returns a copy of every strategy's runtime record in registration
// order.
func (s *Scheduler) Profiles() []Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Profile, 0, len(s.regs))
	for _, r := range s.regs {
		p := r.profile
		if p.LastRun != nil {
			t := *p.LastRun
			p.LastRun = &t
		}
		out = append(out, p)
	}
	return out
}
