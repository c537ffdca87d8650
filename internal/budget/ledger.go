// Package budget enforces spending limits over rolling periods. All access
// goes through Reserve/Release/Adjust on a single lock-guarded Ledger, which
// is the pipeline's only serialization point for money.
package budget

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/podcast-intel/internal/cost"
)

// PeriodKind identifies a rolling budget window.
type PeriodKind string

const (
	// PeriodDaily resets at UTC midnight.
	PeriodDaily PeriodKind = "daily"
	// PeriodWeekly resets at UTC Monday midnight.
	PeriodWeekly PeriodKind = "weekly"
)

// PeriodStart returns the start of the period containing now, in UTC.
func PeriodStart(kind PeriodKind, now time.Time) time.Time {
	now = now.UTC()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if kind == PeriodDaily {
		return day
	}
	// Weekly periods start on Monday.
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

// Period is one durable budget row. Old rows are retained for audit when a
// new period begins; they are never overwritten.
type Period struct {
	Kind  PeriodKind `json:"kind"`
	Start time.Time  `json:"period_start"`
	Spent cost.USD   `json:"spent_usd"`
	Limit cost.USD   `json:"limit_usd"`
}

// PeriodStore persists budget periods. Implemented by the episode store so
// ledger state and episode state share one database.
type PeriodStore interface {
	GetBudgetPeriod(ctx context.Context, kind PeriodKind, start time.Time) (*Period, error)
	PutBudgetPeriod(ctx context.Context, p Period) error
}

// Limits holds the caller-supplied spending caps.
type Limits struct {
	Daily  cost.USD
	Weekly cost.USD
	// AlertThreshold logs a warning once a period's spend crosses this
	// fraction of its limit. Zero disables alerting.
	AlertThreshold float64
}

// RejectedError is a normal admission-control outcome, not a failure: the
// requested reservation would push a period over its limit and no state was
// changed.
type RejectedError struct {
	Kind      PeriodKind
	Spent     cost.USD
	Limit     cost.USD
	Requested cost.USD
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("budget: %s limit reached: spent %s + requested %s exceeds %s",
		e.Kind, e.Spent, e.Requested, e.Limit)
}

// IsRejected reports whether err is a budget admission rejection.
func IsRejected(err error) bool {
	var re *RejectedError
	return errors.As(err, &re)
}

// Reservation is a provisional hold on the budget. It must be settled exactly
// once, by Release or Adjust; the ledger enforces this by consuming the token.
type Reservation struct {
	amount  cost.USD
	settled bool
}

// Amount returns the reserved amount.
func (r *Reservation) Amount() cost.USD {
	return r.amount
}

// Ledger tracks cumulative spend for the daily and weekly periods. A single
// mutex makes reserve a compare-then-reserve step, so concurrent callers
// cannot jointly overspend through a stale check.
type Ledger struct {
	mu     sync.Mutex
	store  PeriodStore
	limits Limits
	now    func() time.Time

	periods map[PeriodKind]*Period
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the ledger's time source. Test use.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// NewLedger creates a Ledger over the given period store and limits.
func NewLedger(store PeriodStore, limits Limits, opts ...Option) *Ledger {
	l := &Ledger{
		store:   store,
		limits:  limits,
		now:     time.Now,
		periods: make(map[PeriodKind]*Period),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// limitFor returns the configured cap for a period kind.
func (l *Ledger) limitFor(kind PeriodKind) cost.USD {
	if kind == PeriodDaily {
		return l.limits.Daily
	}
	return l.limits.Weekly
}

// current returns the in-memory period for kind, loading or lazily creating
// the row when the clock has crossed into a new period. Caller holds l.mu.
func (l *Ledger) current(ctx context.Context, kind PeriodKind) (*Period, error) {
	start := PeriodStart(kind, l.now())
	if p, ok := l.periods[kind]; ok && p.Start.Equal(start) {
		return p, nil
	}

	p, err := l.store.GetBudgetPeriod(ctx, kind, start)
	if err != nil {
		return nil, eris.Wrapf(err, "budget: load %s period", kind)
	}
	if p == nil {
		p = &Period{Kind: kind, Start: start}
		zap.L().Info("budget: new period",
			zap.String("kind", string(kind)),
			zap.Time("start", start),
		)
	}
	// The limit always comes from the current configuration, not the stored row.
	p.Limit = l.limitFor(kind)
	l.periods[kind] = p
	return p, nil
}

// persist writes the given periods through to the store. Caller holds l.mu.
func (l *Ledger) persist(ctx context.Context, periods ...*Period) error {
	for _, p := range periods {
		if err := l.store.PutBudgetPeriod(ctx, *p); err != nil {
			return eris.Wrapf(err, "budget: persist %s period", p.Kind)
		}
	}
	return nil
}

// Reserve holds amount against both rolling periods. If either period would
// exceed its limit the reservation is rejected with *RejectedError and no
// state changes. On success the spend is committed immediately; the caller
// settles the returned reservation later with Release or Adjust.
func (l *Ledger) Reserve(ctx context.Context, amount cost.USD) (*Reservation, error) {
	if amount < 0 {
		return nil, eris.Errorf("budget: negative reservation %s", amount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	daily, err := l.current(ctx, PeriodDaily)
	if err != nil {
		return nil, err
	}
	weekly, err := l.current(ctx, PeriodWeekly)
	if err != nil {
		return nil, err
	}

	for _, p := range []*Period{daily, weekly} {
		if p.Spent+amount > p.Limit {
			return nil, &RejectedError{Kind: p.Kind, Spent: p.Spent, Limit: p.Limit, Requested: amount}
		}
	}

	daily.Spent += amount
	weekly.Spent += amount
	if err := l.persist(ctx, daily, weekly); err != nil {
		daily.Spent -= amount
		weekly.Spent -= amount
		return nil, err
	}

	l.alert(daily)
	l.alert(weekly)

	return &Reservation{amount: amount}, nil
}

// Release returns a reserved amount to the budget, for reservations whose
// work failed before incurring any cost. The reservation is consumed: a
// second settle attempt is an error.
func (l *Ledger) Release(ctx context.Context, r *Reservation) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.settle(r); err != nil {
		return err
	}
	return l.apply(ctx, -r.amount)
}

// Adjust reconciles a reservation to the actual incurred cost once real token
// counts are known. The reservation is consumed.
func (l *Ledger) Adjust(ctx context.Context, r *Reservation, actual cost.USD) error {
	if actual < 0 {
		return eris.Errorf("budget: negative actual cost %s", actual)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.settle(r); err != nil {
		return err
	}
	return l.apply(ctx, actual-r.amount)
}

// settle consumes the reservation token. Caller holds l.mu.
func (l *Ledger) settle(r *Reservation) error {
	if r == nil {
		return eris.New("budget: nil reservation")
	}
	if r.settled {
		return eris.New("budget: reservation already settled")
	}
	r.settled = true
	return nil
}

// apply adds delta to both current periods, flooring at zero, and persists.
// Caller holds l.mu.
func (l *Ledger) apply(ctx context.Context, delta cost.USD) error {
	daily, err := l.current(ctx, PeriodDaily)
	if err != nil {
		return err
	}
	weekly, err := l.current(ctx, PeriodWeekly)
	if err != nil {
		return err
	}

	for _, p := range []*Period{daily, weekly} {
		p.Spent += delta
		if p.Spent < 0 {
			p.Spent = 0
		}
	}
	return l.persist(ctx, daily, weekly)
}

// alert logs when a period's spend crosses the configured threshold fraction
// of its limit. Caller holds l.mu.
func (l *Ledger) alert(p *Period) {
	if l.limits.AlertThreshold <= 0 || p.Limit <= 0 {
		return
	}
	if p.Spent.Float64() >= l.limits.AlertThreshold*p.Limit.Float64() {
		zap.L().Warn("budget: approaching limit",
			zap.String("kind", string(p.Kind)),
			zap.String("spent", p.Spent.String()),
			zap.String("limit", p.Limit.String()),
		)
	}
}

// Snapshot returns copies of the current daily and weekly periods.
func (l *Ledger) Snapshot(ctx context.Context) (daily, weekly Period, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	d, err := l.current(ctx, PeriodDaily)
	if err != nil {
		return Period{}, Period{}, err
	}
	w, err := l.current(ctx, PeriodWeekly)
	if err != nil {
		return Period{}, Period{}, err
	}
	return *d, *w, nil
}
