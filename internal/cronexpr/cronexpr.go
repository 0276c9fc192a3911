// Package cronexpr computes the next occurrence of a cron expression,
// optionally interpreted in an IANA timezone rather than UTC.
package cronexpr

import (
	"fmt"
	"time"

	"github.com/adhocore/gronx"
	lru "github.com/hashicorp/golang-lru/v2"
)

const locationCacheSize = 64

// Evaluator computes next-occurrence instants for cron expressions. It
// caches resolved *time.Location values, since time.LoadLocation re-parses
// the system zoneinfo database on every call and the same handful of zones
// (one per Job) are looked up on every scheduler tick.
type Evaluator struct {
	gx   gronx.Gronx
	locs *lru.Cache[string, *time.Location]
}

// New creates an Evaluator ready for concurrent use.
func New() *Evaluator {
	locs, err := lru.New[string, *time.Location](locationCacheSize)
	if err != nil {
		// Only returns an error for a non-positive size, which never
		// happens here.
		panic(err)
	}
	return &Evaluator{gx: gronx.New(), locs: locs}
}

// Validate reports whether expr is a well-formed 5- or 6-field cron
// expression.
func (e *Evaluator) Validate(expr string) error {
	if !e.gx.IsValid(expr) {
		return fmt.Errorf("cronexpr: invalid cron expression %q", expr)
	}
	return nil
}

// ValidateZone reports whether zone is a recognized IANA zone name. An
// empty zone is always valid and means UTC.
func (e *Evaluator) ValidateZone(zone string) error {
	if zone == "" {
		return nil
	}
	_, err := e.location(zone)
	if err != nil {
		return fmt.Errorf("cronexpr: unknown timezone %q: %w", zone, err)
	}
	return nil
}

func (e *Evaluator) location(zone string) (*time.Location, error) {
	if loc, ok := e.locs.Get(zone); ok {
		return loc, nil
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, err
	}
	e.locs.Add(zone, loc)
	return loc, nil
}

// NextAfter returns the next instant, strictly after `after`, at which
// schedule matches. When zone is non-empty, the schedule is evaluated as
// local time in that zone: after is converted to local time, the next
// local match is found, and the result is converted back to UTC. When zone
// is empty, the schedule is evaluated directly against after in UTC.
//
// If after itself lands exactly on a tick, the returned instant is the
// next tick, never after itself (exclusivity is required by the caller's
// scheduling invariants).
func (e *Evaluator) NextAfter(schedule, zone string, after time.Time) (time.Time, error) {
	if err := e.Validate(schedule); err != nil {
		return time.Time{}, err
	}

	loc := time.UTC
	if zone != "" {
		l, err := e.location(zone)
		if err != nil {
			return time.Time{}, fmt.Errorf("cronexpr: unknown timezone %q: %w", zone, err)
		}
		loc = l
	}

	localAfter := after.In(loc)
	next, err := gronx.NextTickAfter(schedule, localAfter, false)
	if err != nil {
		return time.Time{}, fmt.Errorf("cronexpr: %w", err)
	}
	return next.UTC(), nil
}
