// Package planner sizes extraction windows against the upstream probe
// ceiling. It binary searches in whole days first and drops to whole
// hours when even a single day is too dense
package planner

import (
	"context"
	"time"

	"sluice/internal/platform/logger"
	"sluice/internal/services/pipeline/domain"
)

const day = 24 * time.Hour

// DefaultCeiling is the record count a planned window may not exceed
const DefaultCeiling = 1500

// Config tunes the planner
type Config struct {
	// Ceiling is the maximum probed count for an accepted window
	Ceiling int
}

// Planner finds the largest window end whose probe stays at or under
// the ceiling
type Planner struct {
	prober domain.CountProber
	cfg    Config
	log    logger.Logger
}

// New creates a Planner. A nil log falls back to a component logger
func New(prober domain.CountProber, cfg Config, log *logger.Logger) *Planner {
	if cfg.Ceiling <= 0 {
		cfg.Ceiling = DefaultCeiling
	}
	if log == nil {
		log = logger.Named("planner")
	}
	return &Planner{prober: prober, cfg: cfg, log: *log}
}

// FindOptimalEnd returns the latest end instant in (start, hardEnd] such
// that [start, end) probes at or under the ceiling. The search runs on
// day boundaries from start, or hour boundaries when the first day is
// already over the ceiling. Windows never shrink below one hour and the
// result never exceeds hardEnd.
//
// Probes that come back without a usable count shrink the search the
// same way an over-ceiling count does; if even the first probe has no
// count the planner settles for a single day
func (p *Planner) FindOptimalEnd(ctx context.Context, endpoint string, start, hardEnd time.Time, extra map[string]any) (time.Time, error) {
	if !hardEnd.After(start) {
		return hardEnd, nil
	}

	dayEnd := minTime(start.Add(day), hardEnd)
	first, err := p.prober.EstimateCount(ctx, endpoint, domain.TimeWindow{From: start, To: dayEnd}, extra)
	if err != nil {
		return time.Time{}, err
	}
	if !first.Known {
		p.log.Debug().
			Str("endpoint", endpoint).
			Time("start", start).
			Time("end", dayEnd).
			Msg("planner first probe gave no count, settling for one day")
		return dayEnd, nil
	}

	unit := day
	lo, hi := 1, daysBetween(start, hardEnd)+1
	best := dayEnd
	if first.Total > p.cfg.Ceiling {
		// a single day already busts the ceiling; search hours inside it
		unit = time.Hour
		lo, hi = 1, hoursBetween(start, dayEnd)
		best = minTime(start.Add(time.Hour), hardEnd)
		p.log.Debug().
			Str("endpoint", endpoint).
			Time("start", start).
			Int("count", first.Total).
			Int("ceiling", p.cfg.Ceiling).
			Msg("planner day too dense, switching to hour grain")
	}

	for lo <= hi {
		mid := (lo + hi) / 2
		testEnd := minTime(start.Add(time.Duration(mid)*unit), hardEnd)
		est, err := p.prober.EstimateCount(ctx, endpoint, domain.TimeWindow{From: start, To: testEnd}, extra)
		if err != nil {
			return time.Time{}, err
		}
		if !est.Known || est.Total > p.cfg.Ceiling {
			hi = mid - 1
			continue
		}
		best = testEnd
		lo = mid + 1
	}

	p.log.Debug().
		Str("endpoint", endpoint).
		Time("start", start).
		Time("end", best).
		Dur("span", best.Sub(start)).
		Msg("planner settled window")
	return best, nil
}

func daysBetween(a, b time.Time) int { return int(b.Sub(a) / day) }

func hoursBetween(a, b time.Time) int { return int(b.Sub(a) / time.Hour) }

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
