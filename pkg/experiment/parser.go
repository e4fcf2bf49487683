package experiment

import (
	"context"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/scenfuzz/scenfuzz/pkg/logstream"
)

// FlushFunc persists a progress snapshot for an experiment. Failures are
// logged by the parser, never surfaced to the subprocess readers.
type FlushFunc func(ctx context.Context, id string, fl ProgressFlush) error

// DirFunc persists a corrected output directory.
type DirFunc func(ctx context.Context, id, path string) error

// ProgressFlush is the durable subset of progress state written after
// counter updates.
type ProgressFlush struct {
	CurrentIteration       int
	TotalIterations        int
	ScenariosExecuted      int
	ScenariosThisIteration int
	BestReward             *float64
	CollisionFound         bool
}

// Progress message grammar. Matching is case-insensitive; the payload is the
// remainder of the line after the [Progress] marker.
var (
	reTotalIterations = regexp.MustCompile(`(?i)^total iterations:\s*(\d+)`)
	reStartIteration  = regexp.MustCompile(`(?i)^start iteration\s+(\d+)`)
	reEndIteration    = regexp.MustCompile(`(?i)^end iteration\s+(\d+)`)
	reStartScenario   = regexp.MustCompile(`(?i)^start scenario execution`)
	reEndScenario     = regexp.MustCompile(`(?i)^end scenario execution`)
	reReward          = regexp.MustCompile(`(?i)^reward:\s*(\S+)`)
	reScenarioCount   = regexp.MustCompile(`(?i)^scenario executed:\s*(\d+)`)
	reElapsed         = regexp.MustCompile(`(?i)(?:execution time|total running time):\s*([0-9.eE+-]+)\s*s`)
	reResultsSaved    = regexp.MustCompile(`(?i)results saved to:\s*(.+)`)
)

// Parser turns runner output lines into experiment state updates. One parser
// is created per supervised run; Feed is safe to call from multiple reader
// goroutines because every mutation happens under the experiment's store
// lock.
//
// Durable flushes are rate-limited so chatty runners do not hammer the
// database; milestone messages bypass the limiter.
type Parser struct {
	store   *StateStore
	id      string
	flush   FlushFunc
	saveDir DirFunc
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewParser returns a parser bound to one experiment. flush and saveDir may
// be nil when durable persistence is not wired (tests).
func NewParser(store *StateStore, id string, flush FlushFunc, saveDir DirFunc, logger *zap.Logger) *Parser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{
		store:   store,
		id:      id,
		flush:   flush,
		saveDir: saveDir,
		limiter: rate.NewLimiter(rate.Limit(2), 1),
		logger:  logger,
	}
}

// Feed processes one output line. Unknown progress payloads are logged at
// debug level and ignored; a missing experiment (deleted mid-run) is a no-op.
func (p *Parser) Feed(ctx context.Context, line string) {
	var (
		dirty       bool
		forced      bool
		fl          ProgressFlush
		resolvedDir string
	)
	err := p.store.WithLock(p.id, func(rec *Record, vol *Volatile) error {
		dirty, forced, resolvedDir = p.apply(rec, vol, line)
		if dirty {
			fl = ProgressFlush{
				CurrentIteration:       rec.CurrentIteration,
				TotalIterations:        rec.TotalIterations,
				ScenariosExecuted:      rec.ScenariosExecuted,
				ScenariosThisIteration: rec.ScenariosThisIteration,
				CollisionFound:         rec.CollisionFound,
			}
			if rec.BestReward != nil {
				v := *rec.BestReward
				fl.BestReward = &v
			}
		}
		return nil
	})
	if err != nil {
		return
	}

	if resolvedDir != "" && p.saveDir != nil {
		if err := p.saveDir(ctx, p.id, resolvedDir); err != nil {
			p.logger.Warn("failed to persist corrected output directory",
				zap.String("experiment_id", p.id), zap.Error(err))
		}
	}
	if !dirty || p.flush == nil {
		return
	}
	if forced || p.limiter.Allow() {
		if err := p.flush(ctx, p.id, fl); err != nil {
			p.logger.Warn("failed to persist progress",
				zap.String("experiment_id", p.id), zap.Error(err))
		}
	}
}

// apply mutates record and volatile state for one line. It runs under the
// experiment's lock. resolvedDir is non-empty when this line corrected the
// output directory.
func (p *Parser) apply(rec *Record, vol *Volatile, line string) (dirty, forced bool, resolvedDir string) {
	// Legacy lines are honored anywhere in the stream, marker or not.
	if m := reResultsSaved.FindStringSubmatch(line); m != nil {
		if path := strings.TrimSpace(m[1]); rec.ResolveOutputDir(path) {
			resolvedDir = path
		}
	}
	if !rec.CollisionFound && strings.Contains(strings.ToLower(line), "collision found") {
		rec.MarkCollision()
		dirty, forced = true, true
	}

	idx := strings.Index(line, logstream.ProgressMarker)
	if idx < 0 {
		return dirty, forced, resolvedDir
	}
	msg := strings.TrimSpace(line[idx+len(logstream.ProgressMarker):])

	switch {
	case reTotalIterations.MatchString(msg):
		m := reTotalIterations.FindStringSubmatch(msg)
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			rec.TotalIterations = n
			dirty, forced = true, true
		}

	case reStartIteration.MatchString(msg):
		m := reStartIteration.FindStringSubmatch(msg)
		if n, err := strconv.Atoi(m[1]); err == nil {
			rec.CurrentIteration = n
			dirty = true
		}

	case reEndIteration.MatchString(msg):
		rec.ScenariosThisIteration = 0
		dirty, forced = true, true

	case reStartScenario.MatchString(msg):
		// Advisory only; the counters advance when the scenario ends.
		p.logger.Debug("scenario started",
			zap.String("experiment_id", rec.ID), zap.String("message", msg))

	case reEndScenario.MatchString(msg):
		rec.ScenariosExecuted++
		rec.ScenariosThisIteration++
		pop := rec.PopulationSize()
		if pop < 1 {
			pop = 1
		}
		if rec.ScenariosThisIteration > pop {
			rec.ScenariosThisIteration = pop
		}
		dirty = true

	case reReward.MatchString(msg):
		m := reReward.FindStringSubmatch(msg)
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			p.logger.Debug("ignoring non-finite reward",
				zap.String("experiment_id", rec.ID), zap.String("value", m[1]))
			break
		}
		vol.RecordReward(rec.ScenariosExecuted, rec.CurrentIteration, v, time.Now().UTC())
		if rec.ApplyReward(v) {
			dirty = true
		}
		if v == 0 && !rec.CollisionFound {
			rec.MarkCollision()
			dirty, forced = true, true
		}

	case reScenarioCount.MatchString(msg):
		m := reScenarioCount.FindStringSubmatch(msg)
		if n, err := strconv.Atoi(m[1]); err == nil && n >= 0 {
			rec.ScenariosExecuted = n
			dirty = true
		}

	case reElapsed.MatchString(msg):
		m := reElapsed.FindStringSubmatch(msg)
		if v, err := strconv.ParseFloat(m[1], 64); err == nil && !math.IsNaN(v) && !math.IsInf(v, 0) {
			vol.ElapsedSeconds = &v
		}

	default:
		p.logger.Debug("unrecognized progress message",
			zap.String("experiment_id", rec.ID), zap.String("message", msg))
	}

	return dirty, forced, resolvedDir
}
