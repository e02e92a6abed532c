package storage

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "embycord/pkg/logx"
)

const DefaultPruneSchedule = "@daily"

// Retention prunes old delivery records on a cron schedule.
type Retention struct {
	store  Store
	log    logx.Logger
	parser cron.Parser
	now    func() time.Time

	mu     sync.Mutex
	c      *cron.Cron
	keep   time.Duration
	spec   string
	lastN  int
	lastAt time.Time
}

func NewRetention(store Store, keep time.Duration, spec string, log logx.Logger) *Retention {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Retention{
		store:  store,
		log:    log,
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		now:    time.Now,
		keep:   keep,
		spec:   normalizeSpec(spec),
	}
}

func normalizeSpec(spec string) string {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return DefaultPruneSchedule
	}
	return spec
}

// ValidateSchedule reports whether spec parses as a prune schedule.
func ValidateSchedule(spec string) error {
	p := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := p.Parse(normalizeSpec(spec)); err != nil {
		return fmt.Errorf("invalid prune schedule %q: %w", spec, err)
	}
	return nil
}

// Start registers the prune job. A zero keep window disables pruning.
func (r *Retention) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.c != nil || r.store == nil || r.keep <= 0 {
		return nil
	}
	sched, err := r.parser.Parse(r.spec)
	if err != nil {
		return fmt.Errorf("invalid prune schedule %q: %w", r.spec, err)
	}
	r.c = cron.New(cron.WithParser(r.parser))
	r.c.Schedule(sched, cron.FuncJob(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		_, _ = r.PruneNow(ctx)
	}))
	r.c.Start()
	r.log.Info("delivery retention started", logx.String("schedule", r.spec), logx.Duration("keep", r.keep))
	return nil
}

func (r *Retention) Stop(ctx context.Context) {
	r.mu.Lock()
	c := r.c
	r.c = nil
	r.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

// Apply changes the window and schedule, restarting the job if it runs.
func (r *Retention) Apply(keep time.Duration, spec string) error {
	r.mu.Lock()
	running := r.c != nil
	changed := r.keep != keep || r.spec != normalizeSpec(spec)
	r.keep = keep
	r.spec = normalizeSpec(spec)
	r.mu.Unlock()
	if !changed {
		return nil
	}
	if running {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		r.Stop(ctx)
		cancel()
	}
	return r.Start()
}

// PruneNow deletes records older than the keep window.
func (r *Retention) PruneNow(ctx context.Context) (int, error) {
	r.mu.Lock()
	keep := r.keep
	r.mu.Unlock()
	if r.store == nil || keep <= 0 {
		return 0, nil
	}
	cutoff := r.now().Add(-keep)
	n, err := r.store.PruneBefore(ctx, cutoff)
	if err != nil {
		r.log.Warn("delivery prune failed", logx.Err(err))
		return 0, err
	}
	r.mu.Lock()
	r.lastN = n
	r.lastAt = r.now()
	r.mu.Unlock()
	if n > 0 {
		r.log.Info("pruned delivery records", logx.Int("removed", n), logx.Time("before", cutoff))
	}
	return n, nil
}

// LastRun reports when the last prune finished and how many records it removed.
func (r *Retention) LastRun() (time.Time, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastAt, r.lastN
}
