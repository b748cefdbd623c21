package trigger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jdziat/docpipeline/pkg/core"
	"github.com/jdziat/docpipeline/pkg/schedule"
	"github.com/jdziat/docpipeline/pkg/security"
)

// Config holds trigger configuration.
type Config struct {
	TickInterval time.Duration
	Location     *time.Location
	MaxAttempts  int
	Logger       *slog.Logger
	Now          func() time.Time
}

// Option configures a Trigger.
type Option interface {
	applyTrigger(*Config)
}

type optionFunc func(*Config)

func (f optionFunc) applyTrigger(c *Config) { f(c) }

// TickInterval sets how often rules are evaluated.
func TickInterval(d time.Duration) Option {
	return optionFunc(func(c *Config) {
		if d > 0 {
			c.TickInterval = d
		}
	})
}

// Location sets the zone for rule specs that do not name one.
func Location(loc *time.Location) Option {
	return optionFunc(func(c *Config) {
		if loc != nil {
			c.Location = loc
		}
	})
}

// MaxAttempts sets the attempt ceiling of jobs materialized from rules.
func MaxAttempts(n int) Option {
	return optionFunc(func(c *Config) {
		c.MaxAttempts = security.ClampAttempts(n)
	})
}

// Logger sets the trigger's logger.
func Logger(l *slog.Logger) Option {
	return optionFunc(func(c *Config) {
		if l != nil {
			c.Logger = l
		}
	})
}

// Clock overrides the time source.
func Clock(now func() time.Time) Option {
	return optionFunc(func(c *Config) {
		c.Now = now
	})
}

// Trigger fires recurring rules.
type Trigger struct {
	store  core.Store
	config Config
}

// New creates a trigger over store.
func New(store core.Store, opts ...Option) *Trigger {
	config := Config{
		TickInterval: 30 * time.Second,
		Location:     time.UTC,
		Logger:       slog.Default(),
		Now:          time.Now,
	}
	for _, opt := range opts {
		opt.applyTrigger(&config)
	}
	return &Trigger{store: store, config: config}
}

// Register creates or updates the rule name. The schedule expression is validated before it
// is stored. A new rule's first firing is the first scheduled time after now;
// an existing rule keeps its watermark.
func (t *Trigger) Register(ctx context.Context, name, spec, kind string, payload any) error {
	if name == "" {
		return fmt.Errorf("recurring rule name cannot be empty")
	}
	if err := security.ValidateJobKind(kind); err != nil {
		return err
	}
	if _, err := schedule.Parse(spec, t.config.Location); err != nil {
		return fmt.Errorf("recurring rule %q: %w", name, err)
	}

	var data []byte
	if payload != nil {
		var err error
		if data, err = json.Marshal(payload); err != nil {
			return fmt.Errorf("recurring rule %q: marshal payload: %w", name, err)
		}
	}

	rule := &core.RecurringRule{Name: name, Spec: spec, Kind: kind, Payload: data}
	if err := t.store.UpsertRule(ctx, rule); err != nil {
		return err
	}
	t.config.Logger.Info("recurring rule registered",
		"rule", name,
		"spec", spec,
		"kind", kind,
		"last_fired", rule.LastFired)
	return nil
}

// Run evaluates rules immediately and then every tick interval until ctx is done.
func (t *Trigger) Run(ctx context.Context) error {
	t.config.Logger.Info("recurring trigger started", "tick_interval", t.config.TickInterval)

	ticker := time.NewTicker(t.config.TickInterval)
	defer ticker.Stop()

	for {
		if _, err := t.Tick(ctx); err != nil && ctx.Err() == nil {
			t.config.Logger.Error("recurring trigger tick failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick fires every rule that has a due scheduled time and returns how many
// jobs this trigger enqueued. A rule whose spec no longer parses is skipped.
func (t *Trigger) Tick(ctx context.Context) (int, error) {
	rules, err := t.store.ListRules(ctx)
	if err != nil {
		return 0, err
	}

	now := t.config.Now()
	fired := 0
	for _, rule := range rules {
		ok, err := t.fire(ctx, rule, now)
		if err != nil {
			if ctx.Err() != nil {
				return fired, ctx.Err()
			}
			t.config.Logger.Error("failed to fire recurring rule", "rule", rule.Name, "error", err)
			continue
		}
		if ok {
			fired++
		}
	}
	return fired, nil
}

func (t *Trigger) fire(ctx context.Context, rule *core.RecurringRule, now time.Time) (bool, error) {
	sched, err := schedule.Parse(rule.Spec, t.config.Location)
	if err != nil {
		return false, err
	}

	watermark := rule.CreatedAt
	if rule.LastFired != nil {
		watermark = *rule.LastFired
	}
	fireAt, due := schedule.Latest(sched, watermark, now)
	if !due {
		return false, nil
	}

	job := &core.Job{
		Kind:        rule.Kind,
		Payload:     rule.Payload,
		NotBefore:   now,
		MaxAttempts: t.config.MaxAttempts,
	}
	ok, err := t.store.FireRule(ctx, rule.Name, rule.Version, fireAt, job)
	if err != nil {
		return false, err
	}
	if !ok {
		t.config.Logger.Debug("recurring rule already fired elsewhere", "rule", rule.Name, "fire_at", fireAt)
		return false, nil
	}

	t.config.Logger.Info("recurring rule fired",
		"rule", rule.Name,
		"fire_at", fireAt,
		"job_id", job.ID,
		"kind", job.Kind)
	return true, nil
}
