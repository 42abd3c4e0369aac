// Package jobs runs the scheduled maintenance work: periodic scope
// summaries, promotion of frequently referenced outcomes, and pruning of
// stale chat turns. Every job iterates tenants in bounded batches so a
// large tenant cannot starve the rest.
package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/mnemohq/mnemo/internal/observability"
	"github.com/mnemohq/mnemo/pkg/memory"
)

// Config holds the cron schedules and job tuning knobs.
type Config struct {
	SummarizeSchedule string // cron expression, empty disables the job
	PromoteSchedule   string
	PruneSchedule     string

	SummarizeLookback time.Duration // scopes active within this window get summarized
	PromoteMinRefs    int
	PromoteLookback   time.Duration
	PruneAge          time.Duration
	BatchSize         int
}

// DefaultConfig mirrors the documented defaults: daily summaries, hourly
// promotion sweeps, nightly pruning of month-old chat turns.
func DefaultConfig() Config {
	return Config{
		SummarizeSchedule: "0 2 * * *",
		PromoteSchedule:   "30 * * * *",
		PruneSchedule:     "0 3 * * *",
		SummarizeLookback: 24 * time.Hour,
		PromoteMinRefs:    3,
		PromoteLookback:   30 * 24 * time.Hour,
		PruneAge:          30 * 24 * time.Hour,
		BatchSize:         100,
	}
}

func (c *Config) withDefaults() {
	def := DefaultConfig()
	if c.SummarizeLookback <= 0 {
		c.SummarizeLookback = def.SummarizeLookback
	}
	if c.PromoteMinRefs <= 0 {
		c.PromoteMinRefs = def.PromoteMinRefs
	}
	if c.PromoteLookback <= 0 {
		c.PromoteLookback = def.PromoteLookback
	}
	if c.PruneAge <= 0 {
		c.PruneAge = def.PruneAge
	}
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
}

// Scheduler owns the cron loop and the three maintenance jobs.
type Scheduler struct {
	svc    *memory.Service
	cfg    Config
	logger zerolog.Logger

	cron *cron.Cron
	mu   sync.Mutex // one job instance at a time per scheduler
}

// NewScheduler builds a scheduler. Call Start to begin running jobs.
func NewScheduler(svc *memory.Service, cfg Config, logger zerolog.Logger) *Scheduler {
	observability.EnsureRegistered()
	cfg.withDefaults()
	return &Scheduler{
		svc:    svc,
		cfg:    cfg,
		logger: logger.With().Str("component", "jobs").Logger(),
	}
}

// Start registers the configured jobs and starts the cron loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.cron = cron.New()

	register := func(name, spec string, job func(context.Context) error) error {
		if spec == "" {
			s.logger.Info().Str("job", name).Msg("Job disabled, no schedule")
			return nil
		}
		_, err := s.cron.AddFunc(spec, func() { s.runJob(ctx, name, job) })
		if err != nil {
			return err
		}
		s.logger.Info().Str("job", name).Str("schedule", spec).Msg("Job scheduled")
		return nil
	}

	if err := register("summarize", s.cfg.SummarizeSchedule, s.RunSummarize); err != nil {
		return err
	}
	if err := register("promote", s.cfg.PromoteSchedule, s.RunPromote); err != nil {
		return err
	}
	if err := register("prune", s.cfg.PruneSchedule, s.RunPrune); err != nil {
		return err
	}

	s.cron.Start()
	return nil
}

// Stop halts the cron loop and waits for a running job to finish.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	s.mu.Lock()
	s.mu.Unlock()
}

func (s *Scheduler) runJob(ctx context.Context, name string, job func(context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	runID := uuid.NewString()
	start := time.Now()
	logger := s.logger.With().Str("job", name).Str("run_id", runID).Logger()
	logger.Info().Msg("Job started")

	err := job(ctx)
	status := "ok"
	if err != nil {
		status = "error"
		logger.Error().Err(err).Msg("Job failed")
	} else {
		logger.Info().Dur("elapsed", time.Since(start)).Msg("Job finished")
	}
	observability.RecordJobRun(name, status, time.Since(start))
}

// RunSummarize writes a period summary for every scope with recent
// activity, across all tenants. Per-scope failures are logged and skipped.
func (s *Scheduler) RunSummarize(ctx context.Context) error {
	store := s.svc.Store()
	tenants, err := store.TenantIDs(ctx)
	if err != nil {
		return err
	}

	period := time.Now().Format("2006-01-02")
	since := time.Now().Add(-s.cfg.SummarizeLookback).UnixNano()
	for _, tenant := range tenants {
		scopes, err := store.ActiveScopeIDs(ctx, tenant, since)
		if err != nil {
			s.logger.Warn().Err(err).Str("tenant", tenant).Msg("Active scope listing failed")
			continue
		}
		for _, scopeID := range scopes {
			scope, err := store.ScopeByID(ctx, tenant, scopeID)
			if err != nil {
				s.logger.Warn().Err(err).Str("scope", scopeID).Msg("Scope lookup failed")
				continue
			}
			res, err := s.svc.SummarizeScope(ctx, memory.SummarizeRequest{
				TenantID:   tenant,
				Scope:      *scope,
				Period:     period,
				Mode:       "brief",
				MaxEntries: s.cfg.BatchSize,
				Principal:  memory.SystemPrincipal,
			})
			if err != nil {
				s.logger.Warn().Err(err).Str("tenant", tenant).Str("scope", scopeID).
					Msg("Scope summarize failed")
				continue
			}
			s.logger.Debug().Str("summary", res.SummaryID).Int("sources", res.Sources).
				Bool("updated", res.Updated).Msg("Scope summarized")
		}
	}
	return nil
}

// RunPromote tags task outcomes referenced by enough other entries within
// the lookback window, lifting them out of prune eligibility.
func (s *Scheduler) RunPromote(ctx context.Context) error {
	store := s.svc.Store()
	tenants, err := store.TenantIDs(ctx)
	if err != nil {
		return err
	}

	since := time.Now().Add(-s.cfg.PromoteLookback).UnixNano()
	promoted := 0
	for _, tenant := range tenants {
		candidates, err := store.PromoteCandidates(ctx, tenant, s.cfg.PromoteMinRefs, since, s.cfg.BatchSize)
		if err != nil {
			s.logger.Warn().Err(err).Str("tenant", tenant).Msg("Promote candidate query failed")
			continue
		}
		for _, c := range candidates {
			if err := store.AddTag(ctx, c.ID, memory.TagPromoted); err != nil {
				s.logger.Warn().Err(err).Str("id", c.ID).Msg("Promotion tag failed")
				continue
			}
			promoted++
			s.logger.Debug().Str("id", c.ID).Int("refs", c.RefCount).Msg("Entry promoted")
		}
	}
	if promoted > 0 {
		s.logger.Info().Int("promoted", promoted).Msg("Promotion sweep complete")
	}
	return nil
}

// RunPrune deletes chat turns older than the configured age, except those
// carrying the promoted tag. Other kinds are never pruned.
func (s *Scheduler) RunPrune(ctx context.Context) error {
	store := s.svc.Store()
	tenants, err := store.TenantIDs(ctx)
	if err != nil {
		return err
	}

	cutoff := time.Now().Add(-s.cfg.PruneAge).UnixNano()
	total := 0
	for _, tenant := range tenants {
		scopes, err := store.ScopeIDs(ctx, tenant)
		if err != nil {
			s.logger.Warn().Err(err).Str("tenant", tenant).Msg("Scope listing failed")
			continue
		}
		for _, scopeID := range scopes {
			for {
				n, err := store.PruneChatTurns(ctx, tenant, scopeID, cutoff, s.cfg.BatchSize)
				if err != nil {
					s.logger.Warn().Err(err).Str("tenant", tenant).Str("scope", scopeID).
						Msg("Prune batch failed")
					break
				}
				total += n
				if n < s.cfg.BatchSize {
					break
				}
			}
		}
	}
	if total > 0 {
		s.logger.Info().Int("pruned", total).Msg("Prune sweep complete")
	}
	return nil
}
