package jobs

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemohq/mnemo/pkg/blob"
	"github.com/mnemohq/mnemo/pkg/cache"
	"github.com/mnemohq/mnemo/pkg/memory"
)

func createTestScheduler(t *testing.T, cfg Config) (*Scheduler, *memory.Service, func()) {
	t.Helper()

	dir := t.TempDir()
	provider := memory.NewStubProvider(64)
	store, err := memory.OpenStore(memory.StoreConfig{
		Path:      filepath.Join(dir, "mnemo.db"),
		Logger:    zerolog.Nop(),
		Dimension: provider.Dimension(),
	})
	if err != nil && strings.Contains(err.Error(), "fts5") {
		t.Skip("sqlite built without FTS5; rebuild with -tags sqlite_fts5")
	}
	require.NoError(t, err)

	blobs, err := blob.NewLocal(filepath.Join(dir, "blobs"), zerolog.Nop())
	require.NoError(t, err)

	svc := memory.NewService(store, cache.NewMemory(cache.Config{}), blobs,
		provider, nil, memory.ServiceConfig{}, zerolog.Nop())

	return NewScheduler(svc, cfg, zerolog.Nop()), svc, func() { store.Close() }
}

func write(t *testing.T, svc *memory.Service, scope memory.Scope, kind memory.Kind, title, content string) memory.Entry {
	t.Helper()
	res, err := svc.Write(context.Background(), memory.WriteRequest{
		TenantID: "acme",
		Scope:    scope,
		Kind:     kind,
		Title:    title,
		Content:  content,
	})
	require.NoError(t, err)
	return res.Entry
}

func TestRunSummarize(t *testing.T) {
	sched, svc, cleanup := createTestScheduler(t, Config{})
	defer cleanup()
	ctx := context.Background()

	scope := memory.Scope{Project: "apollo"}
	write(t, svc, scope, memory.KindDecision, "Use Postgres", "We picked Postgres over MySQL")
	write(t, svc, scope, memory.KindTaskOutcome, "Migration done", "Schema migration completed cleanly")

	require.NoError(t, sched.RunSummarize(ctx))

	store := svc.Store()
	scopeID, err := store.ResolveScope(ctx, "acme", scope)
	require.NoError(t, err)

	period := "period:" + time.Now().Format("2006-01-02")
	summary, err := store.SummaryForPeriod(ctx, "acme", scopeID, period)
	require.NoError(t, err)
	require.NotNil(t, summary)
	assert.Equal(t, memory.KindSummary, summary.Kind)

	// Second run rewrites the same summary, never a second entry
	before, err := store.CountEntries(ctx, "acme")
	require.NoError(t, err)
	require.NoError(t, sched.RunSummarize(ctx))
	after, err := store.CountEntries(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestRunSummarize_NoActivity(t *testing.T) {
	sched, _, cleanup := createTestScheduler(t, Config{})
	defer cleanup()

	assert.NoError(t, sched.RunSummarize(context.Background()))
}

func TestRunPromote(t *testing.T) {
	sched, svc, cleanup := createTestScheduler(t, Config{PromoteMinRefs: 3})
	defer cleanup()
	ctx := context.Background()

	scope := memory.Scope{Project: "apollo"}
	outcome := write(t, svc, scope, memory.KindTaskOutcome, "Fixed flaky deploy", "Pinned the base image")
	thin := write(t, svc, scope, memory.KindTaskOutcome, "Minor cleanup", "Renamed a variable")

	for _, content := range []string{"deploy note one", "deploy note two", "deploy note three"} {
		ref := write(t, svc, scope, memory.KindChatTurn, "", content)
		_, err := svc.LinkEntries(ctx, "acme", ref.ID, outcome.ID, memory.RelationSupports, "")
		require.NoError(t, err)
	}

	require.NoError(t, sched.RunPromote(ctx))

	got, err := svc.Store().GetEntry(ctx, "acme", outcome.ID)
	require.NoError(t, err)
	assert.True(t, got.Promoted())

	got, err = svc.Store().GetEntry(ctx, "acme", thin.ID)
	require.NoError(t, err)
	assert.False(t, got.Promoted())
}

func TestRunPrune(t *testing.T) {
	sched, svc, cleanup := createTestScheduler(t, Config{PruneAge: time.Nanosecond})
	defer cleanup()
	ctx := context.Background()

	scope := memory.Scope{Project: "apollo"}
	stale := write(t, svc, scope, memory.KindChatTurn, "", "ephemeral chatter")
	kept := write(t, svc, scope, memory.KindChatTurn, "", "important chatter")
	decision := write(t, svc, scope, memory.KindDecision, "Keep me", "decisions are never pruned")

	require.NoError(t, svc.Store().AddTag(ctx, kept.ID, memory.TagPromoted))

	// Everything above is already older than a nanosecond cutoff.
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, sched.RunPrune(ctx))

	store := svc.Store()
	_, err := store.GetEntry(ctx, "acme", stale.ID)
	assert.ErrorIs(t, err, memory.ErrNotFound)

	_, err = store.GetEntry(ctx, "acme", kept.ID)
	assert.NoError(t, err)
	_, err = store.GetEntry(ctx, "acme", decision.ID)
	assert.NoError(t, err)
}

func TestSchedulerStartStop(t *testing.T) {
	sched, _, cleanup := createTestScheduler(t, Config{
		SummarizeSchedule: "0 2 * * *",
		PromoteSchedule:   "",
		PruneSchedule:     "",
	})
	defer cleanup()

	require.NoError(t, sched.Start(context.Background()))
	sched.Stop()
}

func TestSchedulerStartBadSchedule(t *testing.T) {
	sched, _, cleanup := createTestScheduler(t, Config{SummarizeSchedule: "not a cron spec"})
	defer cleanup()

	assert.Error(t, sched.Start(context.Background()))
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}
	cfg.withDefaults()
	def := DefaultConfig()
	assert.Equal(t, def.SummarizeLookback, cfg.SummarizeLookback)
	assert.Equal(t, def.PromoteMinRefs, cfg.PromoteMinRefs)
	assert.Equal(t, def.PruneAge, cfg.PruneAge)
	assert.Equal(t, def.BatchSize, cfg.BatchSize)

	// Schedules stay as given; empty means disabled, not defaulted
	assert.Empty(t, cfg.SummarizeSchedule)
}
