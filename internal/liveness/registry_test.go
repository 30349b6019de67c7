package liveness

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"botdash/internal/models"
)

func newTestRegistry(t *testing.T) (*Registry, *fakeProbe) {
	t.Helper()

	probe := newFakeProbe()
	probe.set(domainA, heartbeatAged(time.Second))
	router := NewExchangeRouter(probe, testCandidates, 120*time.Second, 300*time.Millisecond, zap.NewNop())

	factory := func(id models.BotIdentity, generation string) *Engine {
		deps := Dependencies{
			Router:     router,
			Deployment: &fakeDeployment{sig: models.DeploymentSignal{Phase: models.PhaseNotFound}},
			Trades:     &fakeTrades{},
			Control:    newFakeController(),
		}
		return NewEngine(id, generation, deps, testOptions(), zap.NewNop())
	}

	reg := NewRegistry(context.Background(), factory, zap.NewNop())
	t.Cleanup(reg.Close)
	return reg, probe
}

func TestRegistry_SharesEngineAcrossViews(t *testing.T) {
	reg, _ := newTestRegistry(t)
	id := models.BotIdentity{BotID: "bot-1", UserID: "user-1", StrategyIdentifier: "alpha", ExchangeBinding: domainA}

	first, releaseFirst := reg.Acquire(id)
	second, releaseSecond := reg.Acquire(id)
	require.Same(t, first, second)
	assert.Equal(t, 1, reg.Len())

	releaseFirst()
	releaseFirst() // повторный release игнорируется
	assert.False(t, first.Disposed())

	releaseSecond()
	assert.True(t, first.Disposed())
	assert.Zero(t, reg.Len())
}

func TestRegistry_RemountGetsNewGeneration(t *testing.T) {
	reg, _ := newTestRegistry(t)
	id := models.BotIdentity{BotID: "bot-1", UserID: "user-1", StrategyIdentifier: "alpha", ExchangeBinding: domainA}

	old, releaseOld := reg.Acquire(id)
	<-old.Resolved()
	releaseOld()

	fresh, releaseFresh := reg.Acquire(id)
	defer releaseFresh()

	assert.NotSame(t, old, fresh)
	assert.NotEqual(t, old.Generation(), fresh.Generation())

	// поздний release старого поколения не трогает новое
	releaseOld()
	assert.False(t, fresh.Disposed())

	select {
	case <-fresh.Resolved():
	case <-time.After(2 * time.Second):
		t.Fatal("remounted engine did not resolve")
	}
	assert.Equal(t, models.LiveStatusRunning, fresh.Snapshot().LiveStatus)
}

func TestRegistry_Get(t *testing.T) {
	reg, _ := newTestRegistry(t)
	id := models.BotIdentity{BotID: "bot-7", StrategyIdentifier: "beta"}

	_, ok := reg.Get("bot-7")
	assert.False(t, ok)

	engine, release := reg.Acquire(id)
	defer release()

	got, ok := reg.Get("bot-7")
	require.True(t, ok)
	assert.Same(t, engine, got)
}

func TestRegistry_CloseDisposesAll(t *testing.T) {
	reg, _ := newTestRegistry(t)

	a, _ := reg.Acquire(models.BotIdentity{BotID: "a", StrategyIdentifier: "alpha"})
	b, _ := reg.Acquire(models.BotIdentity{BotID: "b", StrategyIdentifier: "beta"})

	reg.Close()

	assert.True(t, a.Disposed())
	assert.True(t, b.Disposed())
	assert.Zero(t, reg.Len())
}
