package liveness

import (
	"context"
	"sync"
	"time"

	"botdash/internal/models"
)

// ============================================================
// Тестовые заглушки источников сигналов
// ============================================================

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type probeFunc func(ctx context.Context, ep Endpoint) (models.HeartbeatSample, error)

// heartbeatAged - ответ с заданным возрастом heartbeat
func heartbeatAged(age time.Duration) probeFunc {
	return func(ctx context.Context, ep Endpoint) (models.HeartbeatSample, error) {
		now := time.Now().UTC()
		return models.HeartbeatSample{LastProcessedAt: now.Add(-age), ObservedAt: now}, nil
	}
}

// heartbeatAfter - ответ через delay (или таймаут, если ctx истечет раньше)
func heartbeatAfter(delay, age time.Duration) probeFunc {
	return func(ctx context.Context, ep Endpoint) (models.HeartbeatSample, error) {
		select {
		case <-time.After(delay):
			return heartbeatAged(age)(ctx, ep)
		case <-ctx.Done():
			return models.HeartbeatSample{}, ErrTimeout
		}
	}
}

// hang - кандидат, который не отвечает до истечения ctx
func hang(ctx context.Context, ep Endpoint) (models.HeartbeatSample, error) {
	<-ctx.Done()
	return models.HeartbeatSample{}, ErrTimeout
}

func failWith(err error) probeFunc {
	return func(ctx context.Context, ep Endpoint) (models.HeartbeatSample, error) {
		return models.HeartbeatSample{}, err
	}
}

type fakeProbe struct {
	mu       sync.Mutex
	handlers map[string]probeFunc
	calls    map[string]int
}

func newFakeProbe() *fakeProbe {
	return &fakeProbe{
		handlers: make(map[string]probeFunc),
		calls:    make(map[string]int),
	}
}

func (p *fakeProbe) set(domain string, fn probeFunc) {
	p.mu.Lock()
	p.handlers[domain] = fn
	p.mu.Unlock()
}

func (p *fakeProbe) count(domain string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[domain]
}

func (p *fakeProbe) total() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		n += c
	}
	return n
}

func (p *fakeProbe) FetchHeartbeat(ctx context.Context, ep Endpoint) (models.HeartbeatSample, error) {
	p.mu.Lock()
	p.calls[ep.Domain]++
	fn := p.handlers[ep.Domain]
	p.mu.Unlock()

	if fn == nil {
		return models.HeartbeatSample{}, ErrUnreachable
	}
	return fn(ctx, ep)
}

type fakeDeployment struct {
	mu    sync.Mutex
	sig   models.DeploymentSignal
	err   error
	calls int
}

func (d *fakeDeployment) set(sig models.DeploymentSignal, err error) {
	d.mu.Lock()
	d.sig, d.err = sig, err
	d.mu.Unlock()
}

func (d *fakeDeployment) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (d *fakeDeployment) FetchPhase(ctx context.Context, id models.BotIdentity) (models.DeploymentSignal, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.err != nil {
		return unknownSignal, d.err
	}
	return d.sig, nil
}

type fakeStore struct {
	mu     sync.Mutex
	lk     models.LastKnown
	err    error
	reads  int
	writes []models.LastKnown
}

func (s *fakeStore) readCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

func (s *fakeStore) written() []models.LastKnown {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.LastKnown(nil), s.writes...)
}

func (s *fakeStore) GetLastKnown(ctx context.Context, botID string) (models.LastKnown, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	return s.lk, s.err
}

func (s *fakeStore) UpdateLastKnown(ctx context.Context, botID string, lk models.LastKnown) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, lk)
	return nil
}

type fakeTrades struct {
	mu    sync.Mutex
	count int
	err   error
	calls int
}

func (f *fakeTrades) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeTrades) FetchOpenTradeCount(ctx context.Context, ep Endpoint) (*int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	n := f.count
	return &n, nil
}

type fakeController struct {
	mu       sync.Mutex
	startErr error
	stopErr  error
	calls    map[string]int
}

func newFakeController() *fakeController {
	return &fakeController{calls: make(map[string]int)}
}

func (c *fakeController) count(action string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[action]
}

func (c *fakeController) Start(ctx context.Context, ep Endpoint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[ActionStart]++
	return c.startErr
}

func (c *fakeController) Stop(ctx context.Context, ep Endpoint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[ActionStop]++
	return c.stopErr
}

func (c *fakeController) StopBuy(ctx context.Context, ep Endpoint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[ActionStopBuy]++
	return nil
}
