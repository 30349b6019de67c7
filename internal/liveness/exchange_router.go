package liveness

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"botdash/internal/models"
)

// Route - домен, на котором найден живой API бота
type Route struct {
	Domain string
	Sample models.HeartbeatSample
}

// RaceResult - итог гонки по кандидатам
//
// Route - ответивший кандидат с наименьшим возрастом heartbeat, даже
// если он не свежий: остановленный бот продолжает отвечать на /health.
// Found - Route свежий.
type RaceResult struct {
	Route        Route
	Found        bool
	Answered     int      // сколько кандидатов вообще ответили
	Unauthorized bool     // хотя бы один кандидат ответил 401/403
	Rejected     []string // домены, ответившие 401/403
}

// ExchangeRouter определяет, какой из доменов-кандидатов обслуживает бота
//
// Все кандидаты опрашиваются параллельно, и ответы ждутся от всех:
// медленный, но свежий кандидат не должен проиграть быстрому отказу.
// Суммарное ожидание ограничено таймаутом одного probe.
type ExchangeRouter struct {
	probe      HeartbeatProbe
	candidates []string
	threshold  time.Duration
	timeout    time.Duration
	logger     *zap.Logger
}

// NewExchangeRouter создает роутер
//
// threshold - порог свежести heartbeat, timeout - граница каждого probe.
func NewExchangeRouter(probe HeartbeatProbe, candidates []string, threshold, timeout time.Duration, logger *zap.Logger) *ExchangeRouter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExchangeRouter{
		probe:      probe,
		candidates: append([]string(nil), candidates...),
		threshold:  threshold,
		timeout:    timeout,
		logger:     logger.With(zap.String("component", "exchange_router")),
	}
}

// Candidates возвращает список доменов-кандидатов
func (r *ExchangeRouter) Candidates() []string {
	return append([]string(nil), r.candidates...)
}

type candidateResult struct {
	domain string
	sample models.HeartbeatSample
	err    error
}

// Resolve опрашивает всех кандидатов и выбирает свежего с наименьшим возрастом
func (r *ExchangeRouter) Resolve(ctx context.Context, strategy, userID string) RaceResult {
	results := make([]candidateResult, len(r.candidates))

	var wg sync.WaitGroup
	for i, domain := range r.candidates {
		wg.Add(1)
		go func(i int, domain string) {
			defer wg.Done()
			pctx, cancel := withTimeout(ctx, r.timeout)
			defer cancel()
			sample, err := r.probe.FetchHeartbeat(pctx, Endpoint{Domain: domain, Strategy: strategy, UserID: userID})
			results[i] = candidateResult{domain: domain, sample: sample, err: err}
		}(i, domain)
	}
	wg.Wait()

	var res RaceResult
	var best *candidateResult
	var fresh []string
	for i := range results {
		cr := &results[i]
		if cr.err != nil {
			if errors.Is(cr.err, ErrUnauthorized) {
				res.Unauthorized = true
				res.Rejected = append(res.Rejected, cr.domain)
			}
			continue
		}
		res.Answered++
		if cr.sample.Fresh(r.threshold) {
			fresh = append(fresh, cr.domain)
		}
		// при равном возрасте побеждает кандидат, идущий раньше в списке
		if best == nil || cr.sample.Age() < best.sample.Age() {
			best = cr
		}
	}

	if best == nil {
		return res
	}

	res.Route = Route{Domain: best.domain, Sample: best.sample}
	res.Found = best.sample.Fresh(r.threshold)

	if len(fresh) > 1 {
		inconsistentRoutes.Inc()
		r.logger.Warn("exchange race resolved by tie-break",
			zap.String("strategy", strategy),
			zap.Strings("fresh_domains", fresh),
			zap.String("selected", best.domain),
			zap.Error(ErrInconsistent))
	}

	return res
}

// Verify повторно проверяет закешированный домен
//
// При отказе probe делается ровно одна повторная попытка; только после
// второго отказа вызывающий может начать новую гонку.
func (r *ExchangeRouter) Verify(ctx context.Context, ep Endpoint) (models.HeartbeatSample, error) {
	var sample models.HeartbeatSample
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		pctx, cancel := withTimeout(ctx, r.timeout)
		sample, err = r.probe.FetchHeartbeat(pctx, ep)
		cancel()
		if err == nil || errors.Is(err, ErrUnauthorized) || ctx.Err() != nil {
			return sample, err
		}
	}
	return sample, err
}
