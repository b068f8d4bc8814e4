package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Engine runs the registered checkers, in parallel, on demand or on a
// periodic schedule.
type Engine struct {
	logger   *zap.Logger
	interval time.Duration

	mu       sync.RWMutex
	checkers map[string]Checker
	running  bool
	stopCh   chan struct{}
}

// NewEngine creates a health engine with the given check interval.
func NewEngine(logger *zap.Logger, interval time.Duration) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval == 0 {
		interval = 30 * time.Second
	}
	return &Engine{
		logger:   logger.With(zap.String("component", "health")),
		interval: interval,
		checkers: make(map[string]Checker),
		stopCh:   make(chan struct{}),
	}
}

// Register adds a checker under its component name.
func (e *Engine) Register(c Checker) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.checkers[c.Name()] = c
	e.logger.Info("Registered health checker", zap.String("checker", c.Name()))
}

// Unregister removes a checker.
func (e *Engine) Unregister(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.checkers, name)
}

// CheckAll runs every registered checker concurrently and aggregates the
// results.
func (e *Engine) CheckAll(ctx context.Context) *Aggregated {
	e.mu.RLock()
	checkers := make(map[string]Checker, len(e.checkers))
	for name, c := range e.checkers {
		checkers[name] = c
	}
	e.mu.RUnlock()

	results := make(map[string]*Result, len(checkers))
	var wg sync.WaitGroup
	var resultsMu sync.Mutex
	for name, c := range checkers {
		wg.Add(1)
		go func(name string, c Checker) {
			defer wg.Done()
			start := time.Now()
			r := c.Check(ctx)
			r.Duration = time.Since(start)
			resultsMu.Lock()
			results[name] = r
			resultsMu.Unlock()
		}(name, c)
	}
	wg.Wait()

	return &Aggregated{
		OverallStatus: Overall(results),
		Components:    results,
		Timestamp:     time.Now(),
	}
}

// Start runs periodic checks until the context is cancelled or Stop is
// called.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.mu.Unlock()

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			e.setStopped()
			return
		case <-e.stopCh:
			e.setStopped()
			return
		case <-ticker.C:
			result := e.CheckAll(ctx)
			e.logger.Debug("Health check completed",
				zap.String("status", string(result.OverallStatus)),
				zap.Int("components", len(result.Components)))
		}
	}
}

// Stop ends periodic checking.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return
	}
	close(e.stopCh)
	e.stopCh = make(chan struct{})
}

func (e *Engine) setStopped() {
	e.mu.Lock()
	e.running = false
	e.mu.Unlock()
}
