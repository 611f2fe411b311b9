package messagebus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/compliance-agents/coordination-core/internal/telemetry"
)

// Sweeper periodically expires overdue pending messages and reports bus
// depth. It runs alongside Bus but does not perform delivery itself —
// delivery is pull-based via Bus.Receive; the sweeper only handles the
// passage of time (expiry) the same way the search outbox's poll loop
// handles dead-letter archival on a timer.
type Sweeper struct {
	bus          *Bus
	pollInterval time.Duration

	started    atomic.Bool
	cancelLoop context.CancelFunc
	done       chan struct{}
	once       sync.Once
}

// NewSweeper creates a Sweeper for bus, polling every pollInterval.
func NewSweeper(bus *Bus, pollInterval time.Duration) *Sweeper {
	return &Sweeper{bus: bus, pollInterval: pollInterval, done: make(chan struct{})}
}

// Start begins the background sweep loop. Safe to call only once.
func (s *Sweeper) Start(ctx context.Context) {
	if !s.started.CompareAndSwap(false, true) {
		s.bus.logger.Warn("messagebus sweeper: Start called more than once, ignoring")
		return
	}
	s.registerMetrics()
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancelLoop = cancel
	go s.loop(loopCtx)
}

// Stop signals the sweep loop to exit and waits for it to finish or ctx to expire.
func (s *Sweeper) Stop(ctx context.Context) {
	if s.cancelLoop != nil {
		s.cancelLoop()
	}
	select {
	case <-s.done:
	case <-ctx.Done():
		s.bus.logger.Warn("messagebus sweeper: stop timed out")
	}
}

func (s *Sweeper) loop(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.once.Do(func() { close(s.done) })
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	n, err := s.bus.CleanupExpired(sweepCtx)
	if err != nil {
		s.bus.logger.Error("messagebus sweeper: cleanup expired", "error", err)
		return
	}
	if n > 0 {
		s.bus.logger.Info("messagebus sweeper: expired stale messages", "count", n)
	}
}

func (s *Sweeper) registerMetrics() {
	meter := telemetry.Meter("coordination-core/messagebus")
	_, _ = meter.Int64ObservableGauge("coord.bus.pending",
		metric.WithDescription("Pending agent_messages rows awaiting delivery"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			stats, err := s.bus.Stats(ctx)
			if err != nil {
				return nil
			}
			o.Observe(stats.Pending)
			return nil
		}),
	)
}
