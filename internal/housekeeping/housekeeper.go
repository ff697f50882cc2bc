package housekeeping

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
)

// Purger removes availability windows that fell out of retention.
type Purger interface {
	PurgeExpiredAvailability(ctx context.Context, today appointment.Date) (int64, error)
}

// Housekeeper runs the purge on a cron schedule. Runs never overlap.
type Housekeeper struct {
	purger  Purger
	logger  *zap.Logger
	cron    *cron.Cron
	timeout time.Duration
	now     func() time.Time
}

func New(purger Purger, schedule string, logger *zap.Logger) (*Housekeeper, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Housekeeper{
		purger:  purger,
		logger:  logger.Named("housekeeper"),
		timeout: time.Minute,
		now:     time.Now,
	}

	cl := cronLogger{h.logger.Sugar()}
	h.cron = cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))

	if _, err := h.cron.AddFunc(schedule, func() { h.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("invalid housekeeping schedule %q: %w", schedule, err)
	}
	return h, nil
}

// Start runs the purge once, then on schedule until ctx is done.
func (h *Housekeeper) Start(ctx context.Context) {
	h.logger.Info("housekeeper started")
	h.RunOnce(ctx)
	h.cron.Start()

	<-ctx.Done()

	h.logger.Info("shutdown signal received, waiting for a running purge")
	<-h.cron.Stop().Done()
}

// RunOnce purges windows older than the retention period counted from today's local date.
func (h *Housekeeper) RunOnce(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	start := time.Now()
	today := appointment.DateOf(h.now())

	n, err := h.purger.PurgeExpiredAvailability(runCtx, today)
	if err != nil {
		h.logger.Error("purge run error", zap.Stringer("today", today), zap.Error(err))
		return
	}
	h.logger.Info("purge run complete",
		zap.Stringer("today", today),
		zap.Int64("removed", n),
		zap.Duration("took", time.Since(start)),
	)
}

type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
