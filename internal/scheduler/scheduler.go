// Package scheduler runs the periodic jobs: idle visitor eviction and the
// optional booking digest.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const sweepSpec = "@every 1m"

type Sweeper interface {
	Sweep() int
}

type DigestSender interface {
	SendDigest(ctx context.Context) error
}

type Scheduler struct {
	cron *cron.Cron
	log  *zap.Logger
}

// New registers the jobs. An empty digestSpec disables the digest.
func New(sweeper Sweeper, onSweep func(evicted int), digest DigestSender, digestSpec string, log *zap.Logger) (*Scheduler, error) {
	if log == nil {
		log = zap.NewNop()
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cronLogger{log})))

	if _, err := c.AddFunc(sweepSpec, func() {
		n := sweeper.Sweep()
		if onSweep != nil {
			onSweep(n)
		}
	}); err != nil {
		return nil, fmt.Errorf("schedule visitor sweep: %w", err)
	}

	if digestSpec != "" && digest != nil {
		if _, err := c.AddFunc(digestSpec, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			if err := digest.SendDigest(ctx); err != nil {
				log.Error("booking digest failed", zap.Error(err))
			}
		}); err != nil {
			return nil, fmt.Errorf("schedule digest %q: %w", digestSpec, err)
		}
	}
	return &Scheduler{cron: c, log: log}, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Debug("scheduler started", zap.Int("jobs", len(s.cron.Entries())))
}

// Stop halts scheduling and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

func (s *Scheduler) Jobs() int { return len(s.cron.Entries()) }

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	log *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
