package refresh

import (
	"context"
	"time"

	"github.com/rushteam/phoenix/logging"
)

// Scheduler 按固定间隔运行刷新任务，实现 suture.Service。
// 单次运行失败只记录日志，不退出；上一次未结束时不会启动下一次。
type Scheduler struct {
	job      *Job
	opts     Options
	interval time.Duration
	runNow   bool

	// 每次运行结束后回调，测试用
	onDone func(*Stats, error)
}

// NewScheduler 创建调度器。interval <= 0 时 Serve 直接阻塞到 ctx 结束。
func NewScheduler(job *Job, opts Options, interval time.Duration, runOnStart bool) *Scheduler {
	return &Scheduler{job: job, opts: opts, interval: interval, runNow: runOnStart}
}

// Serve 实现 suture.Service
func (s *Scheduler) Serve(ctx context.Context) error {
	if s.interval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	if s.runNow {
		s.runOnce(ctx)
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	stats, err := s.job.Run(ctx, s.opts)
	if err != nil && ctx.Err() == nil {
		logging.Error().Err(err).Msg("scheduled feature refresh failed")
	}
	if s.onDone != nil {
		s.onDone(stats, err)
	}
}

func (s *Scheduler) String() string { return "feature-refresh" }
