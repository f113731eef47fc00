package chassis

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// SweepFunc 清理任务，返回清理的条目数
type SweepFunc func() int

// SweepEntry 清理任务信息
type SweepEntry struct {
	Name string    `json:"name"`
	Spec string    `json:"spec"`
	Next time.Time `json:"next"`
}

// Sweeper 周期性清理过期数据
type Sweeper struct {
	cron   *cron.Cron
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]sweepEntry
}

type sweepEntry struct {
	id   cron.EntryID
	spec string
}

// NewSweeper 创建清理器
// 使用标准 5 字段 cron 表达式，也支持 "@every 5m" 等描述符
func NewSweeper(logger *slog.Logger) *Sweeper {
	return &Sweeper{
		cron:    cron.New(),
		logger:  logger,
		entries: make(map[string]sweepEntry),
	}
}

// Add 添加清理任务，同名任务会被替换
func (s *Sweeper) Add(name, spec string, fn SweepFunc) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid sweep interval %q: %w", spec, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.entries[name]; ok {
		s.cron.Remove(old.id)
	}

	id, err := s.cron.AddFunc(spec, func() {
		if n := fn(); n > 0 {
			s.logger.Info("sweep completed", "task", name, "removed", n)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule sweep %s: %w", name, err)
	}
	s.entries[name] = sweepEntry{id: id, spec: spec}
	return nil
}

// Entries 返回所有清理任务
func (s *Sweeper) Entries() []SweepEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]SweepEntry, 0, len(s.entries))
	for name, e := range s.entries {
		out = append(out, SweepEntry{
			Name: name,
			Spec: e.spec,
			Next: s.cron.Entry(e.id).Next,
		})
	}
	return out
}

// Start 启动清理器
func (s *Sweeper) Start() {
	s.cron.Start()
	s.logger.Info("sweeper started", "tasks", len(s.entries))
}

// Stop 停止清理器，等待正在执行的任务结束
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("sweeper stopped")
}
