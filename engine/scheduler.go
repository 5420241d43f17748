package engine

import (
	"context"
	"log/slog"

	"auctionhouse/adapters/store"
)

// Scheduler 為到期結算的排程器
// 引擎本身不擁有計時器，由外部以固定週期呼叫 RunCycle；
// 每個週期依序執行掃描(SWEEPING)、結算(SETTLING)與持久化(PERSISTING)三個階段
type Scheduler struct {
	registry *Registry
	writer   store.IWriter
	logger   *slog.Logger
	cfg      Config
}

// NewScheduler 建立一個新的排程器
func NewScheduler(registry *Registry, writer store.IWriter, logger *slog.Logger, cfg Config) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		registry: registry,
		writer:   writer,
		logger:   logger.With(slog.String("caller", "Scheduler")),
		cfg:      cfg.normalize(),
	}
}

// CycleResult 為單一週期的執行結果
type CycleResult struct {
	Swept   int // 掃描到的到期上架數
	Settled int // 本週期完成結算的數量
	Failed  int // 結算失敗、留到下個週期的數量
}

// RunCycle 執行一個完整的週期
// 掃描階段先取得到期上架的快照，結算階段再逐筆處理；掃描後才被
// 買走或取消的上架會在結算時被重新確認並跳過。單筆結算的失敗
// 只記錄並留待下個週期，不會阻擋其他上架的結算
func (s *Scheduler) RunCycle(ctx context.Context) CycleResult {
	now := s.cfg.Now()

	// SWEEPING
	due := s.registry.dueListings(now)
	result := CycleResult{Swept: len(due)}

	// SETTLING
	for _, listingID := range due {
		if ctx.Err() != nil {
			s.logger.Warn("cycle interrupted", slog.Int("remaining", len(due)-result.Settled-result.Failed))
			break
		}
		if err := s.registry.settle(ctx, listingID, now); err != nil {
			result.Failed++
			s.logger.Error("settlement deferred to next cycle",
				slog.String("listing", listingID.String()),
				slog.Any("error", err))
			continue
		}
		result.Settled++
	}

	// PERSISTING: 結算過程排入的寫入在這裡被非同步送出，
	// 寫入失敗不會回滾記憶體中的結算結果
	s.writer.Kick()

	if result.Swept > 0 {
		s.logger.Info("cycle completed",
			slog.Int("swept", result.Swept),
			slog.Int("settled", result.Settled),
			slog.Int("failed", result.Failed))
	}
	return result
}
