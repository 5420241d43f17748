package engine

import (
	"context"
	"fmt"
	"log/slog"

	"auctionhouse/adapters/economy"
	"auctionhouse/adapters/sse"
	"auctionhouse/adapters/store"
)

// Engine 是整個拍賣引擎的組合根
// 所有元件在這裡被建立並明確地注入彼此，取代原本散落各處的全域單例；
// 外部的指令分派層透過 Registry / Directory / Ledger 操作，
// 外部的計時器透過 Scheduler.RunCycle 驅動結算
type Engine struct {
	Registry  *Registry
	Directory *Directory
	Ledger    *Ledger
	Scheduler *Scheduler
	Events    sse.IBroadcaster[Event]

	store   store.IStore
	flusher *store.Flusher
	logger  *slog.Logger
	cfg     Config
}

// New 建立並接線所有元件，需呼叫 Load 載入狀態後才能開始服務
func New(cfg Config, eco economy.IEconomy, st store.IStore, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.normalize()

	flusher := store.NewFlusher(st,
		store.WithFlusherLogger(logger),
		store.WithFlusherInterval(cfg.PersistInterval),
	)
	events := sse.NewBroadcaster[Event](sse.WithBroadcasterLogger(logger))
	directory := NewDirectory(eco, flusher, logger, cfg)
	ledger := NewLedger(flusher, logger)
	registry := NewRegistry(eco, directory, ledger, flusher, events, logger, cfg)
	scheduler := NewScheduler(registry, flusher, logger, cfg)

	return &Engine{
		Registry:  registry,
		Directory: directory,
		Ledger:    ledger,
		Scheduler: scheduler,
		Events:    events,
		store:     st,
		flusher:   flusher,
		logger:    logger,
		cfg:       cfg,
	}
}

// Load 從儲存層載入完整狀態並啟動持久化
// 順序比照重啟前的存檔：參與者、進行中的上架、交易紀錄尾端
func (e *Engine) Load(ctx context.Context) error {
	const op = "Engine.Load"

	snapshot, err := e.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("[%s] Fail to load state, err=%w", op, err)
	}
	e.Directory.seed(snapshot.Participants)
	e.Registry.seed(snapshot.Listings)
	e.Ledger.seed(snapshot.Transactions)
	e.flusher.Start()

	e.logger.Info("auction house loaded",
		slog.Int("listings", len(snapshot.Listings)),
		slog.Int("participants", len(snapshot.Participants)),
		slog.Int("transactions", len(snapshot.Transactions)))
	return nil
}

// Shutdown 有序地關閉引擎
// 先拒絕新的操作並等待進行中的操作完成，再把完整狀態排入寫入佇列，
// 最後等待佇列全部寫完才返回
func (e *Engine) Shutdown(ctx context.Context) error {
	e.logger.Info("auction house shutting down")

	e.Registry.Drain()
	e.Events.Done()

	// 最終存檔：upsert 具冪等性，與先前排程的寫入重複也無妨
	for _, listing := range e.Registry.AllActive() {
		e.flusher.SaveListing(listing)
	}
	for _, participant := range e.Directory.All() {
		e.flusher.SaveParticipant(participant)
	}
	e.flusher.Close()

	e.logger.Info("auction house stopped")
	return nil
}
