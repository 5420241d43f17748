package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/smallnest/chanx"

	"auctionhouse/models"
)

type flushOp struct {
	listing     *models.Listing
	participant *models.Participant
	transaction *models.Transaction
}

type flusherOptions struct {
	logger     *slog.Logger
	bufferSize int
	interval   time.Duration
	timeout    time.Duration
}

type FlusherOption func(*flusherOptions)

// WithFlusherLogger 設置日誌記錄器
func WithFlusherLogger(logger *slog.Logger) FlusherOption {
	return func(o *flusherOptions) {
		o.logger = logger
	}
}

// WithFlusherInterval 設置寫入週期
func WithFlusherInterval(interval time.Duration) FlusherOption {
	return func(o *flusherOptions) {
		o.interval = interval
	}
}

// WithFlusherTimeout 設置單次寫入的逾時時間
func WithFlusherTimeout(timeout time.Duration) FlusherOption {
	return func(o *flusherOptions) {
		o.timeout = timeout
	}
}

// Flusher 實現了 IWriter 介面，將寫入操作收集後批次寫入儲存層
// 寫入失敗的操作會被保留，於下一個週期重試，不會被丟棄
// 記憶體中的狀態才是權威狀態，所以寫入失敗不會回滾引擎的任何變更
type Flusher struct {
	store      IStore
	upstream   *chanx.UnboundedChan[flushOp]
	kick       chan struct{}
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	mu         sync.Mutex
	closed     bool
	logger     *slog.Logger
	options    flusherOptions
}

// NewFlusher 建立一個新的 Flusher 實例，需呼叫 Start 後才會開始寫入
func NewFlusher(store IStore, opts ...FlusherOption) *Flusher {
	options := flusherOptions{
		logger:     slog.Default(),
		bufferSize: 256,
		interval:   10 * time.Second,
		timeout:    5 * time.Second,
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &Flusher{
		store:   store,
		kick:    make(chan struct{}, 1),
		closed:  true,
		logger:  options.logger.With(slog.String("caller", "Flusher")),
		options: options,
	}
}

// Start 啟動背景寫入的 goroutine
func (f *Flusher) Start() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	f.upstream = chanx.NewUnboundedChan[flushOp](ctx, f.options.bufferSize)
	f.cancelFunc = cancel
	f.closed = false
	f.logger.Info("starting persistence flusher")

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		defer f.logger.Info("flusher goroutine stopped")

		ticker := time.NewTicker(f.options.interval)
		defer ticker.Stop()

		var pending []flushOp
		for {
			select {
			case op, ok := <-f.upstream.Out:
				if !ok {
					// In 已關閉且佇列已清空，做最後一次 flush 後結束
					f.flush(append(pending, f.drain()...))
					return
				}
				pending = append(pending, op)
			case <-ticker.C:
				pending = f.flush(pending)
			case <-f.kick:
				pending = append(pending, f.drain()...)
				pending = f.flush(pending)
			}
		}
	}()
}

// drain 非阻塞地取出佇列中目前累積的所有操作
func (f *Flusher) drain() []flushOp {
	var ops []flushOp
	for {
		select {
		case op, ok := <-f.upstream.Out:
			if !ok {
				return ops
			}
			ops = append(ops, op)
		default:
			return ops
		}
	}
}

// coalesce 合併批次中對同一筆上架或參與者的重複寫入，只保留最新的快照
// 操作依排入順序排列，重試中的操作一定排在較新的操作前面，
// 所以被保留的永遠是最新狀態；舊快照在這裡被丟棄，不會在重試時
// 覆蓋掉已寫入的較新狀態。交易紀錄以序號為鍵且只附加，不需要合併
func coalesce(ops []flushOp) []flushOp {
	lastListing := make(map[uuid.UUID]int)
	lastParticipant := make(map[uuid.UUID]int)
	for i, op := range ops {
		switch {
		case op.listing != nil:
			lastListing[op.listing.ID] = i
		case op.participant != nil:
			lastParticipant[op.participant.ID] = i
		}
	}

	kept := make([]flushOp, 0, len(ops))
	for i, op := range ops {
		switch {
		case op.listing != nil:
			if lastListing[op.listing.ID] != i {
				continue
			}
		case op.participant != nil:
			if lastParticipant[op.participant.ID] != i {
				continue
			}
		}
		kept = append(kept, op)
	}
	return kept
}

// flush 依序寫入所有操作，回傳寫入失敗、需要重試的部分
func (f *Flusher) flush(ops []flushOp) []flushOp {
	if len(ops) == 0 {
		return nil
	}
	ops = coalesce(ops)

	var retry []flushOp
	for _, op := range ops {
		ctx, cancel := context.WithTimeout(context.Background(), f.options.timeout)
		err := func() error {
			switch {
			case op.listing != nil:
				return f.store.SaveListing(ctx, *op.listing)
			case op.participant != nil:
				return f.store.SaveParticipant(ctx, *op.participant)
			case op.transaction != nil:
				return f.store.AppendTransaction(ctx, *op.transaction)
			}
			return nil
		}()
		cancel()
		if err != nil {
			f.logger.Error("persistence failure, will retry next cycle", slog.Any("error", err))
			retry = append(retry, op)
		}
	}
	if len(retry) > 0 {
		f.logger.Warn("some writes deferred", slog.Int("deferred", len(retry)), slog.Int("total", len(ops)))
	}
	return retry
}

func (f *Flusher) enqueue(op flushOp) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		f.logger.Warn("flusher closed, dropping write")
		return
	}
	f.upstream.In <- op
}

// SaveListing 排程儲存一筆上架
func (f *Flusher) SaveListing(listing models.Listing) {
	f.enqueue(flushOp{listing: &listing})
}

// SaveParticipant 排程儲存一位參與者
func (f *Flusher) SaveParticipant(participant models.Participant) {
	f.enqueue(flushOp{participant: &participant})
}

// AppendTransaction 排程附加一筆交易紀錄
func (f *Flusher) AppendTransaction(record models.Transaction) {
	f.enqueue(flushOp{transaction: &record})
}

// Kick 要求盡快執行一次 flush
func (f *Flusher) Kick() {
	select {
	case f.kick <- struct{}{}:
	default:
	}
}

// Close 關閉 Flusher，會先寫完佇列中剩餘的操作才返回
func (f *Flusher) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	f.mu.Unlock()

	f.logger.Info("closing persistence flusher")
	close(f.upstream.In)
	f.wg.Wait()
	f.cancelFunc()
	f.logger.Info("persistence flusher closed")
}
