package engine

import (
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"auctionhouse/adapters/store"
	"auctionhouse/models"
)

// Ledger 為只附加的交易紀錄
// 記憶體中的尾端是權威資料，寫入儲存層失敗時由 Flusher 在下個週期重試，
// 紀錄一旦附加就永不修改或刪除
type Ledger struct {
	mu      sync.RWMutex
	records []models.Transaction
	nextSeq uint64

	writer store.IWriter
	logger *slog.Logger
}

// NewLedger 建立一份空的交易紀錄
func NewLedger(writer store.IWriter, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}

	return &Ledger{
		nextSeq: 1,
		writer:  writer,
		logger:  logger.With(slog.String("caller", "Ledger")),
	}
}

// seed 在啟動時載入已持久化的紀錄，records 須依序號由小到大
func (l *Ledger) seed(records []models.Transaction) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = make([]models.Transaction, len(records))
	copy(l.records, records)
	l.nextSeq = 1
	if n := len(records); n > 0 {
		l.nextSeq = records[n-1].Seq + 1
	}
}

// Append 附加一筆交易紀錄，分配嚴格遞增的序號後排程持久化
func (l *Ledger) Append(record models.Transaction) models.Transaction {
	l.mu.Lock()
	record.Seq = l.nextSeq
	l.nextSeq++
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	l.records = append(l.records, record)
	l.mu.Unlock()

	l.writer.AppendTransaction(record)
	l.logger.Info("transaction recorded",
		slog.Uint64("seq", record.Seq),
		slog.String("kind", string(record.Kind)),
		slog.String("listing", record.ListingID.String()))
	return record
}

// Len 回傳目前的紀錄筆數
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// Filter 為交易紀錄的查詢條件，nil 欄位表示不限制
type Filter struct {
	ParticipantID *uuid.UUID // 買家或賣家
	ListingID     *uuid.UUID
	Kind          *models.TransactionKind
	From          *time.Time // 含
	To            *time.Time // 不含
}

func (f Filter) matches(r models.Transaction) bool {
	if f.ParticipantID != nil {
		if r.SellerID != *f.ParticipantID && (r.BuyerID == nil || *r.BuyerID != *f.ParticipantID) {
			return false
		}
	}
	if f.ListingID != nil && r.ListingID != *f.ListingID {
		return false
	}
	if f.Kind != nil && r.Kind != *f.Kind {
		return false
	}
	if f.From != nil && r.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && !r.CreatedAt.Before(*f.To) {
		return false
	}
	return true
}

// Query 回傳符合條件的紀錄序列，依序號由小到大
// 序列是惰性的且可重複走訪；每次走訪都以當下的尾端為準，不會修改任何狀態
func (l *Ledger) Query(filter Filter) iter.Seq[models.Transaction] {
	return func(yield func(models.Transaction) bool) {
		l.mu.RLock()
		records := make([]models.Transaction, len(l.records))
		copy(records, l.records)
		l.mu.RUnlock()

		for _, r := range records {
			if !filter.matches(r) {
				continue
			}
			if !yield(r) {
				return
			}
		}
	}
}
