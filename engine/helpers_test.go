package engine

import (
	"context"
	"io"
	"log"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"auctionhouse/adapters/economy"
	"auctionhouse/adapters/store"
	"auctionhouse/models"
)

func init() {
	// 將日誌輸出重定向到io.Discard
	log.SetOutput(io.Discard)
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// fakeClock 讓測試可以手動推進引擎的時間
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// memStore 為測試用的記憶體儲存層
type memStore struct {
	mu           sync.Mutex
	listings     map[uuid.UUID]models.Listing
	participants map[uuid.UUID]models.Participant
	transactions map[uint64]models.Transaction
}

func newMemStore() *memStore {
	return &memStore{
		listings:     make(map[uuid.UUID]models.Listing),
		participants: make(map[uuid.UUID]models.Participant),
		transactions: make(map[uint64]models.Transaction),
	}
}

func (s *memStore) LoadAll(ctx context.Context) (store.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// 終態的上架也一併回傳，由載入端決定要不要留在記憶體中
	var snapshot store.Snapshot
	for _, l := range s.listings {
		snapshot.Listings = append(snapshot.Listings, l)
	}
	for _, p := range s.participants {
		snapshot.Participants = append(snapshot.Participants, p)
	}
	for seq := uint64(1); ; seq++ {
		r, ok := s.transactions[seq]
		if !ok {
			break
		}
		snapshot.Transactions = append(snapshot.Transactions, r)
	}
	return snapshot, nil
}

func (s *memStore) SaveListing(ctx context.Context, listing models.Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listings[listing.ID] = listing
	return nil
}

func (s *memStore) SaveParticipant(ctx context.Context, participant models.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.participants[participant.ID] = participant
	return nil
}

func (s *memStore) AppendTransaction(ctx context.Context, record models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transactions[record.Seq] = record
	return nil
}

// stubWriter 為不做任何事的寫入佇列，單獨測試元件時使用
type stubWriter struct{}

func (stubWriter) SaveListing(models.Listing)           {}
func (stubWriter) SaveParticipant(models.Participant)   {}
func (stubWriter) AppendTransaction(models.Transaction) {}
func (stubWriter) Kick()                                {}

// newTestEngine 建立一個使用記憶體經濟系統與儲存層的引擎
func newTestEngine(t *testing.T) (*Engine, *economy.MemoryEconomy, *memStore, *fakeClock) {
	t.Helper()

	eco := economy.NewMemoryEconomy()
	st := newMemStore()
	clock := newFakeClock()
	return newTestEngineWith(t, eco, st, clock), eco, st, clock
}

// newTestEngineWith 以既有的經濟系統、儲存層與時鐘建立引擎，用於重啟情境
func newTestEngineWith(t *testing.T, eco *economy.MemoryEconomy, st *memStore, clock *fakeClock) *Engine {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Now = clock.Now
	cfg.PersistInterval = 50 * time.Millisecond
	eng := New(cfg, eco, st, slog.Default())
	require.NoError(t, eng.Load(context.Background()))
	return eng
}

func fund(t *testing.T, eco *economy.MemoryEconomy, participantID uuid.UUID, amount int64) {
	t.Helper()
	require.NoError(t, eco.Deposit(context.Background(), participantID, amount))
}

func mustItem(t *testing.T, v any) []byte {
	t.Helper()
	item, err := models.EncodeItem(v)
	require.NoError(t, err)
	return item
}

// currencyClaims 取出指定參與者所有待領金額的總和
func currencyClaims(eng *Engine, participantID uuid.UUID) int64 {
	var total int64
	for _, claim := range eng.Directory.PendingClaims(participantID) {
		if claim.Kind == models.ClaimCurrency {
			total += claim.Amount
		}
	}
	return total
}

// itemClaims 取出指定參與者待領物品的數量
func itemClaims(eng *Engine, participantID uuid.UUID) int {
	var count int
	for _, claim := range eng.Directory.PendingClaims(participantID) {
		if claim.Kind == models.ClaimItem {
			count++
		}
	}
	return count
}
