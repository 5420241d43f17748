package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"auctionhouse/adapters/economy"
	"auctionhouse/adapters/store"
	"auctionhouse/models"
)

type participantEntry struct {
	mu sync.Mutex
	p  models.Participant
}

// snapshot 回傳目前狀態的複本，呼叫者須持有 entry 的鎖
func (e *participantEntry) snapshot() models.Participant {
	p := e.p
	p.Claims = make([]models.Claim, len(e.p.Claims))
	copy(p.Claims, e.p.Claims)
	return p
}

// Directory 追蹤所有已知的參與者與其拍賣相關的狀態(待領清單、餘額快取)
// 每位參與者有自己的鎖，待領清單的附加與領取都在鎖內完成，
// 且不會與任何上架的鎖同時持有，避免鎖順序的死結
type Directory struct {
	mu           sync.RWMutex
	participants map[uuid.UUID]*participantEntry

	economy economy.IEconomy
	writer  store.IWriter
	logger  *slog.Logger
	cfg     Config
}

// NewDirectory 建立一個新的參與者目錄
func NewDirectory(eco economy.IEconomy, writer store.IWriter, logger *slog.Logger, cfg Config) *Directory {
	if logger == nil {
		logger = slog.Default()
	}

	return &Directory{
		participants: make(map[uuid.UUID]*participantEntry),
		economy:      eco,
		writer:       writer,
		logger:       logger.With(slog.String("caller", "Directory")),
		cfg:          cfg.normalize(),
	}
}

// seed 在啟動時載入已持久化的參與者
func (d *Directory) seed(participants []models.Participant) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range participants {
		d.participants[p.ID] = &participantEntry{p: p}
	}
}

func (d *Directory) entry(participantID uuid.UUID) (*participantEntry, bool) {
	d.mu.RLock()
	e, ok := d.participants[participantID]
	d.mu.RUnlock()
	if ok {
		return e, false
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.participants[participantID]; ok {
		return e, false
	}
	e = &participantEntry{p: models.Participant{ID: participantID}}
	d.participants[participantID] = e
	return e, true
}

// Ensure 取得參與者的狀態，不存在時建立，重複呼叫沒有副作用
func (d *Directory) Ensure(participantID uuid.UUID) models.Participant {
	e, created := d.entry(participantID)
	e.mu.Lock()
	snapshot := e.snapshot()
	e.mu.Unlock()

	if created {
		d.logger.Info("participant registered", slog.String("participant", participantID.String()))
		d.writer.SaveParticipant(snapshot)
	}
	return snapshot
}

// AddClaim 將一筆待領取項目附加到參與者的待領清單
// 只會附加，不會覆蓋既有的項目
func (d *Directory) AddClaim(claim models.Claim) {
	e, _ := d.entry(claim.ParticipantID)
	e.mu.Lock()
	e.p.Claims = append(e.p.Claims, claim)
	snapshot := e.snapshot()
	e.mu.Unlock()

	d.writer.SaveParticipant(snapshot)
}

// PendingClaims 回傳參與者目前的待領清單複本
func (d *Directory) PendingClaims(participantID uuid.UUID) []models.Claim {
	e, _ := d.entry(participantID)
	e.mu.Lock()
	defer e.mu.Unlock()
	claims := make([]models.Claim, len(e.p.Claims))
	copy(claims, e.p.Claims)
	return claims
}

// Collect 原子性地領取參與者的待領項目
// 金額會直接存入經濟系統；存款失敗的項目留在清單中等待下次領取，
// 物品則交由外部的介面層交付。並行的領取只會看到領取前或領取後的清單
func (d *Directory) Collect(ctx context.Context, participantID uuid.UUID) ([]models.Claim, error) {
	const op = "Directory.Collect"
	e, _ := d.entry(participantID)

	e.mu.Lock()
	var collected, remaining []models.Claim
	for _, claim := range e.p.Claims {
		if claim.Kind != models.ClaimCurrency {
			collected = append(collected, claim)
			continue
		}
		dctx, cancel := context.WithTimeout(ctx, d.cfg.EconomyTimeout)
		err := d.economy.Deposit(dctx, participantID, claim.Amount)
		cancel()
		if err != nil {
			d.logger.Warn("claim payout failed, kept pending",
				slog.String("participant", participantID.String()),
				slog.String("claim", claim.ID.String()),
				slog.Any("error", err))
			remaining = append(remaining, claim)
			continue
		}
		collected = append(collected, claim)
	}
	e.p.Claims = remaining
	snapshot := e.snapshot()
	e.mu.Unlock()

	if len(collected) > 0 {
		d.writer.SaveParticipant(snapshot)
		d.logger.Info("claims collected",
			slog.String("participant", participantID.String()),
			slog.Int("count", len(collected)))
	}
	if len(collected) == 0 && len(remaining) > 0 {
		return nil, fmt.Errorf("[%s] %w", op, economy.ErrProviderUnavailable)
	}
	return collected, nil
}

// RefreshBalance 從經濟系統更新參與者的餘額快取
// 快取僅供顯示，實際餘額以經濟系統為準
func (d *Directory) RefreshBalance(ctx context.Context, participantID uuid.UUID) (int64, error) {
	const op = "Directory.RefreshBalance"

	bctx, cancel := context.WithTimeout(ctx, d.cfg.EconomyTimeout)
	defer cancel()
	balance, err := d.economy.Balance(bctx, participantID)
	if err != nil {
		return 0, fmt.Errorf("[%s] err=%w", op, err)
	}

	e, _ := d.entry(participantID)
	e.mu.Lock()
	e.p.Balance = balance
	e.mu.Unlock()
	return balance, nil
}

// Evict 在參與者離線時將其目前狀態排入存檔
// 狀態仍保留在記憶體中，重新連線時不需要重新載入
func (d *Directory) Evict(participantID uuid.UUID) {
	d.mu.RLock()
	e, ok := d.participants[participantID]
	d.mu.RUnlock()
	if !ok {
		return
	}

	e.mu.Lock()
	snapshot := e.snapshot()
	e.mu.Unlock()
	d.writer.SaveParticipant(snapshot)
}

// All 回傳所有參與者的複本，用於關閉時的最終存檔
func (d *Directory) All() []models.Participant {
	d.mu.RLock()
	entries := make([]*participantEntry, 0, len(d.participants))
	for _, e := range d.participants {
		entries = append(entries, e)
	}
	d.mu.RUnlock()

	participants := make([]models.Participant, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		participants = append(participants, e.snapshot())
		e.mu.Unlock()
	}
	return participants
}
