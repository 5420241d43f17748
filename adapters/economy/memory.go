package economy

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MemoryEconomy 實現了 IEconomy 介面，將錢包保存在記憶體中
// 用於開發環境與測試，資料不會被持久化
type MemoryEconomy struct {
	mu      sync.Mutex
	wallets map[uuid.UUID]int64
}

// NewMemoryEconomy 建立一個新的 MemoryEconomy 實例
func NewMemoryEconomy() *MemoryEconomy {
	return &MemoryEconomy{
		wallets: make(map[uuid.UUID]int64),
	}
}

// Balance 查詢參與者目前的餘額
func (e *MemoryEconomy) Balance(ctx context.Context, participantID uuid.UUID) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.wallets[participantID], nil
}

// Withdraw 從參與者的帳戶扣款，餘額不足時不扣款
func (e *MemoryEconomy) Withdraw(ctx context.Context, participantID uuid.UUID, amount int64) error {
	const op = "economy.MemoryEconomy.Withdraw"
	if amount < 0 {
		return fmt.Errorf("[%s] negative amount: %d", op, amount)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.wallets[participantID] < amount {
		return fmt.Errorf("[%s] %w", op, ErrInsufficientFunds)
	}
	e.wallets[participantID] -= amount
	return nil
}

// Deposit 存款到參與者的帳戶
func (e *MemoryEconomy) Deposit(ctx context.Context, participantID uuid.UUID, amount int64) error {
	const op = "economy.MemoryEconomy.Deposit"
	if amount < 0 {
		return fmt.Errorf("[%s] negative amount: %d", op, amount)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.wallets[participantID] += amount
	return nil
}
