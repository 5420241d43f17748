//go:generate mockgen -package=economy -destination=mock.go -source=interfaces.go

package economy

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	// ErrInsufficientFunds 表示參與者的餘額不足以完成扣款
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrProviderUnavailable 表示經濟系統暫時無法使用(連線失敗或逾時)
	ErrProviderUnavailable = errors.New("economy provider unavailable")
)

// IEconomy 定義了外部經濟系統的介面
// 實際的餘額由經濟系統持有，拍賣引擎只透過此介面操作資金
type IEconomy interface {
	// Balance 查詢參與者目前的餘額
	Balance(ctx context.Context, participantID uuid.UUID) (int64, error)
	// Withdraw 從參與者的帳戶扣款，餘額不足時回傳 ErrInsufficientFunds 且不扣款
	Withdraw(ctx context.Context, participantID uuid.UUID, amount int64) error
	// Deposit 存款到參與者的帳戶
	Deposit(ctx context.Context, participantID uuid.UUID, amount int64) error
}
