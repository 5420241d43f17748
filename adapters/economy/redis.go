package economy

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// withdrawScript 用於原子性地檢查餘額並扣款
//  KEYS[1] - 參與者的錢包鍵
//  ARGV[1] - 扣款金額
//
// 返回值:
//  >=0 - 扣款後的餘額
//  -1  - 餘額不足，未扣款
var withdrawScript = redis.NewScript(`
local balance = tonumber(redis.call('GET', KEYS[1])) or 0
local amount = tonumber(ARGV[1])

if balance < amount then
    return -1
end

return redis.call('DECRBY', KEYS[1], amount)
`)

// RedisEconomy 實現了 IEconomy 介面，將參與者的錢包儲存在 Redis 中
// 扣款透過 Lua 腳本執行，確保檢查餘額與扣款是原子性的
type RedisEconomy struct {
	client  *redis.Client
	options EconomyOptions
}

// EconomyOptions 定義了 RedisEconomy 的配置選項
type EconomyOptions struct {
	Prefix string
}

type EconomyOption func(*EconomyOptions)

// WithEconomyPrefix 設定錢包鍵的前綴
func WithEconomyPrefix(prefix string) EconomyOption {
	return func(o *EconomyOptions) {
		o.Prefix = prefix
	}
}

// NewRedisEconomy 建立一個新的 RedisEconomy 實例
func NewRedisEconomy(client *redis.Client, opts ...EconomyOption) IEconomy {
	options := &EconomyOptions{}
	for _, opt := range opts {
		opt(options)
	}

	return &RedisEconomy{
		client:  client,
		options: *options,
	}
}

func (e *RedisEconomy) walletKey(participantID uuid.UUID) string {
	return fmt.Sprintf("%swallet:%s", e.options.Prefix, participantID)
}

// Balance 查詢參與者目前的餘額
// Redis returns nil when the wallet key doesn't exist, which counts as zero.
func (e *RedisEconomy) Balance(ctx context.Context, participantID uuid.UUID) (int64, error) {
	const op = "economy.RedisEconomy.Balance"

	balance, err := e.client.Get(ctx, e.walletKey(participantID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("[%s] %w, err=%w", op, ErrProviderUnavailable, err)
	}
	return balance, nil
}

// Withdraw 從參與者的帳戶扣款
// 餘額不足時回傳 ErrInsufficientFunds，連線失敗或逾時則回傳 ErrProviderUnavailable
func (e *RedisEconomy) Withdraw(ctx context.Context, participantID uuid.UUID, amount int64) error {
	const op = "economy.RedisEconomy.Withdraw"
	if amount < 0 {
		return fmt.Errorf("[%s] negative amount: %d", op, amount)
	}

	result, err := withdrawScript.Run(ctx, e.client, []string{e.walletKey(participantID)}, amount).Int64()
	if err != nil {
		return fmt.Errorf("[%s] %w, err=%w", op, ErrProviderUnavailable, err)
	}
	if result < 0 {
		return fmt.Errorf("[%s] %w", op, ErrInsufficientFunds)
	}
	return nil
}

// Deposit 存款到參與者的帳戶
func (e *RedisEconomy) Deposit(ctx context.Context, participantID uuid.UUID, amount int64) error {
	const op = "economy.RedisEconomy.Deposit"
	if amount < 0 {
		return fmt.Errorf("[%s] negative amount: %d", op, amount)
	}

	if err := e.client.IncrBy(ctx, e.walletKey(participantID), amount).Err(); err != nil {
		return fmt.Errorf("[%s] %w, err=%w", op, ErrProviderUnavailable, err)
	}
	return nil
}
