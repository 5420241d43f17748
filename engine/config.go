package engine

import "time"

// Config 為拍賣引擎的配置
type Config struct {
	// EconomyTimeout 為單次經濟系統呼叫的逾時時間
	// 逾時會被視為 ProviderUnavailable，不會讓呼叫端或排程器無限期等待
	EconomyTimeout time.Duration
	// MaxListingDuration 為上架期限的上限，0 表示不限制
	MaxListingDuration time.Duration
	// PersistInterval 為背景持久化的寫入週期
	PersistInterval time.Duration
	// Now 取得目前時間，測試時可替換
	Now func() time.Time
}

// DefaultConfig 回傳預設配置
func DefaultConfig() Config {
	return Config{
		EconomyTimeout:     3 * time.Second,
		MaxListingDuration: 0,
		PersistInterval:    10 * time.Second,
		Now:                time.Now,
	}
}

func (c Config) normalize() Config {
	if c.EconomyTimeout <= 0 {
		c.EconomyTimeout = 3 * time.Second
	}
	if c.PersistInterval <= 0 {
		c.PersistInterval = 10 * time.Second
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}
