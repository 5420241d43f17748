package api

import "time"

type ServerConfig struct {
	DB      DBConfig
	Redis   RedisConfig
	Auction AuctionConfig
}

type DBConfig struct {
	User     string
	Password string
	Host     string
	Port     int
	Database string
	Schema   string
	// File 為本地 sqlite 檔案路徑，未設定 Host 時使用
	File string
}

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

type AuctionConfig struct {
	// TickInterval 為排程器的結算週期
	TickInterval time.Duration
	// PersistInterval 為背景持久化的寫入週期
	PersistInterval time.Duration
	// EconomyTimeout 為單次經濟系統呼叫的逾時時間
	EconomyTimeout time.Duration
	// MaxListingDuration 為上架期限的上限，0 表示不限制
	MaxListingDuration time.Duration
}
