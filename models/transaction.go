package models

import (
	"time"

	"github.com/google/uuid"
)

// TransactionKind 表示交易紀錄的種類
type TransactionKind string

const (
	// TransactionSale 成交，包含得標與直購
	TransactionSale TransactionKind = "SALE"
	// TransactionExpiryReturn 流標，商品退回賣家
	TransactionExpiryReturn TransactionKind = "EXPIRY_RETURN"
	// TransactionCancellation 賣家(或管理員)取消上架
	TransactionCancellation TransactionKind = "CANCELLATION"
)

// Transaction 代表一筆已完成的交易紀錄
// 只會被附加，寫入後永不修改或刪除，Seq 為嚴格遞增的序號
type Transaction struct {
	Seq       uint64          `gorm:"primaryKey;autoIncrement:false"`
	ListingID uuid.UUID       `gorm:"type:uuid;not null;index"`
	SellerID  uuid.UUID       `gorm:"type:uuid;not null;index"`
	BuyerID   *uuid.UUID      `gorm:"type:uuid;index"`
	Price     *int64          `gorm:"type:bigint"`
	Kind      TransactionKind `gorm:"type:varchar(16);not null"`
	CreatedAt time.Time       `gorm:"type:timestamp with time zone;not null"`
}
