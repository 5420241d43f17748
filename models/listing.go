package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ListingKind 表示上架的販售方式
type ListingKind string

const (
	// KindAuction 競標拍賣，可出價，也可設定直購價
	KindAuction ListingKind = "auction"
	// KindFixedPrice 固定價格販售，只能直購
	KindFixedPrice ListingKind = "fixed_price"
)

// ListingStatus 表示上架的生命週期狀態
// 一旦離開 ACTIVE 就是終態，不會再轉移
type ListingStatus string

const (
	StatusActive    ListingStatus = "ACTIVE"
	StatusSold      ListingStatus = "SOLD"
	StatusExpired   ListingStatus = "EXPIRED"
	StatusCancelled ListingStatus = "CANCELLED"
)

// Listing 代表拍賣場中的一件上架商品
// 包含賣家、物品內容、販售方式、價格與到期時間等資訊
type Listing struct {
	gorm.Model

	ID          uuid.UUID     `gorm:"type:uuid;primaryKey;<-:create"`
	SellerID    uuid.UUID     `gorm:"type:uuid;not null;index;<-:create"`
	Item        []byte        `gorm:"type:bytea;not null;<-:create"`
	Kind        ListingKind   `gorm:"type:varchar(16);not null;<-:create"`
	StartPrice  int64         `gorm:"type:bigint;not null;<-:create"`
	BuyNowPrice *int64        `gorm:"type:bigint;<-:create"`
	BidAmount   *int64        `gorm:"type:bigint"`
	BidderID    *uuid.UUID    `gorm:"type:uuid"`
	Status      ListingStatus `gorm:"type:varchar(16);not null;index"`
	ListedAt    time.Time     `gorm:"type:timestamp with time zone;not null;<-:create"`
	ExpiresAt   time.Time     `gorm:"type:timestamp with time zone;not null"`
}

// PurchasePrice 回傳直購所需的金額
// 固定價格商品未另外設定直購價時，以起標價作為售價
func (l Listing) PurchasePrice() (int64, bool) {
	if l.BuyNowPrice != nil {
		return *l.BuyNowPrice, true
	}
	if l.Kind == KindFixedPrice {
		return l.StartPrice, true
	}
	return 0, false
}

// HasBid 判斷目前是否有人出價
func (l Listing) HasBid() bool {
	return l.BidAmount != nil && l.BidderID != nil
}
