package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ClaimKind 表示待領取項目的種類
type ClaimKind string

const (
	// ClaimItem 待領取的物品，例如流標退回或得標的商品
	ClaimItem ClaimKind = "item"
	// ClaimCurrency 待領取的金額，例如被超標的退款或賣出所得
	ClaimCurrency ClaimKind = "currency"
)

// Claim 代表欠參與者但尚未交付的物品或金額
// 只會被新增與領取，不會被修改
type Claim struct {
	gorm.Model

	ID            uuid.UUID `gorm:"type:uuid;primaryKey;<-:create"`
	ParticipantID uuid.UUID `gorm:"type:uuid;not null;index;<-:create"`
	ListingID     uuid.UUID `gorm:"type:uuid;not null;<-:create"`
	Kind          ClaimKind `gorm:"type:varchar(16);not null;<-:create"`
	Amount        int64     `gorm:"type:bigint;not null;default:0;<-:create"`
	Item          []byte    `gorm:"type:bytea;<-:create"`
}

// NewCurrencyClaim 建立一筆待領取的金額
func NewCurrencyClaim(participantID, listingID uuid.UUID, amount int64) Claim {
	return Claim{
		ID:            uuid.New(),
		ParticipantID: participantID,
		ListingID:     listingID,
		Kind:          ClaimCurrency,
		Amount:        amount,
	}
}

// NewItemClaim 建立一筆待領取的物品
func NewItemClaim(participantID, listingID uuid.UUID, item []byte) Claim {
	return Claim{
		ID:            uuid.New(),
		ParticipantID: participantID,
		ListingID:     listingID,
		Kind:          ClaimItem,
		Item:          item,
	}
}
