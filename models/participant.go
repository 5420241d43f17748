package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Participant 代表拍賣場中已知的參與者
// Balance 只是經濟系統餘額的快取，僅供顯示，實際餘額以經濟系統為準
type Participant struct {
	gorm.Model

	ID      uuid.UUID `gorm:"type:uuid;primaryKey;<-:create"`
	Balance int64     `gorm:"type:bigint;not null;default:0"`

	// 外鍵關聯
	Claims []Claim `gorm:"foreignKey:ParticipantID"`
}
