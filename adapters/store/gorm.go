package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"auctionhouse/models"
)

// GormStore 實現了 IStore 介面，透過 gorm 將狀態保存到關聯式資料庫
type GormStore struct {
	db *gorm.DB
}

// NewGormStore 建立一個新的 GormStore 實例，並確保資料表結構存在
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	const op = "store.NewGormStore"

	if err := db.AutoMigrate(&models.Participant{}, &models.Claim{}, &models.Listing{}, &models.Transaction{}); err != nil {
		return nil, fmt.Errorf("[%s] Fail to migrate schema, err=%w", op, err)
	}
	return &GormStore{db: db}, nil
}

// LoadAll 載入所有仍在進行中的上架、全部參與者與交易紀錄
// 已結束的上架只存在於交易紀錄中，不會被載回記憶體
func (s *GormStore) LoadAll(ctx context.Context) (Snapshot, error) {
	const op = "store.GormStore.LoadAll"
	var snapshot Snapshot

	if result := s.db.WithContext(ctx).
		Where("status = ?", models.StatusActive).
		Order("listed_at ASC").
		Find(&snapshot.Listings); result.Error != nil {
		return Snapshot{}, fmt.Errorf("[%s] Fail to load listings, err=%w", op, result.Error)
	}
	if result := s.db.WithContext(ctx).
		Preload("Claims").
		Find(&snapshot.Participants); result.Error != nil {
		return Snapshot{}, fmt.Errorf("[%s] Fail to load participants, err=%w", op, result.Error)
	}
	if result := s.db.WithContext(ctx).
		Order("seq ASC").
		Find(&snapshot.Transactions); result.Error != nil {
		return Snapshot{}, fmt.Errorf("[%s] Fail to load transactions, err=%w", op, result.Error)
	}
	return snapshot, nil
}

// SaveListing 以上架 id 為鍵執行 upsert，重複寫入同一筆上架不會產生副作用
func (s *GormStore) SaveListing(ctx context.Context, listing models.Listing) error {
	const op = "store.GormStore.SaveListing"

	if result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(&listing); result.Error != nil {
		return fmt.Errorf("[%s] Fail to save listing %s, err=%w", op, listing.ID, result.Error)
	}
	return nil
}

// SaveParticipant 儲存參與者本身並同步其待領清單
// 記憶體中已被領走的 claim 會在這裡一併刪除
func (s *GormStore) SaveParticipant(ctx context.Context, participant models.Participant) error {
	const op = "store.GormStore.SaveParticipant"

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		claims := participant.Claims
		participant.Claims = nil
		if result := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).Create(&participant); result.Error != nil {
			return fmt.Errorf("fail to save participant, err=%w", result.Error)
		}

		// 刪除已不在待領清單中的 claim
		query := tx.Where("participant_id = ?", participant.ID)
		if len(claims) > 0 {
			ids := make([]uuid.UUID, len(claims))
			for i, claim := range claims {
				ids[i] = claim.ID
			}
			query = query.Where("id NOT IN ?", ids)
		}
		if result := query.Delete(&models.Claim{}); result.Error != nil {
			return fmt.Errorf("fail to prune collected claims, err=%w", result.Error)
		}

		if len(claims) > 0 {
			if result := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "id"}},
				DoNothing: true,
			}).Create(&claims); result.Error != nil {
				return fmt.Errorf("fail to save claims, err=%w", result.Error)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("[%s] participant %s, err=%w", op, participant.ID, err)
	}
	return nil
}

// AppendTransaction 以序號為鍵附加交易紀錄，重試時不會產生重複的紀錄
func (s *GormStore) AppendTransaction(ctx context.Context, record models.Transaction) error {
	const op = "store.GormStore.AppendTransaction"

	if result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "seq"}},
			DoNothing: true,
		}).
		Create(&record); result.Error != nil {
		return fmt.Errorf("[%s] Fail to append transaction %d, err=%w", op, record.Seq, result.Error)
	}
	return nil
}
