//go:generate mockgen -package=store -destination=mock.go -source=interfaces.go

package store

import (
	"context"

	"auctionhouse/models"
)

// Snapshot 為啟動時從儲存層載入的完整狀態
type Snapshot struct {
	Listings     []models.Listing
	Participants []models.Participant
	Transactions []models.Transaction
}

// IStore 定義了持久化儲存層的介面
// 每個寫入操作都以 id 為鍵，重複寫入同一筆資料不會產生重複的效果
type IStore interface {
	// LoadAll 在啟動時載入所有上架、參與者與交易紀錄
	LoadAll(ctx context.Context) (Snapshot, error)
	// SaveListing 儲存一筆上架(upsert)
	SaveListing(ctx context.Context, listing models.Listing) error
	// SaveParticipant 儲存一位參與者及其待領清單(upsert)
	SaveParticipant(ctx context.Context, participant models.Participant) error
	// AppendTransaction 附加一筆交易紀錄(以序號為鍵，重複附加無效果)
	AppendTransaction(ctx context.Context, record models.Transaction) error
}

// IWriter 定義了引擎使用的非同步持久化介面
// 呼叫只負責排入佇列，不會因儲存層的 I/O 而阻塞
type IWriter interface {
	// SaveListing 排程儲存一筆上架
	SaveListing(listing models.Listing)
	// SaveParticipant 排程儲存一位參與者
	SaveParticipant(participant models.Participant)
	// AppendTransaction 排程附加一筆交易紀錄
	AppendTransaction(record models.Transaction)
	// Kick 要求盡快執行一次 flush，不等待下一個週期
	Kick()
}
