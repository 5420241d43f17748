package engine

import (
	"time"

	"github.com/google/uuid"
)

// EventKind 表示拍賣事件的種類
type EventKind string

const (
	EventListed    EventKind = "listed"
	EventBidPlaced EventKind = "bid_placed"
	EventSold      EventKind = "sold"
	EventExpired   EventKind = "expired"
	EventCancelled EventKind = "cancelled"
)

// Event 為廣播給訂閱者的拍賣事件
// 事件只用於即時通知(外部的介面層會轉成 SSE 或聊天訊息)，
// 權威的結算結果一律記錄在交易紀錄與待領清單中
type Event struct {
	Kind      EventKind  `json:"kind"`
	ListingID uuid.UUID  `json:"listingId"`
	SellerID  uuid.UUID  `json:"sellerId"`
	ActorID   *uuid.UUID `json:"actorId,omitempty"`
	Amount    *int64     `json:"amount,omitempty"`
	Time      time.Time  `json:"time"`
}
