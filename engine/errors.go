package engine

import "errors"

// 引擎對呼叫端的錯誤分類
// 驗證類錯誤代表該操作被整個拒絕，不會造成任何狀態變更
var (
	// ErrInvalidListing 上架參數不合法(期限、價格)，或對不可出價的商品出價
	ErrInvalidListing = errors.New("invalid listing")
	// ErrNotFound 指定的上架不存在
	ErrNotFound = errors.New("listing not found")
	// ErrNotActive 上架已結束(售出、流標或取消)
	ErrNotActive = errors.New("listing is no longer active")
	// ErrBidTooLow 出價不高於目前最高出價，或低於起標價
	ErrBidTooLow = errors.New("bid too low")
	// ErrSelfBid 賣家不能對自己的商品出價或購買
	ErrSelfBid = errors.New("cannot bid on own listing")
	// ErrNotOwner 只有賣家(或管理員)可以取消上架
	ErrNotOwner = errors.New("not the listing owner")
	// ErrHasBids 已有人出價的競標不能取消
	ErrHasBids = errors.New("listing already has bids")
	// ErrNoBuyNowPrice 該競標沒有設定直購價
	ErrNoBuyNowPrice = errors.New("listing has no buy-now price")
	// ErrClosed 引擎正在關閉，不再接受新的操作
	ErrClosed = errors.New("auction house is shutting down")
)
