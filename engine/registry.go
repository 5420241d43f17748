package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"auctionhouse/adapters/economy"
	"auctionhouse/adapters/sse"
	"auctionhouse/adapters/store"
	"auctionhouse/models"
)

// TopicMarket 為全市場事件的廣播頻道，個別上架的頻道名稱是其 id
const TopicMarket = "market"

type listingEntry struct {
	mu sync.Mutex
	l  models.Listing
}

// Registry 為進行中上架的權威集合
// 每筆上架有自己的鎖，對同一筆上架的出價、購買、取消與結算會被序列化，
// 不同上架之間則可以並行。出價時的比價與扣款在鎖內一起完成，
// 不會出現已扣款但出價未記錄(或相反)的中間狀態
type Registry struct {
	mu       sync.RWMutex
	listings map[uuid.UUID]*listingEntry

	economy   economy.IEconomy
	directory *Directory
	ledger    *Ledger
	writer    store.IWriter
	events    sse.IBroadcaster[Event]
	logger    *slog.Logger
	cfg       Config

	draining atomic.Bool
	ops      sync.WaitGroup
}

// NewRegistry 建立一個新的上架註冊表
func NewRegistry(eco economy.IEconomy, directory *Directory, ledger *Ledger, writer store.IWriter, events sse.IBroadcaster[Event], logger *slog.Logger, cfg Config) *Registry {
	if logger == nil {
		logger = slog.Default()
	}

	return &Registry{
		listings:  make(map[uuid.UUID]*listingEntry),
		economy:   eco,
		directory: directory,
		ledger:    ledger,
		writer:    writer,
		events:    events,
		logger:    logger.With(slog.String("caller", "Registry")),
		cfg:       cfg.normalize(),
	}
}

// seed 在啟動時載入已持久化、仍在進行中的上架
func (r *Registry) seed(listings []models.Listing) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range listings {
		if l.Status != models.StatusActive {
			continue
		}
		r.listings[l.ID] = &listingEntry{l: l}
	}
}

// begin 標記一個進行中的操作，引擎關閉後拒絕新的操作
func (r *Registry) begin() (func(), error) {
	if r.draining.Load() {
		return nil, ErrClosed
	}
	r.ops.Add(1)
	// 關閉競態的再確認
	if r.draining.Load() {
		r.ops.Done()
		return nil, ErrClosed
	}
	return r.ops.Done, nil
}

// Drain 停止接受新的操作，並等待所有進行中的操作完成
func (r *Registry) Drain() {
	r.draining.Store(true)
	r.ops.Wait()
}

func (r *Registry) entry(listingID uuid.UUID) *listingEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listings[listingID]
}

func (r *Registry) remove(listingID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.listings, listingID)
}

func (r *Registry) publish(event Event) {
	r.events.Publish(event.ListingID.String(), event)
	r.events.Publish(TopicMarket, event)
}

// Create 建立一筆新的上架並託管其物品
// 呼叫端交出物品的保管權，直到售出、流標退回或取消為止
func (r *Registry) Create(ctx context.Context, sellerID uuid.UUID, item []byte, kind models.ListingKind, startPrice int64, buyNowPrice *int64, duration time.Duration) (models.Listing, error) {
	const op = "Registry.Create"
	done, err := r.begin()
	if err != nil {
		return models.Listing{}, err
	}
	defer done()

	if duration <= 0 {
		return models.Listing{}, fmt.Errorf("[%s] %w: duration must be positive", op, ErrInvalidListing)
	}
	if r.cfg.MaxListingDuration > 0 && duration > r.cfg.MaxListingDuration {
		return models.Listing{}, fmt.Errorf("[%s] %w: duration exceeds maximum", op, ErrInvalidListing)
	}
	if startPrice < 0 {
		return models.Listing{}, fmt.Errorf("[%s] %w: negative start price", op, ErrInvalidListing)
	}
	if buyNowPrice != nil && *buyNowPrice < startPrice {
		return models.Listing{}, fmt.Errorf("[%s] %w: buy-now price below start price", op, ErrInvalidListing)
	}
	if kind != models.KindAuction && kind != models.KindFixedPrice {
		return models.Listing{}, fmt.Errorf("[%s] %w: unknown kind %q", op, ErrInvalidListing, kind)
	}

	r.directory.Ensure(sellerID)
	now := r.cfg.Now()
	listing := models.Listing{
		ID:          uuid.New(),
		SellerID:    sellerID,
		Item:        item,
		Kind:        kind,
		StartPrice:  startPrice,
		BuyNowPrice: buyNowPrice,
		Status:      models.StatusActive,
		ListedAt:    now,
		ExpiresAt:   now.Add(duration),
	}

	r.mu.Lock()
	r.listings[listing.ID] = &listingEntry{l: listing}
	r.mu.Unlock()

	r.writer.SaveListing(listing)
	r.publish(Event{Kind: EventListed, ListingID: listing.ID, SellerID: sellerID, Time: now})
	r.logger.Info("listing created",
		slog.String("listing", listing.ID.String()),
		slog.String("seller", sellerID.String()),
		slog.String("kind", string(kind)),
		slog.Int64("startPrice", startPrice))
	return listing, nil
}

// PlaceBid 對一筆競標出價
// 比價、扣款與最高出價的更新在上架的鎖內一起完成；任何驗證失敗
// 或扣款失敗都不會改變上架的狀態。被超標者的退款以待領項目記入，
// 即使對方目前不在線上也不會遺失
func (r *Registry) PlaceBid(ctx context.Context, listingID, bidderID uuid.UUID, amount int64) error {
	const op = "Registry.PlaceBid"
	done, err := r.begin()
	if err != nil {
		return err
	}
	defer done()

	e := r.entry(listingID)
	if e == nil {
		return ErrNotFound
	}
	r.directory.Ensure(bidderID)
	now := r.cfg.Now()

	var (
		snapshot   models.Listing
		prevBidder *uuid.UUID
		prevAmount int64
	)
	handle := func() error {
		e.mu.Lock()
		defer e.mu.Unlock()

		if e.l.Status != models.StatusActive {
			return ErrNotActive
		}
		if e.l.Kind != models.KindAuction {
			return fmt.Errorf("[%s] %w: listing does not accept bids", op, ErrInvalidListing)
		}
		if bidderID == e.l.SellerID {
			return ErrSelfBid
		}
		if amount <= 0 || amount < e.l.StartPrice {
			return ErrBidTooLow
		}
		if e.l.BidAmount != nil && amount <= *e.l.BidAmount {
			return ErrBidTooLow
		}

		// 扣款與出價的更新必須是不可分割的：在鎖內先扣款，
		// 失敗就直接返回，上架狀態完全不變
		wctx, cancel := context.WithTimeout(ctx, r.cfg.EconomyTimeout)
		defer cancel()
		if err := r.economy.Withdraw(wctx, bidderID, amount); err != nil {
			return err
		}

		prevBidder = e.l.BidderID
		if e.l.BidAmount != nil {
			prevAmount = *e.l.BidAmount
		}
		e.l.BidderID = &bidderID
		e.l.BidAmount = &amount
		snapshot = e.l
		return nil
	}
	if err := handle(); err != nil {
		return err
	}

	// 出價已提交，退款與持久化在上架的鎖外進行
	if prevBidder != nil {
		r.directory.AddClaim(models.NewCurrencyClaim(*prevBidder, listingID, prevAmount))
	}
	r.writer.SaveListing(snapshot)
	r.publish(Event{Kind: EventBidPlaced, ListingID: listingID, SellerID: snapshot.SellerID, ActorID: &bidderID, Amount: &amount, Time: now})
	r.logger.Info("bid placed",
		slog.String("listing", listingID.String()),
		slog.String("bidder", bidderID.String()),
		slog.Int64("amount", amount))
	return nil
}

// BuyNow 以直購價立即買下商品
// 成交後商品進入買家的待領清單，價金進入賣家的待領清單，
// 若已有人出價，其押金會退回成待領項目
func (r *Registry) BuyNow(ctx context.Context, listingID, buyerID uuid.UUID) (models.Listing, error) {
	done, err := r.begin()
	if err != nil {
		return models.Listing{}, err
	}
	defer done()

	e := r.entry(listingID)
	if e == nil {
		return models.Listing{}, ErrNotFound
	}
	r.directory.Ensure(buyerID)
	now := r.cfg.Now()

	var (
		snapshot   models.Listing
		price      int64
		prevBidder *uuid.UUID
		prevAmount int64
	)
	handle := func() error {
		e.mu.Lock()
		defer e.mu.Unlock()

		if e.l.Status != models.StatusActive {
			return ErrNotActive
		}
		if buyerID == e.l.SellerID {
			return ErrSelfBid
		}
		var ok bool
		if price, ok = e.l.PurchasePrice(); !ok {
			return ErrNoBuyNowPrice
		}

		wctx, cancel := context.WithTimeout(ctx, r.cfg.EconomyTimeout)
		defer cancel()
		if err := r.economy.Withdraw(wctx, buyerID, price); err != nil {
			return err
		}

		prevBidder = e.l.BidderID
		if e.l.BidAmount != nil {
			prevAmount = *e.l.BidAmount
		}
		e.l.Status = models.StatusSold
		snapshot = e.l
		return nil
	}
	if err := handle(); err != nil {
		return models.Listing{}, err
	}
	r.remove(listingID)

	if prevBidder != nil {
		r.directory.AddClaim(models.NewCurrencyClaim(*prevBidder, listingID, prevAmount))
	}
	r.directory.AddClaim(models.NewItemClaim(buyerID, listingID, snapshot.Item))
	r.directory.AddClaim(models.NewCurrencyClaim(snapshot.SellerID, listingID, price))
	r.ledger.Append(models.Transaction{
		ListingID: listingID,
		SellerID:  snapshot.SellerID,
		BuyerID:   &buyerID,
		Price:     &price,
		Kind:      models.TransactionSale,
		CreatedAt: now,
	})
	r.writer.SaveListing(snapshot)
	r.publish(Event{Kind: EventSold, ListingID: listingID, SellerID: snapshot.SellerID, ActorID: &buyerID, Amount: &price, Time: now})
	r.logger.Info("listing bought out",
		slog.String("listing", listingID.String()),
		slog.String("buyer", buyerID.String()),
		slog.Int64("price", price))
	return snapshot, nil
}

// Cancel 取消一筆上架並將物品退回賣家的待領清單
// 只有賣家本人(或管理員)可以取消；已有人出價的競標不能取消，
// 因為最高出價者的押金還押在上面
func (r *Registry) Cancel(ctx context.Context, listingID, requesterID uuid.UUID, admin bool) error {
	done, err := r.begin()
	if err != nil {
		return err
	}
	defer done()

	e := r.entry(listingID)
	if e == nil {
		return ErrNotFound
	}
	now := r.cfg.Now()

	var snapshot models.Listing
	handle := func() error {
		e.mu.Lock()
		defer e.mu.Unlock()

		if e.l.Status != models.StatusActive {
			return ErrNotActive
		}
		if !admin && requesterID != e.l.SellerID {
			return ErrNotOwner
		}
		if e.l.HasBid() {
			return ErrHasBids
		}

		e.l.Status = models.StatusCancelled
		snapshot = e.l
		return nil
	}
	if err := handle(); err != nil {
		return err
	}
	r.remove(listingID)

	r.directory.AddClaim(models.NewItemClaim(snapshot.SellerID, listingID, snapshot.Item))
	r.ledger.Append(models.Transaction{
		ListingID: listingID,
		SellerID:  snapshot.SellerID,
		Kind:      models.TransactionCancellation,
		CreatedAt: now,
	})
	r.writer.SaveListing(snapshot)
	r.publish(Event{Kind: EventCancelled, ListingID: listingID, SellerID: snapshot.SellerID, ActorID: &requesterID, Time: now})
	r.logger.Info("listing cancelled",
		slog.String("listing", listingID.String()),
		slog.String("requester", requesterID.String()),
		slog.Bool("admin", admin))
	return nil
}

// settle 結算一筆已到期的上架
// 在上架的鎖內重新確認其狀態與到期時間：掃描後才被買走或取消的上架
// 在這裡會被跳過。有出價即成交(押金已在出價時收取)，否則流標退回賣家
func (r *Registry) settle(ctx context.Context, listingID uuid.UUID, now time.Time) error {
	e := r.entry(listingID)
	if e == nil {
		return nil
	}

	var (
		snapshot models.Listing
		settled  bool
	)
	e.mu.Lock()
	if e.l.Status == models.StatusActive && !e.l.ExpiresAt.After(now) {
		if e.l.HasBid() && *e.l.BidAmount >= e.l.StartPrice {
			e.l.Status = models.StatusSold
		} else {
			e.l.Status = models.StatusExpired
		}
		snapshot = e.l
		settled = true
	}
	e.mu.Unlock()
	if !settled {
		return nil
	}
	r.remove(listingID)

	if snapshot.Status == models.StatusSold {
		buyer, price := *snapshot.BidderID, *snapshot.BidAmount
		r.directory.AddClaim(models.NewItemClaim(buyer, listingID, snapshot.Item))
		r.directory.AddClaim(models.NewCurrencyClaim(snapshot.SellerID, listingID, price))
		r.ledger.Append(models.Transaction{
			ListingID: listingID,
			SellerID:  snapshot.SellerID,
			BuyerID:   &buyer,
			Price:     &price,
			Kind:      models.TransactionSale,
			CreatedAt: now,
		})
		r.publish(Event{Kind: EventSold, ListingID: listingID, SellerID: snapshot.SellerID, ActorID: &buyer, Amount: &price, Time: now})
	} else {
		r.directory.AddClaim(models.NewItemClaim(snapshot.SellerID, listingID, snapshot.Item))
		r.ledger.Append(models.Transaction{
			ListingID: listingID,
			SellerID:  snapshot.SellerID,
			Kind:      models.TransactionExpiryReturn,
			CreatedAt: now,
		})
		r.publish(Event{Kind: EventExpired, ListingID: listingID, SellerID: snapshot.SellerID, Time: now})
	}
	r.writer.SaveListing(snapshot)
	r.logger.Info("listing settled",
		slog.String("listing", listingID.String()),
		slog.String("status", string(snapshot.Status)))
	return nil
}

// dueListings 回傳到期時間不晚於 now 的上架 id
// 依(到期時間、上架時間)由小到大排序，讓結算順序是可重現的
func (r *Registry) dueListings(now time.Time) []uuid.UUID {
	type due struct {
		id        uuid.UUID
		expiresAt time.Time
		listedAt  time.Time
	}

	r.mu.RLock()
	candidates := make([]*listingEntry, 0, len(r.listings))
	for _, e := range r.listings {
		candidates = append(candidates, e)
	}
	r.mu.RUnlock()

	var dues []due
	for _, e := range candidates {
		e.mu.Lock()
		if e.l.Status == models.StatusActive && !e.l.ExpiresAt.After(now) {
			dues = append(dues, due{id: e.l.ID, expiresAt: e.l.ExpiresAt, listedAt: e.l.ListedAt})
		}
		e.mu.Unlock()
	}

	sort.Slice(dues, func(i, j int) bool {
		if !dues[i].expiresAt.Equal(dues[j].expiresAt) {
			return dues[i].expiresAt.Before(dues[j].expiresAt)
		}
		return dues[i].listedAt.Before(dues[j].listedAt)
	})

	ids := make([]uuid.UUID, len(dues))
	for i, d := range dues {
		ids[i] = d.id
	}
	return ids
}

// Get 取得一筆上架的複本
func (r *Registry) Get(listingID uuid.UUID) (models.Listing, error) {
	e := r.entry(listingID)
	if e == nil {
		return models.Listing{}, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.l, nil
}

// SearchFilter 為瀏覽上架的查詢條件，nil 欄位表示不限制
type SearchFilter struct {
	SellerID  *uuid.UUID
	Kind      *models.ListingKind
	PriceFrom *int64 // 以目前價格(最高出價，否則起標價)比較
	PriceTo   *int64
}

// Search 回傳符合條件、仍在進行中的上架
// 依(上架時間、id)排序，結果是當下的複本
func (r *Registry) Search(filter SearchFilter) []models.Listing {
	r.mu.RLock()
	entries := make([]*listingEntry, 0, len(r.listings))
	for _, e := range r.listings {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	var results []models.Listing
	for _, e := range entries {
		e.mu.Lock()
		l := e.l
		e.mu.Unlock()
		if l.Status != models.StatusActive {
			continue
		}
		if filter.SellerID != nil && l.SellerID != *filter.SellerID {
			continue
		}
		if filter.Kind != nil && l.Kind != *filter.Kind {
			continue
		}
		price := l.StartPrice
		if l.BidAmount != nil {
			price = *l.BidAmount
		}
		if filter.PriceFrom != nil && price < *filter.PriceFrom {
			continue
		}
		if filter.PriceTo != nil && price > *filter.PriceTo {
			continue
		}
		results = append(results, l)
	}

	sort.Slice(results, func(i, j int) bool {
		if !results[i].ListedAt.Equal(results[j].ListedAt) {
			return results[i].ListedAt.Before(results[j].ListedAt)
		}
		return results[i].ID.String() < results[j].ID.String()
	})
	return results
}

// AllActive 回傳所有進行中上架的複本，用於關閉時的最終存檔
func (r *Registry) AllActive() []models.Listing {
	return r.Search(SearchFilter{})
}
