package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	"auctionhouse/adapters/economy"
	"auctionhouse/adapters/store"
	"auctionhouse/engine"
	"auctionhouse/models"
)

// ServerImpl 為拍賣引擎的 HTTP 分派層
// 只負責把外部的指令轉成引擎操作並把結果(或錯誤)轉成回應，
// 所有狀態與規則都在引擎內
type ServerImpl struct {
	engine      *engine.Engine
	redisClient *redis.Client
	wg          sync.WaitGroup
	cancelFunc  context.CancelFunc

	config ServerConfig
}

func NewServer(config ServerConfig) (*ServerImpl, error) {
	const op = "NewServer"

	// 初始化資料庫連線
	// 未設定資料庫主機時退回本地的 sqlite 檔案(開發環境)
	var dialector gorm.Dialector
	if config.DB.Host != "" {
		dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable&search_path=%s", config.DB.User, config.DB.Password, config.DB.Host, config.DB.Port, config.DB.Database, config.DB.Schema)
		dialector = postgres.Open(dsn)
	} else {
		file := config.DB.File
		if file == "" {
			file = "auctionhouse.db"
		}
		dialector = sqlite.Open(file)
	}
	gormConfig := &gorm.Config{TranslateError: true}
	if config.DB.Host != "" && config.DB.Schema != "" {
		gormConfig.NamingStrategy = schema.NamingStrategy{TablePrefix: config.DB.Schema + "."}
	}
	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to connect to database, err=%w", op, err)
	}
	gormStore, err := store.NewGormStore(db)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to initial store, err=%w", op, err)
	}

	// 初始化經濟系統
	// 未設定 Redis 時使用記憶體錢包(開發環境)
	var eco economy.IEconomy
	var redisClient *redis.Client
	if config.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     config.Redis.Addr,
			Password: config.Redis.Password,
			DB:       config.Redis.DB,
		})
		eco = economy.NewRedisEconomy(redisClient, economy.WithEconomyPrefix(config.Redis.KeyPrefix))
	} else {
		slog.Warn("redis not configured, using in-memory economy")
		eco = economy.NewMemoryEconomy()
	}

	// 初始化拍賣引擎
	engineConfig := engine.DefaultConfig()
	if config.Auction.EconomyTimeout > 0 {
		engineConfig.EconomyTimeout = config.Auction.EconomyTimeout
	}
	if config.Auction.PersistInterval > 0 {
		engineConfig.PersistInterval = config.Auction.PersistInterval
	}
	engineConfig.MaxListingDuration = config.Auction.MaxListingDuration
	eng := engine.New(engineConfig, eco, gormStore, slog.Default())
	if err := eng.Load(context.Background()); err != nil {
		return nil, fmt.Errorf("[%s] Fail to load auction house, err=%w", op, err)
	}

	return &ServerImpl{
		engine:      eng,
		redisClient: redisClient,
		config:      config,
	}, nil
}

// Start 啟動結算的計時器
// 排程器本身不擁有計時器，週期性的驅動在這裡
func (impl *ServerImpl) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	impl.cancelFunc = cancel

	interval := impl.config.Auction.TickInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	slog.Info("Start auction tick driver", slog.Duration("interval", interval))
	impl.wg.Add(1)
	go func() {
		defer impl.wg.Done()
		defer slog.Info("Auction tick driver stopped")
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				impl.engine.Scheduler.RunCycle(ctx)
			}
		}
	}()
}

// Close 停止計時器並有序地關閉引擎
func (impl *ServerImpl) Close() {
	if impl.cancelFunc != nil {
		impl.cancelFunc()
	}
	impl.wg.Wait()
	if err := impl.engine.Shutdown(context.Background()); err != nil {
		slog.Error("Fail to shutdown auction house", slog.Any("error", err))
	}
	if impl.redisClient != nil {
		impl.redisClient.Close()
	}
}

// RegisterRoutes 註冊所有路由
func (impl *ServerImpl) RegisterRoutes(router *gin.Engine) {
	router.POST("/market/listings", impl.PostListing)
	router.GET("/market/listings", impl.GetListings)
	router.GET("/market/listings/:listingID", impl.GetListing)
	router.POST("/market/listings/:listingID/bids", impl.PostBid)
	router.POST("/market/listings/:listingID/purchase", impl.PostPurchase)
	router.DELETE("/market/listings/:listingID", impl.DeleteListing)
	router.GET("/market/listings/:listingID/events", impl.GetListingEvents)
	router.GET("/market/transactions", impl.GetTransactions)
	router.GET("/participants/:participantID", impl.GetParticipant)
	router.POST("/participants/:participantID/connect", impl.PostConnect)
	router.POST("/participants/:participantID/disconnect", impl.PostDisconnect)
	router.POST("/participants/:participantID/claims/collect", impl.PostCollectClaims)
}

// renderError 將引擎的錯誤分類轉成對應的 HTTP 回應
func renderError(c *gin.Context, err error) {
	var status int
	switch {
	case errors.Is(err, engine.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, engine.ErrNotActive):
		status = http.StatusGone
	case errors.Is(err, engine.ErrInvalidListing),
		errors.Is(err, engine.ErrBidTooLow),
		errors.Is(err, engine.ErrHasBids),
		errors.Is(err, engine.ErrNoBuyNowPrice):
		status = http.StatusBadRequest
	case errors.Is(err, engine.ErrSelfBid), errors.Is(err, engine.ErrNotOwner):
		status = http.StatusForbidden
	case errors.Is(err, economy.ErrInsufficientFunds):
		status = http.StatusPaymentRequired
	case errors.Is(err, economy.ErrProviderUnavailable), errors.Is(err, engine.ErrClosed):
		status = http.StatusServiceUnavailable
	default:
		slog.Error("Unexpected error", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "internal error"})
		return
	}
	c.JSON(status, gin.H{"message": err.Error()})
}

type listingView struct {
	ID           uuid.UUID          `json:"id"`
	SellerID     uuid.UUID          `json:"sellerId"`
	Kind         models.ListingKind `json:"kind"`
	StartPrice   int64              `json:"startPrice"`
	BuyNowPrice  *int64             `json:"buyNowPrice,omitempty"`
	CurrentPrice int64              `json:"currentPrice"`
	BidderID     *uuid.UUID         `json:"bidderId,omitempty"`
	ListedAt     time.Time          `json:"listedAt"`
	ExpiresAt    time.Time          `json:"expiresAt"`
	Item         any                `json:"item,omitempty"`
}

func toListingView(l models.Listing, withItem bool) listingView {
	view := listingView{
		ID:           l.ID,
		SellerID:     l.SellerID,
		Kind:         l.Kind,
		StartPrice:   l.StartPrice,
		BuyNowPrice:  l.BuyNowPrice,
		CurrentPrice: l.StartPrice,
		BidderID:     l.BidderID,
		ListedAt:     l.ListedAt,
		ExpiresAt:    l.ExpiresAt,
	}
	if l.BidAmount != nil {
		view.CurrentPrice = *l.BidAmount
	}
	if withItem {
		if item, err := models.DecodeItem(l.Item); err == nil {
			view.Item = item
		}
	}
	return view
}

// Add a new listing
// (POST /market/listings)
func (impl *ServerImpl) PostListing(c *gin.Context) {
	const op = "PostListing"
	var body struct {
		SellerID        uuid.UUID          `json:"sellerId" binding:"required"`
		Item            any                `json:"item" binding:"required"`
		Kind            models.ListingKind `json:"kind" binding:"required"`
		StartPrice      int64              `json:"startPrice"`
		BuyNowPrice     *int64             `json:"buyNowPrice"`
		DurationSeconds int64              `json:"durationSeconds" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	item, err := models.EncodeItem(body.Item)
	if err != nil {
		slog.Error("Fail to encode item", slog.String("op", op), slog.Any("error", err))
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid item payload"})
		return
	}
	listing, err := impl.engine.Registry.Create(
		c.Request.Context(),
		body.SellerID,
		item,
		body.Kind,
		body.StartPrice,
		body.BuyNowPrice,
		time.Duration(body.DurationSeconds)*time.Second,
	)
	if err != nil {
		renderError(c, err)
		return
	}
	c.Header("Location", "/market/listings/"+listing.ID.String())
	c.JSON(http.StatusCreated, gin.H{"id": listing.ID})
}

// List active listings
// (GET /market/listings)
func (impl *ServerImpl) GetListings(c *gin.Context) {
	var filter engine.SearchFilter
	if raw := c.Query("sellerId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "invalid sellerId"})
			return
		}
		filter.SellerID = &id
	}
	if raw := c.Query("kind"); raw != "" {
		filter.Kind = lo.ToPtr(models.ListingKind(raw))
	}
	var parseErr error
	parsePrice := func(name string) *int64 {
		raw := c.Query(name)
		if raw == "" {
			return nil
		}
		var v int64
		if _, err := fmt.Sscan(raw, &v); err != nil {
			parseErr = fmt.Errorf("invalid %s", name)
			return nil
		}
		return &v
	}
	filter.PriceFrom = parsePrice("priceFrom")
	filter.PriceTo = parsePrice("priceTo")
	if parseErr != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": parseErr.Error()})
		return
	}

	listings := impl.engine.Registry.Search(filter)
	if len(listings) == 0 {
		c.Status(http.StatusNotFound)
		return
	}
	views := lo.Map(listings, func(l models.Listing, _ int) listingView {
		return toListingView(l, false)
	})
	c.JSON(http.StatusOK, gin.H{"count": len(views), "items": views})
}

// Get listing details
// (GET /market/listings/{listingID})
func (impl *ServerImpl) GetListing(c *gin.Context) {
	listingID, err := uuid.Parse(c.Param("listingID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid listing id"})
		return
	}
	listing, err := impl.engine.Registry.Get(listingID)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, toListingView(listing, true))
}

// Place a bid
// (POST /market/listings/{listingID}/bids)
func (impl *ServerImpl) PostBid(c *gin.Context) {
	listingID, err := uuid.Parse(c.Param("listingID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid listing id"})
		return
	}
	var body struct {
		BidderID uuid.UUID `json:"bidderId" binding:"required"`
		Amount   int64     `json:"amount" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	if err := impl.engine.Registry.PlaceBid(c.Request.Context(), listingID, body.BidderID, body.Amount); err != nil {
		renderError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

// Buy out a listing
// (POST /market/listings/{listingID}/purchase)
func (impl *ServerImpl) PostPurchase(c *gin.Context) {
	listingID, err := uuid.Parse(c.Param("listingID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid listing id"})
		return
	}
	var body struct {
		BuyerID uuid.UUID `json:"buyerId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	listing, err := impl.engine.Registry.BuyNow(c.Request.Context(), listingID, body.BuyerID)
	if err != nil {
		renderError(c, err)
		return
	}
	price, _ := listing.PurchasePrice()
	c.JSON(http.StatusOK, gin.H{"price": price})
}

// Cancel a listing
// (DELETE /market/listings/{listingID})
func (impl *ServerImpl) DeleteListing(c *gin.Context) {
	listingID, err := uuid.Parse(c.Param("listingID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid listing id"})
		return
	}
	requesterID, err := uuid.Parse(c.Query("requesterId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid requester id"})
		return
	}
	admin := c.Query("admin") == "true"

	if err := impl.engine.Registry.Cancel(c.Request.Context(), listingID, requesterID, admin); err != nil {
		renderError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

// Track listing events
// (GET /market/listings/{listingID}/events)
func (impl *ServerImpl) GetListingEvents(c *gin.Context) {
	const op = "GetListingEvents"
	listingID, err := uuid.Parse(c.Param("listingID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid listing id"})
		return
	}
	if _, err := impl.engine.Registry.Get(listingID); err != nil {
		renderError(c, err)
		return
	}

	// SSE請求合法，開始初始化串流
	w := c.Writer
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Transfer-Encoding", "chunked")
	ch, err := impl.engine.Events.Subscribe(listingID.String())
	if err != nil {
		slog.Error("Fail to subscribe to listing events", slog.String("op", op), slog.Any("error", err))
		c.Status(http.StatusServiceUnavailable)
		return
	}
	defer impl.engine.Events.Unsubscribe(listingID.String(), ch)
	for {
		select {
		case <-w.CloseNotify():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			c.SSEvent(string(event.Kind), event)
			w.Flush()
		// 30秒沒有事件就發送一個空行，確保瀏覽器和Cloudflare不會斷開連線
		case <-time.After(30 * time.Second):
			w.WriteString("\n\n")
			w.Flush()
		}
	}
}

// Query the transaction ledger
// (GET /market/transactions)
func (impl *ServerImpl) GetTransactions(c *gin.Context) {
	var filter engine.Filter
	parseID := func(name string) (*uuid.UUID, bool) {
		raw := c.Query(name)
		if raw == "" {
			return nil, true
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "invalid " + name})
			return nil, false
		}
		return &id, true
	}
	var ok bool
	if filter.ParticipantID, ok = parseID("participantId"); !ok {
		return
	}
	if filter.ListingID, ok = parseID("listingId"); !ok {
		return
	}
	if raw := c.Query("kind"); raw != "" {
		filter.Kind = lo.ToPtr(models.TransactionKind(raw))
	}
	parseTime := func(name string) (*time.Time, bool) {
		raw := c.Query(name)
		if raw == "" {
			return nil, true
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "invalid " + name})
			return nil, false
		}
		return &t, true
	}
	if filter.From, ok = parseTime("from"); !ok {
		return
	}
	if filter.To, ok = parseTime("to"); !ok {
		return
	}

	var records []models.Transaction
	for record := range impl.engine.Ledger.Query(filter) {
		records = append(records, record)
	}
	c.JSON(http.StatusOK, gin.H{"count": len(records), "records": records})
}

// Get participant information
// (GET /participants/{participantID})
func (impl *ServerImpl) GetParticipant(c *gin.Context) {
	const op = "GetParticipant"
	participantID, err := uuid.Parse(c.Param("participantID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid participant id"})
		return
	}

	impl.engine.Directory.Ensure(participantID)
	// 餘額快取僅供顯示，刷新失敗時沿用舊值
	balance, err := impl.engine.Directory.RefreshBalance(c.Request.Context(), participantID)
	if err != nil {
		slog.Warn("Fail to refresh balance", slog.String("op", op), slog.Any("error", err))
	}
	claims := impl.engine.Directory.PendingClaims(participantID)
	c.JSON(http.StatusOK, gin.H{
		"id":            participantID,
		"balance":       balance,
		"pendingClaims": len(claims),
	})
}

// Participant connected
// (POST /participants/{participantID}/connect)
func (impl *ServerImpl) PostConnect(c *gin.Context) {
	participantID, err := uuid.Parse(c.Param("participantID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid participant id"})
		return
	}
	impl.engine.Directory.Ensure(participantID)
	c.Status(http.StatusOK)
}

// Participant disconnected
// (POST /participants/{participantID}/disconnect)
func (impl *ServerImpl) PostDisconnect(c *gin.Context) {
	participantID, err := uuid.Parse(c.Param("participantID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid participant id"})
		return
	}
	impl.engine.Directory.Evict(participantID)
	c.Status(http.StatusOK)
}

// Collect pending claims
// (POST /participants/{participantID}/claims/collect)
func (impl *ServerImpl) PostCollectClaims(c *gin.Context) {
	participantID, err := uuid.Parse(c.Param("participantID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid participant id"})
		return
	}

	collected, err := impl.engine.Directory.Collect(c.Request.Context(), participantID)
	if err != nil {
		renderError(c, err)
		return
	}
	type claimView struct {
		ID        uuid.UUID        `json:"id"`
		ListingID uuid.UUID        `json:"listingId"`
		Kind      models.ClaimKind `json:"kind"`
		Amount    int64            `json:"amount,omitempty"`
		Item      any              `json:"item,omitempty"`
	}
	views := make([]claimView, len(collected))
	for i, claim := range collected {
		views[i] = claimView{
			ID:        claim.ID,
			ListingID: claim.ListingID,
			Kind:      claim.Kind,
			Amount:    claim.Amount,
		}
		if claim.Kind == models.ClaimItem {
			if item, err := models.DecodeItem(claim.Item); err == nil {
				views[i].Item = item
			}
		}
	}
	c.JSON(http.StatusOK, gin.H{"count": len(views), "claims": views})
}
