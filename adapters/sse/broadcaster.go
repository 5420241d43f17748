package sse

import (
	"context"
	"log/slog"
	"sync"
)

// broadcaster 管理多個事件頻道的訂閱與發布
// 事件的傳遞是 best-effort：訂閱者的緩衝滿了就丟棄該事件並記錄，
// 絕不讓發布端(拍賣引擎)因為慢速的訂閱者而阻塞
type broadcaster[T any] struct {
	logger *slog.Logger

	mu     sync.RWMutex // 保護 active 和 channels 的讀寫
	active bool         // 標記 broadcaster 是否正在運作中
	buffer int          // 每個訂閱者通道的緩衝大小

	channels map[string]map[<-chan T]chan T // 頻道名稱 -> 訂閱者集合
}

type broadcasterOptions struct {
	logger *slog.Logger
	buffer int
}

type BroadcasterOption func(*broadcasterOptions)

// WithBroadcasterLogger 設置日誌記錄器
func WithBroadcasterLogger(logger *slog.Logger) BroadcasterOption {
	return func(o *broadcasterOptions) {
		o.logger = logger
	}
}

// WithBroadcasterBuffer 設置每個訂閱者通道的緩衝大小
func WithBroadcasterBuffer(size int) BroadcasterOption {
	return func(o *broadcasterOptions) {
		o.buffer = size
	}
}

// NewBroadcaster 建立一個新的事件廣播器
func NewBroadcaster[T any](opts ...BroadcasterOption) IBroadcaster[T] {
	options := broadcasterOptions{
		logger: slog.Default(),
		buffer: 16,
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &broadcaster[T]{
		logger:   options.logger.With(slog.String("caller", "Broadcaster")),
		buffer:   options.buffer,
		channels: make(map[string]map[<-chan T]chan T),
		active:   true,
	}
}

// Subscribe 訂閱指定的頻道
func (b *broadcaster[T]) Subscribe(channelName string) (<-chan T, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.active {
		return nil, context.Canceled
	}

	subscribers, ok := b.channels[channelName]
	if !ok {
		subscribers = make(map[<-chan T]chan T)
		b.channels[channelName] = subscribers
	}
	ch := make(chan T, b.buffer)
	subscribers[ch] = ch
	return ch, nil
}

// Unsubscribe 取消訂閱指定的頻道，並關閉訂閱者的通道
func (b *broadcaster[T]) Unsubscribe(channelName string, ch <-chan T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subscribers, ok := b.channels[channelName]
	if !ok {
		return
	}
	if writeCh, exists := subscribers[ch]; exists {
		delete(subscribers, ch)
		close(writeCh)
	}
	if len(subscribers) == 0 {
		delete(b.channels, channelName)
	}
}

// Publish 將事件廣播給頻道的所有訂閱者
func (b *broadcaster[T]) Publish(channelName string, event T) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.active {
		return
	}

	for _, writeCh := range b.channels[channelName] {
		select {
		case writeCh <- event:
		default:
			// 訂閱者跟不上就丟棄，待領清單才是權威的結果來源
			b.logger.Debug("subscriber buffer full, event dropped", slog.String("channel", channelName))
		}
	}
}

// Done 停止廣播器，關閉所有訂閱者的通道
func (b *broadcaster[T]) Done() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.active {
		return
	}
	b.active = false
	for _, subscribers := range b.channels {
		for _, writeCh := range subscribers {
			close(writeCh)
		}
	}
	clear(b.channels)
}
