//go:generate mockgen -package=sse -destination=mock.go -source=interfaces.go

package sse

// IBroadcaster 定義了事件廣播器的介面
// 以頻道名稱區分主題，訂閱者透過唯讀通道接收事件
type IBroadcaster[T any] interface {
	// Subscribe 訂閱指定頻道，返回接收事件的唯讀通道
	Subscribe(channelName string) (<-chan T, error)
	// Unsubscribe 取消訂閱指定頻道
	Unsubscribe(channelName string, ch <-chan T)
	// Publish 將事件廣播給頻道的所有訂閱者，不會因訂閱者而阻塞
	Publish(channelName string, event T)
	// Done 停止廣播器，關閉所有訂閱者的通道
	Done()
}
