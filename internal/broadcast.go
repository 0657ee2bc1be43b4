package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// 系統設計問題：
//   房間事件（開局、射擊結果、聊天）要送達「當下訂閱該房間的每一條連線」，
//   發佈者不知道也不關心訂閱者在哪裡。
//
// 設計方案：
//   ✅ NATS core pub/sub - 每個房間一個 subject（room.<id>）
//   ✅ At-most-once 投遞，無跨發佈者順序保證，發佈端不等確認
//   ✅ 廣播層是黑盒：核心只透過 Broadcaster 介面使用它
//
// 為何選擇 NATS 而非自建廣播？
//   - 連線分屬獨立 goroutine，自建需要一個進程內 hub 與鎖
//   - NATS 讓多個服務器實例天然共享同一個房間的事件流
//   - core NATS 的 fire-and-forget 語義正好符合「盡力投遞」的要求

// Subscription 一條連線對某個房間事件流的訂閱
type Subscription interface {
	Unsubscribe() error
}

// Broadcaster 具名群組發佈/訂閱的窄介面
type Broadcaster interface {
	// Subscribe 訂閱房間事件流，之後發佈到該房間的每個訊框都會回呼 deliver
	Subscribe(roomID string, deliver func(Frame)) (Subscription, error)

	// Publish 把訊框發佈給房間的所有訂閱者，盡力投遞
	Publish(ctx context.Context, roomID string, frame Frame) error
}

func roomSubject(roomID string) string {
	return "room." + roomID
}

// NATSBroadcaster Broadcaster 的 NATS 實作
type NATSBroadcaster struct {
	conn   *nats.Conn
	logger *slog.Logger
}

// NewNATSBroadcaster 連接 NATS 並創建廣播器
//
// 連接選項：
//   - MaxReconnects(-1)：無限重連
//   - ReconnectWait(1s)：重連間隔
//   - PingInterval(20s)：心跳檢測
func NewNATSBroadcaster(url string, logger *slog.Logger) (*NATSBroadcaster, error) {
	conn, err := nats.Connect(
		url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.PingInterval(20*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("連接 NATS 失敗: %w", err)
	}

	return &NATSBroadcaster{
		conn:   conn,
		logger: logger,
	}, nil
}

// Subscribe 訂閱房間 subject
func (b *NATSBroadcaster) Subscribe(roomID string, deliver func(Frame)) (Subscription, error) {
	sub, err := b.conn.Subscribe(roomSubject(roomID), func(msg *nats.Msg) {
		var frame Frame
		if err := json.Unmarshal(msg.Data, &frame); err != nil {
			b.logger.Error("解析房間事件失敗",
				"room_id", roomID,
				"error", err)
			return
		}
		deliver(frame)
	})
	if err != nil {
		return nil, fmt.Errorf("訂閱房間 %s 失敗: %w", roomID, err)
	}
	return sub, nil
}

// Publish 序列化訊框並發佈到房間 subject
func (b *NATSBroadcaster) Publish(ctx context.Context, roomID string, frame Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("序列化房間事件失敗: %w", err)
	}
	if err := b.conn.Publish(roomSubject(roomID), data); err != nil {
		return fmt.Errorf("發佈房間 %s 事件失敗: %w", roomID, err)
	}
	return nil
}

// Close 排空並關閉 NATS 連接
func (b *NATSBroadcaster) Close() {
	if err := b.conn.Drain(); err != nil {
		b.logger.Error("排空 NATS 連接失敗", "error", err)
	}
}
