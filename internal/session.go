package internal

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// 系統設計問題：
//   每條連線是一個獨立的邏輯任務，彼此只透過共享儲存與廣播層協作。
//   連線層要負責：握手（驗證 + 配對）、入站訊框分發、出站序列化、心跳。
//
// 設計方案：
//   ✅ 每連線一個 Session，兩個 goroutine（readPump / writePump）
//   ✅ Ping/Pong 心跳檢測死連接（54s / 60s）
//   ✅ 緩衝 channel 異步發送，慢客戶端丟事件而非拖垮房間
//   ✅ channel id = "<username>:<uuid>"，
//      使用者名前綴是重連判定的依據（見 Matchmaker）
//
// 清理語義（刻意不對稱）：
//   - 收到 exit_room：廣播退房通知，刪除房間雜湊與成員集合
//   - 網路斷線 / 客戶端關閉：只回收本地資源，
//     房間與成員集合原樣留在儲存裡等 TTL 回收——
//     留下的舊成員條目正是之後重連匹配的線索

const (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	writeWait  = 10 * time.Second
)

// SessionHub WebSocket 接入點
//
// 持有所有協作者的注入點：儲存、配對器、引擎、廣播層、驗證器。
type SessionHub struct {
	store       RoomStore
	matchmaker  *Matchmaker
	engine      *Engine
	broadcaster Broadcaster
	auth        Authenticator
	logger      *slog.Logger
	upgrader    websocket.Upgrader
}

// NewSessionHub 創建接入點
func NewSessionHub(store RoomStore, matchmaker *Matchmaker, engine *Engine, broadcaster Broadcaster, auth Authenticator, logger *slog.Logger) *SessionHub {
	return &SessionHub{
		store:       store,
		matchmaker:  matchmaker,
		engine:      engine,
		broadcaster: broadcaster,
		auth:        auth,
		logger:      logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// 在生產環境應該檢查來源
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Session 一條活躍連線
type Session struct {
	username  string
	roomID    string
	channelID string

	conn *websocket.Conn
	send chan []byte
	sub  Subscription
	hub  *SessionHub

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	mu     sync.RWMutex
	closed bool
}

// ServeWS 處理 WebSocket 連線
//
// 流程：驗證 → 配對 → 升級 → 訂閱房間事件 → 發送 connect 訊框 → 啟動讀寫泵。
// 驗證失敗的連線在任何配對邏輯執行之前就被拒絕。
func (hub *SessionHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	username := r.URL.Query().Get("username")
	token := r.URL.Query().Get("token")
	if username == "" {
		http.Error(w, "缺少 username", http.StatusBadRequest)
		return
	}
	if !hub.auth.Verify(username, token) {
		http.Error(w, "驗證失敗", http.StatusForbidden)
		return
	}

	channelID := username + ":" + uuid.NewString()

	placement, err := hub.matchmaker.Resolve(r.Context(), username, channelID)
	if err != nil {
		hub.logger.Error("配對失敗",
			"username", username,
			"error", err)
		http.Error(w, "配對失敗", http.StatusServiceUnavailable)
		return
	}

	conn, err := hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("升級 WebSocket 失敗", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	session := &Session{
		username:  username,
		roomID:    placement.RoomID,
		channelID: channelID,
		conn:      conn,
		send:      make(chan []byte, 256),
		hub:       hub,
		ctx:       ctx,
		cancel:    cancel,
	}

	sub, err := hub.broadcaster.Subscribe(session.roomID, session.deliver)
	if err != nil {
		hub.logger.Error("訂閱房間事件失敗",
			"room_id", session.roomID,
			"error", err)
		conn.Close()
		cancel()
		return
	}
	session.sub = sub

	go session.writePump()
	go session.readPump()

	// connect 訊框攜帶完整的房間欄位快照
	data, err := hub.store.GetAll(ctx, session.roomID)
	if err != nil {
		hub.logger.Error("讀取房間狀態失敗",
			"room_id", session.roomID,
			"error", err)
		data = map[string]string{}
	}
	session.sendFrame(Frame{
		Context: ContextConnect,
		Data:    data,
	})

	hub.logger.Info("WebSocket 連接建立",
		"room_id", session.roomID,
		"username", username,
		"reconnect", placement.Reconnect,
		"created", placement.Created)
}

// deliver 廣播層的投遞回呼：序列化後排進發送隊列
//
// 取消訂閱之後仍可能有在途回呼，closed 旗標（讀鎖）與 close 的寫鎖互斥，
// 保證不會往已關閉的 channel 發送。
func (s *Session) deliver(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		s.hub.logger.Error("序列化事件失敗", "error", err)
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}

	select {
	case s.send <- data:
	default:
		// 連接緩衝區滿了，丟棄事件
		s.hub.logger.Warn("連接緩衝區滿",
			"room_id", s.roomID,
			"username", s.username)
	}
}

// sendFrame 只發給這條連線（connect / error 訊框）
func (s *Session) sendFrame(frame Frame) {
	s.deliver(frame)
}

// close 回收本地資源，冪等
//
// 只動本地：取消訂閱、關 channel、關連線。
// 儲存裡的房間與成員集合一概不動。
func (s *Session) close() {
	s.closeOnce.Do(func() {
		if s.sub != nil {
			if err := s.sub.Unsubscribe(); err != nil {
				s.hub.logger.Error("取消訂閱失敗",
					"room_id", s.roomID,
					"error", err)
			}
		}
		s.cancel()

		s.mu.Lock()
		s.closed = true
		close(s.send)
		s.mu.Unlock()
	})
}

// readPump 讀取客戶端訊框
//
// 心跳：60 秒內沒有任何消息（含 Pong）就視為死連接，
// 配合 writePump 的 54 秒 Ping（留 6 秒余量）。
func (s *Session) readPump() {
	defer func() {
		s.close()
		s.conn.Close()
	}()

	if err := s.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		s.hub.logger.Error("設置讀取期限失敗", "error", err)
	}
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.hub.logger.Error("WebSocket 讀取錯誤",
					"error", err,
					"room_id", s.roomID,
					"username", s.username)
			}
			return
		}

		if messageType == websocket.TextMessage {
			s.handleFrame(message)
		}
	}
}

// writePump 寫入消息到客戶端並定期發送 Ping
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case message, ok := <-s.send:
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				s.hub.logger.Error("設置寫入期限失敗", "error", err)
			}
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// 批量發送隊列中的消息
			n := len(s.send)
			for i := 0; i < n; i++ {
				if err := s.conn.WriteMessage(websocket.TextMessage, <-s.send); err != nil {
					return
				}
			}

		case <-ticker.C:
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				s.hub.logger.Error("設置寫入期限失敗", "error", err)
			}
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleFrame 分發一個入站訊框
//
// 分發前固定動作：重新讀取房間狀態、由 member/guest 推導 enemy。
// 格式錯誤或未知 context 回覆 error 訊框後繼續服務（不終止 session）；
// 儲存層故障降級為空快照，處理器自行容忍。
func (s *Session) handleFrame(message []byte) {
	var frame InboundFrame
	if err := json.Unmarshal(message, &frame); err != nil {
		s.hub.logger.Warn("解析客戶端訊框失敗",
			"error", err,
			"room_id", s.roomID,
			"username", s.username)
		s.sendFrame(Frame{Context: ContextError, Reason: "malformed frame"})
		return
	}

	snapshot, err := s.hub.store.GetAll(s.ctx, s.roomID)
	if err != nil {
		s.hub.logger.Error("讀取房間狀態失敗",
			"room_id", s.roomID,
			"error", err)
		snapshot = map[string]string{}
	}

	// enemy = 房間裡不是自己的那個角色
	enemy := snapshot[FieldGuest]
	if enemy == s.username {
		enemy = snapshot[FieldMember]
	}

	switch frame.Context {
	case ContextExitRoom:
		s.exitRoom()

	case ContextSendMessage:
		if err := s.hub.engine.Chat(s.ctx, s.roomID, s.username, snapshot, frame.Message); err != nil {
			s.hub.logger.Error("處理聊天訊息失敗",
				"room_id", s.roomID,
				"error", err)
		}

	case ContextPlayerReady:
		if err := s.hub.engine.Ready(s.ctx, s.roomID, s.username, enemy, frame.SelectedCells); err != nil {
			s.hub.logger.Error("處理佈船失敗",
				"room_id", s.roomID,
				"error", err)
		}

	case ContextShot:
		if err := s.hub.engine.Shot(s.ctx, s.roomID, s.username, enemy, snapshot, frame.Cell); err != nil {
			s.hub.logger.Error("處理射擊失敗",
				"room_id", s.roomID,
				"error", err)
		}

	default:
		s.sendFrame(Frame{Context: ContextError, Reason: "unknown context"})
	}
}

// exitRoom 玩家主動退房
//
// 廣播退房通知後刪除房間雜湊與成員集合（兩次刪除非原子），
// 最後關閉連線。這是唯一會清理儲存的斷線路徑。
func (s *Session) exitRoom() {
	if err := s.hub.broadcaster.Publish(s.ctx, s.roomID, Frame{
		Context: ContextNotification,
		Type:    NoticeExitRoom,
	}); err != nil {
		s.hub.logger.Error("廣播退房通知失敗",
			"room_id", s.roomID,
			"error", err)
	}

	if err := s.hub.store.Delete(s.ctx, s.roomID); err != nil {
		s.hub.logger.Error("刪除房間失敗",
			"room_id", s.roomID,
			"error", err)
	}
	if err := s.hub.store.DeleteGroup(s.ctx, s.roomID); err != nil {
		s.hub.logger.Error("刪除房間成員集合失敗",
			"room_id", s.roomID,
			"error", err)
	}

	s.hub.logger.Info("玩家退房",
		"room_id", s.roomID,
		"username", s.username)

	s.close()
	s.conn.Close()
}
