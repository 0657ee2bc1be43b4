package internal

// 訊框協議定義
//
// 客戶端與服務器之間透過 WebSocket 交換 JSON 訊框，
// 以 context 欄位區分訊框種類：
//
//	入站：exit_room / send_message / player_ready / shot
//	出站：connect / message / notification / action / error
//
// 房間廣播事件與出站訊框共用同一結構（Frame）：
// 廣播層發佈的就是最終要送到每個客戶端的訊框，
// 所有訂閱者收到的內容完全相同，無需再per-connection 重組。

// 入站訊框 context
const (
	ContextExitRoom    = "exit_room"
	ContextSendMessage = "send_message"
	ContextPlayerReady = "player_ready"
	ContextShot        = "shot"
)

// 出站訊框 context
const (
	ContextConnect      = "connect"
	ContextMessage      = "message"
	ContextNotification = "notification"
	ContextAction       = "action"
	ContextError        = "error"
)

// 通知類型（notification 訊框的 type 欄位）
const (
	NoticeExitRoom  = "exit_room"
	NoticeStartGame = "start_game"
)

// 動作類型（action 訊框的 action_type 欄位）
//
// params 格式：
//   - hit:  "<被擊中方>,<格子>"
//   - miss: "<射擊方>,<格子>"
//   - lose: "<敗方>"
const (
	ActionHit  = "hit"
	ActionMiss = "miss"
	ActionLose = "lose"
)

// 房間雜湊欄位名
//
// 玩家作用域欄位以 "<username>:<欄位>" 形式儲存，
// 例如 "alice:selected_cells"。
const (
	FieldMember     = "member"
	FieldGuest      = "guest"
	FieldMessages   = "messages"
	FieldGameStatus = "game_status"

	FieldSelectedCells = "selected_cells"
	FieldDeadCells     = "dead_cells"
	FieldMissCells     = "miss_cells"
	FieldHitCells      = "hit_cells"
	FieldAccessToShot  = "access_to_shot"
)

// GuestNone 房間尚無第二位玩家時 guest 欄位的哨兵值
const GuestNone = "none"

// GameStarted game_status 欄位的開局值。
// 房間創建時不寫入 game_status，欄位首次出現即為 started。
const GameStarted = "started"

// PlayerField 組出玩家作用域的欄位名
func PlayerField(username, field string) string {
	return username + ":" + field
}

// InboundFrame 客戶端送入的訊框
type InboundFrame struct {
	Context       string   `json:"context"`
	Message       string   `json:"message,omitempty"`
	SelectedCells []string `json:"selected_cells,omitempty"`
	Cell          string   `json:"cell,omitempty"`
}

// Message 聊天訊息
//
// id 是十進位字串，同一房間內從 "1" 起嚴格遞增。
// 訊息一旦寫入即不可變，隨房間一起過期。
type Message struct {
	ID     string `json:"id"`
	Sender string `json:"sender"`
	Text   string `json:"text"`
}

// Frame 出站訊框，也是房間廣播事件的載體
type Frame struct {
	Context    string            `json:"context"`
	Data       map[string]string `json:"data,omitempty"`
	Message    *Message          `json:"message,omitempty"`
	Type       string            `json:"type,omitempty"`
	ActionType string            `json:"action_type,omitempty"`
	Params     string            `json:"params,omitempty"`
	Reason     string            `json:"reason,omitempty"`
}
