package internal

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
)

// 系統設計問題：
//   回合制對戰的狀態機（佈船 → 開局 → 輪流射擊 → 判負）
//   要在「無鎖、無交易」的共享儲存上運轉，如何界定每一步的語義？
//
// 狀態機：
//
//	Waiting（成員不足）→ Placing（雙方佈船中）→ Started（game_status=started）
//	                                             → Finished（廣播過 lose，無持久化終局欄位）
//
// 關鍵設計決策：
//
//  1. 開局觸發 = 雜湊欄位數恰好等於 ReadyFieldCount（5）：
//     創建時 3 個固定欄位 + 兩位玩家各一個 selected_cells。
//     這是一個與欄位結構耦合的計數啟發式——往房間雜湊加任何固定欄位
//     都會改變觸發時機。兩位玩家幾乎同時按下準備時，
//     兩次寫入會與同一次計數讀取競爭，沒有鎖來序列化這個檢查。
//
//  2. 射擊判定使用「分發訊框時拿到的快照」：
//     讀到的 dead_cells 可能已經落後於對手剛寫入的版本，
//     最後寫入者獲勝。這是整個儲存層的既定一致性等級，不在這裡補強。
//
//  3. 不檢查射擊權限：
//     access_to_shot 只作為廣播給客戶端的回合指示，
//     服務端不據此拒絕亂序射擊。
//
//  4. 判負之後房間不上鎖：
//     dead_cells 已達艦隊總格數時，後續射擊只會重播 lose 廣播，
//     不再改動任何狀態。

// Engine 回合解析引擎
type Engine struct {
	store       RoomStore
	broadcaster Broadcaster
	logger      *slog.Logger

	readyFieldCount int64
	fleetCells      int
}

// NewEngine 創建回合解析引擎
func NewEngine(store RoomStore, broadcaster Broadcaster, readyFieldCount, fleetCells int, logger *slog.Logger) *Engine {
	return &Engine{
		store:           store,
		broadcaster:     broadcaster,
		logger:          logger,
		readyFieldCount: int64(readyFieldCount),
		fleetCells:      fleetCells,
	}
}

// Ready 處理玩家佈船完成
//
// 儲存呼叫方的佈船格子後重新計數欄位；
// 計數命中門檻即視為雙方都完成佈船：
// 關閉呼叫方的射擊權、打開對手的、標記開局並廣播 start_game。
// 觸發開局的是後準備好的一方，所以先完成佈船的玩家獲得先手。
func (e *Engine) Ready(ctx context.Context, roomID, username, enemy string, cells []string) error {
	encoded, err := json.Marshal(cells)
	if err != nil {
		return err
	}
	if err := e.store.Set(ctx, roomID, PlayerField(username, FieldSelectedCells), string(encoded)); err != nil {
		return err
	}

	count, err := e.store.FieldCount(ctx, roomID)
	if err != nil {
		return err
	}
	if count != e.readyFieldCount {
		return nil
	}

	if err := e.store.Set(ctx, roomID, PlayerField(username, FieldAccessToShot), "false"); err != nil {
		return err
	}
	if err := e.store.Set(ctx, roomID, PlayerField(enemy, FieldAccessToShot), "true"); err != nil {
		return err
	}
	if err := e.store.Set(ctx, roomID, FieldGameStatus, GameStarted); err != nil {
		return err
	}

	return e.broadcaster.Publish(ctx, roomID, Frame{
		Context: ContextNotification,
		Type:    NoticeStartGame,
	})
}

// Shot 處理射擊
//
// snapshot 是分發訊框時讀到的房間狀態，判定全部基於它：
//   - 對手 dead_cells 已達艦隊總格數 → 重播 lose，不做任何寫入
//   - 目標格在對手的 selected_cells 中 → 命中：
//     追加對手 dead_cells、把整份 dead_cells 鏡像到呼叫方 hit_cells、
//     交換射擊權、廣播 hit
//   - 否則 → 未中：追加呼叫方 miss_cells、交換射擊權、廣播 miss
func (e *Engine) Shot(ctx context.Context, roomID, username, enemy string, snapshot map[string]string, cell string) error {
	selected := decodeCells(snapshot[PlayerField(enemy, FieldSelectedCells)])
	dead := decodeCells(snapshot[PlayerField(enemy, FieldDeadCells)])
	miss := decodeCells(snapshot[PlayerField(username, FieldMissCells)])

	if len(dead) >= e.fleetCells {
		return e.broadcaster.Publish(ctx, roomID, Frame{
			Context:    ContextAction,
			ActionType: ActionLose,
			Params:     enemy,
		})
	}

	if containsCell(selected, cell) {
		dead = append(dead, cell)
		encoded, err := json.Marshal(dead)
		if err != nil {
			return err
		}
		if err := e.store.Set(ctx, roomID, PlayerField(enemy, FieldDeadCells), string(encoded)); err != nil {
			return err
		}
		// 呼叫方的 hit_cells 就是對手 dead_cells 的鏡像
		if err := e.store.Set(ctx, roomID, PlayerField(username, FieldHitCells), string(encoded)); err != nil {
			return err
		}
		if err := e.flipAccess(ctx, roomID, username, enemy); err != nil {
			return err
		}
		return e.broadcaster.Publish(ctx, roomID, Frame{
			Context:    ContextAction,
			ActionType: ActionHit,
			Params:     enemy + "," + cell,
		})
	}

	miss = append(miss, cell)
	encoded, err := json.Marshal(miss)
	if err != nil {
		return err
	}
	if err := e.store.Set(ctx, roomID, PlayerField(username, FieldMissCells), string(encoded)); err != nil {
		return err
	}
	if err := e.flipAccess(ctx, roomID, username, enemy); err != nil {
		return err
	}
	return e.broadcaster.Publish(ctx, roomID, Frame{
		Context:    ContextAction,
		ActionType: ActionMiss,
		Params:     username + "," + cell,
	})
}

// Chat 處理聊天訊息
//
// 新訊息 id 取末筆 id 加一；列表為空或末筆 id 解析失敗一律從 "1" 重新起算。
// 先廣播再持久化，與其他寫入一樣沒有原子性。
func (e *Engine) Chat(ctx context.Context, roomID, username string, snapshot map[string]string, text string) error {
	messages := decodeMessages(snapshot[FieldMessages])

	id := "1"
	if len(messages) > 0 {
		if last, err := strconv.Atoi(messages[len(messages)-1].ID); err == nil {
			id = strconv.Itoa(last + 1)
		}
	}

	msg := Message{
		ID:     id,
		Sender: username,
		Text:   text,
	}

	if err := e.broadcaster.Publish(ctx, roomID, Frame{
		Context: ContextMessage,
		Message: &msg,
	}); err != nil {
		return err
	}

	messages = append(messages, msg)
	encoded, err := json.Marshal(messages)
	if err != nil {
		return err
	}
	return e.store.Set(ctx, roomID, FieldMessages, string(encoded))
}

// flipAccess 交換射擊權：呼叫方關閉、對手打開
func (e *Engine) flipAccess(ctx context.Context, roomID, username, enemy string) error {
	if err := e.store.Set(ctx, roomID, PlayerField(username, FieldAccessToShot), "false"); err != nil {
		return err
	}
	return e.store.Set(ctx, roomID, PlayerField(enemy, FieldAccessToShot), "true")
}

// decodeCells 解析 JSON 格子列表，缺欄位或格式錯誤一律視為空列表
func decodeCells(raw string) []string {
	if raw == "" {
		return nil
	}
	var cells []string
	if err := json.Unmarshal([]byte(raw), &cells); err != nil {
		return nil
	}
	return cells
}

// decodeMessages 解析 JSON 訊息列表，缺欄位或格式錯誤一律視為空列表
func decodeMessages(raw string) []Message {
	if raw == "" {
		return nil
	}
	var messages []Message
	if err := json.Unmarshal([]byte(raw), &messages); err != nil {
		return nil
	}
	return messages
}

func containsCell(cells []string, cell string) bool {
	for _, c := range cells {
		if c == cell {
			return true
		}
	}
	return false
}
