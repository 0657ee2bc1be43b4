package internal

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// 系統設計問題：
//   新連線進來時，要把它放進哪個房間？
//   「斷線重連的老玩家」和「恰好同名前綴的新玩家」如何區分？
//
// 核心挑戰：
//  1. 重連判定：玩家斷線後成員集合裡留著舊的 channel id，
//     靠 channel id 的使用者名前綴識別出「這是同一個人回來了」
//  2. 確定性：底層鍵枚舉順序未定義，必須先固定排序，
//     否則同樣的房間佈局會產生不同的配對結果
//  3. 無鎖競爭：兩個連線同時掃描可能都判定要創建新房間，
//     各自拿到不同的 id，接受這種偶發的空房（TTL 會回收）
//
// 配對規則（按房間 id 升序逐一檢查）：
//   - 1 名成員且前綴匹配   → 重連：換掉舊成員條目，房間不變
//   - 1 名成員且前綴不匹配 → 以 guest 身份加入
//   - 2 名成員，任一前綴匹配 → 重連
//   - 2 名成員，皆不匹配   → 房間已滿，看下一間
//   - 掃完都沒加入         → 創建新房間（最大 id + 1，解析失敗退回 room_1）

// Placement 配對結果
type Placement struct {
	RoomID    string
	Reconnect bool // 是否為重連（沿用既有房間身份）
	Created   bool // 是否創建了新房間
}

// Matchmaker 房間目錄與配對器
type Matchmaker struct {
	store  RoomStore
	logger *slog.Logger
}

// NewMatchmaker 創建配對器
func NewMatchmaker(store RoomStore, logger *slog.Logger) *Matchmaker {
	return &Matchmaker{
		store:  store,
		logger: logger,
	}
}

// Resolve 為一條新連線決定房間
//
// channelID 必須以 username 為前綴（見 Session 的 channel id 生成），
// 前綴匹配就是重連判定的全部依據。
func (m *Matchmaker) Resolve(ctx context.Context, username, channelID string) (*Placement, error) {
	rooms, err := m.store.ListRooms(ctx)
	if err != nil {
		return nil, err
	}

	for _, roomID := range rooms {
		members, err := m.store.ListMembers(ctx, roomID)
		if err != nil {
			return nil, err
		}

		switch len(members) {
		case 0:
			// 成員集合已過期但雜湊還在（兩者非原子刪除）。
			// 視同不存在，繼續掃描。
			continue

		case 1:
			if strings.HasPrefix(members[0], username) {
				if err := m.reconnect(ctx, roomID, members[0], channelID); err != nil {
					return nil, err
				}
				m.logger.Info("玩家重連",
					"room_id", roomID,
					"username", username)
				return &Placement{RoomID: roomID, Reconnect: true}, nil
			}

			// 以 guest 身份加入
			if err := m.store.AddMember(ctx, roomID, channelID); err != nil {
				return nil, err
			}
			if err := m.store.Set(ctx, roomID, FieldGuest, username); err != nil {
				return nil, err
			}
			m.logger.Info("玩家加入房間",
				"room_id", roomID,
				"username", username,
				"role", "guest")
			return &Placement{RoomID: roomID}, nil

		default:
			for _, member := range members {
				if strings.HasPrefix(member, username) {
					if err := m.reconnect(ctx, roomID, member, channelID); err != nil {
						return nil, err
					}
					m.logger.Info("玩家重連",
						"room_id", roomID,
						"username", username)
					return &Placement{RoomID: roomID, Reconnect: true}, nil
				}
			}
			// 房間已滿且都不是本人，看下一間
		}
	}

	return m.createRoom(ctx, rooms, username, channelID)
}

// reconnect 用新的 channel id 替換成員集合裡的舊條目
//
// 先移除再加入，成員集合大小不變；兩步之間不是原子的，
// 但同一使用者不會併發重連自己。
func (m *Matchmaker) reconnect(ctx context.Context, roomID, oldChannelID, newChannelID string) error {
	if err := m.store.RemoveMember(ctx, roomID, oldChannelID); err != nil {
		return err
	}
	return m.store.AddMember(ctx, roomID, newChannelID)
}

// createRoom 創建新房間
//
// 新 id 取現存房間數字後綴的最大值加一；
// 沒有任何房間、或所有 id 都解析不出數字時退回 room_1。
func (m *Matchmaker) createRoom(ctx context.Context, rooms []string, username, channelID string) (*Placement, error) {
	roomID := fmt.Sprintf("%s%d", roomKeyPrefix, 1)
	maxNumber := 0
	for _, id := range rooms {
		if n, ok := roomNumber(id); ok && n > maxNumber {
			maxNumber = n
		}
	}
	if maxNumber > 0 {
		roomID = fmt.Sprintf("%s%d", roomKeyPrefix, maxNumber+1)
	}

	if err := m.store.AddMember(ctx, roomID, channelID); err != nil {
		return nil, err
	}

	// 初始欄位：member / guest 哨兵 / 空訊息列表。
	// 刻意不寫入 game_status，開局判定依賴欄位數（見 Engine.Ready）。
	// 三次寫入之間沒有原子性，讀到半初始化房間的對手只會看到缺欄位。
	if err := m.store.Set(ctx, roomID, FieldMember, username); err != nil {
		return nil, err
	}
	if err := m.store.Set(ctx, roomID, FieldGuest, GuestNone); err != nil {
		return nil, err
	}
	if err := m.store.Set(ctx, roomID, FieldMessages, "[]"); err != nil {
		return nil, err
	}

	m.logger.Info("創建新房間",
		"room_id", roomID,
		"username", username)

	return &Placement{RoomID: roomID, Created: true}, nil
}
