package internal

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// 系統設計問題：
//   兩個玩家的連線分屬獨立 goroutine，甚至可能分屬不同進程，
//   房間狀態要放在哪裡才能讓雙方看到同一份資料？
//
// 設計方案：
//   ✅ Redis 雜湊 - 每個房間一個 hash（room_<n>），欄位級讀寫
//   ✅ Redis 有序集合 - 每個房間一個成員集合（group:room_<n>），按加入時間排序
//   ✅ TTL 過期 - 閒置房間自動消失，無需後台清理程序
//   ✅ 無交易 - 多欄位更新是一連串單欄位寫入，接受最後寫入者獲勝
//
// Trade-offs：
//   - 優勢：無進程內共享狀態、無鎖、重啟不丟進行中的對局
//   - 代價：讀取-修改-寫回序列之間沒有原子性，
//     兩個連線對同一房間的併發操作可能丟失更新或讀到過期中間態。
//     這是刻意接受的弱一致性設計，所有呼叫端都必須容忍。

// 房間鍵前綴與成員集合鍵前綴
const (
	roomKeyPrefix  = "room_"
	groupKeyPrefix = "group:"
)

func groupKey(roomID string) string {
	return groupKeyPrefix + roomID
}

// roomNumber 解析房間 id 的數字後綴
func roomNumber(roomID string) (int, bool) {
	suffix, ok := strings.CutPrefix(roomID, roomKeyPrefix)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(suffix)
	if err != nil {
		return 0, false
	}
	return n, true
}

// RoomStore 房間狀態的型別化門面
//
// 把底層鍵值協議藏在這個介面後面，上層只看到欄位級操作；
// 測試時以記憶體假實作替換。
//
// 每個會改變狀態的呼叫都必須在同一邏輯操作內刷新 TTL。
// 跨多次 Set 的更新沒有任何原子性保證，呼叫端自行承擔交錯風險。
type RoomStore interface {
	// GetAll 讀取房間的全部欄位。房間不存在時回傳空 map。
	GetAll(ctx context.Context, roomID string) (map[string]string, error)

	// Set 寫入單一欄位並刷新 TTL
	Set(ctx context.Context, roomID, field, value string) error

	// FieldCount 回傳房間雜湊目前的欄位數
	FieldCount(ctx context.Context, roomID string) (int64, error)

	// Delete 刪除房間雜湊
	Delete(ctx context.Context, roomID string) error

	// DeleteGroup 刪除房間的成員集合
	DeleteGroup(ctx context.Context, roomID string) error

	// ListRooms 列出現存房間 id，按數字後綴升序。
	// 固定的枚舉順序讓配對行為可重現、可測試。
	ListRooms(ctx context.Context) ([]string, error)

	// ListMembers 按加入時間順序列出房間成員的 channel id
	ListMembers(ctx context.Context, roomID string) ([]string, error)

	// AddMember 把 channel id 加入成員集合並刷新 TTL
	AddMember(ctx context.Context, roomID, channelID string) error

	// RemoveMember 把 channel id 移出成員集合
	RemoveMember(ctx context.Context, roomID, channelID string) error
}

// RedisRoomStore RoomStore 的 Redis 實作
type RedisRoomStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisRoomStore 創建 Redis 房間儲存
func NewRedisRoomStore(client *redis.Client, ttl time.Duration) *RedisRoomStore {
	return &RedisRoomStore{
		client: client,
		ttl:    ttl,
	}
}

// GetAll 讀取房間的全部欄位
func (s *RedisRoomStore) GetAll(ctx context.Context, roomID string) (map[string]string, error) {
	data, err := s.client.HGetAll(ctx, roomID).Result()
	if err != nil {
		return nil, fmt.Errorf("讀取房間 %s 失敗: %w", roomID, err)
	}
	return data, nil
}

// Set 寫入單一欄位並刷新房間與成員集合的 TTL
//
// HSET 與 EXPIRE 以 pipeline 送出減少往返，但彼此並非原子：
// 恰好在兩者之間過期的房間會留下沒有 TTL 的欄位嗎？不會，
// EXPIRE 作用在 HSET 重建後的鍵上，最壞情況是舊欄位丟失、新欄位存活。
func (s *RedisRoomStore) Set(ctx context.Context, roomID, field, value string) error {
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, roomID, field, value)
		pipe.Expire(ctx, roomID, s.ttl)
		pipe.Expire(ctx, groupKey(roomID), s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("寫入房間 %s 欄位 %s 失敗: %w", roomID, field, err)
	}
	return nil
}

// FieldCount 回傳房間雜湊目前的欄位數
func (s *RedisRoomStore) FieldCount(ctx context.Context, roomID string) (int64, error) {
	n, err := s.client.HLen(ctx, roomID).Result()
	if err != nil {
		return 0, fmt.Errorf("讀取房間 %s 欄位數失敗: %w", roomID, err)
	}
	return n, nil
}

// Delete 刪除房間雜湊
func (s *RedisRoomStore) Delete(ctx context.Context, roomID string) error {
	if err := s.client.Del(ctx, roomID).Err(); err != nil {
		return fmt.Errorf("刪除房間 %s 失敗: %w", roomID, err)
	}
	return nil
}

// DeleteGroup 刪除房間的成員集合
func (s *RedisRoomStore) DeleteGroup(ctx context.Context, roomID string) error {
	if err := s.client.Del(ctx, groupKey(roomID)).Err(); err != nil {
		return fmt.Errorf("刪除房間 %s 成員集合失敗: %w", roomID, err)
	}
	return nil
}

// ListRooms 以 SCAN 枚舉房間鍵並按數字後綴升序排序
//
// SCAN 本身的順序是未定義的，排序之後配對掃描才有確定性；
// 無法解析出數字的 id 排在所有可解析 id 之後，彼此按字典序。
func (s *RedisRoomStore) ListRooms(ctx context.Context) ([]string, error) {
	var rooms []string

	iter := s.client.Scan(ctx, 0, roomKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		rooms = append(rooms, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("枚舉房間失敗: %w", err)
	}

	sort.Slice(rooms, func(i, j int) bool {
		ni, iok := roomNumber(rooms[i])
		nj, jok := roomNumber(rooms[j])
		switch {
		case iok && jok:
			return ni < nj
		case iok != jok:
			return iok
		default:
			return rooms[i] < rooms[j]
		}
	})

	return rooms, nil
}

// ListMembers 按加入時間順序（ZSET 分數升序）列出成員
func (s *RedisRoomStore) ListMembers(ctx context.Context, roomID string) ([]string, error) {
	members, err := s.client.ZRange(ctx, groupKey(roomID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("讀取房間 %s 成員失敗: %w", roomID, err)
	}
	return members, nil
}

// AddMember 以當前時間為分數加入成員集合並刷新 TTL
func (s *RedisRoomStore) AddMember(ctx context.Context, roomID, channelID string) error {
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, groupKey(roomID), redis.Z{
			Score:  float64(time.Now().UnixNano()),
			Member: channelID,
		})
		pipe.Expire(ctx, groupKey(roomID), s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("加入房間 %s 成員失敗: %w", roomID, err)
	}
	return nil
}

// RemoveMember 把 channel id 移出成員集合
func (s *RedisRoomStore) RemoveMember(ctx context.Context, roomID, channelID string) error {
	if err := s.client.ZRem(ctx, groupKey(roomID), channelID).Err(); err != nil {
		return fmt.Errorf("移除房間 %s 成員失敗: %w", roomID, err)
	}
	return nil
}
