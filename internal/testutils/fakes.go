// Package testutils 提供測試用的共用工具和輔助函數
//
// 包含兩類設施：
//   - 記憶體假實作（FakeStore / FakeBroadcaster），
//     讓配對器、引擎與會話層的單元測試不依賴外部服務
//   - Redis 測試容器（redis.go），給儲存層的整合測試用
package testutils

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/koopa0/seabattle/internal"
)

// FakeStore 實作 internal.RoomStore 介面的記憶體假儲存
type FakeStore struct {
	mu     sync.RWMutex
	rooms  map[string]map[string]string
	groups map[string][]string // 按加入順序

	// 記錄呼叫次數
	RefreshCalls atomic.Int32 // 會刷新 TTL 的呼叫（Set / AddMember）
	SetCalls     atomic.Int32

	// 錯誤注入
	ShouldFailNext bool
	FailError      error
}

// NewFakeStore 創建假儲存
func NewFakeStore() *FakeStore {
	return &FakeStore{
		rooms:  make(map[string]map[string]string),
		groups: make(map[string][]string),
	}
}

func (f *FakeStore) failNext() error {
	if f.ShouldFailNext {
		f.ShouldFailNext = false
		return f.FailError
	}
	return nil
}

// GetAll 讀取房間的全部欄位
func (f *FakeStore) GetAll(ctx context.Context, roomID string) (map[string]string, error) {
	if err := f.failNext(); err != nil {
		return nil, err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make(map[string]string, len(f.rooms[roomID]))
	for k, v := range f.rooms[roomID] {
		out[k] = v
	}
	return out, nil
}

// Set 寫入單一欄位
func (f *FakeStore) Set(ctx context.Context, roomID, field, value string) error {
	f.SetCalls.Add(1)
	if err := f.failNext(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.rooms[roomID] == nil {
		f.rooms[roomID] = make(map[string]string)
	}
	f.rooms[roomID][field] = value
	f.RefreshCalls.Add(1)
	return nil
}

// FieldCount 回傳房間雜湊目前的欄位數
func (f *FakeStore) FieldCount(ctx context.Context, roomID string) (int64, error) {
	if err := f.failNext(); err != nil {
		return 0, err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	return int64(len(f.rooms[roomID])), nil
}

// Delete 刪除房間雜湊
func (f *FakeStore) Delete(ctx context.Context, roomID string) error {
	if err := f.failNext(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rooms, roomID)
	return nil
}

// DeleteGroup 刪除房間的成員集合
func (f *FakeStore) DeleteGroup(ctx context.Context, roomID string) error {
	if err := f.failNext(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.groups, roomID)
	return nil
}

// ListRooms 按數字後綴升序列出房間 id
func (f *FakeStore) ListRooms(ctx context.Context) ([]string, error) {
	if err := f.failNext(); err != nil {
		return nil, err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	rooms := make([]string, 0, len(f.rooms))
	for id := range f.rooms {
		rooms = append(rooms, id)
	}

	number := func(id string) (int, bool) {
		suffix, ok := strings.CutPrefix(id, "room_")
		if !ok {
			return 0, false
		}
		n, err := strconv.Atoi(suffix)
		return n, err == nil
	}
	sort.Slice(rooms, func(i, j int) bool {
		ni, iok := number(rooms[i])
		nj, jok := number(rooms[j])
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

// ListMembers 按加入順序列出成員
func (f *FakeStore) ListMembers(ctx context.Context, roomID string) ([]string, error) {
	if err := f.failNext(); err != nil {
		return nil, err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]string(nil), f.groups[roomID]...), nil
}

// AddMember 把 channel id 加入成員集合
func (f *FakeStore) AddMember(ctx context.Context, roomID, channelID string) error {
	if err := f.failNext(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.groups[roomID] = append(f.groups[roomID], channelID)
	f.RefreshCalls.Add(1)
	return nil
}

// RemoveMember 把 channel id 移出成員集合
func (f *FakeStore) RemoveMember(ctx context.Context, roomID, channelID string) error {
	if err := f.failNext(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	members := f.groups[roomID]
	for i, m := range members {
		if m == channelID {
			f.groups[roomID] = append(members[:i:i], members[i+1:]...)
			break
		}
	}
	return nil
}

// SetRoomField 測試佈置用：直接寫欄位，不經過錯誤注入與計數
func (f *FakeStore) SetRoomField(roomID, field, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rooms[roomID] == nil {
		f.rooms[roomID] = make(map[string]string)
	}
	f.rooms[roomID][field] = value
}

// Room 測試斷言用：回傳房間欄位的拷貝
func (f *FakeStore) Room(roomID string) map[string]string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]string, len(f.rooms[roomID]))
	for k, v := range f.rooms[roomID] {
		out[k] = v
	}
	return out
}

// fakeSub FakeBroadcaster 的訂閱句柄
type fakeSub struct {
	roomID  string
	deliver func(internal.Frame)
	bc      *FakeBroadcaster
}

// Unsubscribe 移除訂閱
func (s *fakeSub) Unsubscribe() error {
	s.bc.mu.Lock()
	defer s.bc.mu.Unlock()

	subs := s.bc.subs[s.roomID]
	for i, sub := range subs {
		if sub == s {
			s.bc.subs[s.roomID] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	return nil
}

// PublishedFrame 一次發佈的記錄
type PublishedFrame struct {
	RoomID string
	Frame  internal.Frame
}

// FakeBroadcaster 實作 internal.Broadcaster 介面的同步假廣播器
//
// Publish 同步回呼所有訂閱者並記錄發佈歷史，測試可直接斷言。
type FakeBroadcaster struct {
	mu        sync.Mutex
	subs      map[string][]*fakeSub
	Published []PublishedFrame

	// 錯誤注入
	ShouldFailNext bool
	FailError      error
}

// NewFakeBroadcaster 創建假廣播器
func NewFakeBroadcaster() *FakeBroadcaster {
	return &FakeBroadcaster{
		subs: make(map[string][]*fakeSub),
	}
}

// Subscribe 訂閱房間事件流
func (b *FakeBroadcaster) Subscribe(roomID string, deliver func(internal.Frame)) (internal.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &fakeSub{roomID: roomID, deliver: deliver, bc: b}
	b.subs[roomID] = append(b.subs[roomID], sub)
	return sub, nil
}

// Publish 記錄發佈並同步扇出
func (b *FakeBroadcaster) Publish(ctx context.Context, roomID string, frame internal.Frame) error {
	b.mu.Lock()
	if b.ShouldFailNext {
		b.ShouldFailNext = false
		err := b.FailError
		b.mu.Unlock()
		return err
	}
	b.Published = append(b.Published, PublishedFrame{RoomID: roomID, Frame: frame})
	subs := append([]*fakeSub(nil), b.subs[roomID]...)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.deliver(frame)
	}
	return nil
}

// PublishedTo 回傳發佈到某房間的所有訊框
func (b *FakeBroadcaster) PublishedTo(roomID string) []internal.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()

	var frames []internal.Frame
	for _, p := range b.Published {
		if p.RoomID == roomID {
			frames = append(frames, p.Frame)
		}
	}
	return frames
}
