package internal_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/seabattle/internal"
	"github.com/koopa0/seabattle/internal/testutils"
)

const testSecret = "test-secret"

func newTestHub() (*internal.SessionHub, *testutils.FakeStore, *testutils.FakeBroadcaster) {
	logger := testLogger()
	store := testutils.NewFakeStore()
	broadcaster := testutils.NewFakeBroadcaster()
	matchmaker := internal.NewMatchmaker(store, logger)
	engine := internal.NewEngine(store, broadcaster, 5, 20, logger)
	auth := internal.NewHMACAuthenticator(testSecret)
	return internal.NewSessionHub(store, matchmaker, engine, broadcaster, auth, logger), store, broadcaster
}

// dialGame 以合法令牌建立一條遊戲連線
func dialGame(t *testing.T, server *httptest.Server, username string) *websocket.Conn {
	t.Helper()

	auth := internal.NewHMACAuthenticator(testSecret)
	url := "ws" + strings.TrimPrefix(server.URL, "http") +
		fmt.Sprintf("/?username=%s&token=%s", username, auth.Token(username))

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

// readFrame 帶超時讀取下一個出站訊框
func readFrame(t *testing.T, conn *websocket.Conn) internal.Frame {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var frame internal.Frame
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

// TestServeWS_RejectsBeforeUpgrade 測試驗證失敗在配對之前就拒絕
func TestServeWS_RejectsBeforeUpgrade(t *testing.T) {
	hub, store, _ := newTestHub()
	server := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	tests := []struct {
		name       string
		query      string
		wantStatus int
	}{
		{
			name:       "缺少 username",
			query:      "/?token=abc",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "令牌錯誤",
			query:      "/?username=alice&token=deadbeef",
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "別人的令牌",
			query:      "/?username=alice&token=" + internal.NewHMACAuthenticator(testSecret).Token("bob"),
			wantStatus: http.StatusForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, resp, err := websocket.DefaultDialer.Dial(wsURL+tt.query, nil)
			require.Error(t, err)
			require.Nil(t, conn)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
		})
	}

	// 被拒絕的連線不該留下任何房間
	rooms, err := store.ListRooms(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rooms)
}

// TestServeWS_ConnectFrame 測試連線建立後收到房間快照
func TestServeWS_ConnectFrame(t *testing.T) {
	hub, store, _ := newTestHub()
	server := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer server.Close()

	conn := dialGame(t, server, "alice")
	defer conn.Close()

	frame := readFrame(t, conn)
	require.Equal(t, internal.ContextConnect, frame.Context)
	assert.Equal(t, "alice", frame.Data[internal.FieldMember])
	assert.Equal(t, internal.GuestNone, frame.Data[internal.FieldGuest])
	assert.Equal(t, "[]", frame.Data[internal.FieldMessages])

	room := store.Room("room_1")
	assert.NotContains(t, room, internal.FieldGameStatus)
}

// TestSession_BadFrames 測試格式錯誤與未知 context 回覆 error 訊框後連線仍存活
func TestSession_BadFrames(t *testing.T) {
	hub, _, _ := newTestHub()
	server := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer server.Close()

	conn := dialGame(t, server, "alice")
	defer conn.Close()
	readFrame(t, conn) // connect

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	frame := readFrame(t, conn)
	assert.Equal(t, internal.ContextError, frame.Context)
	assert.Equal(t, "malformed frame", frame.Reason)

	require.NoError(t, conn.WriteJSON(internal.InboundFrame{Context: "dance"}))
	frame = readFrame(t, conn)
	assert.Equal(t, internal.ContextError, frame.Context)
	assert.Equal(t, "unknown context", frame.Reason)

	// 連線沒有被終止，正常訊框仍被處理
	require.NoError(t, conn.WriteJSON(internal.InboundFrame{Context: internal.ContextSendMessage, Message: "還在嗎"}))
	frame = readFrame(t, conn)
	assert.Equal(t, internal.ContextMessage, frame.Context)
}

// TestSession_TwoPlayerGame 測試完整對局：配對、聊天、佈船開局、射擊、退房
func TestSession_TwoPlayerGame(t *testing.T) {
	hub, store, _ := newTestHub()
	server := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer server.Close()

	alice := dialGame(t, server, "alice")
	defer alice.Close()
	frame := readFrame(t, alice)
	require.Equal(t, internal.ContextConnect, frame.Context)
	assert.Equal(t, "alice", frame.Data[internal.FieldMember])
	assert.Equal(t, internal.GuestNone, frame.Data[internal.FieldGuest])

	bob := dialGame(t, server, "bob")
	defer bob.Close()
	frame = readFrame(t, bob)
	require.Equal(t, internal.ContextConnect, frame.Context)
	assert.Equal(t, "alice", frame.Data[internal.FieldMember])
	assert.Equal(t, "bob", frame.Data[internal.FieldGuest])

	// 聊天：兩邊都收到同一則訊息，編號從 "1" 開始
	require.NoError(t, alice.WriteJSON(internal.InboundFrame{
		Context: internal.ContextSendMessage,
		Message: "開打吧",
	}))
	for _, conn := range []*websocket.Conn{alice, bob} {
		frame = readFrame(t, conn)
		require.Equal(t, internal.ContextMessage, frame.Context)
		require.NotNil(t, frame.Message)
		assert.Equal(t, "1", frame.Message.ID)
		assert.Equal(t, "alice", frame.Message.Sender)
		assert.Equal(t, "開打吧", frame.Message.Text)
	}

	// alice 先佈船；等寫入落地再讓 bob 佈船，確保開局由 bob 觸發
	require.NoError(t, alice.WriteJSON(internal.InboundFrame{
		Context:       internal.ContextPlayerReady,
		SelectedCells: []string{"a1", "a2", "a3", "a4", "a5"},
	}))
	require.Eventually(t, func() bool {
		return store.Room("room_1")[internal.PlayerField("alice", internal.FieldSelectedCells)] != ""
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, bob.WriteJSON(internal.InboundFrame{
		Context:       internal.ContextPlayerReady,
		SelectedCells: []string{"b1", "b2", "b3", "b4", "b5"},
	}))

	for _, conn := range []*websocket.Conn{alice, bob} {
		frame = readFrame(t, conn)
		require.Equal(t, internal.ContextNotification, frame.Context)
		assert.Equal(t, internal.NoticeStartGame, frame.Type)
	}

	// 先佈船完成的 alice 獲得先手
	room := store.Room("room_1")
	assert.Equal(t, internal.GameStarted, room[internal.FieldGameStatus])
	assert.Equal(t, "true", room[internal.PlayerField("alice", internal.FieldAccessToShot)])
	assert.Equal(t, "false", room[internal.PlayerField("bob", internal.FieldAccessToShot)])

	// alice 命中 bob 的 b2
	require.NoError(t, alice.WriteJSON(internal.InboundFrame{
		Context: internal.ContextShot,
		Cell:    "b2",
	}))
	for _, conn := range []*websocket.Conn{alice, bob} {
		frame = readFrame(t, conn)
		require.Equal(t, internal.ContextAction, frame.Context)
		assert.Equal(t, internal.ActionHit, frame.ActionType)
		assert.Equal(t, "bob,b2", frame.Params)
	}

	room = store.Room("room_1")
	assert.JSONEq(t, `["b2"]`, room[internal.PlayerField("bob", internal.FieldDeadCells)])
	assert.JSONEq(t, `["b2"]`, room[internal.PlayerField("alice", internal.FieldHitCells)])
	assert.Equal(t, "false", room[internal.PlayerField("alice", internal.FieldAccessToShot)])
	assert.Equal(t, "true", room[internal.PlayerField("bob", internal.FieldAccessToShot)])

	// bob 打偏
	require.NoError(t, bob.WriteJSON(internal.InboundFrame{
		Context: internal.ContextShot,
		Cell:    "z9",
	}))
	for _, conn := range []*websocket.Conn{alice, bob} {
		frame = readFrame(t, conn)
		require.Equal(t, internal.ContextAction, frame.Context)
		assert.Equal(t, internal.ActionMiss, frame.ActionType)
		assert.Equal(t, "bob,z9", frame.Params)
	}

	// alice 退房：bob 收到通知，房間雜湊與成員集合都被刪掉
	require.NoError(t, alice.WriteJSON(internal.InboundFrame{Context: internal.ContextExitRoom}))
	frame = readFrame(t, bob)
	require.Equal(t, internal.ContextNotification, frame.Context)
	assert.Equal(t, internal.NoticeExitRoom, frame.Type)

	require.Eventually(t, func() bool {
		members, err := store.ListMembers(context.Background(), "room_1")
		return err == nil && len(members) == 0 && len(store.Room("room_1")) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

// TestSession_Reconnect 測試斷線重連回到原房間並保留對局進度
func TestSession_Reconnect(t *testing.T) {
	hub, store, _ := newTestHub()
	server := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer server.Close()

	alice := dialGame(t, server, "alice")
	readFrame(t, alice) // connect

	store.SetRoomField("room_1", internal.PlayerField("alice", internal.FieldSelectedCells), `["a1"]`)

	// 網路層斷線不清理儲存，舊成員條目留給重連匹配
	alice.Close()

	again := dialGame(t, server, "alice")
	defer again.Close()
	frame := readFrame(t, again)
	require.Equal(t, internal.ContextConnect, frame.Context)
	assert.Equal(t, "alice", frame.Data[internal.FieldMember])
	assert.Equal(t, `["a1"]`, frame.Data[internal.PlayerField("alice", internal.FieldSelectedCells)])

	members, err := store.ListMembers(context.Background(), "room_1")
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.True(t, strings.HasPrefix(members[0], "alice:"))
}
