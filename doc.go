// Package seabattle 提供了一個雙人網格海戰遊戲的即時會話代理。
//
// 服務器把進入的 WebSocket 連線配對成恰好兩人的房間，
// 在外部鍵值儲存（Redis）中維護每個房間的共享對局狀態，
// 並把回合事件（佈船完成、射擊結果、聊天、判負）透過
// 廣播層（NATS）扇出到當下訂閱該房間的每一條連線。
//
// # 配對
//
// 新連線按房間 id 升序掃描現存房間：
//   - 單人房且成員 channel id 帶有相同使用者名前綴 → 重連
//   - 單人房且不匹配 → 以 guest 身份加入
//   - 滿房但任一成員前綴匹配 → 重連
//   - 全部掃完沒加入 → 創建新房間（最大 id 加一）
//
// # 共享房間狀態
//
// 每個房間是一個 Redis 雜湊（room_<n>）加一個按加入時間排序的
// 成員集合（group:room_<n>），所有鍵共享同一個閒置 TTL，
// 每次寫入刷新。沒有交易、沒有鎖：兩條連線對同一房間的
// 讀取-修改-寫回序列可以交錯，最後寫入者獲勝。
// 這是刻意接受的弱一致性設計。
//
// # 回合解析
//
//	Waiting → Placing → Started →（廣播 lose 後）Finished
//
// 開局觸發依賴房間雜湊的欄位數；判負依賴對手 dead_cells
// 的長度達到艦隊總格數。兩者都是與資料結構耦合的計數判定，
// 細節見 internal 套件的 Engine。
//
// # 使用範例
//
// 啟動服務器：
//
//	store := internal.NewRedisRoomStore(redisClient, cfg.Game.RoomTTL)
//	broadcaster, _ := internal.NewNATSBroadcaster(cfg.NATS.URL, logger)
//	engine := internal.NewEngine(store, broadcaster, 5, 20, logger)
//	hub := internal.NewSessionHub(store, internal.NewMatchmaker(store, logger),
//		engine, broadcaster, internal.NewHMACAuthenticator(cfg.Auth.Secret), logger)
//
//	http.HandleFunc("/ws/game", hub.ServeWS)
//	log.Fatal(http.ListenAndServe(":8080", nil))
//
// 客戶端連接：
//
//	ws://localhost:8080/ws/game?username=alice&token=<hmac>
package seabattle
