package testutils

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

// SetupRedis 啟動 Redis 測試容器並回傳已連通的客戶端
//
// 容器與客戶端都在測試結束時自動清理。
// -short 模式下跳過（整合測試需要 Docker）。
func SetupRedis(t testing.TB) *redis.Client {
	t.Helper()

	if testing.Short() {
		t.Skip("-short 模式下跳過需要 Docker 的整合測試")
	}

	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate redis container: %v", err)
		}
	})

	addr, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("failed to get redis connection string: %v", err)
	}

	opts, err := redis.ParseURL(addr)
	if err != nil {
		t.Fatalf("failed to parse redis url: %v", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("failed to ping redis: %v", err)
	}
	t.Cleanup(func() {
		client.Close()
	})

	return client
}
