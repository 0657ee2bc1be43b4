package internal_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/koopa0/seabattle/internal"
)

// TestHMACAuthenticator 測試令牌簽發與驗證
func TestHMACAuthenticator(t *testing.T) {
	auth := internal.NewHMACAuthenticator("secret")

	token := auth.Token("alice")
	assert.True(t, auth.Verify("alice", token))

	// 令牌綁定使用者名
	assert.False(t, auth.Verify("bob", token))

	// 不同密鑰簽出的令牌無效
	other := internal.NewHMACAuthenticator("other-secret")
	assert.False(t, auth.Verify("alice", other.Token("alice")))

	// 非法輸入不 panic，直接判為無效
	assert.False(t, auth.Verify("alice", ""))
	assert.False(t, auth.Verify("alice", "not-hex-至少不是"))
}
