package internal

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// 身份驗證是外部協作者的職責：核心只要求「配對開始之前，
// username 已經被驗證過」。Authenticator 是這個協作關係的接縫，
// 測試與其他部署環境可以換成自己的實作。
type Authenticator interface {
	// Verify 驗證 username 與握手時附帶的 token 是否匹配
	Verify(username, token string) bool
}

// HMACAuthenticator 以共享密鑰對 username 做 HMAC-SHA256 的驗證器
type HMACAuthenticator struct {
	secret []byte
}

// NewHMACAuthenticator 創建 HMAC 驗證器
func NewHMACAuthenticator(secret string) *HMACAuthenticator {
	return &HMACAuthenticator{secret: []byte(secret)}
}

// Token 計算 username 對應的 token（登入流程發給客戶端用）
func (a *HMACAuthenticator) Token(username string) string {
	mac := hmac.New(sha256.New, a.secret)
	mac.Write([]byte(username))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify 常數時間比較 token
func (a *HMACAuthenticator) Verify(username, token string) bool {
	mac := hmac.New(sha256.New, a.secret)
	mac.Write([]byte(username))
	received, err := hex.DecodeString(token)
	if err != nil {
		return false
	}
	return hmac.Equal(mac.Sum(nil), received)
}
