package security

import (
	"net/http"
	"time"

	"github.com/doyensec/safeurl"
)

// DefaultOutboundTimeout はIdPへの外部リクエストの既定タイムアウト。
const DefaultOutboundTimeout = 10 * time.Second

// NewOutboundClient はOAuthプロバイダーとの通信に使うHTTPクライアントを生成する。
// safeurlによりhttpsの443番ポートのみ許可し、プライベートIP・ループバック・
// リンクローカル・メタデータIPへの接続はDNS解決後に拒否する。
func NewOutboundClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultOutboundTimeout
	}

	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes("https").
		SetAllowedPorts(443).
		Build()

	return safeurl.Client(config).Client
}
