// Package security はアプリケーションのセキュリティ機能を提供する。
package security

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// SSRFGuardService はSSRF防止機能のインターフェースを定義する。
// アウトバウンドHTTPの宛先はプロバイダーポータルただ1つだが、その
// URLは設定値であり、運用者の設定ミスや悪意ある値で内部ネットワークへ
// 到達しないことを保証する。
type SSRFGuardService interface {
	// NewSafeClient はSSRF防止機能付きのHTTPクライアントを生成する。
	// プライベートIP、ループバック、リンクローカル、メタデータIPへの
	// リクエストはDialerレベルでブロックされる（DNS再バインディング対策込み）。
	NewSafeClient(timeout time.Duration) *http.Client

	// ValidateURL は設定されたポータルURLを起動時に静的検証する。
	// スキーム・ホスト・IPアドレスを検査し、危険な値はエラーを返す。
	ValidateURL(rawURL string) error
}

// blockedNetworks は到達を禁止するネットワーク範囲。
// DNS解決後の検証はsafeurl側のDialerが行うため、ここは静的チェック用。
var blockedNetworks = mustParseCIDRs(
	"10.0.0.0/8",     // プライベート (RFC 1918)
	"172.16.0.0/12",  // プライベート (RFC 1918)
	"192.168.0.0/16", // プライベート (RFC 1918)
	"127.0.0.0/8",    // ループバック
	"169.254.0.0/16", // リンクローカル。クラウドメタデータIP (169.254.169.254) を含む
	"0.0.0.0/8",      // カレントネットワーク
	"::1/128",        // IPv6ループバック
	"fe80::/10",      // IPv6リンクローカル
	"fc00::/7",       // IPv6ユニークローカル
)

func mustParseCIDRs(cidrs ...string) []net.IPNet {
	networks := make([]net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR %s: %v", cidr, err))
		}
		networks = append(networks, *network)
	}
	return networks
}

// ssrfGuard はSSRFGuardServiceの実装。
type ssrfGuard struct{}

// NewSSRFGuard はSSRFGuardServiceの新しいインスタンスを生成する。
func NewSSRFGuard() *ssrfGuard {
	return &ssrfGuard{}
}

// NewSafeClient はSSRF防止機能付きのHTTPクライアントを生成する。
// safeurlはnet.DialerのControlフックでDNS解決後のIPアドレスを検証する。
// ポータルはhttps(443)で提供されるが、リダイレクト等に備えてhttp(80)も許可する。
func (g *ssrfGuard) NewSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes("http", "https").
		SetAllowedPorts(80, 443).
		Build()

	return safeurl.Client(config).Client
}

// ValidateURL はポータルURLを静的に検証する。DNS解決は行わない。
// 解決後のIP検証はNewSafeClientのクライアント側で行われる。
func (g *ssrfGuard) ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("empty URL")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
	default:
		return fmt.Errorf("disallowed scheme: %q (http/https only)", parsed.Scheme)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("empty host in URL: %s", rawURL)
	}
	if strings.EqualFold(host, "localhost") {
		return fmt.Errorf("blocked host: %s", host)
	}

	if ip := net.ParseIP(host); ip != nil {
		for _, network := range blockedNetworks {
			if network.Contains(ip) {
				return fmt.Errorf("blocked IP address: %s", ip.String())
			}
		}
	}

	return nil
}

// compile-time interface check
var _ SSRFGuardService = (*ssrfGuard)(nil)
