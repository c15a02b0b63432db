// Package security はアプリケーションのセキュリティ機能を提供する。
package security

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// ErrTooLarge はダウンロード対象が上限サイズを超えた場合のエラー。
var ErrTooLarge = errors.New("remote file exceeds size limit")

// Download はSSRFGuard.Fetchで取得したレスポンス本文。
// Bodyは呼び出し側で必ずCloseすること。
type Download struct {
	Body        io.ReadCloser
	ContentType string
	// Size はContent-Lengthが不明な場合は-1。
	Size int64
}

// allowedSchemes は許可されるURLスキーム。
var allowedSchemes = []string{"http", "https"}

// blockedNetworks は事前検証でブロックするネットワーク範囲。
// 接続時のIP検証はsafeurlがDialerレベルで行うため、DNS再バインディングにも対応する。
var blockedNetworks []net.IPNet

func init() {
	cidrs := []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"127.0.0.0/8",
		// クラウドメタデータIP (169.254.169.254) を含む
		"169.254.0.0/16",
		"0.0.0.0/8",
		"::1/128",
		"fe80::/10",
		"fc00::/7",
	}
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR in blockedNetworks: %s: %v", cidr, err))
		}
		blockedNetworks = append(blockedNetworks, *network)
	}
}

// SSRFGuard はユーザー指定URLからのダウンロードをSSRF対策付きで行う。
// 録画インポート（POST /interviews/{id}/recording/import）で使用する。
type SSRFGuard struct {
	client   *http.Client
	validate func(rawURL string) error
}

// NewSSRFGuard はSSRFGuardを生成する。
// HTTPクライアントはsafeurlでラップされ、プライベートIP・ループバック・
// リンクローカル・メタデータIPへの接続はDNS解決後に拒否される。
func NewSSRFGuard(timeout time.Duration) *SSRFGuard {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(80, 443).
		Build()

	return &SSRFGuard{
		client:   safeurl.Client(config).Client,
		validate: ValidateURL,
	}
}

// Fetch はURLを検証したうえでGETし、本文をmaxBytesまでに制限して返す。
// Content-Lengthが上限を超える場合は本文を読まずにErrTooLargeを返す。
// Content-Lengthが不明な場合は読み取り中に上限を超えた時点でErrTooLargeを返す。
func (g *SSRFGuard) Fetch(ctx context.Context, rawURL string, maxBytes int64) (*Download, error) {
	if err := g.validate(rawURL); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("download failed: unexpected status %d", resp.StatusCode)
	}
	if maxBytes > 0 && resp.ContentLength > maxBytes {
		resp.Body.Close()
		return nil, ErrTooLarge
	}

	body := resp.Body
	if maxBytes > 0 {
		body = &limitedBody{rc: resp.Body, remaining: maxBytes}
	}

	return &Download{
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
		Size:        resp.ContentLength,
	}, nil
}

// limitedBody は上限を超えて読もうとした時点でErrTooLargeを返すReadCloser。
type limitedBody struct {
	rc        io.ReadCloser
	remaining int64
}

func (l *limitedBody) Read(p []byte) (int, error) {
	if l.remaining < 0 {
		return 0, ErrTooLarge
	}
	// 上限ちょうどで終わるか判定するため1バイト余分に読む
	if int64(len(p)) > l.remaining+1 {
		p = p[:l.remaining+1]
	}
	n, err := l.rc.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		return n + int(l.remaining), ErrTooLarge
	}
	return n, err
}

func (l *limitedBody) Close() error {
	return l.rc.Close()
}

// ValidateURL はURLの安全性をDNS解決なしで静的に検証する。
// DNS再バインディングはsafeurlのDialer検証で防止される。
func ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("empty URL")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if !isAllowedScheme(scheme) {
		return fmt.Errorf("disallowed scheme: %s (allowed: %v)", scheme, allowedSchemes)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("empty host in URL: %s", rawURL)
	}

	if ip := net.ParseIP(host); ip != nil {
		if isBlockedIP(ip) {
			return fmt.Errorf("blocked IP address: %s", ip.String())
		}
		return nil
	}

	if strings.EqualFold(host, "localhost") || strings.HasSuffix(strings.ToLower(host), ".localhost") {
		return fmt.Errorf("blocked host: %s", host)
	}

	return nil
}

func isAllowedScheme(scheme string) bool {
	for _, allowed := range allowedSchemes {
		if strings.EqualFold(scheme, allowed) {
			return true
		}
	}
	return false
}

func isBlockedIP(ip net.IP) bool {
	for _, network := range blockedNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}
