package ratelimit

import (
	"net"
	"net/http"
	"strings"
)

// FallbackIP はクライアントアドレスを決定できない場合の識別子です。
const FallbackIP = "127.0.0.1"

// DefaultClientIPHeaders は ClientIP が参照するヘッダーの既定の優先順です。
var DefaultClientIPHeaders = []string{"CF-Connecting-IP", "X-Real-IP", "X-Forwarded-For"}

// ClientIP はプロキシが付与したヘッダーを headers の順に調べてクライアントのIPアドレスを返します。
// カンマ区切りの値は左端（元のクライアント）を採用します。
// どのヘッダーにも有効な値が無ければ接続元アドレス、それも無ければ FallbackIP を返します。
func ClientIP(r *http.Request, headers []string) string {
	for _, name := range headers {
		value := r.Header.Get(name)
		if value == "" {
			continue
		}
		if i := strings.IndexByte(value, ','); i >= 0 {
			value = value[:i]
		}
		value = strings.TrimSpace(value)
		if ip := net.ParseIP(value); ip != nil {
			return ip.String()
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.String()
	}
	return FallbackIP
}

// IdentifyByIP は headers を使う ClientIP を識別関数として返します。
func IdentifyByIP(headers []string) func(*http.Request) string {
	return func(r *http.Request) string {
		return ClientIP(r, headers)
	}
}
