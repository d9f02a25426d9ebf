// Package apperr はAPI境界で扱うエラー分類とJSONレスポンス変換を提供します。
package apperr

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Kind はエラーの分類です。
type Kind int

const (
	KindInternal Kind = iota
	KindInvalidInput
	KindUnauthenticated
	KindInvalidCredentials
	KindMethodNotAllowed
	KindNotFound
	KindRateLimited
	KindMisconfigured
	KindUpstreamFailure
)

// Error はクライアントへ返すコードとメッセージを保持するエラーです。
// Err に保持した原因はログにのみ出力し、レスポンスには含めません。
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Status は Kind に対応するHTTPステータスを返します。
func (k Kind) Status() int {
	switch k {
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindUnauthenticated, KindInvalidCredentials:
		return http.StatusUnauthorized
	case KindMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case KindNotFound:
		return http.StatusNotFound
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// InvalidInput はリクエスト内容の不備を表します。
func InvalidInput(message string) *Error {
	return &Error{Kind: KindInvalidInput, Code: "INVALID_INPUT", Message: message}
}

// Unauthenticated は有効なセッションが無いことを表します。
func Unauthenticated() *Error {
	return &Error{Kind: KindUnauthenticated, Code: "UNAUTHENTICATED", Message: "ログインが必要です"}
}

// InvalidCredentials はログイン失敗を表します。
// ユーザーが存在しない場合とパスワード不一致の場合で同じ値を返します。
func InvalidCredentials() *Error {
	return &Error{
		Kind:    KindInvalidCredentials,
		Code:    "INVALID_CREDENTIALS",
		Message: "ユーザー名またはパスワードが正しくありません",
	}
}

// MethodNotAllowed は許可されていないHTTPメソッドを表します。
func MethodNotAllowed() *Error {
	return &Error{Kind: KindMethodNotAllowed, Code: "METHOD_NOT_ALLOWED", Message: "このメソッドは許可されていません"}
}

// NotFound は存在しないルートを表します。
func NotFound() *Error {
	return &Error{Kind: KindNotFound, Code: "NOT_FOUND", Message: "指定されたリソースは存在しません"}
}

// RateLimited はリクエスト数の上限超過を表します。
func RateLimited() *Error {
	return &Error{Kind: KindRateLimited, Code: "RATE_LIMITED", Message: "リクエストが多すぎます。しばらくしてから再度お試しください"}
}

// Misconfigured はサーバー側の必須設定が欠けていることを表します。
func Misconfigured(message string, err error) *Error {
	return &Error{Kind: KindMisconfigured, Code: "MISCONFIGURED", Message: message, Err: err}
}

// Upstream はストアや外部サービスへの接続失敗を表します。
func Upstream(err error) *Error {
	return &Error{
		Kind:    KindUpstreamFailure,
		Code:    "UPSTREAM_FAILURE",
		Message: "サーバー内部でエラーが発生しました",
		Err:     err,
	}
}

// Body は err に対応するステータスとJSONボディを返します。
func Body(err error) (int, gin.H) {
	var appErr *Error
	switch {
	case errors.As(err, &appErr):
		return appErr.Kind.Status(), gin.H{
			"code":    appErr.Code,
			"message": appErr.Message,
		}
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout, gin.H{
			"code":    "REQUEST_CANCELED",
			"message": "リクエストがキャンセルされました",
		}
	default:
		return http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "サーバー内部でエラーが発生しました",
		}
	}
}

// Respond は err をJSONレスポンスに変換してハンドラーチェーンを中断します。
// 5xx の場合のみ原因をログに記録します。
func Respond(c *gin.Context, logger *slog.Logger, err error) {
	status, body := Body(err)
	if status >= http.StatusInternalServerError && logger != nil {
		logger.ErrorContext(c.Request.Context(), "request failed",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"error", err,
		)
	}
	c.AbortWithStatusJSON(status, body)
}
