// Package oauth は PKCE 付き認可コードフローの開始とコールバック処理を提供します。
//
// ハンドシェイクの状態はサーバーに保存せず、verifier と state の2つのクッキーだけで保持します。
// コールバックで取得したトークンはログイン中のユーザーに紐づけて Redis に保存します。
package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/oauth2"

	"github.com/yourusername/worklog-auth/internal/apperr"
	"github.com/yourusername/worklog-auth/internal/cookies"
	"github.com/yourusername/worklog-auth/internal/telemetry"
)

// ErrMissingClientConfiguration はクライアントIDが設定されていない場合に返されます。
var ErrMissingClientConfiguration = errors.New("oauth client id is not configured")

// HandshakeMaxAge は verifier / state クッキーの有効期間です。
const HandshakeMaxAge = 10 * time.Minute

// CallbackPath はリダイレクトURIを推定するときのコールバックのパスです。
const CallbackPath = "/auth/oauth/callback"

const stateBytes = 16

// Config はプロバイダーとクライアントの設定です。
type Config struct {
	Provider        string
	ClientID        string
	ClientSecret    string
	RedirectURL     string
	AuthURL         string
	TokenURL        string
	Scopes          []string
	SuccessRedirect string
}

// Handshake は認可リダイレクト1回分の情報です。
type Handshake struct {
	URL      string
	Verifier string
	State    string
}

// Recorder は OAuth フローの記録先です。
type Recorder interface {
	OAuthStart(ctx context.Context, outcome string)
	OAuthCallback(ctx context.Context, outcome string)
}

// Initiator は認可リダイレクトを組み立て、コールバックでコードをトークンに交換します。
type Initiator struct {
	cfg      Config
	cookies  cookies.Codec
	grants   *GrantStore
	recorder Recorder
	logger   *slog.Logger
}

// NewInitiator は Initiator を作成します。recorder は nil でも構いません。
func NewInitiator(cfg Config, codec cookies.Codec, grants *GrantStore, recorder Recorder, logger *slog.Logger) *Initiator {
	if cfg.SuccessRedirect == "" {
		cfg.SuccessRedirect = "/"
	}
	return &Initiator{
		cfg:      cfg,
		cookies:  codec,
		grants:   grants,
		recorder: recorder,
		logger:   logger,
	}
}

// Start は新しい verifier と state を生成し、認可サーバーへのURLを組み立てます。
func (i *Initiator) Start(r *http.Request) (*Handshake, error) {
	if i.cfg.ClientID == "" {
		return nil, ErrMissingClientConfiguration
	}

	state, err := randomState()
	if err != nil {
		return nil, fmt.Errorf("generate state: %w", err)
	}
	verifier := oauth2.GenerateVerifier()

	url := i.oauthConfig(r).AuthCodeURL(state,
		oauth2.S256ChallengeOption(verifier),
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	)
	return &Handshake{URL: url, Verifier: verifier, State: state}, nil
}

// StartHandler は /auth/oauth/start のハンドラーです。
func (i *Initiator) StartHandler(c *gin.Context) {
	ctx := c.Request.Context()

	hs, err := i.Start(c.Request)
	if err != nil {
		i.recordStart(ctx, telemetry.OutcomeError)
		if errors.Is(err, ErrMissingClientConfiguration) {
			apperr.Respond(c, i.logger, apperr.Misconfigured("OAuth クライアントが設定されていません", err))
			return
		}
		apperr.Respond(c, i.logger, err)
		return
	}

	i.cookies.Set(c.Writer, c.Request, cookies.Verifier, hs.Verifier, HandshakeMaxAge)
	i.cookies.Set(c.Writer, c.Request, cookies.State, hs.State, HandshakeMaxAge)
	i.recordStart(ctx, telemetry.OutcomeSuccess)

	c.Header("Cache-Control", "no-store")
	c.Redirect(http.StatusFound, hs.URL)
}

func (i *Initiator) oauthConfig(r *http.Request) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     i.cfg.ClientID,
		ClientSecret: i.cfg.ClientSecret,
		RedirectURL:  i.redirectURL(r),
		Scopes:       i.cfg.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  i.cfg.AuthURL,
			TokenURL: i.cfg.TokenURL,
		},
	}
}

// redirectURL は設定値を優先し、無ければリクエストのホストから組み立てます。
func (i *Initiator) redirectURL(r *http.Request) string {
	if i.cfg.RedirectURL != "" {
		return i.cfg.RedirectURL
	}
	scheme := "http"
	if cookies.IsHTTPS(r) {
		scheme = "https"
	}
	return scheme + "://" + r.Host + CallbackPath
}

func (i *Initiator) recordStart(ctx context.Context, outcome string) {
	if i.recorder != nil {
		i.recorder.OAuthStart(ctx, outcome)
	}
}

func (i *Initiator) recordCallback(ctx context.Context, outcome string) {
	if i.recorder != nil {
		i.recorder.OAuthCallback(ctx, outcome)
	}
}

func randomState() (string, error) {
	buf := make([]byte, stateBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
