package oauth

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/oauth2"

	"github.com/yourusername/worklog-auth/internal/apperr"
	"github.com/yourusername/worklog-auth/internal/auth"
	"github.com/yourusername/worklog-auth/internal/cookies"
	"github.com/yourusername/worklog-auth/internal/telemetry"
)

// CallbackHandler は /auth/oauth/callback のハンドラーです。auth.RequireLogin の後ろで使います。
// verifier と state のクッキーは結果にかかわらず最初に削除し、再利用させません。
func (i *Initiator) CallbackHandler(c *gin.Context) {
	ctx := c.Request.Context()

	identity, ok := auth.CurrentUser(c)
	if !ok {
		apperr.Respond(c, i.logger, apperr.Unauthenticated())
		return
	}

	verifier, hasVerifier := cookies.Read(c.Request, cookies.Verifier)
	state, hasState := cookies.Read(c.Request, cookies.State)
	i.cookies.Clear(c.Writer, c.Request, cookies.Verifier)
	i.cookies.Clear(c.Writer, c.Request, cookies.State)

	if providerErr := c.Query("error"); providerErr != "" {
		i.recordCallback(ctx, "denied")
		apperr.Respond(c, i.logger, apperr.InvalidInput("認可が拒否されました"))
		return
	}

	code := c.Query("code")
	returnedState := c.Query("state")
	if !hasVerifier || !hasState || code == "" || returnedState == "" {
		i.recordCallback(ctx, "invalid")
		apperr.Respond(c, i.logger, apperr.InvalidInput("認可リクエストが見つかりません。最初からやり直してください"))
		return
	}
	if subtle.ConstantTimeCompare([]byte(returnedState), []byte(state)) != 1 {
		i.recordCallback(ctx, "invalid")
		apperr.Respond(c, i.logger, apperr.InvalidInput("state が一致しません"))
		return
	}

	token, err := i.oauthConfig(c.Request).Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		i.recordCallback(ctx, telemetry.OutcomeError)
		apperr.Respond(c, i.logger, apperr.Upstream(err))
		return
	}

	grant := &Grant{
		UserID:       identity.ID,
		Provider:     i.cfg.Provider,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.Type(),
		Expiry:       token.Expiry,
	}
	if err := i.grants.Save(ctx, grant); err != nil {
		i.recordCallback(ctx, telemetry.OutcomeError)
		apperr.Respond(c, i.logger, apperr.Upstream(err))
		return
	}

	i.recordCallback(ctx, telemetry.OutcomeSuccess)
	c.Header("Cache-Control", "no-store")
	c.Redirect(http.StatusFound, i.cfg.SuccessRedirect)
}

// StatusHandler は /auth/oauth/status のハンドラーです。トークンそのものは返しません。
func (i *Initiator) StatusHandler(c *gin.Context) {
	identity, ok := auth.CurrentUser(c)
	if !ok {
		apperr.Respond(c, i.logger, apperr.Unauthenticated())
		return
	}

	grant, err := i.grants.Get(c.Request.Context(), identity.ID)
	if err != nil {
		apperr.Respond(c, i.logger, apperr.Upstream(err))
		return
	}

	if grant == nil {
		c.JSON(http.StatusOK, gin.H{
			"connected": false,
			"provider":  i.cfg.Provider,
		})
		return
	}

	body := gin.H{
		"connected": true,
		"provider":  grant.Provider,
	}
	if !grant.Expiry.IsZero() {
		body["expiry"] = grant.Expiry
	}
	c.JSON(http.StatusOK, body)
}
