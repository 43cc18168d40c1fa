package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/podiumlabs/podium/internal/auth"
	"github.com/podiumlabs/podium/internal/room"
)

var (
	errMissingDispatcher       = errors.New("dispatcher dependency required")
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingSessionIssuer    = errors.New("session issuer dependency required")
	errMissingPasswordVerifier = errors.New("password verifier dependency required")
	errMissingPeerTable        = errors.New("peer table dependency required")
)

// Dependencies lists what the HTTP surface needs.
type Dependencies struct {
	Dispatcher       *room.Dispatcher
	SessionValidator *auth.SessionValidator
	SessionIssuer    *auth.SessionIssuer
	Passwords        *auth.PasswordVerifier
	Peers            *PeerTable
	Logger           *zap.Logger
}

// NewHTTPHandler builds the gin handler: presenter login, websocket upgrade,
// and health probe.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Dispatcher == nil {
		return nil, errMissingDispatcher
	}
	if deps.SessionValidator == nil {
		return nil, errMissingSessionValidator
	}
	if deps.SessionIssuer == nil {
		return nil, errMissingSessionIssuer
	}
	if deps.Passwords == nil {
		return nil, errMissingPasswordVerifier
	}
	if deps.Peers == nil {
		return nil, errMissingPeerTable
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Content-Type"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	handler := &httpHandler{
		dispatcher: deps.Dispatcher,
		validator:  deps.SessionValidator,
		issuer:     deps.SessionIssuer,
		passwords:  deps.Passwords,
		peers:      deps.Peers,
		logger:     logger,
	}

	router.GET("/healthz", handler.handleHealth)
	router.GET("/login", handler.handleLoginPage)
	router.POST("/login", handler.handleLoginSubmit)
	router.GET("/ws", handler.handleWebsocket)

	return router, nil
}

type httpHandler struct {
	dispatcher *room.Dispatcher
	validator  *auth.SessionValidator
	issuer     *auth.SessionIssuer
	passwords  *auth.PasswordVerifier
	peers      *PeerTable
	logger     *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

const loginPageHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>Presenter Login</title>
</head>
<body>
<form method="post" action="/login">
<h1>Presenter Login</h1>
<input type="password" name="password" placeholder="Password" autofocus>
<button type="submit">Login</button>
</form>
</body>
</html>`

func (h *httpHandler) handleLoginPage(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(loginPageHTML))
}

func (h *httpHandler) handleLoginSubmit(c *gin.Context) {
	password := c.PostForm("password")
	if err := h.passwords.Verify(password); err != nil {
		h.logger.Warn("presenter login rejected")
		c.String(http.StatusUnauthorized, "Unauthorized")
		return
	}

	token, expiresIn, err := h.issuer.IssueSessionToken()
	if err != nil {
		h.logger.Error("failed to issue session token", zap.Error(err))
		c.String(http.StatusInternalServerError, "Login failed")
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.validator.CookieName(), token, int(expiresIn), "/", "", false, true)
	c.Redirect(http.StatusSeeOther, "/")
}
