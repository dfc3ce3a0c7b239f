package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/skyportal/client/internal/auth"
	"github.com/MarcoPoloResearchLab/skyportal/client/internal/model"
	"github.com/MarcoPoloResearchLab/skyportal/client/internal/records"
	"github.com/MarcoPoloResearchLab/skyportal/client/internal/resource"
	"github.com/MarcoPoloResearchLab/skyportal/client/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	accountContextKey = "skyportal_account"
	tokenScheme       = "token "
)

var (
	errMissingAccounts       = errors.New("account resolver dependency required")
	errMissingRecords        = errors.New("records service dependency required")
	errMissingSocketIssuer   = errors.New("socket token issuer dependency required")
	errMissingSocketVerifier = errors.New("socket token validator dependency required")
	errInvalidAuthorization  = errors.New("authorization header missing or invalid")
)

// AccountResolver authenticates API tokens and persists profile changes.
type AccountResolver interface {
	ResolveToken(ctx context.Context, token string) (users.Account, error)
	UpdatePreferences(ctx context.Context, id int64, preferences model.Preferences) (users.Account, error)
}

// SocketTokenIssuer hands out push channel tokens.
type SocketTokenIssuer interface {
	IssueSocketToken(ctx context.Context, subject auth.Subject) (string, time.Time, error)
}

// SocketTokenValidator checks push channel tokens.
type SocketTokenValidator interface {
	ValidateToken(token string) (auth.SocketClaims, error)
}

type Dependencies struct {
	Accounts       AccountResolver
	Records        *records.Service
	SocketTokens   SocketTokenIssuer
	SocketVerifier SocketTokenValidator
	Realtime       *RealtimeDispatcher
	Logger         *zap.Logger
	AllowedOrigins []string
	Push           PushConfig
}

// NewHTTPHandler builds the sandbox REST surface and push endpoint.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Accounts == nil {
		return nil, errMissingAccounts
	}
	if deps.Records == nil {
		return nil, errMissingRecords
	}
	if deps.SocketTokens == nil {
		return nil, errMissingSocketIssuer
	}
	if deps.SocketVerifier == nil {
		return nil, errMissingSocketVerifier
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	realtime := deps.Realtime
	if realtime == nil {
		realtime = NewRealtimeDispatcher()
	}

	router := gin.New()
	router.UseRawPath = true
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		accounts:       deps.Accounts,
		records:        deps.Records,
		socketTokens:   deps.SocketTokens,
		socketVerifier: deps.SocketVerifier,
		realtime:       realtime,
		push:           deps.Push.withDefaults(),
		logger:         logger,
	}

	router.GET("/websocket", handler.handleWebsocket)

	api := router.Group("/api")
	api.Use(handler.authorizeRequest)
	api.GET("/internal/profile", handler.handleProfile)
	api.PATCH("/internal/profile", handler.handleUpdateProfile)
	api.GET("/websocket_auth_token", handler.handleSocketToken)
	api.GET("/sources", handler.handleListSources)
	api.GET("/sources/:id/spectra", handler.handleSourceSpectra)

	for _, kind := range resource.Kinds() {
		route, err := resource.RouteOf(kind)
		if err != nil {
			return nil, err
		}
		base := "/" + route.Segment + "/:id"
		api.GET(base, handler.handleReadResource(kind))
		api.PUT(base, handler.handlePutResource(kind))
		api.POST(base+"/comments", handler.handleAddComment(kind))
		api.PUT(base+"/comments/:comment_id", handler.handleEditComment(kind))
		api.DELETE(base+"/comments/:comment_id", handler.handleDeleteComment(kind))
		api.GET(base+"/comments/:comment_id/attachment", handler.handleAttachment(kind))
	}

	return router, nil
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}
	if len(origins) == 0 {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = origins
	}
	return cors.New(config)
}

type httpHandler struct {
	accounts       AccountResolver
	records        *records.Service
	socketTokens   SocketTokenIssuer
	socketVerifier SocketTokenValidator
	realtime       *RealtimeDispatcher
	push           PushConfig
	logger         *zap.Logger
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, tokenScheme) {
		abortWithError(c, http.StatusUnauthorized, errInvalidAuthorization.Error(), "unauthorized")
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, tokenScheme))
	if token == "" {
		abortWithError(c, http.StatusUnauthorized, errInvalidAuthorization.Error(), "unauthorized")
		return
	}
	account, err := h.accounts.ResolveToken(c.Request.Context(), token)
	if err != nil {
		if errors.Is(err, users.ErrUnknownToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		abortWithError(c, http.StatusUnauthorized, "unauthorized", "unauthorized")
		return
	}
	c.Set(accountContextKey, account)
	c.Next()
}

func currentAccount(c *gin.Context) (users.Account, bool) {
	value, ok := c.Get(accountContextKey)
	if !ok {
		return users.Account{}, false
	}
	account, ok := value.(users.Account)
	return account, ok
}

func respondSuccess(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": data})
}

func abortWithError(c *gin.Context, status int, message, code string) {
	c.AbortWithStatusJSON(status, gin.H{"status": "error", "message": message, "code": code})
}

// respondServiceError maps a records failure onto an error envelope.
func (h *httpHandler) respondServiceError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, records.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, records.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, records.ErrInvalidInput), errors.Is(err, resource.ErrUnknownKind):
		status = http.StatusBadRequest
	}
	code := "internal_error"
	var serviceErr *records.ServiceError
	if errors.As(err, &serviceErr) {
		code = serviceErr.Code()
	}
	message := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		message = "internal error"
	}
	abortWithError(c, status, message, code)
}
