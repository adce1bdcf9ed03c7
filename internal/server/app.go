package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"keyi/apps/backend/internal/config"
)

const anonymousUserID = "anonymous"

type dbQuerier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

type App struct {
	cfg      config.Config
	db       *pgxpool.Pool
	ai       AIClient
	alerts   AlertCache
	identity IdentityProvider
	now      func() time.Time
}

type AuthUser struct {
	ID        string
	Email     *string
	RiskLevel string
	Anonymous bool
}

type Option func(*App)

// WithAIClient replaces the reply generator chosen from configuration.
func WithAIClient(client AIClient) Option {
	return func(a *App) {
		if client != nil {
			a.ai = client
		}
	}
}

func WithAlertCache(cache AlertCache) Option {
	return func(a *App) {
		if cache != nil {
			a.alerts = cache
		}
	}
}

func WithIdentityProvider(provider IdentityProvider) Option {
	return func(a *App) {
		if provider != nil {
			a.identity = provider
		}
	}
}

func New(cfg config.Config, db *pgxpool.Pool, opts ...Option) *App {
	app := &App{
		cfg:      cfg,
		db:       db,
		ai:       NewAIClient(cfg),
		alerts:   NewMemoryAlertCache(),
		identity: NewSupabaseIdentityProvider(cfg),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(app)
	}
	return app
}

func (a *App) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     a.cfg.CORSAllowOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/", a.root)
	router.GET("/health", a.health)

	api := router.Group(a.cfg.APIPrefix)

	auth := api.Group("/auth")
	auth.POST("/register", a.register)
	auth.POST("/login", a.login)
	auth.POST("/refresh", a.refreshSession)
	auth.POST("/logout", a.logout)
	auth.GET("/me", a.authMiddleware(), a.requireUser(), a.me)

	api.Use(a.authMiddleware())

	api.POST("/ai/chat", a.aiChat)

	api.POST("/emotion/analyze", a.analyzeEmotion)
	api.POST("/risk/check", a.checkRisk)
	api.GET("/crisis/resources", a.crisisResources)
	api.GET("/suggestions", a.listSuggestions)

	api.GET("/assessments/scales", a.listScales)
	api.GET("/assessments/scales/:scale_type", a.getScale)
	api.POST("/assessments/submissions", a.submitAssessment)

	member := api.Group("")
	member.Use(a.requireUser())
	member.POST("/chat/sessions", a.createChatSession)
	member.GET("/chat/sessions", a.listChatSessions)
	member.POST("/chat/sessions/:session_id/messages", a.sendChatMessage)
	member.GET("/chat/sessions/:session_id/history", a.getChatHistory)
	member.PATCH("/chat/sessions/:session_id", a.renameChatSession)
	member.DELETE("/chat/sessions/:session_id", a.deleteChatSession)
	member.GET("/assessments/history", a.assessmentHistory)
	member.GET("/alerts", a.listAlerts)
	member.POST("/alerts/:alert_id/resolve", a.resolveAlert)
	member.GET("/settings/me", a.getMySettings)
	member.PATCH("/settings/me", a.upsertMySettings)
	member.GET("/exports/emotions.csv", a.exportEmotionsCSV)

	return router
}

func (a *App) root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": a.cfg.AppName,
		"version": "1.0.0",
		"model":   a.cfg.LLMModel,
	})
}

func (a *App) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "keyi-api",
	})
}

// authMiddleware resolves the caller. Requests without an Authorization
// header continue as the anonymous user when ALLOW_ANONYMOUS is set; a header
// that is present but invalid is always rejected.
func (a *App) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
		if authHeader == "" {
			if !a.cfg.AllowAnonymous {
				writeError(c, http.StatusUnauthorized, "Bearer token required")
				return
			}
			c.Set("authUser", AuthUser{ID: anonymousUserID, RiskLevel: "low", Anonymous: true})
			c.Next()
			return
		}
		if !strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
			writeError(c, http.StatusUnauthorized, "Bearer token required")
			return
		}
		tokenString := strings.TrimSpace(authHeader[len("Bearer "):])
		if tokenString == "" {
			writeError(c, http.StatusUnauthorized, "Bearer token required")
			return
		}

		claims, detail := a.verifyToken(tokenString)
		if detail != "" {
			writeError(c, http.StatusUnauthorized, detail)
			return
		}
		sub, _ := claims["sub"].(string)
		sub = strings.TrimSpace(sub)
		if sub == "" {
			writeError(c, http.StatusUnauthorized, "Token subject missing")
			return
		}

		user, err := a.getOrCreateUser(c.Request.Context(), sub, claims)
		if err != nil {
			writeError(c, http.StatusUnauthorized, err.Error())
			return
		}

		c.Set("authUser", user)
		c.Next()
	}
}

// verifyToken returns the token claims, or a non-empty detail explaining why
// the token was rejected.
func (a *App) verifyToken(tokenString string) (jwt.MapClaims, string) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if token.Method == nil || token.Method.Alg() != a.cfg.JWTAlgorithm {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(a.cfg.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		return nil, "Invalid bearer token"
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, "Invalid token payload"
	}
	if a.cfg.JWTAudience != "" && !claimHasAudience(claims["aud"], a.cfg.JWTAudience) {
		return nil, "Invalid token audience"
	}
	if a.cfg.JWTIssuer != "" {
		issuer, _ := claims["iss"].(string)
		if issuer != a.cfg.JWTIssuer {
			return nil, "Invalid token issuer"
		}
	}
	return claims, ""
}

func (a *App) requireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := authUserFromContext(c)
		if !ok || user.Anonymous {
			writeError(c, http.StatusUnauthorized, "Authentication required")
			return
		}
		c.Next()
	}
}

func claimHasAudience(value any, audience string) bool {
	switch v := value.(type) {
	case string:
		return v == audience
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && s == audience {
				return true
			}
		}
	case []string:
		for _, item := range v {
			if item == audience {
				return true
			}
		}
	}
	return false
}

func toOptionalString(raw any) *string {
	if s, ok := raw.(string); ok {
		trimmed := strings.TrimSpace(s)
		if trimmed != "" {
			return &trimmed
		}
	}
	return nil
}

func (a *App) getOrCreateUser(ctx context.Context, userID string, claims jwt.MapClaims) (AuthUser, error) {
	user := AuthUser{}
	err := a.db.QueryRow(
		ctx,
		`UPDATE users SET last_active_at = NOW()
		 WHERE id = $1
		 RETURNING id, email, risk_level`,
		userID,
	).Scan(&user.ID, &user.Email, &user.RiskLevel)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return AuthUser{}, err
	}
	if !a.cfg.AuthAutoCreateUser {
		return AuthUser{}, errors.New("User not found")
	}

	email := toOptionalString(claims["email"])
	if err := a.db.QueryRow(
		ctx,
		`INSERT INTO users (id, email, created_at, last_active_at)
		 VALUES ($1, $2, NOW(), NOW())
		 ON CONFLICT (id) DO UPDATE SET last_active_at = NOW()
		 RETURNING id, email, risk_level`,
		userID,
		email,
	).Scan(&user.ID, &user.Email, &user.RiskLevel); err != nil {
		return AuthUser{}, err
	}
	return user, nil
}

func authUserFromContext(c *gin.Context) (AuthUser, bool) {
	raw, ok := c.Get("authUser")
	if !ok {
		return AuthUser{}, false
	}
	user, ok := raw.(AuthUser)
	return user, ok
}

func writeError(c *gin.Context, status int, detail string) {
	c.AbortWithStatusJSON(status, gin.H{"detail": detail})
}

func mustJSON(c *gin.Context, payload any) bool {
	if err := c.ShouldBindJSON(payload); err != nil {
		writeError(c, http.StatusBadRequest, "Invalid request payload")
		return false
	}
	return true
}

