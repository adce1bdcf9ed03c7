package server

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const passwordMinLength = 6

func (a *App) register(c *gin.Context) {
	var payload credentialsRequest
	if !mustJSON(c, &payload) {
		return
	}
	email := strings.TrimSpace(payload.Email)
	if !isValidEmail(email) {
		writeError(c, http.StatusBadRequest, "email is invalid")
		return
	}
	if len(payload.Password) < passwordMinLength {
		writeError(c, http.StatusBadRequest, "password must be at least 6 characters")
		return
	}

	session, err := a.identity.SignUp(c.Request.Context(), email, payload.Password)
	if err != nil {
		a.writeIdentityError(c, err, http.StatusBadRequest, "注册失败")
		return
	}
	c.JSON(http.StatusOK, tokenResponse(session))
}

func (a *App) login(c *gin.Context) {
	var payload credentialsRequest
	if !mustJSON(c, &payload) {
		return
	}
	email := strings.TrimSpace(payload.Email)
	if email == "" || payload.Password == "" {
		writeError(c, http.StatusBadRequest, "email and password are required")
		return
	}

	session, err := a.identity.SignIn(c.Request.Context(), email, payload.Password)
	if err != nil {
		a.writeIdentityError(c, err, http.StatusUnauthorized, "登录失败")
		return
	}
	c.JSON(http.StatusOK, tokenResponse(session))
}

func (a *App) refreshSession(c *gin.Context) {
	var payload refreshRequest
	if !mustJSON(c, &payload) {
		return
	}
	refreshToken := strings.TrimSpace(payload.RefreshToken)
	if refreshToken == "" {
		writeError(c, http.StatusBadRequest, "refresh_token is required")
		return
	}

	session, err := a.identity.Refresh(c.Request.Context(), refreshToken)
	if err != nil {
		a.writeIdentityError(c, err, http.StatusUnauthorized, "刷新失败")
		return
	}
	c.JSON(http.StatusOK, tokenResponse(session))
}

// logout revokes the caller's token upstream. It always succeeds from the
// client's point of view.
func (a *App) logout(c *gin.Context) {
	authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		token := strings.TrimSpace(authHeader[len("Bearer "):])
		if token != "" {
			if err := a.identity.SignOut(c.Request.Context(), token); err != nil {
				log.Printf("identity sign out failed err=%v", err)
			}
		}
	}
	c.JSON(http.StatusOK, gin.H{"message": "登出成功"})
}

func (a *App) me(c *gin.Context) {
	user, _ := authUserFromContext(c)
	c.JSON(http.StatusOK, gin.H{
		"user": gin.H{
			"id":         user.ID,
			"email":      user.Email,
			"risk_level": user.RiskLevel,
		},
	})
}

func tokenResponse(session AuthSession) gin.H {
	tokenType := strings.ToLower(strings.TrimSpace(session.TokenType))
	if tokenType == "" {
		tokenType = "bearer"
	}
	var refreshToken *string
	if session.RefreshToken != "" {
		refreshToken = &session.RefreshToken
	}
	var user gin.H
	if session.User != nil {
		user = gin.H{"id": session.User.ID, "email": session.User.Email}
	}
	return gin.H{
		"access_token":  session.AccessToken,
		"refresh_token": refreshToken,
		"token_type":    tokenType,
		"expires_in":    session.ExpiresIn,
		"user":          user,
	}
}

func (a *App) writeIdentityError(c *gin.Context, err error, status int, fallback string) {
	if errors.Is(err, ErrIdentityNotConfigured) {
		writeError(c, http.StatusServiceUnavailable, "Supabase未配置")
		return
	}
	var identityErr *IdentityError
	if errors.As(err, &identityErr) {
		if identityErr.Status == http.StatusTooManyRequests {
			writeError(c, http.StatusTooManyRequests, identityErr.Message)
			return
		}
		writeError(c, status, identityErr.Message)
		return
	}
	log.Printf("identity request failed err=%v", err)
	writeError(c, http.StatusBadGateway, fallback)
}
