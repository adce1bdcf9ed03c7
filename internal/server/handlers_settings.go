package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
)

const (
	replyStyleWarm       = "warm"
	replyStyleConcise    = "concise"
	replyStyleReflective = "reflective"
)

// userPreferences is the typed view of users.preferences.
type userPreferences struct {
	ReplyStyle          string
	ShareEmotionContext bool
}

func defaultUserPreferences() userPreferences {
	return userPreferences{ReplyStyle: replyStyleWarm, ShareEmotionContext: true}
}

func (a *App) getMySettings(c *gin.Context) {
	user, _ := authUserFromContext(c)

	raw, err := loadPreferenceMap(c.Request.Context(), a.db, user.ID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		writeError(c, http.StatusInternalServerError, "Failed to load settings")
		return
	}

	c.JSON(http.StatusOK, buildSettingsResponse(user, resolvePreferences(raw)))
}

func (a *App) upsertMySettings(c *gin.Context) {
	user, _ := authUserFromContext(c)

	var payload updateMySettingsRequest
	if !mustJSON(c, &payload) {
		return
	}

	raw, err := loadPreferenceMap(c.Request.Context(), a.db, user.ID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		writeError(c, http.StatusInternalServerError, "Failed to load settings")
		return
	}
	if raw == nil {
		raw = map[string]any{}
	}

	if payload.ReplyStyle != nil {
		style, valid := normalizeReplyStyle(*payload.ReplyStyle)
		if !valid {
			writeError(c, http.StatusBadRequest, "reply_style must be one of: warm, concise, reflective")
			return
		}
		raw["reply_style"] = style
	}
	if payload.ShareEmotionContext != nil {
		raw["share_emotion_context"] = *payload.ShareEmotionContext
	}

	tag, err := a.db.Exec(
		c.Request.Context(),
		`UPDATE users SET preferences = $2 WHERE id = $1`,
		user.ID,
		mustMarshalJSON(raw),
	)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to save settings")
		return
	}
	if tag.RowsAffected() == 0 {
		writeError(c, http.StatusNotFound, "User not found")
		return
	}

	c.JSON(http.StatusOK, buildSettingsResponse(user, resolvePreferences(raw)))
}

// loadUserPreferences returns defaults for anonymous callers and unknown users.
func (a *App) loadUserPreferences(ctx context.Context, user AuthUser) (userPreferences, error) {
	if user.Anonymous {
		return defaultUserPreferences(), nil
	}
	raw, err := loadPreferenceMap(ctx, a.db, user.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return defaultUserPreferences(), nil
	}
	if err != nil {
		return userPreferences{}, err
	}
	return resolvePreferences(raw), nil
}

func loadPreferenceMap(ctx context.Context, q dbQuerier, userID string) (map[string]any, error) {
	var raw []byte
	if err := q.QueryRow(
		ctx,
		`SELECT preferences FROM users WHERE id = $1`,
		userID,
	).Scan(&raw); err != nil {
		return nil, err
	}
	return parseJSONStringMap(raw), nil
}

func resolvePreferences(raw map[string]any) userPreferences {
	prefs := defaultUserPreferences()
	if raw == nil {
		return prefs
	}
	if style, valid := normalizeReplyStyle(toString(raw["reply_style"])); valid {
		prefs.ReplyStyle = style
	}
	if share, ok := raw["share_emotion_context"].(bool); ok {
		prefs.ShareEmotionContext = share
	}
	return prefs
}

func normalizeReplyStyle(input string) (string, bool) {
	switch style := strings.ToLower(strings.TrimSpace(input)); style {
	case replyStyleWarm, replyStyleConcise, replyStyleReflective:
		return style, true
	}
	return "", false
}

func buildSettingsResponse(user AuthUser, prefs userPreferences) gin.H {
	return gin.H{
		"user_id":               user.ID,
		"risk_level":            user.RiskLevel,
		"reply_style":           prefs.ReplyStyle,
		"share_emotion_context": prefs.ShareEmotionContext,
	}
}
