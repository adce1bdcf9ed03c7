package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"keyi/apps/backend/internal/emotion"
	"keyi/apps/backend/internal/risk"
)

const (
	defaultSessionTitle = "新对话"
	crisisReplyModel    = "crisis_protocol"
)

type chatSessionRecord struct {
	ID             string
	UserID         string
	Title          string
	StartedAt      time.Time
	UpdatedAt      time.Time
	EndedAt        *time.Time
	MessageCount   int
	EmotionSummary emotion.Summary
	RiskFlag       bool
}

type chatTurnResult struct {
	SessionID     string
	UserMessageID string
	ReplyID       string
	Reply         string
	Model         string
	CreatedAt     time.Time
	Turn          turnEvaluation
	Alert         *risk.Alert
}

type chatHTTPError struct {
	Status int
	Detail string
}

func (e *chatHTTPError) Error() string {
	return e.Detail
}

func (a *App) createChatSession(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}

	sessionID := uuid.NewString()
	var startedAt time.Time
	err := a.db.QueryRow(
		c.Request.Context(),
		`INSERT INTO chat_sessions (id, user_id, title, started_at, updated_at, message_count)
		 VALUES ($1, $2, $3, NOW(), NOW(), 0)
		 RETURNING started_at`,
		sessionID,
		user.ID,
		defaultSessionTitle,
	).Scan(&startedAt)
	if err != nil {
		log.Printf("create chat session failed user_id=%s err=%v", user.ID, err)
		writeError(c, http.StatusInternalServerError, "Failed to create chat session")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id":    sessionID,
		"title":         defaultSessionTitle,
		"started_at":    startedAt.UTC(),
		"message_count": 0,
	})
}

func (a *App) listChatSessions(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}
	limit := parseLimit(c.Query("limit"), 50, 100)

	rows, err := a.db.Query(
		c.Request.Context(),
		`SELECT id::text, title, started_at, updated_at, ended_at, message_count, emotion_summary, risk_flag
		 FROM chat_sessions
		 WHERE user_id = $1
		 ORDER BY started_at DESC
		 LIMIT $2`,
		user.ID,
		limit,
	)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to load chat sessions")
		return
	}
	defer rows.Close()

	items := make([]gin.H, 0, 16)
	for rows.Next() {
		record := chatSessionRecord{UserID: user.ID}
		var summaryRaw []byte
		if err := rows.Scan(
			&record.ID,
			&record.Title,
			&record.StartedAt,
			&record.UpdatedAt,
			&record.EndedAt,
			&record.MessageCount,
			&summaryRaw,
			&record.RiskFlag,
		); err != nil {
			writeError(c, http.StatusInternalServerError, "Failed to parse chat sessions")
			return
		}
		record.EmotionSummary = decodeEmotionSummary(summaryRaw)
		items = append(items, sessionPayload(record))
	}
	if err := rows.Err(); err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to read chat sessions")
		return
	}

	c.JSON(http.StatusOK, gin.H{"sessions": items})
}

func sessionPayload(record chatSessionRecord) gin.H {
	payload := gin.H{
		"id":            record.ID,
		"session_id":    record.ID,
		"title":         record.Title,
		"started_at":    record.StartedAt.UTC(),
		"updated_at":    record.UpdatedAt.UTC(),
		"ended_at":      record.EndedAt,
		"message_count": record.MessageCount,
		"risk_flag":     record.RiskFlag,
	}
	if dominant, ok := record.EmotionSummary.Dominant(); ok {
		payload["dominant_emotion"] = dominant
	}
	return payload
}

func (a *App) sendChatMessage(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var payload messageRequest
	if !mustJSON(c, &payload) {
		return
	}
	message, valid := normalizeMessage(payload.Message)
	if !valid {
		writeError(c, http.StatusBadRequest, "message must be between 1 and 2000 characters")
		return
	}

	result, err := a.runChatTurn(c.Request.Context(), user, c.Param("session_id"), message)
	if err != nil {
		a.writeChatExecutionError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id":  result.SessionID,
		"message_id":  result.UserMessageID,
		"reply":       result.Reply,
		"reply_id":    result.ReplyID,
		"timestamp":   result.CreatedAt.UTC().Format(time.RFC3339Nano),
		"model":       result.Model,
		"alert_level": result.Turn.Risk.Level,
		"emotion":     result.Turn.Emotion,
		"suggestions": result.Turn.Suggestions,
		"resources":   result.Turn.Resources(),
		"alert_id":    alertID(result.Alert),
	})
}

// runChatTurn triages the message, produces the reply and persists both
// messages together with the session bookkeeping in one transaction.
func (a *App) runChatTurn(ctx context.Context, user AuthUser, sessionID, message string) (chatTurnResult, error) {
	session, err := a.loadChatSessionForUser(ctx, user.ID, sessionID)
	if err != nil {
		return chatTurnResult{}, err
	}

	turn := evaluateTurn(message)
	reply, model, err := a.generateReply(ctx, user, &session, message, turn)
	if err != nil {
		log.Printf("chat reply failed session_id=%s user_id=%s err=%v", session.ID, user.ID, err)
		return chatTurnResult{}, err
	}

	tx, err := a.db.Begin(ctx)
	if err != nil {
		return chatTurnResult{}, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	userMessageID, createdAt, err := insertChatMessage(ctx, tx, session.ID, "user", message, &turn.Emotion, turn.Risk.Level)
	if err != nil {
		return chatTurnResult{}, fmt.Errorf("insert user message: %w", err)
	}
	replyID, _, err := insertChatMessage(ctx, tx, session.ID, "assistant", reply, nil, "")
	if err != nil {
		return chatTurnResult{}, fmt.Errorf("insert assistant message: %w", err)
	}
	if err := updateSessionAfterTurn(ctx, tx, session.ID, message, turn); err != nil {
		return chatTurnResult{}, fmt.Errorf("update chat session: %w", err)
	}

	var alert *risk.Alert
	if turn.RequiresAlert() {
		alert, err = a.recordAlert(ctx, tx, user, &session.ID, turn.Risk)
		if err != nil {
			return chatTurnResult{}, fmt.Errorf("record alert: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		if alert != nil {
			a.releaseAlertCooldown(ctx, *alert)
		}
		return chatTurnResult{}, err
	}

	return chatTurnResult{
		SessionID:     session.ID,
		UserMessageID: userMessageID,
		ReplyID:       replyID,
		Reply:         reply,
		Model:         model,
		CreatedAt:     createdAt,
		Turn:          turn,
		Alert:         alert,
	}, nil
}

// generateReply returns the scripted crisis response for alerting turns and
// asks the model otherwise. session may be nil for sessionless chat.
func (a *App) generateReply(ctx context.Context, user AuthUser, session *chatSessionRecord, message string, turn turnEvaluation) (string, string, error) {
	if turn.RequiresAlert() {
		return risk.CrisisResponse(turn.Risk.Level), crisisReplyModel, nil
	}

	prefs, err := a.loadUserPreferences(ctx, user)
	if err != nil {
		log.Printf("load preferences failed user_id=%s err=%v", user.ID, err)
		prefs = defaultUserPreferences()
	}

	var history []ChatTurn
	if session != nil {
		history, err = a.loadSessionTurns(ctx, session.ID, a.cfg.ChatHistoryTurns)
		if err != nil {
			return "", "", err
		}
	}

	resp, err := a.ai.Query(ctx, AIModelRequest{
		SystemPrompt: buildChatSystemPrompt(prefs, turn),
		Conversation: history,
		UserPrompt:   message,
	})
	if err != nil {
		return "", "", err
	}
	return strings.TrimSpace(resp.Answer), resp.Model, nil
}

func (a *App) aiChat(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var payload messageRequest
	if !mustJSON(c, &payload) {
		return
	}
	message, valid := normalizeMessage(payload.Message)
	if !valid {
		writeError(c, http.StatusBadRequest, "message must be between 1 and 2000 characters")
		return
	}

	ctx := c.Request.Context()
	turn := evaluateTurn(message)
	reply, model, err := a.generateReply(ctx, user, nil, message, turn)
	if err != nil {
		log.Printf("ai chat failed user_id=%s err=%v", user.ID, err)
		a.writeChatExecutionError(c, err)
		return
	}

	var alert *risk.Alert
	if turn.RequiresAlert() {
		alert, err = a.recordAlert(ctx, a.db, user, nil, turn.Risk)
		if err != nil {
			log.Printf("record alert failed user_id=%s level=%s err=%v", user.ID, turn.Risk.Level, err)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"reply":       reply,
		"user_id":     user.ID,
		"model":       model,
		"alert_level": turn.Risk.Level,
		"emotion":     turn.Emotion,
		"suggestions": turn.Suggestions,
		"resources":   turn.Resources(),
		"alert_id":    alertID(alert),
	})
}

func (a *App) getChatHistory(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}

	session, err := a.loadChatSessionForUser(c.Request.Context(), user.ID, c.Param("session_id"))
	if err != nil {
		a.writeChatExecutionError(c, err)
		return
	}
	limit := parseLimit(c.Query("limit"), historyDefaultLimit, historyMaxLimit)

	rows, err := a.db.Query(
		c.Request.Context(),
		`SELECT id::text, role, content, emotion, risk_level, created_at
		 FROM (
		   SELECT id, role, content, emotion, risk_level, created_at
		   FROM messages
		   WHERE session_id = $1
		   ORDER BY created_at DESC
		   LIMIT $2
		 ) recent
		 ORDER BY created_at ASC`,
		session.ID,
		limit,
	)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to load chat messages")
		return
	}
	defer rows.Close()

	items := make([]gin.H, 0, limit)
	for rows.Next() {
		var (
			messageID  string
			role       string
			content    string
			emotionRaw []byte
			riskLevel  *string
			createdAt  time.Time
		)
		if err := rows.Scan(&messageID, &role, &content, &emotionRaw, &riskLevel, &createdAt); err != nil {
			writeError(c, http.StatusInternalServerError, "Failed to parse chat messages")
			return
		}
		item := gin.H{
			"id":        messageID,
			"role":      role,
			"content":   content,
			"timestamp": createdAt.UTC().Format(time.RFC3339Nano),
			"emotion":   nil,
		}
		if len(emotionRaw) > 0 {
			var result emotion.Result
			if err := json.Unmarshal(emotionRaw, &result); err == nil {
				item["emotion"] = result
			}
		}
		if riskLevel != nil && *riskLevel != "" {
			item["risk_level"] = *riskLevel
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to read chat messages")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id": session.ID,
		"title":      session.Title,
		"messages":   items,
	})
}

func (a *App) renameChatSession(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var payload renameSessionRequest
	if !mustJSON(c, &payload) {
		return
	}
	title := strings.Join(strings.Fields(payload.Title), " ")
	if title == "" || len([]rune(title)) > sessionTitleMaxRune {
		writeError(c, http.StatusBadRequest, "title must be between 1 and 100 characters")
		return
	}

	session, err := a.loadChatSessionForUser(c.Request.Context(), user.ID, c.Param("session_id"))
	if err != nil {
		a.writeChatExecutionError(c, err)
		return
	}
	if _, err := a.db.Exec(
		c.Request.Context(),
		`UPDATE chat_sessions SET title = $2, updated_at = NOW() WHERE id = $1`,
		session.ID,
		title,
	); err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to update chat session")
		return
	}
	session.Title = title

	c.JSON(http.StatusOK, sessionPayload(session))
}

func (a *App) deleteChatSession(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}

	sessionID, valid := parseUUID(c.Param("session_id"))
	if !valid {
		writeError(c, http.StatusNotFound, "Chat session not found")
		return
	}
	tag, err := a.db.Exec(
		c.Request.Context(),
		`DELETE FROM chat_sessions WHERE id = $1 AND user_id = $2`,
		sessionID,
		user.ID,
	)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to delete chat session")
		return
	}
	if tag.RowsAffected() == 0 {
		writeError(c, http.StatusNotFound, "Chat session not found")
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "删除成功", "session_id": sessionID})
}

func parseUUID(raw string) (string, bool) {
	parsed, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", false
	}
	return parsed.String(), true
}

func (a *App) loadChatSessionForUser(ctx context.Context, userID, rawSessionID string) (chatSessionRecord, error) {
	sessionID, valid := parseUUID(rawSessionID)
	if !valid {
		return chatSessionRecord{}, &chatHTTPError{Status: http.StatusNotFound, Detail: "Chat session not found"}
	}

	record := chatSessionRecord{}
	var summaryRaw []byte
	err := a.db.QueryRow(
		ctx,
		`SELECT id::text, user_id, title, started_at, updated_at, ended_at, message_count, emotion_summary, risk_flag
		 FROM chat_sessions
		 WHERE id = $1 AND user_id = $2`,
		sessionID,
		userID,
	).Scan(
		&record.ID,
		&record.UserID,
		&record.Title,
		&record.StartedAt,
		&record.UpdatedAt,
		&record.EndedAt,
		&record.MessageCount,
		&summaryRaw,
		&record.RiskFlag,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return chatSessionRecord{}, &chatHTTPError{Status: http.StatusNotFound, Detail: "Chat session not found"}
	}
	if err != nil {
		return chatSessionRecord{}, err
	}
	record.EmotionSummary = decodeEmotionSummary(summaryRaw)
	return record, nil
}

func insertChatMessage(
	ctx context.Context,
	q dbQuerier,
	sessionID, role, content string,
	result *emotion.Result,
	level risk.Level,
) (string, time.Time, error) {
	messageID := uuid.NewString()

	var emotionValue any
	if result != nil {
		emotionValue = mustMarshalJSON(result)
	}
	var levelValue any
	if level != "" {
		levelValue = string(level)
	}

	var createdAt time.Time
	err := q.QueryRow(
		ctx,
		`INSERT INTO messages (id, session_id, role, content, emotion, risk_level, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, clock_timestamp())
		 RETURNING created_at`,
		messageID,
		sessionID,
		role,
		content,
		emotionValue,
		levelValue,
	).Scan(&createdAt)
	if err != nil {
		return "", time.Time{}, err
	}
	return messageID, createdAt, nil
}

// updateSessionAfterTurn folds the turn into the session row. The row is
// locked so concurrent turns on one session do not lose summary updates.
func updateSessionAfterTurn(ctx context.Context, q dbQuerier, sessionID, message string, turn turnEvaluation) error {
	var (
		title        string
		messageCount int
		summaryRaw   []byte
	)
	if err := q.QueryRow(
		ctx,
		`SELECT title, message_count, emotion_summary FROM chat_sessions WHERE id = $1 FOR UPDATE`,
		sessionID,
	).Scan(&title, &messageCount, &summaryRaw); err != nil {
		return err
	}

	summary := decodeEmotionSummary(summaryRaw).Tally(turn.Emotion)
	if messageCount == 0 && title == defaultSessionTitle {
		title = deriveSessionTitle(message)
	}

	_, err := q.Exec(
		ctx,
		`UPDATE chat_sessions
		 SET message_count = message_count + 2,
		     updated_at = NOW(),
		     title = $2,
		     emotion_summary = $3,
		     risk_flag = risk_flag OR $4
		 WHERE id = $1`,
		sessionID,
		title,
		mustMarshalJSON(summary),
		turn.RequiresAlert(),
	)
	return err
}

func (a *App) loadSessionTurns(ctx context.Context, sessionID string, limit int) ([]ChatTurn, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := a.db.Query(
		ctx,
		`SELECT role, content
		 FROM messages
		 WHERE session_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		sessionID,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	turns := make([]ChatTurn, 0, limit)
	for rows.Next() {
		var role, content string
		if err := rows.Scan(&role, &content); err != nil {
			return nil, err
		}
		turns = append(turns, ChatTurn{Role: strings.ToLower(strings.TrimSpace(role)), Content: strings.TrimSpace(content)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

func decodeEmotionSummary(raw []byte) emotion.Summary {
	summary := emotion.NewSummary()
	if len(raw) == 0 {
		return summary
	}
	if err := json.Unmarshal(raw, &summary); err != nil {
		return emotion.NewSummary()
	}
	if summary.Counts == nil {
		summary.Counts = map[emotion.Type]int{}
	}
	return summary
}

func deriveSessionTitle(firstUserInput string) string {
	normalized := strings.Join(strings.Fields(firstUserInput), " ")
	if normalized == "" {
		return defaultSessionTitle
	}
	return truncateRunes(normalized, 20)
}

func alertID(alert *risk.Alert) *string {
	if alert == nil {
		return nil
	}
	return &alert.ID
}

func (a *App) writeChatExecutionError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	var httpErr *chatHTTPError
	if errors.As(err, &httpErr) {
		writeError(c, httpErr.Status, httpErr.Detail)
		return
	}
	var providerErr *AIProviderError
	if errors.As(err, &providerErr) {
		switch providerErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			writeError(c, http.StatusServiceUnavailable, "AI provider rejected the configured credentials")
		case http.StatusTooManyRequests:
			writeError(c, http.StatusServiceUnavailable, "AI provider is rate limited; try again later")
		default:
			writeError(c, http.StatusBadGateway, "AI provider request failed")
		}
		return
	}
	switch {
	case errors.Is(err, errAIEmptyAnswer):
		writeError(c, http.StatusBadGateway, "AI provider returned empty answer")
		return
	case errors.Is(err, context.DeadlineExceeded):
		writeError(c, http.StatusBadGateway, "AI provider request timed out")
		return
	}
	log.Printf("chat request failed unclassified err=%v", err)
	writeError(c, http.StatusInternalServerError, "Failed to process chat message")
}
