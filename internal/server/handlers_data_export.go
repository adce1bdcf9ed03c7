package server

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"keyi/apps/backend/internal/emotion"
)

var emotionExportHeader = []string{
	"message_id",
	"session_id",
	"created_at_utc",
	"primary_emotion",
	"secondary_emotions",
	"intensity",
	"confidence",
	"risk_level",
}

func (a *App) exportEmotionsCSV(c *gin.Context) {
	user, _ := authUserFromContext(c)

	rows, err := a.db.Query(
		c.Request.Context(),
		`SELECT m.id::text, m.session_id::text, m.created_at, m.emotion, COALESCE(m.risk_level, '')
		 FROM messages m
		 JOIN chat_sessions s ON s.id = m.session_id
		 WHERE s.user_id = $1
		   AND m.role = 'user'
		   AND m.emotion IS NOT NULL
		 ORDER BY m.created_at ASC`,
		user.ID,
	)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to load messages")
		return
	}
	defer rows.Close()

	var out bytes.Buffer
	writer := csv.NewWriter(&out)
	if err := writer.Write(emotionExportHeader); err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to build CSV header")
		return
	}

	for rows.Next() {
		var (
			messageID  string
			sessionID  string
			createdAt  time.Time
			emotionRaw []byte
			riskLevel  string
		)
		if err := rows.Scan(&messageID, &sessionID, &createdAt, &emotionRaw, &riskLevel); err != nil {
			writeError(c, http.StatusInternalServerError, "Failed to parse messages")
			return
		}
		var result emotion.Result
		if err := json.Unmarshal(emotionRaw, &result); err != nil {
			continue
		}
		if err := writer.Write(emotionExportRow(messageID, sessionID, createdAt, result, riskLevel)); err != nil {
			writeError(c, http.StatusInternalServerError, "Failed to write CSV rows")
			return
		}
	}
	if err := rows.Err(); err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to read messages")
		return
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to flush CSV")
		return
	}

	filename := fmt.Sprintf("keyi_emotions_%s.csv", a.now().UTC().Format("20060102_150405"))
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filename))
	c.String(http.StatusOK, out.String())
}

func emotionExportRow(messageID, sessionID string, createdAt time.Time, result emotion.Result, riskLevel string) []string {
	secondary := make([]string, 0, len(result.SecondaryEmotions))
	for _, item := range result.SecondaryEmotions {
		secondary = append(secondary, string(item))
	}
	return []string{
		messageID,
		sessionID,
		createdAt.UTC().Format(time.RFC3339),
		string(result.PrimaryEmotion),
		strings.Join(secondary, "|"),
		string(result.Intensity),
		strconv.FormatFloat(result.Confidence, 'f', 2, 64),
		riskLevel,
	}
}
