package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"keyi/apps/backend/internal/assessment"
)

func (a *App) listScales(c *gin.Context) {
	items := make([]gin.H, 0, len(assessment.AllScaleTypes()))
	for _, scaleType := range assessment.AllScaleTypes() {
		scale, _ := assessment.GetScale(scaleType)
		items = append(items, gin.H{
			"scale_type":     scale.Type,
			"title":          scale.Title,
			"description":    scale.Description,
			"question_count": len(scale.Questions),
			"max_score":      scale.MaxScore(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"scales": items})
}

func (a *App) getScale(c *gin.Context) {
	scaleType, ok := assessment.ParseScaleType(c.Param("scale_type"))
	if !ok {
		writeError(c, http.StatusNotFound, "Assessment scale not found")
		return
	}
	scale, ok := assessment.GetScale(scaleType)
	if !ok {
		writeError(c, http.StatusNotFound, "Assessment scale not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"scale_type":  scale.Type,
		"title":       scale.Title,
		"description": scale.Description,
		"questions":   scale.Questions,
		"options":     scale.Options,
		"levels":      scale.Bands,
		"max_score":   scale.MaxScore(),
	})
}

// submitAssessment scores a questionnaire. Results are stored only for
// signed-in users; anonymous callers just get the score back.
func (a *App) submitAssessment(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var payload assessmentSubmitRequest
	if !mustJSON(c, &payload) {
		return
	}
	scaleType, valid := assessment.ParseScaleType(payload.ScaleType)
	if !valid {
		writeError(c, http.StatusNotFound, "Assessment scale not found")
		return
	}

	result, err := assessment.Submit(scaleType, payload.Answers, a.now())
	if err != nil {
		switch {
		case errors.Is(err, assessment.ErrUnknownScale):
			writeError(c, http.StatusNotFound, "Assessment scale not found")
		case errors.Is(err, assessment.ErrAnswerCount), errors.Is(err, assessment.ErrAnswerOutOfRange):
			writeError(c, http.StatusBadRequest, err.Error())
		default:
			writeError(c, http.StatusInternalServerError, "Failed to score assessment")
		}
		return
	}

	var assessmentID *string
	if !user.Anonymous {
		id := uuid.NewString()
		if _, err := a.db.Exec(
			c.Request.Context(),
			`INSERT INTO assessments (id, user_id, scale_type, score, level, answers, completed_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			id,
			user.ID,
			string(result.ScaleType),
			result.Score,
			result.Level,
			mustMarshalJSON(result.Answers),
			result.CompletedAt,
		); err != nil {
			writeError(c, http.StatusInternalServerError, "Failed to save assessment")
			return
		}
		assessmentID = &id
	}

	scale, _ := assessment.GetScale(scaleType)
	c.JSON(http.StatusOK, gin.H{
		"id":           assessmentID,
		"scale_type":   result.ScaleType,
		"score":        result.Score,
		"max_score":    scale.MaxScore(),
		"level":        result.Level,
		"answers":      result.Answers,
		"completed_at": result.CompletedAt,
		"saved":        assessmentID != nil,
	})
}

func (a *App) assessmentHistory(c *gin.Context) {
	user, _ := authUserFromContext(c)
	limit := parseLimit(c.Query("limit"), 20, 100)

	var scaleFilter any
	if raw := strings.TrimSpace(c.Query("scale_type")); raw != "" {
		scaleType, ok := assessment.ParseScaleType(raw)
		if !ok {
			writeError(c, http.StatusBadRequest, "scale_type must be one of: phq_9, gad_7, pss_10")
			return
		}
		scaleFilter = string(scaleType)
	}

	rows, err := a.db.Query(
		c.Request.Context(),
		`SELECT id::text, scale_type, score, level, answers, completed_at
		 FROM assessments
		 WHERE user_id = $1
		   AND ($2::text IS NULL OR scale_type = $2)
		 ORDER BY completed_at DESC
		 LIMIT $3`,
		user.ID,
		scaleFilter,
		limit,
	)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to load assessments")
		return
	}
	defer rows.Close()

	items := make([]gin.H, 0)
	for rows.Next() {
		var (
			id          string
			scaleType   string
			score       int
			level       string
			answersRaw  []byte
			completedAt time.Time
		)
		if err := rows.Scan(&id, &scaleType, &score, &level, &answersRaw, &completedAt); err != nil {
			writeError(c, http.StatusInternalServerError, "Failed to parse assessments")
			return
		}
		answers := []int{}
		if err := json.Unmarshal(answersRaw, &answers); err != nil {
			log.Printf("decode assessment answers failed assessment_id=%s err=%v", id, err)
		}
		items = append(items, gin.H{
			"id":           id,
			"scale_type":   scaleType,
			"score":        score,
			"level":        level,
			"answers":      answers,
			"completed_at": completedAt.UTC(),
		})
	}
	if err := rows.Err(); err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to read assessments")
		return
	}

	c.JSON(http.StatusOK, gin.H{"assessments": items})
}
