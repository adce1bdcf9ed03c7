package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"keyi/apps/backend/internal/emotion"
	"keyi/apps/backend/internal/risk"
	"keyi/apps/backend/internal/suggestion"
)

func (a *App) analyzeEmotion(c *gin.Context) {
	var payload textRequest
	if !mustJSON(c, &payload) {
		return
	}
	text, valid := normalizeMessage(payload.Text)
	if !valid {
		writeError(c, http.StatusBadRequest, "text must be between 1 and 2000 characters")
		return
	}

	result := emotion.Analyze(text)
	c.JSON(http.StatusOK, gin.H{
		"emotion":     result,
		"suggestions": suggestion.Generate(result.PrimaryEmotion, result.Intensity),
	})
}

func (a *App) checkRisk(c *gin.Context) {
	var payload textRequest
	if !mustJSON(c, &payload) {
		return
	}
	text, valid := normalizeMessage(payload.Text)
	if !valid {
		writeError(c, http.StatusBadRequest, "text must be between 1 and 2000 characters")
		return
	}

	assessment := risk.Evaluate(text)
	c.JSON(http.StatusOK, gin.H{
		"level":           assessment.Level,
		"keyword":         assessment.Keyword,
		"category":        assessment.Category,
		"requires_alert":  assessment.Level.RequiresAlert(),
		"resources":       risk.Resources(assessment.Level),
		"crisis_response": risk.CrisisResponse(assessment.Level),
	})
}

func (a *App) crisisResources(c *gin.Context) {
	raw := strings.TrimSpace(c.Query("level"))
	if raw == "" {
		levels := []risk.Level{risk.Level1, risk.Level2, risk.Level3}
		out := make(map[risk.Level][]risk.Resource, len(levels))
		for _, level := range levels {
			out[level] = risk.Resources(level)
		}
		c.JSON(http.StatusOK, gin.H{"resources": out})
		return
	}

	level, ok := risk.ParseLevel(raw)
	if !ok {
		writeError(c, http.StatusBadRequest, "level must be one of: level_1, level_2, level_3")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"level":     level,
		"resources": risk.Resources(level),
	})
}

func (a *App) listSuggestions(c *gin.Context) {
	emotionType, ok := emotion.ParseType(c.Query("emotion"))
	if !ok {
		writeError(c, http.StatusBadRequest, "emotion is required and must be a known emotion type")
		return
	}
	intensity := emotion.IntensityLow
	if raw := strings.TrimSpace(c.Query("intensity")); raw != "" {
		parsed, valid := emotion.ParseIntensity(raw)
		if !valid {
			writeError(c, http.StatusBadRequest, "intensity must be one of: low, medium, high")
			return
		}
		intensity = parsed
	}

	c.JSON(http.StatusOK, gin.H{
		"emotion":     emotionType,
		"intensity":   intensity,
		"suggestions": suggestion.Generate(emotionType, intensity),
	})
}
