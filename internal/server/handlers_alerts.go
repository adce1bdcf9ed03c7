package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"

	"keyi/apps/backend/internal/risk"
)

func (a *App) alertCooldown() time.Duration {
	return time.Duration(a.cfg.AlertCooldownMinutes) * time.Minute
}

// recordAlert persists an alert for the turn unless one of the same level was
// recorded for the same scope within the cooldown. It returns nil when the
// alert was suppressed. The user's risk profile is raised either way.
// Anonymous sessionless callers are never rate-limited. A caller that writes through a transaction must call
// releaseAlertCooldown if the transaction does not commit.
func (a *App) recordAlert(ctx context.Context, q dbQuerier, user AuthUser, sessionID *string, assessment risk.Assessment) (*risk.Alert, error) {
	level := assessment.Level
	if !level.RequiresAlert() {
		return nil, nil
	}

	if !user.Anonymous {
		if _, err := q.Exec(
			ctx,
			`UPDATE users
			 SET risk_level = $2
			 WHERE id = $1
			   AND CASE risk_level WHEN 'high' THEN 3 WHEN 'medium' THEN 2 ELSE 1 END < $3`,
			user.ID,
			level.RiskProfile(),
			level.Severity(),
		); err != nil {
			return nil, err
		}
	}

	ttl := a.alertCooldown()
	if user.Anonymous && (sessionID == nil || *sessionID == "") {
		ttl = 0
	}
	key := alertCooldownKey(user.ID, sessionID, string(level))
	acquired, err := a.alerts.Acquire(ctx, key, ttl)
	if err != nil {
		// Fail open.
		log.Printf("alert cooldown check failed user_id=%s level=%s err=%v", user.ID, level, err)
		acquired = true
	}
	if !acquired {
		log.Printf("alert suppressed by cooldown user_id=%s level=%s", user.ID, level)
		return nil, nil
	}

	alert := risk.NewAlert(user.ID, sessionID, level, assessment.TriggerReason(), a.now())
	if _, err := q.Exec(
		ctx,
		`INSERT INTO alerts (id, user_id, session_id, level, trigger_reason, triggered_at, resources_provided)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		alert.ID,
		alert.UserID,
		alert.SessionID,
		string(alert.Level),
		alert.TriggerReason,
		alert.TriggeredAt,
		mustMarshalJSON(alert.ResourcesProvided),
	); err != nil {
		a.releaseAlertCooldown(ctx, alert)
		return nil, err
	}
	log.Printf("risk alert recorded alert_id=%s user_id=%s level=%s reason=%q", alert.ID, alert.UserID, alert.Level, alert.TriggerReason)
	return &alert, nil
}

// releaseAlertCooldown frees the cooldown held for an alert that was not
// persisted so the next alerting turn records it.
func (a *App) releaseAlertCooldown(ctx context.Context, alert risk.Alert) {
	key := alertCooldownKey(alert.UserID, alert.SessionID, string(alert.Level))
	if err := a.alerts.Release(context.WithoutCancel(ctx), key); err != nil {
		log.Printf("alert cooldown release failed user_id=%s level=%s err=%v", alert.UserID, alert.Level, err)
	}
}

func (a *App) listAlerts(c *gin.Context) {
	user, _ := authUserFromContext(c)
	includeResolved, _ := strconv.ParseBool(strings.TrimSpace(c.Query("include_resolved")))
	limit := parseLimit(c.Query("limit"), 50, 200)

	rows, err := a.db.Query(
		c.Request.Context(),
		`SELECT id::text, user_id, session_id::text, level, COALESCE(trigger_reason, ''), triggered_at, resolved_at, resources_provided
		 FROM alerts
		 WHERE user_id = $1
		   AND ($2 OR resolved_at IS NULL)
		 ORDER BY triggered_at DESC
		 LIMIT $3`,
		user.ID,
		includeResolved,
		limit,
	)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to load alerts")
		return
	}
	defer rows.Close()

	items := make([]risk.Alert, 0)
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			writeError(c, http.StatusInternalServerError, "Failed to parse alerts")
			return
		}
		items = append(items, alert)
	}
	if err := rows.Err(); err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to read alerts")
		return
	}

	c.JSON(http.StatusOK, gin.H{"alerts": items})
}

func (a *App) resolveAlert(c *gin.Context) {
	user, _ := authUserFromContext(c)
	alertID, valid := parseUUID(c.Param("alert_id"))
	if !valid {
		writeError(c, http.StatusNotFound, "Alert not found")
		return
	}

	row := a.db.QueryRow(
		c.Request.Context(),
		`UPDATE alerts
		 SET resolved_at = COALESCE(resolved_at, NOW())
		 WHERE id = $1 AND user_id = $2
		 RETURNING id::text, user_id, session_id::text, level, COALESCE(trigger_reason, ''), triggered_at, resolved_at, resources_provided`,
		alertID,
		user.ID,
	)
	alert, err := scanAlert(row)
	if errors.Is(err, pgx.ErrNoRows) {
		writeError(c, http.StatusNotFound, "Alert not found")
		return
	}
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to resolve alert")
		return
	}

	c.JSON(http.StatusOK, alert)
}

func scanAlert(row pgx.Row) (risk.Alert, error) {
	var (
		alert        risk.Alert
		level        string
		resourcesRaw []byte
	)
	if err := row.Scan(
		&alert.ID,
		&alert.UserID,
		&alert.SessionID,
		&level,
		&alert.TriggerReason,
		&alert.TriggeredAt,
		&alert.ResolvedAt,
		&resourcesRaw,
	); err != nil {
		return risk.Alert{}, err
	}
	alert.Level = risk.Level(level)
	alert.TriggeredAt = alert.TriggeredAt.UTC()
	alert.ResourcesProvided = []risk.Resource{}
	if len(resourcesRaw) > 0 {
		if err := json.Unmarshal(resourcesRaw, &alert.ResourcesProvided); err != nil {
			log.Printf("decode alert resources failed alert_id=%s err=%v", alert.ID, err)
		}
	}
	return alert, nil
}
