package server

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestChatSessionLifecycle(t *testing.T) {
	resetDatabase(t)
	var requests []AIModelRequest
	router := newTestRouter(t, WithAIClient(MockAIClient{Answer: "谢谢你愿意说出来", Requests: &requests}))
	token := signToken(t, seedUser(t, ""), nil)

	rec := performRequest(t, router, http.MethodPost, "/api/v1/chat/sessions", token, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("create session: expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	sessionID, _ := decodeJSONMap(t, rec)["session_id"].(string)
	if sessionID == "" {
		t.Fatalf("expected session_id")
	}

	messagesPath := "/api/v1/chat/sessions/" + sessionID + "/messages"
	rec = performRequest(t, router, http.MethodPost, messagesPath, token, map[string]any{"message": "最近工作压力很大，睡不好"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("send message: expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	body := decodeJSONMap(t, rec)
	if body["reply"] != "谢谢你愿意说出来" || body["alert_level"] != "level_3" || body["alert_id"] != nil {
		t.Fatalf("unexpected turn payload: %v", body)
	}

	rec = performRequest(t, router, http.MethodPost, messagesPath, token, map[string]any{"message": "压力还是很大"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("second message: expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	if len(requests) != 2 {
		t.Fatalf("expected two model requests, got %d", len(requests))
	}
	if history := requests[1].Conversation; len(history) != 2 || history[0].Role != "user" || history[1].Role != "assistant" {
		t.Fatalf("expected prior turn as history, got %+v", history)
	}

	rec = performRequest(t, router, http.MethodGet, "/api/v1/chat/sessions/"+sessionID+"/history", token, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("history: expected 200, got %d", rec.Code)
	}
	body = decodeJSONMap(t, rec)
	items := decodeList(t, body["messages"])
	if len(items) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(items))
	}
	if items[0]["role"] != "user" || items[0]["content"] != "最近工作压力很大，睡不好" || items[3]["role"] != "assistant" {
		t.Fatalf("expected chronological order, got %v", items)
	}
	if items[0]["emotion"] == nil || items[1]["emotion"] != nil {
		t.Fatalf("expected emotion on user messages only, got %v / %v", items[0]["emotion"], items[1]["emotion"])
	}
	if body["title"] != "最近工作压力很大，睡不好" {
		t.Fatalf("expected title derived from first message, got %v", body["title"])
	}

	rec = performRequest(t, router, http.MethodGet, "/api/v1/chat/sessions/"+sessionID+"/history?limit=2", token, nil, nil)
	items = decodeList(t, decodeJSONMap(t, rec)["messages"])
	if len(items) != 2 || items[0]["content"] != "压力还是很大" {
		t.Fatalf("expected the two most recent messages, got %v", items)
	}

	rec = performRequest(t, router, http.MethodGet, "/api/v1/chat/sessions", token, nil, nil)
	sessions := decodeList(t, decodeJSONMap(t, rec)["sessions"])
	if len(sessions) != 1 || sessions[0]["message_count"] != float64(4) || sessions[0]["dominant_emotion"] != "anxiety" {
		t.Fatalf("unexpected session list: %v", sessions)
	}

	rec = performRequest(t, router, http.MethodPatch, "/api/v1/chat/sessions/"+sessionID, token, map[string]any{"title": "  工作  压力 "}, nil)
	if rec.Code != http.StatusOK || decodeJSONMap(t, rec)["title"] != "工作 压力" {
		t.Fatalf("rename: got %d body=%s", rec.Code, rec.Body.String())
	}

	rec = performRequest(t, router, http.MethodDelete, "/api/v1/chat/sessions/"+sessionID, token, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d", rec.Code)
	}
	if got := countRows(t, `SELECT COUNT(*) FROM messages WHERE session_id = $1`, sessionID); got != 0 {
		t.Fatalf("expected messages to cascade, got %d", got)
	}
	rec = performRequest(t, router, http.MethodDelete, "/api/v1/chat/sessions/"+sessionID, token, nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second delete: expected 404, got %d", rec.Code)
	}
}

func TestChatSessionIsScopedToOwner(t *testing.T) {
	resetDatabase(t)
	router := newTestRouter(t)
	owner := seedUser(t, "")
	sessionID := seedChatSession(t, owner)
	intruder := signToken(t, seedUser(t, ""), nil)

	paths := []struct {
		method string
		path   string
		body   any
	}{
		{http.MethodGet, "/api/v1/chat/sessions/" + sessionID + "/history", nil},
		{http.MethodPost, "/api/v1/chat/sessions/" + sessionID + "/messages", map[string]any{"message": "你好"}},
		{http.MethodPatch, "/api/v1/chat/sessions/" + sessionID, map[string]any{"title": "x"}},
		{http.MethodDelete, "/api/v1/chat/sessions/" + sessionID, nil},
		{http.MethodGet, "/api/v1/chat/sessions/not-a-uuid/history", nil},
	}
	for _, tc := range paths {
		rec := performRequest(t, router, tc.method, tc.path, intruder, tc.body, nil)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("%s %s: expected 404, got %d", tc.method, tc.path, rec.Code)
		}
	}
}

func TestCrisisMessageRecordsAlertWithCooldown(t *testing.T) {
	resetDatabase(t)
	var requests []AIModelRequest
	router := newTestRouter(t, WithAIClient(MockAIClient{Requests: &requests}))
	userID := seedUser(t, "")
	token := signToken(t, userID, nil)
	sessionID := seedChatSession(t, userID)
	messagesPath := "/api/v1/chat/sessions/" + sessionID + "/messages"

	rec := performRequest(t, router, http.MethodPost, messagesPath, token, map[string]any{"message": "我不想活了"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	body := decodeJSONMap(t, rec)
	if body["alert_level"] != "level_1" || body["model"] != crisisReplyModel {
		t.Fatalf("expected crisis protocol reply, got %v", body)
	}
	if reply, _ := body["reply"].(string); !strings.Contains(reply, "400-161-9995") {
		t.Fatalf("expected hotline in crisis reply, got %q", reply)
	}
	if body["alert_id"] == nil {
		t.Fatalf("expected an alert id")
	}
	if len(requests) != 0 {
		t.Fatalf("crisis turns must not reach the model, got %d requests", len(requests))
	}

	rec = performRequest(t, router, http.MethodPost, messagesPath, token, map[string]any{"message": "我真的想自杀"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := decodeJSONMap(t, rec)["alert_id"]; got != nil {
		t.Fatalf("expected repeat alert to be suppressed by cooldown, got %v", got)
	}
	if got := countRows(t, `SELECT COUNT(*) FROM alerts WHERE user_id = $1`, userID); got != 1 {
		t.Fatalf("expected one alert row, got %d", got)
	}

	rec = performRequest(t, router, http.MethodPost, messagesPath, token, map[string]any{"message": "感觉很绝望"}, nil)
	if got := decodeJSONMap(t, rec)["alert_level"]; got != "level_2" {
		t.Fatalf("expected level_2, got %v", got)
	}
	if got := countRows(t, `SELECT COUNT(*) FROM alerts WHERE user_id = $1`, userID); got != 2 {
		t.Fatalf("expected level_2 to alert independently, got %d rows", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var riskLevel string
	var riskFlag bool
	if err := testPool.QueryRow(ctx, `SELECT risk_level FROM users WHERE id = $1`, userID).Scan(&riskLevel); err != nil {
		t.Fatalf("load user: %v", err)
	}
	if err := testPool.QueryRow(ctx, `SELECT risk_flag FROM chat_sessions WHERE id = $1`, sessionID).Scan(&riskFlag); err != nil {
		t.Fatalf("load session: %v", err)
	}
	if riskLevel != "high" || !riskFlag {
		t.Fatalf("expected high risk user and flagged session, got %s %v", riskLevel, riskFlag)
	}

	rec = performRequest(t, router, http.MethodGet, "/api/v1/alerts", token, nil, nil)
	alerts := decodeList(t, decodeJSONMap(t, rec)["alerts"])
	if len(alerts) != 2 {
		t.Fatalf("expected 2 open alerts, got %d", len(alerts))
	}
	alertID, _ := alerts[0]["id"].(string)

	rec = performRequest(t, router, http.MethodPost, "/api/v1/alerts/"+alertID+"/resolve", token, nil, nil)
	if rec.Code != http.StatusOK || decodeJSONMap(t, rec)["resolved_at"] == nil {
		t.Fatalf("resolve: got %d body=%s", rec.Code, rec.Body.String())
	}
	rec = performRequest(t, router, http.MethodGet, "/api/v1/alerts", token, nil, nil)
	if open := decodeList(t, decodeJSONMap(t, rec)["alerts"]); len(open) != 1 {
		t.Fatalf("expected one open alert after resolve, got %d", len(open))
	}
	rec = performRequest(t, router, http.MethodGet, "/api/v1/alerts?include_resolved=true", token, nil, nil)
	if all := decodeList(t, decodeJSONMap(t, rec)["alerts"]); len(all) != 2 {
		t.Fatalf("expected resolved alerts when requested, got %d", len(all))
	}

	other := signToken(t, seedUser(t, ""), nil)
	rec = performRequest(t, router, http.MethodPost, "/api/v1/alerts/"+alertID+"/resolve", other, nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected another user's alert to be hidden, got %d", rec.Code)
	}
}

func TestSessionlessCrisisChatRecordsAlert(t *testing.T) {
	resetDatabase(t)
	router := newTestRouter(t)
	userID := seedUser(t, "")
	token := signToken(t, userID, nil)

	rec := performRequest(t, router, http.MethodPost, "/api/v1/ai/chat", token, map[string]any{"message": "我想结束生命"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	body := decodeJSONMap(t, rec)
	if body["alert_level"] != "level_1" || body["alert_id"] == nil {
		t.Fatalf("expected recorded level_1 alert, got %v", body)
	}
	if got := countRows(t, `SELECT COUNT(*) FROM alerts WHERE user_id = $1 AND session_id IS NULL`, userID); got != 1 {
		t.Fatalf("expected one sessionless alert, got %d", got)
	}
}
