package risk

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Resource struct {
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
	URL   string `json:"url,omitempty"`
}

const nationalHotline = "400-161-9995"

var crisisResources = map[Level][]Resource{
	Level1: {
		{Name: "全国心理援助热线", Phone: nationalHotline},
		{Name: "紧急电话", Phone: "110"},
		{Name: "急救电话", Phone: "120"},
	},
	Level2: {
		{Name: "全国心理援助热线", Phone: nationalHotline},
		{Name: "各地精神卫生中心", URL: "http://www.nimh.org.cn"},
	},
	Level3: {
		{Name: "心理咨询热线", Phone: nationalHotline},
	},
}

// Resources returns a copy of the resource list for level; unknown levels
// yield an empty list.
func Resources(level Level) []Resource {
	source := crisisResources[level]
	out := make([]Resource, len(source))
	copy(out, source)
	return out
}

type Alert struct {
	ID                string     `json:"id"`
	UserID            string     `json:"user_id"`
	SessionID         *string    `json:"session_id,omitempty"`
	Level             Level      `json:"level"`
	TriggerReason     string     `json:"trigger_reason"`
	TriggeredAt       time.Time  `json:"triggered_at"`
	ResolvedAt        *time.Time `json:"resolved_at,omitempty"`
	ResourcesProvided []Resource `json:"resources_provided"`
}

func NewAlert(userID string, sessionID *string, level Level, reason string, now time.Time) Alert {
	return Alert{
		ID:                uuid.NewString(),
		UserID:            userID,
		SessionID:         sessionID,
		Level:             level,
		TriggerReason:     reason,
		TriggeredAt:       now.UTC(),
		ResourcesProvided: Resources(level),
	}
}

// CrisisResponse is the scripted reply sent instead of a model reply when a
// message raises an alert. Level3 has no scripted response.
func CrisisResponse(level Level) string {
	var opening string
	switch level {
	case Level1:
		opening = "我非常在意你现在的安全。你说的话让我很担心，请先答应我，暂时不要做任何伤害自己的事。你不需要独自面对这一切，现在就可以联系下面的专业帮助："
	case Level2:
		opening = "听起来你现在承受着很大的痛苦，感觉看不到出路。这种感受很沉重，但它是可以被倾听和帮助的。如果你愿意，可以联系这些专业资源："
	default:
		return ""
	}

	lines := []string{opening}
	for _, resource := range Resources(level) {
		lines = append(lines, "• "+formatResource(resource))
	}
	switch level {
	case Level1:
		lines = append(lines, "如果你身边有信任的人，请现在就告诉他们你的感受。我会一直在这里陪你聊。")
	case Level2:
		lines = append(lines, "我也愿意继续听你说说，最近发生了什么让你这么难受？")
	}
	return strings.Join(lines, "\n")
}

func formatResource(resource Resource) string {
	switch {
	case resource.Phone != "" && resource.URL != "":
		return fmt.Sprintf("%s：%s（%s）", resource.Name, resource.Phone, resource.URL)
	case resource.Phone != "":
		return fmt.Sprintf("%s：%s", resource.Name, resource.Phone)
	case resource.URL != "":
		return fmt.Sprintf("%s：%s", resource.Name, resource.URL)
	}
	return resource.Name
}
