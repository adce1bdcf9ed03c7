package server

import (
	"strings"

	"keyi/apps/backend/internal/emotion"
	"keyi/apps/backend/internal/risk"
	"keyi/apps/backend/internal/suggestion"
)

// turnEvaluation is the local analysis of one inbound user message.
type turnEvaluation struct {
	Risk        risk.Assessment
	Emotion     emotion.Result
	Suggestions []suggestion.Suggestion
}

func evaluateTurn(text string) turnEvaluation {
	assessment := risk.Evaluate(text)
	result := emotion.Analyze(text)
	return turnEvaluation{
		Risk:        assessment,
		Emotion:     result,
		Suggestions: suggestion.Generate(result.PrimaryEmotion, result.Intensity),
	}
}

func (t turnEvaluation) RequiresAlert() bool {
	return t.Risk.Level.RequiresAlert()
}

// Resources lists crisis resources only for turns that raised an alert.
func (t turnEvaluation) Resources() []risk.Resource {
	if !t.RequiresAlert() {
		return []risk.Resource{}
	}
	return risk.Resources(t.Risk.Level)
}

const psychologistSystemPrompt = `你是可意，一个温暖、专业、有同理心的AI心理医生。

你的职责：
1. 倾听用户的困扰，给予支持和理解
2. 用温暖、平和的语气回应
3. 适当引导用户表达自己的感受
4. 提供心理健康方面的建议（但不替代专业医生诊断）
5. 保持专业边界，不做出医学诊断

注意事项：
- 始终保持耐心和关怀
- 尊重用户的感受和隐私
- 不评判、不批评
- 用简洁而有温度的语言回应`

var emotionLabels = map[emotion.Type]string{
	emotion.Joy:        "快乐",
	emotion.Anger:      "愤怒",
	emotion.Sadness:    "悲伤",
	emotion.Fear:       "恐惧",
	emotion.Disgust:    "厌恶",
	emotion.Surprise:   "惊讶",
	emotion.Anxiety:    "焦虑",
	emotion.Depression: "抑郁",
	emotion.Loneliness: "孤独",
	emotion.Guilt:      "内疚",
}

var intensityLabels = map[emotion.Intensity]string{
	emotion.IntensityLow:    "轻",
	emotion.IntensityMedium: "中",
	emotion.IntensityHigh:   "强",
}

func buildChatSystemPrompt(prefs userPreferences, turn turnEvaluation) string {
	lines := []string{psychologistSystemPrompt}
	switch prefs.ReplyStyle {
	case replyStyleConcise:
		lines = append(lines, "", "回复风格：简短直接，每次回复不超过三句话。")
	case replyStyleReflective:
		lines = append(lines, "", "回复风格：多用开放式问题，帮助用户反思自己的感受和想法。")
	}
	if prefs.ShareEmotionContext {
		lines = append(lines, "", "参考信息（来自本地情绪识别，可能不准确）："+describeEmotion(turn.Emotion))
	}
	return strings.Join(lines, "\n")
}

func describeEmotion(result emotion.Result) string {
	label := emotionLabels[result.PrimaryEmotion]
	if label == "" {
		label = string(result.PrimaryEmotion)
	}
	intensity := intensityLabels[result.Intensity]
	if intensity == "" {
		intensity = string(result.Intensity)
	}
	return "用户当前主要情绪为" + label + "，强度" + intensity
}
