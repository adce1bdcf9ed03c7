package assessment

var frequencyOptions = []string{"完全不会", "好几天", "一半以上的天数", "几乎每天"}

var scales = map[ScaleType]Scale{
	PHQ9: {
		Type:        PHQ9,
		Title:       "患者健康问卷-9项 (PHQ-9)",
		Description: "评估您最近两周的抑郁症状",
		Questions: []string{
			"做事时提不起劲或没有兴趣",
			"感到心情低落、沮丧或绝望",
			"入睡困难、睡不安稳或睡眠过多",
			"感到疲倦或没有活力",
			"食欲不振或吃得太多",
			"觉得自己很糟，或觉得自己很失败，让自己或家人失望",
			"对事物专注有困难，例如阅读报纸或看电视时",
			"动作、说话速度缓慢到别人已经察觉，或正好相反，烦躁或坐立不安",
			"有不如死掉或用某种方式伤害自己的念头",
		},
		Options: frequencyOptions,
		Bands: []Band{
			{Min: 0, Max: 4, Label: "无抑郁"},
			{Min: 5, Max: 9, Label: "轻度抑郁"},
			{Min: 10, Max: 14, Label: "中度抑郁"},
			{Min: 15, Max: 19, Label: "中重度抑郁"},
			{Min: 20, Max: 27, Label: "重度抑郁"},
		},
	},
	GAD7: {
		Type:        GAD7,
		Title:       "广泛性焦虑障碍-7项 (GAD-7)",
		Description: "评估您最近两周的焦虑症状",
		Questions: []string{
			"感到紧张、焦虑或急切",
			"不能停止或控制担忧",
			"对各种各样的事情担忧过多",
			"很难放松下来",
			"由于不安而无法静坐",
			"变得容易烦恼或急躁",
			"感到好像有什么可怕的事发生",
		},
		Options: frequencyOptions,
		Bands: []Band{
			{Min: 0, Max: 4, Label: "无焦虑"},
			{Min: 5, Max: 9, Label: "轻度焦虑"},
			{Min: 10, Max: 14, Label: "中度焦虑"},
			{Min: 15, Max: 21, Label: "重度焦虑"},
		},
	},
	PSS10: {
		Type:        PSS10,
		Title:       "感知压力量表-10项 (PSS-10)",
		Description: "评估您最近一个月的压力水平",
		Questions: []string{
			"因意外发生的事情而心烦意乱",
			"感觉无法控制生活中的重要事情",
			"感觉神经紧张，压力很大",
			"感到自信心不足以处理个人问题",
			"感觉事情并非按预期发展",
			"发现自己无法应付所有必须做的事情",
			"因为事情超出控制而愤怒",
			"感觉问题堆积如山，无法克服",
			"感到生活中有很多事情让你感到压力",
			"发现自己对一些小事反应过度",
		},
		Options: []string{"从不", "几乎从不", "有时", "经常", "很经常"},
		Bands: []Band{
			{Min: 0, Max: 13, Label: "低压力"},
			{Min: 14, Max: 26, Label: "中等压力"},
			{Min: 27, Max: 40, Label: "高压力"},
		},
	},
}
