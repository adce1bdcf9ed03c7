package suggestion

var library = map[Type][]Suggestion{
	EmotionRegulation: {
		{
			Type:        EmotionRegulation,
			Title:       "深呼吸练习",
			Description: "通过深呼吸来放松身心，缓解紧张情绪",
			Steps: []string{
				"找一个安静的地方坐下或躺下",
				"闭上眼睛，将注意力集中在呼吸上",
				"用鼻子缓慢吸气4秒",
				"屏住呼吸7秒",
				"用嘴巴缓慢呼气8秒",
				"重复这个过程10-15次",
			},
		},
		{
			Type:        EmotionRegulation,
			Title:       "正念冥想",
			Description: "通过正念练习来觉察和接纳当前的情绪",
			Steps: []string{
				"找一个安静舒适的地方坐下",
				"闭上眼睛，感受身体的重量",
				"将注意力集中在呼吸上",
				"观察思绪的来去，不评判它们",
				"当注意力分散时，温柔地将其带回呼吸",
				"练习10-20分钟",
			},
		},
	},
	CognitiveAdjustment: {
		{
			Type:        CognitiveAdjustment,
			Title:       "认知重构",
			Description: "识别和改变消极的思维模式",
			Steps: []string{
				"记录让你感到困扰的想法",
				"问自己：这个想法有证据支持吗？",
				"寻找替代的、更积极的解释",
				"评估这个想法对你情绪的影响",
				"尝试用更平衡的观点来看待问题",
			},
		},
		{
			Type:        CognitiveAdjustment,
			Title:       "积极自我对话",
			Description: "用鼓励性的语言与自己对话",
			Steps: []string{
				"注意你内心的自我对话",
				"识别消极的自我批评",
				"用更温和、鼓励性的语言替代它们",
				"提醒自己过去的成功经历",
				"对自己说一些鼓励的话",
			},
		},
	},
	BehavioralActivation: {
		{
			Type:        BehavioralActivation,
			Title:       "适度运动",
			Description: "通过身体活动来改善情绪",
			Steps: []string{
				"选择你喜欢的运动方式（散步、跑步、瑜伽等）",
				"从短时间开始，比如10-15分钟",
				"逐渐增加运动时间到30分钟",
				"每周至少运动3-4次",
				"运动后注意身体和情绪的变化",
			},
		},
		{
			Type:        BehavioralActivation,
			Title:       "社交活动",
			Description: "与他人建立联系，减少孤独感",
			Steps: []string{
				"列出你想要联系的朋友或家人",
				"主动发起联系，打个电话或发个信息",
				"计划一次见面或线上交流",
				"参加一些你感兴趣的社交活动",
				"保持定期的社交联系",
			},
		},
	},
	StressManagement: {
		{
			Type:        StressManagement,
			Title:       "时间管理",
			Description: "合理安排时间，减少压力",
			Steps: []string{
				"列出所有需要完成的任务",
				"按重要性和紧急性对任务排序",
				"为每个任务设定明确的截止日期",
				"将大任务分解成小步骤",
				"定期回顾和调整计划",
			},
		},
		{
			Type:        StressManagement,
			Title:       "优先级排序",
			Description: "学会区分重要和紧急的事情",
			Steps: []string{
				"识别对你最重要的事情",
				"学会说\"不\"，拒绝不重要的事情",
				"专注于高价值任务",
				"将时间分配给真正重要的事情",
				"定期评估和调整优先级",
			},
		},
	},
}
