package heatrank

// Schema returns the config form the host renders for this plugin. It is
// shaped like a JSON schema: groups "api" and "notification" with titles,
// defaults and required lists.
func Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"api": map[string]any{
				"type":        "object",
				"title":       "API配置",
				"description": "请访问https://www.apihz.cn/获取ID和密钥。",
				"properties": map[string]any{
					"url1": map[string]any{"type": "string", "title": "API地址1", "default": DefaultURL1},
					"url2": map[string]any{"type": "string", "title": "API地址2", "description": "备用接口, 主接口失败时使用。", "default": DefaultURL2},
					"id":   map[string]any{"type": "string", "title": "API ID", "description": "请替换为你的ID。"},
					"key":  map[string]any{"type": "string", "title": "API密钥", "description": "请替换为你的密钥。"},
				},
				"required": []string{"url1", "id", "key"},
			},
			"notification": map[string]any{
				"type":  "object",
				"title": "通知配置",
				"properties": map[string]any{
					"title":   map[string]any{"type": "string", "title": "通知标题", "default": DefaultTitle},
					"enabled": map[string]any{"type": "boolean", "title": "启用通知", "default": true},
				},
				"required": []string{"title", "enabled"},
			},
			"schedule": map[string]any{
				"type":        "string",
				"title":       "执行周期",
				"description": "间隔 (如 1h) 或 cron 表达式。",
				"default":     DefaultSchedule,
			},
			"max_entries": map[string]any{
				"type":    "integer",
				"title":   "最多条目",
				"minimum": 0,
				"default": 0,
			},
		},
	}
}
