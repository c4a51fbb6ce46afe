package course_generate

func overviewSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"title":   map[string]any{"type": "string"},
			"summary": map[string]any{"type": "string"},
		},
		"required": []any{"title", "summary"},
	}
}

func lessonSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"content": map[string]any{"type": "string"},
			"refs": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
			"activity": map[string]any{
				"type":                 "object",
				"additionalProperties": false,
				"properties": map[string]any{
					"kind": map[string]any{"type": "string"},
					"data": map[string]any{"type": "object"},
				},
				"required": []any{"kind"},
			},
		},
		"required": []any{"content"},
	}
}

func conclusionSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"conclusion": map[string]any{"type": "string"},
		},
		"required": []any{"conclusion"},
	}
}

// courseSchema covers the single-shot fallback when no plan is supplied.
func courseSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"title":   map[string]any{"type": "string"},
			"summary": map[string]any{"type": "string"},
			"modules": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":                 "object",
					"additionalProperties": false,
					"properties": map[string]any{
						"title": map[string]any{"type": "string"},
						"lessons": map[string]any{
							"type": "array",
							"items": map[string]any{
								"type":                 "object",
								"additionalProperties": false,
								"properties": map[string]any{
									"title":   map[string]any{"type": "string"},
									"content": map[string]any{"type": "string"},
								},
								"required": []any{"title", "content"},
							},
						},
					},
					"required": []any{"title", "lessons"},
				},
			},
			"conclusion": map[string]any{"type": "string"},
		},
		"required": []any{"title", "modules"},
	}
}
