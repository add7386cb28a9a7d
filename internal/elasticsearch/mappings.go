package elasticsearch

var keyword = map[string]any{"type": "keyword"}

var lowercaseKeyword = map[string]any{"type": "keyword", "normalizer": "lowercase"}

var settings = map[string]any{
	"analysis": map[string]any{
		"normalizer": map[string]any{
			"lowercase": map[string]any{"type": "custom", "filter": []string{"lowercase"}},
		},
	},
}

func (c *Client) mappings() map[string]map[string]any {
	return map[string]map[string]any{
		c.documentsIndex(): {
			"settings": settings,
			"mappings": map[string]any{
				"properties": map[string]any{
					"id":           keyword,
					"content_hash": keyword,
					"source":       keyword,
					"source_type":  keyword,
					"url":          keyword,
					"title":        map[string]any{"type": "text"},
					"content":      map[string]any{"type": "text"},
					"author":       keyword,
					"keywords":     lowercaseKeyword,
					"urls":         keyword,
					"published_at": map[string]any{"type": "date"},
					"ingested_at":  map[string]any{"type": "date"},
					"embedding": map[string]any{
						"type":       "dense_vector",
						"dims":       c.dimensions,
						"index":      true,
						"similarity": "cosine",
					},
					"dedup_status":   keyword,
					"duplicate_of":   keyword,
					"similarity":     map[string]any{"type": "float"},
					"stage":          keyword,
					"retry_deferred": map[string]any{"type": "boolean"},
					"retry_attempts": map[string]any{"type": "integer"},
					"last_error":     map[string]any{"type": "text", "index": false},
					"claim_ids":      keyword,
				},
			},
		},
		c.claimsIndex(): {
			"settings": settings,
			"mappings": map[string]any{
				"properties": map[string]any{
					"id":                 keyword,
					"title":              map[string]any{"type": "text"},
					"description":        map[string]any{"type": "text"},
					"claim_text":         map[string]any{"type": "text"},
					"category":           lowercaseKeyword,
					"tags":               lowercaseKeyword,
					"speaker":            keyword,
					"confidence":         map[string]any{"type": "integer"},
					"suggested_risk":     keyword,
					"document_ids":       keyword,
					"status":             keyword,
					"risk_level":         keyword,
					"version":            map[string]any{"type": "long"},
					"created_at":         map[string]any{"type": "date"},
					"last_transition_at": map[string]any{"type": "date"},
					"history":            map[string]any{"type": "object", "enabled": false},
				},
			},
		},
		c.verdictsIndex(): {
			"mappings": map[string]any{
				"properties": map[string]any{
					"id":            keyword,
					"claim_id":      keyword,
					"conclusion":    keyword,
					"rationale":     map[string]any{"type": "text"},
					"reviewer":      keyword,
					"published_at":  map[string]any{"type": "date"},
					"revision":      map[string]any{"type": "integer"},
					"supersedes":    keyword,
					"active":        map[string]any{"type": "boolean"},
					"superseded_at": map[string]any{"type": "date"},
				},
			},
		},
		c.actorsIndex(): {
			"mappings": map[string]any{
				"properties": map[string]any{
					"id":             keyword,
					"name":           map[string]any{"type": "text", "fields": map[string]any{"raw": keyword}},
					"aliases":        keyword,
					"kind":           keyword,
					"claim_ids":      keyword,
					"risk_score":     map[string]any{"type": "integer"},
					"risk_tier":      keyword,
					"basis":          map[string]any{"type": "object", "enabled": false},
					"last_scored_at": map[string]any{"type": "date"},
					"created_at":     map[string]any{"type": "date"},
				},
			},
		},
	}
}
