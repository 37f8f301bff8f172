package roster

// DefaultAnalysisSchema 未在名单文件中声明 schema 时使用的分析报文约束。
func DefaultAnalysisSchema() map[string]interface{} {
	price := map[string]interface{}{"type": "number", "minimum": 0}
	return map[string]interface{}{
		"$schema":  "http://json-schema.org/draft-07/schema#",
		"type":     "object",
		"required": []interface{}{"signal", "confidence_score"},
		"properties": map[string]interface{}{
			"signal": map[string]interface{}{
				"type": "string",
				"enum": []interface{}{"BUY", "SELL", "HOLD", "buy", "sell", "hold", "Buy", "Sell", "Hold"},
			},
			"entry_price":      price,
			"stop_loss":        price,
			"take_profit":      price,
			"confidence_score": map[string]interface{}{"type": "number", "minimum": 0, "maximum": 100},
			"rationale":        map[string]interface{}{"type": "string"},
			"sub_agent_risk_level": map[string]interface{}{
				"type": "string",
			},
			"risk_level": map[string]interface{}{"type": "string"},
		},
	}
}
