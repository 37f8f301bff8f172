package jsonutil

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Pretty 缩进合法 JSON，非法输入原样返回。
func Pretty(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return raw
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(raw), "", "  "); err != nil {
		return raw
	}
	return buf.String()
}
