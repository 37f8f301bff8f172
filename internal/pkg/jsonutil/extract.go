package jsonutil

import (
	"strings"

	"github.com/tidwall/gjson"
)

// LastObject 返回文本中最后一个完整且合法的顶层 JSON 对象，可跨多行。
// 用于从夹杂日志输出的 stdout 中取出引擎信封。
func LastObject(raw string) (string, bool) {
	objs := objects(raw)
	for i := len(objs) - 1; i >= 0; i-- {
		if gjson.Valid(objs[i]) {
			return objs[i], true
		}
	}
	return "", false
}

// objects 按括号深度切出所有顶层 {...} 片段，字符串内的括号不计。
func objects(raw string) []string {
	var out []string
	depth, start := 0, -1
	inString, escape := false, false
	for i := 0; i < len(raw); i++ {
		ch := raw[i]
		if inString {
			switch {
			case escape:
				escape = false
			case ch == '\\':
				escape = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start >= 0 {
				out = append(out, strings.TrimSpace(raw[start:i+1]))
				start = -1
			}
		}
	}
	return out
}
