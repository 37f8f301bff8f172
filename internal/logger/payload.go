package logger

import (
	"io"
	"log"
	"strings"
	"sync"

	"fxdesk/internal/pkg/jsonutil"
)

var (
	payloadMu   sync.Mutex
	payloadLog  *log.Logger
	payloadDump bool
)

// SetPayloadWriter 设置分析引擎原始报文的落盘目标，nil 表示关闭。
func SetPayloadWriter(w io.Writer) {
	payloadMu.Lock()
	defer payloadMu.Unlock()
	if w == nil {
		payloadLog = nil
		return
	}
	payloadLog = log.New(w, "", log.LstdFlags)
}

func EnablePayloadDump(enabled bool) {
	payloadMu.Lock()
	payloadDump = enabled
	payloadMu.Unlock()
}

type payloadSection struct {
	Title string
	Body  string
}

// LogEnginePayload 以块格式记录一次引擎请求/响应。
func LogEnginePayload(transport, pair, request, response string) {
	payloadMu.Lock()
	out := payloadLog
	enabled := payloadDump
	payloadMu.Unlock()
	if out == nil || !enabled {
		return
	}
	writePayload(out, transport, pair, []payloadSection{
		{Title: "REQUEST", Body: jsonutil.Pretty(request)},
		{Title: "RESPONSE", Body: response},
	})
}

func writePayload(out *log.Logger, transport, pair string, sections []payloadSection) {
	var b strings.Builder
	b.WriteString("[ENGINE]")
	for _, tag := range []string{transport, pair} {
		if tag == "" {
			continue
		}
		b.WriteString("[")
		b.WriteString(tag)
		b.WriteString("]")
	}
	b.WriteString("\n")
	for _, sec := range sections {
		title := strings.TrimSpace(sec.Title)
		if title == "" {
			title = "CONTENT"
		}
		b.WriteString("--- ")
		b.WriteString(title)
		b.WriteString(" ---\n")
		b.WriteString(sec.Body)
		if !strings.HasSuffix(sec.Body, "\n") {
			b.WriteString("\n")
		}
	}
	b.WriteString("=====\n")
	out.Print(b.String())
}
