package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"strings"
	"time"

	"fxdesk/internal/logger"

	"github.com/tidwall/gjson"
)

// ProcessConfig 以子进程方式调用分析引擎：
// <python> <script> --action analyze --params '<json>'
type ProcessConfig struct {
	Python  string
	Script  string
	WorkDir string
	Env     []string
}

type ProcessEngine struct {
	cfg     ProcessConfig
	schemas SchemaValidator
}

func NewProcessEngine(cfg ProcessConfig, schemas SchemaValidator) *ProcessEngine {
	if strings.TrimSpace(cfg.Python) == "" {
		cfg.Python = "python3"
	}
	return &ProcessEngine{cfg: cfg, schemas: schemas}
}

func (e *ProcessEngine) Analyze(ctx context.Context, req Request) (Result, error) {
	params, err := json.Marshal(req)
	if err != nil {
		return Result{}, unavailable(ReasonTransport, err, "encode params")
	}
	cmd := exec.CommandContext(ctx, e.cfg.Python, e.cfg.Script, "--action", "analyze", "--params", string(params))
	cmd.Dir = e.cfg.WorkDir
	cmd.WaitDelay = 2 * time.Second
	if len(e.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), e.cfg.Env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Result{}, unavailable(ReasonCanceled, ctxErr, "pair=%s", req.Pair)
	}
	logger.LogEnginePayload("process", req.Pair, string(params), stdout.String())
	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return Result{}, unavailable(ReasonTransport, runErr, "start %s", e.cfg.Script)
		}
		out := &UnavailableError{Reason: ReasonExitStatus, ExitCode: exitErr.ExitCode(), Detail: tail(stderr.String(), 512)}
		// 引擎失败时仍会在 stdout 输出 {success:false,error}，优先使用其中的错误信息。
		if text, ok := extractEnvelope(stdout.String()); ok {
			if msg := strings.TrimSpace(gjson.Get(text, "error").String()); msg != "" {
				out.Detail = msg
			}
		}
		return Result{}, out
	}
	res, err := ParseResponse(stdout.Bytes(), e.schemas)
	if err != nil {
		if s := strings.TrimSpace(stderr.String()); s != "" {
			logger.Debugf("engine stderr pair=%s: %s", req.Pair, tail(s, 512))
		}
		return Result{}, err
	}
	res.Transport = "process"
	return res, nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
