package engine

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"fxdesk/internal/logger"

	"github.com/go-resty/resty/v2"
)

// HTTPEngine 通过 HTTP 调用部署为服务的分析引擎，不做自动重试。
type HTTPEngine struct {
	client  *resty.Client
	path    string
	schemas SchemaValidator
}

func NewHTTPEngine(baseURL, path string, timeout time.Duration, schemas SchemaValidator) *HTTPEngine {
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if timeout > 0 {
		client.SetTimeout(timeout)
	}
	if strings.TrimSpace(path) == "" {
		path = "/analyze"
	}
	return &HTTPEngine{client: client, path: path, schemas: schemas}
}

func (e *HTTPEngine) Analyze(ctx context.Context, req Request) (Result, error) {
	resp, err := e.client.R().
		SetContext(ctx).
		SetBody(req).
		Post(e.path)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil || errors.Is(err, context.Canceled) {
			return Result{}, unavailable(ReasonCanceled, err, "pair=%s", req.Pair)
		}
		return Result{}, unavailable(ReasonTransport, err, "POST %s", e.path)
	}
	body := resp.Body()
	payload, _ := json.Marshal(req)
	logger.Debugf("engine http status=%d pair=%s dur=%s", resp.StatusCode(), req.Pair, resp.Time())
	logger.LogEnginePayload("http", req.Pair, string(payload), string(body))
	if resp.IsError() {
		// 非 2xx 时若带有失败信封则透传其错误信息
		if _, perr := ParseResponse(body, nil); perr != nil && IsUnavailable(perr) {
			var ue *UnavailableError
			if errors.As(perr, &ue) && ue.Reason == ReasonEngineError {
				return Result{}, ue
			}
		}
		return Result{}, unavailable(ReasonTransport, nil, "engine status %d", resp.StatusCode())
	}
	res, err := ParseResponse(body, e.schemas)
	if err != nil {
		return Result{}, err
	}
	res.Transport = "http"
	return res, nil
}
