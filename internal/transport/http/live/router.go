package livehttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"fxdesk/internal/decision"
	"fxdesk/internal/desk"
	"fxdesk/internal/engine"
	"fxdesk/internal/logger"
	"fxdesk/internal/mode"
	"fxdesk/internal/position"
	"fxdesk/internal/signal"
	"fxdesk/internal/store/runlog"

	"github.com/gin-gonic/gin"
)

// Router 暴露信号处置、持仓与风险查询接口。
type Router struct {
	Desk   DeskService
	Events EventReader
	Runs   RunReader
}

func NewRouter(d DeskService, events EventReader, runs RunReader) *Router {
	return &Router{Desk: d, Events: events, Runs: runs}
}

// Register 将 /api/desk 路由挂载到给定分组下。
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/signals", r.handleListSignals)
	group.POST("/signals", r.handleSurface)
	group.GET("/signals/:id", r.handleGetSignal)
	group.POST("/signals/:id/analyze", r.handleAnalyze)
	group.DELETE("/signals/:id/analysis", r.handleCancelAnalysis)
	group.GET("/signals/:id/decision", r.handleDecision)
	group.GET("/signals/:id/events", r.handleSignalEvents)
	group.POST("/signals/:id/approve", r.handleApprove)
	group.POST("/signals/:id/reject", r.handleReject)
	group.GET("/positions", r.handleListPositions)
	group.POST("/positions/:id/close", r.handleClosePosition)
	group.GET("/risk", r.handleRisk)
	group.GET("/mode", r.handleGetMode)
	group.PUT("/mode", r.handleSetMode)
	group.GET("/runs", r.handleListRuns)
	group.GET("/stream", r.handleStream)
}

func (r *Router) handleListSignals(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"signals": r.Desk.Signals()})
}

func (r *Router) handleSurface(c *gin.Context) {
	var req SurfaceRequest
	if errs := bindAndValidate(c, &req, false); errs != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": errs})
		return
	}
	req.Proposal.Source = signal.SourceQuery
	sig, err := r.Desk.Surface(c.Request.Context(), req.Proposal)
	if err != nil {
		writeError(c, err)
		return
	}
	if !req.Analyze {
		c.JSON(http.StatusCreated, sig)
		return
	}
	opts, err := analysisOptions(req.Mode, req.Date)
	if err != nil {
		writeError(c, err)
		return
	}
	ticket, err := r.Desk.RequestAnalysis(c.Request.Context(), sig.ID, opts)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"signal": sig, "analysis": AnalysisAccepted{SignalID: ticket.SignalID, Seq: ticket.Seq}})
}

func (r *Router) handleGetSignal(c *gin.Context) {
	sig, err := r.Desk.Signal(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sig)
}

func (r *Router) handleAnalyze(c *gin.Context) {
	var req AnalyzeRequest
	if errs := bindAndValidate(c, &req, true); errs != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": errs})
		return
	}
	opts, err := analysisOptions(req.Mode, req.Date)
	if err != nil {
		writeError(c, err)
		return
	}
	id := c.Param("id")
	if !req.Wait {
		ticket, err := r.Desk.RequestAnalysis(c.Request.Context(), id, opts)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, AnalysisAccepted{SignalID: ticket.SignalID, Seq: ticket.Seq})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), time.Duration(req.TimeoutSec)*time.Second)
	defer cancel()
	out, err := r.Desk.AnalyzeAndWait(ctx, id, opts)
	if err != nil {
		writeError(c, err)
		return
	}
	resp := gin.H{"signal": out.Signal, "seq": out.Seq}
	if out.Position != nil {
		resp["position"] = out.Position
	}
	c.JSON(http.StatusOK, resp)
}

func (r *Router) handleCancelAnalysis(c *gin.Context) {
	if err := r.Desk.CancelAnalysis(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (r *Router) handleDecision(c *gin.Context) {
	agent := decision.AgentKind(strings.TrimSpace(c.Query("agent")))
	d, ok, err := r.Desk.Decision(c.Param("id"), agent)
	if err != nil {
		writeError(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "signal has no decision yet"})
		return
	}
	c.JSON(http.StatusOK, d)
}

func (r *Router) handleSignalEvents(c *gin.Context) {
	if r.Events == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "事件日志未启用"})
		return
	}
	limit := queryInt(c, "limit", 100, 1000)
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	events, err := r.Events.Load(ctx, c.Param("id"), limit)
	if err != nil {
		logger.Errorf("[api] load events failed signal=%s err=%v", c.Param("id"), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	views := make([]EventView, 0, len(events))
	for _, evt := range events {
		var payload any = evt.Payload
		if len(evt.Payload) > 0 {
			var decoded any
			if json.Unmarshal(evt.Payload, &decoded) == nil {
				payload = decoded
			}
		}
		views = append(views, EventView{ID: evt.ID, Type: evt.Type, SignalID: evt.SignalID, Payload: payload, CreatedAt: evt.CreatedAt})
	}
	c.JSON(http.StatusOK, gin.H{"events": views})
}

func (r *Router) handleApprove(c *gin.Context) {
	sig, pos, err := r.Desk.Approve(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ApproveResponse{Signal: sig, Position: pos})
}

func (r *Router) handleReject(c *gin.Context) {
	var req RejectRequest
	if errs := bindAndValidate(c, &req, true); errs != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": errs})
		return
	}
	sig, err := r.Desk.Reject(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sig)
}

func (r *Router) handleListPositions(c *gin.Context) {
	status := position.Status(strings.ToLower(strings.TrimSpace(c.Query("status"))))
	switch status {
	case "", position.StatusOpen, position.StatusClosed:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "status must be open or closed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"positions": r.Desk.Positions(status)})
}

func (r *Router) handleClosePosition(c *gin.Context) {
	var req ClosePositionRequest
	if errs := bindAndValidate(c, &req, false); errs != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": errs})
		return
	}
	if req.Price <= 0 && req.PnL == nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": []ValidationError{{Code: "ERR_REQUIRED", Field: "Price", Message: "price or pnl is required"}}})
		return
	}
	creq := position.CloseRequest{Price: req.Price, PnL: req.PnL, Reason: req.Reason}
	if req.At != nil {
		creq.At = *req.At
	}
	pos, err := r.Desk.ClosePosition(c.Request.Context(), c.Param("id"), creq)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, pos)
}

func (r *Router) handleRisk(c *gin.Context) {
	c.JSON(http.StatusOK, r.Desk.Risk())
}

func (r *Router) handleGetMode(c *gin.Context) {
	c.JSON(http.StatusOK, ModeView{Mode: r.Desk.Mode()})
}

func (r *Router) handleSetMode(c *gin.Context) {
	var req ModeRequest
	if errs := bindAndValidate(c, &req, false); errs != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": errs})
		return
	}
	m, err := mode.Parse(req.Mode)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := r.Desk.SetMode(c.Request.Context(), m); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ModeView{Mode: r.Desk.Mode()})
}

func (r *Router) handleListRuns(c *gin.Context) {
	if r.Runs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "运行记录未启用"})
		return
	}
	q := runlog.Query{
		SignalID: strings.TrimSpace(c.Query("signal_id")),
		Pair:     signal.NormalizePair(c.Query("pair")),
		Limit:    queryInt(c, "limit", 50, 500),
		Offset:   queryInt(c, "offset", 0, 1<<20),
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	runs, err := r.Runs.List(ctx, q)
	if err != nil {
		logger.Errorf("[api] list runs failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs, "limit": q.Limit, "offset": q.Offset})
}

func analysisOptions(rawMode, rawDate string) (desk.AnalysisOptions, error) {
	var opts desk.AnalysisOptions
	if rawMode != "" {
		m, err := engine.ParseMode(rawMode)
		if err != nil {
			return opts, err
		}
		opts.Mode = m
	}
	if rawDate != "" {
		t, err := time.Parse(engine.DateLayout, rawDate)
		if err != nil {
			return opts, err
		}
		opts.Date = t
	}
	return opts, nil
}

func queryInt(c *gin.Context, key string, def, max int) int {
	v, err := strconv.Atoi(strings.TrimSpace(c.Query(key)))
	if err != nil || v < 0 {
		return def
	}
	if v > max {
		return max
	}
	return v
}

// writeError 按领域错误映射状态码。
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, desk.ErrInvalidProposal):
		status = http.StatusBadRequest
	case desk.IsNotFound(err):
		status = http.StatusNotFound
	case signal.IsInvalidTransition(err), errors.Is(err, desk.ErrDuplicateSignal),
		errors.Is(err, desk.ErrSuperseded), errors.Is(err, desk.ErrAnalysisCanceled):
		status = http.StatusConflict
	case engine.IsUnavailable(err), decision.IsAggregationError(err):
		status = http.StatusBadGateway
	case errors.Is(err, desk.ErrStopped), errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		logger.Warnf("[api] %s %s failed: %v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
