package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mwhitney-dev/caseflow/internal/application/engine"
	"github.com/mwhitney-dev/caseflow/internal/application/service"
	"github.com/mwhitney-dev/caseflow/internal/domain/event"
)

// Handlers contains all HTTP request handlers
type Handlers struct {
	intake    *service.IntakeService
	query     *service.QueryService
	decisions *service.DecisionService
	engine    service.Transitioner
	logger    Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(
	intake *service.IntakeService,
	query *service.QueryService,
	decisions *service.DecisionService,
	eng service.Transitioner,
	logger Logger,
) *Handlers {
	return &Handlers{
		intake:    intake,
		query:     query,
		decisions: decisions,
		engine:    eng,
		logger:    logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// EventRequest is the generic trigger payload.
type EventRequest struct {
	Type             string                 `json:"type" binding:"required"`
	Payload          map[string]interface{} `json:"payload,omitempty"`
	IdempotencyToken string                 `json:"idempotency_token,omitempty"`
}

// DecisionRequest is the human verdict payload.
type DecisionRequest struct {
	Approved bool   `json:"approved"`
	Note     string `json:"note,omitempty"`
	Reviewer string `json:"reviewer,omitempty"`
}

// InboundMessageRequest is the correspondence webhook payload.
type InboundMessageRequest struct {
	CaseID    int64  `json:"case_id" binding:"required"`
	MessageID string `json:"message_id" binding:"required"`
	Intent    string `json:"intent,omitempty"`
	FeeCents  int64  `json:"fee_cents,omitempty"`
	Summary   string `json:"summary,omitempty"`
}

// PortalOutcomeRequest is the portal-automation webhook payload.
type PortalOutcomeRequest struct {
	CaseID       int64  `json:"case_id" binding:"required"`
	Outcome      string `json:"outcome" binding:"required"`
	TaskRef      string `json:"task_ref,omitempty"`
	PortalURL    string `json:"portal_url,omitempty"`
	Provider     string `json:"provider,omitempty"`
	PortalStatus string `json:"portal_status,omitempty"`
	Reason       string `json:"reason,omitempty"`
	Detail       string `json:"detail,omitempty"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// CreateCase handles POST /api/cases
func (h *Handlers) CreateCase(c *gin.Context) {
	var input service.CreateCaseInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: err.Error()})
		return
	}

	created, err := h.intake.CreateCase(c.Request.Context(), input, c.GetHeader("Idempotency-Key"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, Response{Success: true, Data: created})
}

// ListCases handles GET /api/cases
func (h *Handlers) ListCases(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	cases, err := h.intake.ListCases(c.Request.Context(), limit, offset)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: cases})
}

// GetCaseDetail handles GET /api/cases/:id
func (h *Handlers) GetCaseDetail(c *gin.Context) {
	id, ok := h.caseID(c)
	if !ok {
		return
	}

	detail, err := h.query.GetCaseDetail(c.Request.Context(), id, 100)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: detail})
}

// GetLedger handles GET /api/cases/:id/ledger
func (h *Handlers) GetLedger(c *gin.Context) {
	id, ok := h.caseID(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	entries, err := h.query.ListLedger(c.Request.Context(), id, limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: entries})
}

// GetExecutions handles GET /api/cases/:id/executions
func (h *Handlers) GetExecutions(c *gin.Context) {
	id, ok := h.caseID(c)
	if !ok {
		return
	}

	execs, err := h.query.ListExecutions(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: execs})
}

// GetPendingProposal handles GET /api/cases/:id/proposal
func (h *Handlers) GetPendingProposal(c *gin.Context) {
	id, ok := h.caseID(c)
	if !ok {
		return
	}

	p, err := h.query.GetPendingProposal(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if p == nil {
		c.JSON(http.StatusNotFound, Response{Success: false, Error: "no pending proposal"})
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: p})
}

// PostEvent handles POST /api/cases/:id/events. The dry_run query flag
// evaluates the transition and rolls it back instead of committing.
func (h *Handlers) PostEvent(c *gin.Context) {
	id, ok := h.caseID(c)
	if !ok {
		return
	}

	var req EventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: err.Error()})
		return
	}

	evtType := event.Type(req.Type)
	if !evtType.IsValid() {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "unknown event type " + req.Type})
		return
	}

	evtCtx := event.NewContext(req.Payload)
	if req.IdempotencyToken != "" {
		evtCtx = evtCtx.WithToken(req.IdempotencyToken)
	}
	evt := event.New(evtType, id, evtCtx)

	var result *engine.Result
	var err error
	if c.Query("dry_run") == "true" {
		result, err = h.engine.DryRun(c.Request.Context(), evt)
	} else {
		result, err = h.engine.Transition(c.Request.Context(), evt)
	}
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: result})
}

// PostDecision handles POST /api/cases/:id/proposals/:pid/decision
func (h *Handlers) PostDecision(c *gin.Context) {
	id, ok := h.caseID(c)
	if !ok {
		return
	}
	pid, err := strconv.ParseInt(c.Param("pid"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid proposal id"})
		return
	}

	var req DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: err.Error()})
		return
	}

	result, err := h.decisions.Decide(c.Request.Context(), id, pid, req.Approved, req.Note, req.Reviewer)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: result})
}

// InboundMessage handles POST /api/webhooks/messages. The message id doubles
// as the idempotency token, so provider redeliveries replay.
func (h *Handlers) InboundMessage(c *gin.Context) {
	var req InboundMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: err.Error()})
		return
	}

	payload := map[string]interface{}{
		"message_id": req.MessageID,
		"intent":     req.Intent,
	}
	if req.FeeCents > 0 {
		payload["fee_cents"] = req.FeeCents
	}
	if req.Summary != "" {
		payload["summary"] = req.Summary
	}

	evt := event.New(event.TypeMessageReceived, req.CaseID,
		event.NewContext(payload).WithToken("msg_"+req.MessageID))

	result, err := h.engine.Transition(c.Request.Context(), evt)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: result})
}

// PortalOutcome handles POST /api/webhooks/portal
func (h *Handlers) PortalOutcome(c *gin.Context) {
	var req PortalOutcomeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: err.Error()})
		return
	}

	var evtType event.Type
	switch req.Outcome {
	case "started":
		evtType = event.TypePortalStarted
	case "completed":
		evtType = event.TypePortalCompleted
	case "failed":
		evtType = event.TypePortalFailed
	case "timed_out":
		evtType = event.TypePortalTimedOut
	default:
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "unknown portal outcome " + req.Outcome})
		return
	}

	evtCtx := event.NewContext(map[string]interface{}{
		"portal_url":    req.PortalURL,
		"provider":      req.Provider,
		"portal_status": req.PortalStatus,
		"reason":        req.Reason,
		"detail":        req.Detail,
	})
	if req.TaskRef != "" {
		evtCtx = evtCtx.WithToken("portal_" + req.TaskRef + "_" + req.Outcome)
	}

	result, err := h.engine.Transition(c.Request.Context(), event.New(evtType, req.CaseID, evtCtx))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: result})
}

// caseID parses the :id path parameter and writes the error response itself.
func (h *Handlers) caseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid case id"})
		return 0, false
	}
	return id, true
}

// respondError maps engine errors onto HTTP statuses.
func (h *Handlers) respondError(c *gin.Context, err error) {
	switch {
	case engine.IsCaseNotFound(err):
		c.JSON(http.StatusNotFound, Response{Success: false, Error: err.Error()})
	case engine.IsLockContention(err):
		c.JSON(http.StatusConflict, Response{Success: false, Error: err.Error()})
	default:
		h.logger.Error("Request failed", "error", err)
		c.JSON(http.StatusInternalServerError, Response{Success: false, Error: err.Error()})
	}
}
