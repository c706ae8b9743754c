package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/BikeshR/menorepo-sub007/internal/audit"
	"github.com/BikeshR/menorepo-sub007/internal/order"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// respondError maps domain errors onto HTTP statuses.
func respondError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "INTERNAL_ERROR"
	switch {
	case errors.Is(err, order.ErrValidation):
		status, code = http.StatusBadRequest, "VALIDATION_FAILED"
	case errors.Is(err, order.ErrNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, order.ErrTerminal), errors.Is(err, order.ErrInvalidTransition), errors.Is(err, order.ErrOverfill):
		status, code = http.StatusConflict, "INVALID_STATE"
	case errors.Is(err, order.ErrExecutionUnavailable), errors.Is(err, order.ErrEngineClosed):
		status, code = http.StatusServiceUnavailable, "EXECUTION_UNAVAILABLE"
	case errors.Is(err, audit.ErrSinkUnavailable):
		status, code = http.StatusServiceUnavailable, "AUDIT_UNAVAILABLE"
	}
	c.JSON(status, gin.H{"code": code, "error": err.Error()})
}

func unavailable(c *gin.Context, what string) {
	c.JSON(http.StatusServiceUnavailable, gin.H{
		"code":  "NOT_CONFIGURED",
		"error": what + " not configured",
	})
}

func badPayload(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_PAYLOAD", "error": err.Error()})
}

func listLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return defaultListLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_LIMIT", "error": "limit must be a positive integer"})
		return 0, false
	}
	if n > maxListLimit {
		n = maxListLimit
	}
	return n, true
}

func (s *Server) getSystemStatus(c *gin.Context) {
	resp := gin.H{
		"mode":    s.opts.Meta.Mode,
		"symbols": s.opts.Meta.Symbols,
		"version": s.opts.Meta.Version,
		"uptime":  time.Since(s.started).Round(time.Second).String(),
	}
	if s.deps.Breakers != nil {
		states := make(map[string]string)
		for _, m := range s.deps.Breakers.Snapshot() {
			states[m.Name] = m.State.String()
		}
		resp["breakers"] = states
	}
	if s.deps.Gate != nil {
		resp["signals_enabled"] = s.deps.Gate.Stats().Enabled
	}
	c.JSON(http.StatusOK, resp)
}

// submitOrder accepts a manual order. Risk and execution rejections are
// returned with 200 and the rejected order; malformed requests answer 400.
func (s *Server) submitOrder(c *gin.Context) {
	if s.deps.Engine == nil {
		unavailable(c, "execution engine")
		return
	}
	var req order.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		badPayload(c, err)
		return
	}
	o, err := s.deps.Engine.Submit(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	status := http.StatusCreated
	if o.Status == order.StatusRejected {
		status = http.StatusOK
	}
	c.JSON(status, o)
}

func (s *Server) listOrders(c *gin.Context) {
	if s.deps.Engine == nil {
		unavailable(c, "execution engine")
		return
	}
	limit, ok := listLimit(c)
	if !ok {
		return
	}
	orders, err := s.deps.Engine.List(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders, "count": len(orders)})
}

func (s *Server) getOrder(c *gin.Context) {
	if s.deps.Engine == nil {
		unavailable(c, "execution engine")
		return
	}
	o, err := s.deps.Engine.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (s *Server) cancelOrder(c *gin.Context) {
	if s.deps.Engine == nil {
		unavailable(c, "execution engine")
		return
	}
	o, err := s.deps.Engine.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (s *Server) getEngineMetrics(c *gin.Context) {
	if s.deps.Engine == nil {
		unavailable(c, "execution engine")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"engine":      s.deps.Engine.GetMetrics(),
		"api_latency": s.latency.Stats(),
	})
}

func (s *Server) getBusMetrics(c *gin.Context) {
	if s.deps.Bus == nil {
		unavailable(c, "event bus")
		return
	}
	c.JSON(http.StatusOK, s.deps.Bus.Metrics())
}

func (s *Server) listBreakers(c *gin.Context) {
	if s.deps.Breakers == nil {
		unavailable(c, "circuit breakers")
		return
	}
	c.JSON(http.StatusOK, gin.H{"breakers": s.deps.Breakers.Snapshot()})
}

func (s *Server) getBreaker(c *gin.Context) {
	if s.deps.Breakers == nil {
		unavailable(c, "circuit breakers")
		return
	}
	b, ok := s.deps.Breakers.Lookup(c.Param("name"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"code": "NOT_FOUND", "error": "unknown breaker"})
		return
	}
	c.JSON(http.StatusOK, b.Metrics())
}

func (s *Server) gateView() gin.H {
	st := s.deps.Gate.Stats()
	return gin.H{
		"enabled":          st.Enabled,
		"min_confidence":   st.MinConfidence,
		"default_quantity": s.deps.Gate.DefaultQuantity(),
		"stats":            st,
	}
}

func (s *Server) getGate(c *gin.Context) {
	if s.deps.Gate == nil {
		unavailable(c, "signal converter")
		return
	}
	c.JSON(http.StatusOK, s.gateView())
}

// updateGate applies only the fields present in the body.
func (s *Server) updateGate(c *gin.Context) {
	if s.deps.Gate == nil {
		unavailable(c, "signal converter")
		return
	}
	var req struct {
		Enabled         *bool    `json:"enabled"`
		MinConfidence   *float64 `json:"min_confidence"`
		DefaultQuantity *float64 `json:"default_quantity"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badPayload(c, err)
		return
	}
	if req.MinConfidence != nil {
		if err := s.deps.Gate.SetMinConfidence(*req.MinConfidence); err != nil {
			badPayload(c, err)
			return
		}
	}
	if req.DefaultQuantity != nil {
		if err := s.deps.Gate.SetDefaultQuantity(*req.DefaultQuantity); err != nil {
			badPayload(c, err)
			return
		}
	}
	if req.Enabled != nil {
		s.deps.Gate.SetEnabled(*req.Enabled)
	}
	s.log.Infow("api: signal gate updated", "operator", CurrentOperator(c), "gate", s.gateView())
	c.JSON(http.StatusOK, s.gateView())
}

func (s *Server) getRisk(c *gin.Context) {
	if s.deps.Risk == nil {
		unavailable(c, "risk manager")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"limits":  s.deps.Risk.Limits(),
		"metrics": s.deps.Risk.GetMetrics(),
	})
}

// updateRiskLimits merges the body into the current limits.
func (s *Server) updateRiskLimits(c *gin.Context) {
	if s.deps.Risk == nil {
		unavailable(c, "risk manager")
		return
	}
	var req struct {
		MaxPositionSize  *float64 `json:"max_position_size"`
		MaxDailyLoss     *float64 `json:"max_daily_loss"`
		MaxConcentration *float64 `json:"max_concentration"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badPayload(c, err)
		return
	}
	limits := s.deps.Risk.Limits()
	if req.MaxPositionSize != nil {
		limits.MaxPositionSize = *req.MaxPositionSize
	}
	if req.MaxDailyLoss != nil {
		limits.MaxDailyLoss = *req.MaxDailyLoss
	}
	if req.MaxConcentration != nil {
		limits.MaxConcentration = *req.MaxConcentration
	}
	if err := s.deps.Risk.UpdateLimits(limits); err != nil {
		badPayload(c, err)
		return
	}
	s.log.Infow("api: risk limits updated", "operator", CurrentOperator(c), "limits", limits)
	c.JSON(http.StatusOK, gin.H{"limits": s.deps.Risk.Limits()})
}

func (s *Server) getPortfolio(c *gin.Context) {
	if s.deps.Portfolio == nil {
		unavailable(c, "portfolio")
		return
	}
	c.JSON(http.StatusOK, s.deps.Portfolio.Summary())
}

func (s *Server) getAudit(c *gin.Context) {
	if s.deps.Audit == nil {
		unavailable(c, "audit log")
		return
	}
	limit, ok := listLimit(c)
	if !ok {
		return
	}
	var (
		entries []audit.Entry
		err     error
	)
	if subject := c.Query("subject"); subject != "" {
		entries, err = s.deps.Audit.BySubject(c.Request.Context(), subject)
	} else {
		entries, err = s.deps.Audit.Recent(c.Request.Context(), limit)
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

func (s *Server) getOrderAudit(c *gin.Context) {
	if s.deps.Audit == nil {
		unavailable(c, "audit log")
		return
	}
	id := c.Param("id")
	entries, err := s.deps.Audit.BySubject(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	if len(entries) == 0 {
		respondError(c, order.ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_id": id, "entries": entries})
}
