package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pterm/pterm"

	"github.com/muliwe/botmon/internal/config"
	"github.com/muliwe/botmon/internal/engine"
	"github.com/muliwe/botmon/internal/fingerprint"
	"github.com/muliwe/botmon/internal/logrecord"
	"github.com/muliwe/botmon/internal/visitor"
)

const version = "0.5.0"

// HealthResponse represents the health check response
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// ErrorResponse is returned with every 4xx/5xx JSON response
type ErrorResponse struct {
	Error string `json:"error"`
}

// pageView is the JSON payload the client script posts to /pview
type pageView struct {
	Page     string `json:"pg"`
	User     string `json:"u"`
	LoadTime any    `json:"lt"` // number or string, depending on the client
	Referrer string `json:"r"`
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	collector *fingerprint.Collector
	writer    *logrecord.Writer
	engine    *engine.Engine
	log       *pterm.Logger
	quiet     bool // suppress access logging (useful for tests)
	now       func() time.Time
}

// NewHandler creates a new handler with dependencies
func NewHandler(c *fingerprint.Collector, w *logrecord.Writer, e *engine.Engine, l *pterm.Logger) *Handler {
	if l == nil {
		l = pterm.DefaultLogger.WithLevel(pterm.LogLevelWarn)
	}
	return &Handler{
		collector: c,
		writer:    w,
		engine:    e,
		log:       l,
		quiet:     false,
		now:       time.Now,
	}
}

// SetQuiet enables or disables access logging
func (h *Handler) SetQuiet(quiet bool) {
	h.quiet = quiet
}

// Register mounts the routes on r. The debug routes are only added when
// debug is set.
func (h *Handler) Register(r gin.IRouter, debug bool) {
	r.GET("/health", h.HandleHealth)
	r.GET("/api/report", h.HandleReport)

	r.GET("/hit", h.HandleHit)
	r.HEAD("/hit", h.HandleHit)
	r.POST("/pview", h.HandlePageView)
	r.GET("/tick", h.HandleTick)
	r.HEAD("/tick", h.HandleTick)

	if debug {
		r.GET("/debug/visitors", h.HandleDebugVisitors)
	}
}

// accessLog logs every request once it has been served
func (h *Handler) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if h.quiet {
			return
		}
		h.log.Debug("Request", h.log.Args(
			"ip", c.ClientIP(),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"ms", time.Since(start).Milliseconds(),
		))
	}
}

// HandleHealth handles the health check endpoint
func (h *Handler) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: version,
	})
}

// HandleHit records a server-side page request in the srv log. A wiki hook
// calling from its own server forwards the visitor's agent, referrer,
// languages and session as query parameters.
func (h *Handler) HandleHit(c *gin.Context) {
	fp := h.collector.CollectForwarded(c.Request)

	rec := fp.Record(logrecord.KindServer)
	rec.Page = c.Query("p")
	rec.User = c.Query("u")
	rec.Lang = c.Query("lang")
	rec.Geo = c.Query("geo")
	rec.Captcha = c.DefaultQuery("captcha", logrecord.CaptchaNotApplied)
	if c.Request.Method == http.MethodHead {
		rec.Captcha = logrecord.CaptchaHead
	}

	h.write(c, rec)
}

// HandlePageView records a page view reported by the client script in the
// client log
func (h *Handler) HandlePageView(c *gin.Context) {
	var pv *pageView
	if err := json.Unmarshal([]byte(c.PostForm("pageview")), &pv); err != nil || pv == nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid JSON data sent to server."})
		return
	}

	fp := h.collector.Collect(c.Request)

	rec := fp.Record(logrecord.KindClient)
	rec.Page = pv.Page
	rec.User = pv.User
	rec.LoadTime = loadTime(pv.LoadTime)
	rec.Referrer = pv.Referrer

	h.write(c, rec)
}

// HandleTick records a heartbeat in the ticker log
func (h *Handler) HandleTick(c *gin.Context) {
	rec := h.collector.Collect(c.Request).Record(logrecord.KindTicker)
	rec.Page = c.Query("p")

	h.write(c, rec)
}

func (h *Handler) write(c *gin.Context, rec logrecord.Record) {
	rec.Timestamp = h.now()
	if err := h.writer.Append(rec); err != nil {
		h.log.Error("Failed to write log record", h.log.Args("kind", string(rec.Kind), "error", err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{Error: "Unable to write log file."})
		return
	}

	if c.Request.Method == http.MethodHead {
		c.Status(http.StatusAccepted)
		return
	}
	c.String(http.StatusAccepted, "OK")
}

// HandleReport runs an analysis for the requested day and returns the report
// with its load status
func (h *Handler) HandleReport(c *gin.Context) {
	res, ok := h.analyse(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, res)
}

// HandleDebugVisitors returns the classified visitors of the requested day
func (h *Handler) HandleDebugVisitors(c *gin.Context) {
	res, ok := h.analyse(c)
	if !ok {
		return
	}
	out := make([]debugVisitor, 0, len(res.Visitors))
	for _, v := range res.Visitors {
		out = append(out, debugVisitor{Visitor: v, CaptchaTitle: v.Captcha.Title()})
	}
	c.IndentedJSON(http.StatusOK, out)
}

// debugVisitor adds display fields to a visitor
type debugVisitor struct {
	*visitor.Visitor
	CaptchaTitle string `json:"captcha_title"`
}

func (h *Handler) analyse(c *gin.Context) (*engine.Result, bool) {
	date, err := config.ResolveDate(c.Query("date"), c.Query("day"), h.now())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return nil, false
	}

	e := h.engine
	if s := c.Query("max"); s != "" {
		max, err := strconv.Atoi(s)
		if err != nil || max < 1 {
			c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: "max must be a positive number"})
			return nil, false
		}
		e = e.WithMaxItems(max)
	}

	res, err := e.Analyse(c.Request.Context(), date)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusServiceUnavailable
		}
		c.AbortWithStatusJSON(status, ErrorResponse{Error: err.Error()})
		return nil, false
	}
	return res, true
}

func loadTime(v any) string {
	switch lt := v.(type) {
	case string:
		return lt
	case float64:
		return strconv.FormatFloat(lt, 'f', -1, 64)
	default:
		return ""
	}
}
