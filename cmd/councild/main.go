// Command councild is a thin Gin HTTP/SSE wrapper around the council
// engine. It contains no deliberation logic of its own: request decoding,
// Orchestrator invocation, and response/event marshaling only, per
// SPEC_FULL.md §6.1.
package main

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/llm-council/engine/internal/config"
	"github.com/llm-council/engine/internal/council"
	"github.com/llm-council/engine/internal/gateway"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("loading config", zap.Error(err))
	}

	caller := buildCaller(cfg, logger)
	bus := council.NewEventBus()
	metrics := council.DefaultMetrics()

	transcripts := council.NewTranscriptWriter(cfg.TranscriptDir)
	orchestrator, err := council.NewOrchestrator(
		cfg.Council,
		caller,
		council.WithEventBus(bus),
		council.WithMetrics(metrics),
		council.WithTranscriptWriter(transcripts),
	)
	if err != nil {
		logger.Fatal("constructing orchestrator", zap.Error(err))
	}

	srv := &server{cfg: cfg, orchestrator: orchestrator, bus: bus}

	router := gin.Default()
	router.Use(cors.Default())
	router.GET("/healthz", srv.healthCheck)
	router.POST("/v1/deliberate", srv.deliberate)
	router.POST("/v1/deliberate/stream", srv.deliberateStream)

	logger.Info("councild listening", zap.String("addr", cfg.ListenAddr))
	if err := router.Run(cfg.ListenAddr); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

// buildCaller assembles the ModelCaller stack: OpenRouter wrapped in a
// per-model circuit breaker and a response cache, per SPEC_FULL.md §4.13.
func buildCaller(cfg config.Config, logger *zap.Logger) council.ModelCaller {
	var base council.ModelCaller = gateway.NewOpenRouterCaller(cfg.Gateway.OpenRouterAPIKey, cfg.Gateway.OpenRouterAPIURL).WithLogger(logger)
	breaker := gateway.NewBreakerCaller(
		base,
		cfg.Gateway.CircuitBreaker.FailureThreshold,
		cfg.Gateway.CircuitBreaker.SuccessThreshold,
		cfg.Gateway.CircuitBreaker.Timeout,
	)
	if cfg.Gateway.CacheTTL <= 0 {
		return breaker
	}
	return gateway.NewCachingCaller(breaker, cfg.Gateway.CacheTTL)
}

type server struct {
	cfg          config.Config
	orchestrator *council.Orchestrator
	bus          *council.EventBus
}

func (s *server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// deliberateRequest is the request body for both /v1/deliberate and its
// streaming variant: the Query fields only. No CouncilConfig overrides are
// accepted; every request uses the server's configured council.
type deliberateRequest struct {
	Prompt              string  `json:"prompt" binding:"required"`
	Mode                string  `json:"mode"`
	VerdictType         string  `json:"verdict_type"`
	ConfidenceThreshold float64 `json:"confidence_threshold"`
	IncludeDetails      bool    `json:"include_details"`
}

func (r deliberateRequest) toQuery() council.Query {
	mode := council.ModeConsensus
	if r.Mode == string(council.ModeDebate) {
		mode = council.ModeDebate
	}
	verdictType := council.VerdictTypeNone
	if r.VerdictType == string(council.VerdictTypeBinary) {
		verdictType = council.VerdictTypeBinary
	}
	threshold := r.ConfidenceThreshold
	if threshold == 0 {
		threshold = 0.7
	}
	return council.Query{
		Prompt:              r.Prompt,
		Mode:                mode,
		VerdictType:         verdictType,
		ConfidenceThreshold: threshold,
		IncludeDetails:      r.IncludeDetails,
	}
}

func (s *server) deliberate(c *gin.Context) {
	var req deliberateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	requestID := uuid.NewString()
	result, err := s.orchestrator.Run(c.Request.Context(), requestID, req.toQuery())
	if err != nil {
		writeEngineError(c, requestID, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// deliberateStream relays EventBus events verbatim as SSE frames using the
// event envelope of SPEC_FULL.md §6, closing the stream after
// council.complete or council.error.
func (s *server) deliberateStream(c *gin.Context) {
	var req deliberateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	requestID := uuid.NewString()
	events, unsubscribe := s.bus.Subscribe(requestID)
	defer unsubscribe()

	resultCh := make(chan struct {
		result *council.Result
		err    error
	}, 1)
	go func() {
		result, err := s.orchestrator.Run(c.Request.Context(), requestID, req.toQuery())
		resultCh <- struct {
			result *council.Result
			err    error
		}{result, err}
	}()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent("message", eventEnvelope(ev))
			return ev.Kind != council.EventDone && ev.Kind != council.EventFailed
		case <-c.Request.Context().Done():
			return false
		case <-time.After(30 * time.Second):
			c.SSEvent("ping", gin.H{"at": time.Now()})
			return true
		}
	})
}

// eventEnvelope maps an internal Event onto the wire event names of
// SPEC_FULL.md §4.11/§6.
func eventEnvelope(ev council.Event) gin.H {
	return gin.H{
		"event":      wireEventName(ev.Kind),
		"request_id": ev.RequestID,
		"timestamp":  ev.At,
		"data":       ev.Payload,
	}
}

func wireEventName(kind council.EventKind) string {
	switch kind {
	case council.EventAccepted:
		return "council.deliberation_start"
	case council.EventStage1Complete:
		return "council.stage1.complete"
	case council.EventStage2Vote:
		return "model.vote_cast"
	case council.EventStage2Complete:
		return "council.stage2.complete"
	case council.EventStage3Complete:
		return "council.stage3.complete"
	case council.EventDone:
		return "council.complete"
	case council.EventFailed:
		return "council.error"
	default:
		return string(kind)
	}
}

func writeEngineError(c *gin.Context, requestID string, err error) {
	kind := council.ErrNetwork
	if fe, ok := err.(*council.FatalError); ok {
		kind = fe.Kind
	}
	c.JSON(http.StatusUnprocessableEntity, gin.H{
		"error":      string(kind),
		"request_id": requestID,
	})
}
