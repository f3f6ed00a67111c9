package server

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apperr "github.com/YuminosukeSato/churnkit/pkg/errors"
	"github.com/YuminosukeSato/churnkit/progress"
	"github.com/YuminosukeSato/churnkit/train"
)

// predictRequest is the body for both prediction endpoints. The input map
// is order-independent; the service reassembles the fitted column order.
type predictRequest struct {
	ModelID string         `json:"model_id" binding:"required"`
	Input   map[string]any `json:"input" binding:"required"`
}

func (s *Server) handleTrain(c *gin.Context) {
	var req train.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, apperr.BadRequest(apperr.CodeBadRequest, "Invalid request body.", map[string]any{"reason": err.Error()}))
		return
	}
	resp, err := s.trainSvc.Train(req, nil)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleTrainStream(c *gin.Context) {
	var req train.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, apperr.BadRequest(apperr.CodeBadRequest, "Invalid request body.", map[string]any{"reason": err.Error()}))
		return
	}

	bridge := progress.NewBridge()
	go func() {
		resp, err := s.trainSvc.Train(req, bridge.Sink())
		if err != nil {
			s.failBridge(bridge, err)
			return
		}
		bridge.Complete(resp)
	}()

	s.relaySSE(c, bridge)
}

func (s *Server) handlePredict(c *gin.Context) {
	var req predictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, apperr.BadRequest(apperr.CodeBadRequest, "Invalid request body.", map[string]any{"reason": err.Error()}))
		return
	}
	resp, err := s.predictSvc.Predict(c.Request.Context(), req.ModelID, req.Input, nil)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handlePredictStream(c *gin.Context) {
	var req predictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, apperr.BadRequest(apperr.CodeBadRequest, "Invalid request body.", map[string]any{"reason": err.Error()}))
		return
	}

	bridge := progress.NewBridge()
	go func() {
		// Detached context: an abandoned stream must not cancel the work.
		resp, err := s.predictSvc.Predict(context.Background(), req.ModelID, req.Input, bridge.Sink())
		if err != nil {
			s.failBridge(bridge, err)
			return
		}
		bridge.Complete(resp)
	}()

	s.relaySSE(c, bridge)
}

func (s *Server) handleSchema(c *gin.Context) {
	meta, err := s.reg.LoadMetadata(c.Param("model_id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"model_id":      meta.ModelID,
		"model_name":    meta.ModelName,
		"target_column": meta.TargetColumn,
		"fields":        meta.Schema.Fields,
	})
}

func (s *Server) handleSummary(c *gin.Context) {
	summary, err := s.insightSvc.TrainingSummary(c.Request.Context(), c.Param("model_id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// relaySSE drains the bridge onto the response as server-sent events. The
// loop ends only on the sentinel after the terminal event, or when the
// client disconnects, which abandons the bridge without cancelling the
// worker.
func (s *Server) relaySSE(c *gin.Context, bridge *progress.Bridge) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		ev, ok := bridge.Next(c.Request.Context())
		if !ok {
			return false
		}
		c.SSEvent(string(ev.Kind), ev)
		return true
	})
}

// failBridge converts a service error into the terminal error event,
// exposing the controlled code/message/details triple only.
func (s *Server) failBridge(bridge *progress.Bridge, err error) {
	if app, ok := apperr.AsAppError(err); ok {
		s.log.Warn().Object("error", app).Msg("streamed run failed")
		bridge.Fail(app.Message, app.Code, app.Details)
		return
	}
	s.log.Error().Err(err).Msg("streamed run failed")
	bridge.Fail("Internal server error.", apperr.CodeInternal, nil)
}

// writeError maps an error chain onto the API error envelope. Unknown
// errors become a generic 500; full detail stays in the server log keyed by
// the trace id returned to the client.
func (s *Server) writeError(c *gin.Context, err error) {
	traceID := uuid.NewString()
	if app, ok := apperr.AsAppError(err); ok {
		s.log.Warn().Str("trace_id", traceID).Object("error", app).Msg("request failed")
		c.JSON(app.HTTPStatus, gin.H{
			"error": gin.H{
				"code":     app.Code,
				"message":  app.Message,
				"details":  app.Details,
				"trace_id": traceID,
			},
		})
		return
	}
	s.log.Error().Str("trace_id", traceID).Err(err).Msg("request failed")
	c.JSON(http.StatusInternalServerError, gin.H{
		"error": gin.H{
			"code":     apperr.CodeInternal,
			"message":  "Internal server error.",
			"trace_id": traceID,
		},
	})
}
