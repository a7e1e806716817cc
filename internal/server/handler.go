package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/amoylab/pigeon/internal/broker"
	"github.com/amoylab/pigeon/internal/session"
)

const indexPage = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>pigeon</title></head>
<body>
<h1>pigeon</h1>
<p>Point-to-point messages between ephemeral sessions.</p>
<ul>
<li><code>POST /start</code> issues a session id</li>
<li><code>GET /sse</code> opens the event stream of a session</li>
<li><code>POST /send_msg</code> sends <code>target_id</code> and <code>message</code></li>
</ul>
</body>
</html>
`

// sendMsgRequest is accepted as form or JSON
type sendMsgRequest struct {
	TargetID json.Number `form:"target_id" json:"target_id" binding:"required"`
	Message  string      `form:"message" json:"message"`
}

// statusOf maps a delivery outcome to its HTTP status
func statusOf(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, broker.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, broker.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) abortWithError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(statusOf(err), gin.H{"error": err.Error()})
}

func (s *Server) handleIndex(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(indexPage))
}

// handleStart issues a fresh session id
func (s *Server) handleStart(c *gin.Context) {
	id := s.ids.Next()
	s.metrics.SessionIDIssued()

	if s.cookies != nil {
		token, err := s.cookies.Encode(id)
		if err != nil {
			s.logger.Error("failed to encode session cookie", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to issue session"})
			return
		}
		ck := s.cfg.Session.Cookie
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(ck.Name, token, int(ck.MaxAge.Seconds()), ck.Path, ck.Domain, ck.Secure, true)
		c.JSON(http.StatusOK, gin.H{
			"session_id": id.String(),
			"sse":        "/sse",
			"send_msg":   "/send_msg",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id": id.String(),
		"sse":        "/sse/" + id.String(),
		"send_msg":   "/send_msg/" + id.String(),
	})
}

// sessionID resolves the caller's session id according to the identity
// policy. On failure the request is aborted.
func (s *Server) sessionID(c *gin.Context) (session.ID, bool) {
	if s.cookies != nil {
		value, err := c.Cookie(s.cfg.Session.Cookie.Name)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing session cookie"})
			return 0, false
		}
		id, err := s.cookies.Decode(value)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return 0, false
		}
		return id, true
	}

	id, err := s.ids.Parse(c.Param("session_id"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return 0, false
	}
	return id, true
}

// handleSSE streams the frames of one session until the client goes away
// or the server shuts down
func (s *Server) handleSSE(c *gin.Context) {
	id, ok := s.sessionID(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	go func() {
		select {
		case <-s.shutdownCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	stream, err := s.broker.Connect(ctx, id)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	defer func() { _ = stream.Close() }()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache, no-transform")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	s.logger.Debug("stream connected",
		zap.Stringer("id", id),
		zap.String("remote_addr", c.Request.RemoteAddr))

	for {
		frame, err := stream.Next(ctx)
		if err != nil {
			s.logger.Debug("stream ended", zap.Stringer("id", id), zap.Error(err))
			return
		}

		if frame.KeepAlive {
			_, err = fmt.Fprintf(c.Writer, ": %s\n\n", frame.Data)
		} else {
			c.SSEvent(frame.Event, frame.Data)
		}
		if err != nil {
			s.logger.Warn("failed to write SSE frame", zap.Stringer("id", id), zap.Error(err))
			return
		}
		c.Writer.Flush()
	}
}

// handleSendMsg delivers one message from the caller's session to target_id
func (s *Server) handleSendMsg(c *gin.Context) {
	from, ok := s.sessionID(c)
	if !ok {
		return
	}

	var req sendMsgRequest
	if err := c.ShouldBind(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	target, err := s.ids.Parse(req.TargetID.String())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid target_id"})
		return
	}

	if err := s.broker.Send(c.Request.Context(), from, broker.SendRequest{TargetID: target, Message: req.Message}); err != nil {
		s.logger.Debug("send failed",
			zap.Stringer("from", from),
			zap.Stringer("target", target),
			zap.Error(err))
		s.abortWithError(c, err)
		return
	}
	c.Status(http.StatusOK)
}
