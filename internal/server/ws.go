package server

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/v0xg/tabmacro/internal/progress"
	"github.com/v0xg/tabmacro/internal/session"
)

const writeTimeout = 10 * time.Second

// Client frame actions
const (
	frameExecuteScript = "executeScript"
	framePause         = "pause"
	frameResume        = "resume"
)

type frame struct {
	Action string `json:"action"`
	Input  string `json:"input,omitempty"`
}

type response struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// client is one observer connection. It is the progress sink of its session.
type client struct {
	conn *websocket.Conn
	sess *session.Session

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (c *client) Send(u progress.Update) error {
	return c.writeJSON(u)
}

func (c *client) respond(err error) {
	resp := response{Success: err == nil}
	if err != nil {
		resp.Error = err.Error()
	}
	// A failed write detaches the observer through the read loop
	_ = c.writeJSON(resp)
}

func (c *client) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(v)
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = c.conn.Close()
	})
}

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	reporter := progress.NewReporter(s.logger)
	sess := session.New(c.Query("task"), reporter, s.cfg.Buffer)
	cl := &client{conn: conn, sess: sess}
	reporter.Attach(cl)
	s.register(cl)

	logger := s.logger.With(zap.String("task", sess.ID))
	logger.Info("Observer connected")
	defer func() {
		// Detaching closes the session, which cancels its run
		reporter.Detach()
		cl.close()
		s.unregister(cl)
		logger.Info("Observer disconnected")
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("Observer read failed", zap.Error(err))
			}
			return
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			cl.respond(fmt.Errorf("malformed frame: %w", err))
			continue
		}
		s.handleFrame(cl, f)
	}
}

func (s *Server) handleFrame(cl *client, f frame) {
	switch f.Action {
	case frameExecuteScript:
		if strings.TrimSpace(f.Input) == "" {
			cl.respond(fmt.Errorf("script is empty"))
			return
		}
		s.runs.Add(1)
		go func() {
			defer s.runs.Done()
			err := s.runner.ExecuteScript(cl.sess.Context(), cl.sess, f.Input)
			if err != nil {
				s.logger.Info("Script failed", zap.String("task", cl.sess.ID), zap.Error(err))
			}
			cl.respond(err)
		}()
	case framePause:
		cl.sess.Pause()
		cl.respond(nil)
	case frameResume:
		cl.sess.Resume()
		cl.respond(nil)
	default:
		cl.respond(fmt.Errorf("unknown action %q", f.Action))
	}
}

// register tracks cl under its task id. A previous observer of the same task is disconnected.
func (s *Server) register(cl *client) {
	s.mu.Lock()
	prev := s.clients[cl.sess.ID]
	s.clients[cl.sess.ID] = cl
	s.mu.Unlock()
	if prev != nil {
		prev.close()
	}
}

func (s *Server) unregister(cl *client) {
	s.mu.Lock()
	if s.clients[cl.sess.ID] == cl {
		delete(s.clients, cl.sess.ID)
	}
	s.mu.Unlock()
}
