package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/v0xg/tabmacro/internal/performer"
)

type helloMessage struct {
	Type    string `json:"type"`
	Token   string `json:"token,omitempty"`
	Client  string `json:"client,omitempty"`
	Version int    `json:"version,omitempty"`
}

type welcomeMessage struct {
	Type    string `json:"type"`
	Version int    `json:"version"`
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	Method  string          `json:"method,omitempty"`
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type callResult struct {
	Result json.RawMessage
	Err    error
}

func (b *Bridge) handleWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{CheckOrigin: b.checkOrigin}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	if err := b.accept(conn); err != nil {
		b.logger.Warn("Rejected extension connection", zap.Error(err))
		_ = conn.Close()
	}
}

// checkOrigin admits extensions and non-browser clients. Web pages are only
// admitted when a token is configured, because the hello then authenticates them.
func (b *Bridge) checkOrigin(r *http.Request) bool {
	if b.cfg.Token != "" {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if origin == "null" {
		return false
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return false
	}
	return true
}

func (b *Bridge) accept(conn *websocket.Conn) error {
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return err
	}
	var hello helloMessage
	if err := json.Unmarshal(data, &hello); err != nil {
		return fmt.Errorf("parse hello: %w", err)
	}
	if strings.ToLower(strings.TrimSpace(hello.Type)) != "hello" {
		return fmt.Errorf("expected hello, got %q", hello.Type)
	}
	if b.cfg.Token != "" && hello.Token != b.cfg.Token {
		return errors.New("unauthorized")
	}

	_ = conn.SetReadDeadline(time.Time{})
	if err := b.writeJSON(conn, welcomeMessage{Type: "welcome", Version: protocolVersion}); err != nil {
		return err
	}

	b.mu.Lock()
	if b.conn != nil {
		_ = b.conn.Close()
		b.failAllPending(performer.ErrNotConnected)
	}
	b.conn = conn
	b.lastHello = hello
	b.mu.Unlock()

	b.logger.Info("Extension connected", zap.String("client", hello.Client), zap.Int("version", hello.Version))
	go b.readLoop(conn)
	return nil
}

func (b *Bridge) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		b.handleMessage(data)
	}

	b.mu.Lock()
	if b.conn == conn {
		b.conn = nil
		b.lastHello = helloMessage{}
		b.failAllPending(performer.ErrNotConnected)
		b.logger.Info("Extension disconnected")
	}
	b.mu.Unlock()
	_ = conn.Close()
}

func (b *Bridge) handleMessage(data []byte) {
	var resp rpcResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return
	}
	if strings.TrimSpace(resp.JSONRPC) != "2.0" || resp.Method != "" {
		// Extension-initiated notifications are not part of the protocol
		return
	}

	id := rpcIDToString(resp.ID)
	if id == "" {
		return
	}

	out := callResult{Result: resp.Result}
	if resp.Error != nil {
		out.Err = fmt.Errorf("rpc error %d: %s", resp.Error.Code, resp.Error.Message)
	}

	b.pendingMu.Lock()
	ch := b.pending[id]
	delete(b.pending, id)
	b.pendingMu.Unlock()
	if ch != nil {
		ch <- out
	}
}

func (b *Bridge) failAllPending(err error) {
	b.pendingMu.Lock()
	defer b.pendingMu.Unlock()
	for id, ch := range b.pending {
		delete(b.pending, id)
		ch <- callResult{Err: err}
	}
}

func (b *Bridge) writeJSON(conn *websocket.Conn, v any) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	if conn == nil {
		return performer.ErrNotConnected
	}
	return conn.WriteJSON(v)
}

func rpcIDToString(id any) string {
	switch v := id.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%v", v)
	case json.Number:
		return v.String()
	default:
		return ""
	}
}
