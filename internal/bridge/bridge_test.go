package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/v0xg/tabmacro/internal/performer"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func startBridge(t *testing.T, token string) *Bridge {
	t.Helper()
	b := New(Config{ListenAddr: "127.0.0.1:0", Token: token, Timeout: 2 * time.Second, Logger: zaptest.NewLogger(t)})
	require.NoError(t, b.Start())
	t.Cleanup(func() {
		_ = b.Close(context.Background())
	})
	return b
}

// fakeExtension performs the handshake and answers tab calls the way the extension does
func fakeExtension(t *testing.T, b *Bridge, token string) (*websocket.Conn, <-chan rpcRequest) {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+b.Addr()+"/ws", nil)
	require.NoError(t, err)

	require.NoError(t, conn.WriteJSON(helloMessage{Type: "hello", Token: token, Client: "test_extension", Version: 1}))
	var welcome welcomeMessage
	require.NoError(t, conn.ReadJSON(&welcome))
	require.Equal(t, "welcome", welcome.Type)
	require.Equal(t, protocolVersion, welcome.Version)

	seen := make(chan rpcRequest, 16)
	go func() {
		defer close(seen)
		for {
			var raw struct {
				rpcRequest
				Params json.RawMessage `json:"params"`
			}
			if err := conn.ReadJSON(&raw); err != nil {
				return
			}
			seen <- raw.rpcRequest

			resp := rpcResponse{JSONRPC: "2.0", ID: raw.ID}
			switch raw.Method {
			case MethodOpenTab:
				resp.Result = json.RawMessage(`{"tabId":"tab-1"}`)
			case MethodNavigate, MethodWaitForLoad:
				resp.Result = json.RawMessage(`{}`)
			case MethodSend:
				var p struct {
					Request performer.Request `json:"request"`
				}
				_ = json.Unmarshal(raw.Params, &p)
				switch p.Request.QuerySelector {
				case ".title":
					resp.Result = json.RawMessage(`{"result":"<h1 class=\"title\">Widgets</h1>"}`)
				case "#missing":
					resp.Result = json.RawMessage(`{"error":"no element matches #missing"}`)
				default:
					resp.Result = json.RawMessage(`{}`)
				}
			default:
				resp.Error = &rpcError{Code: -32601, Message: "method not found"}
			}
			_ = conn.WriteJSON(resp)
		}
	}()

	require.NoError(t, b.WaitForConnected(context.Background(), time.Second))
	return conn, seen
}

func TestBridgeRequiresConnection(t *testing.T) {
	b := New(Config{ListenAddr: "127.0.0.1:0"})
	_, err := b.OpenTab(context.Background(), "https://example.com")
	assert.ErrorIs(t, err, performer.ErrNotConnected)

	_, err = b.Send(context.Background(), "", performer.Request{Action: performer.ActionClick})
	assert.ErrorIs(t, err, performer.ErrNoActiveTab)
}

func TestBridgeRejectsNonLoopback(t *testing.T) {
	b := New(Config{ListenAddr: "0.0.0.0:0"})
	assert.Error(t, b.Start())
}

func TestBridgePerformer(t *testing.T) {
	b := startBridge(t, "test-token")
	conn, seen := fakeExtension(t, b, "test-token")

	client, version := b.LastHello()
	assert.Equal(t, "test_extension", client)
	assert.Equal(t, 1, version)

	ctx := context.Background()
	tab, err := b.OpenTab(ctx, "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, performer.TabID("tab-1"), tab)
	assert.Equal(t, MethodOpenTab, (<-seen).Method)

	require.NoError(t, b.WaitForLoad(ctx, tab))
	assert.Equal(t, MethodWaitForLoad, (<-seen).Method)

	resp, err := b.Send(ctx, tab, performer.Request{Action: performer.ActionInfer, QuerySelector: ".title", Text: "what is this"})
	require.NoError(t, err)
	assert.Equal(t, `<h1 class="title">Widgets</h1>`, resp.Result)
	<-seen

	_, err = b.Send(ctx, tab, performer.Request{Action: performer.ActionClick, QuerySelector: "#missing"})
	var surfaceErr *performer.SurfaceError
	require.True(t, errors.As(err, &surfaceErr))
	assert.Equal(t, performer.ActionClick, surfaceErr.Action)
	<-seen

	_, err = b.Call(ctx, "tabs.unknown", nil)
	assert.ErrorContains(t, err, "method not found")
	<-seen

	_ = conn.Close()
	for range seen {
	}
}

func TestBridgeRejectsBadToken(t *testing.T) {
	b := startBridge(t, "expected")

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+b.Addr()+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(helloMessage{Type: "hello", Token: "wrong"}))
	var welcome welcomeMessage
	assert.Error(t, conn.ReadJSON(&welcome))
	assert.False(t, b.Connected())
}

func TestBridgeOriginWithoutToken(t *testing.T) {
	b := startBridge(t, "")
	u := "ws://" + b.Addr() + "/ws"

	for _, origin := range []string{"https://evil.example", "http://localhost:3000", "null"} {
		_, resp, err := websocket.DefaultDialer.Dial(u, http.Header{"Origin": {origin}})
		require.ErrorIs(t, err, websocket.ErrBadHandshake, "origin %s", origin)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		_ = resp.Body.Close()
	}

	conn, _, err := websocket.DefaultDialer.Dial(u, http.Header{"Origin": {"chrome-extension://abcdefghijklmnop"}})
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(helloMessage{Type: "hello"}))
	var welcome welcomeMessage
	require.NoError(t, conn.ReadJSON(&welcome))
	assert.Equal(t, "welcome", welcome.Type)
}

func TestBridgeOriginWithToken(t *testing.T) {
	b := startBridge(t, "secret")

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+b.Addr()+"/ws", http.Header{"Origin": {"https://example.com"}})
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(helloMessage{Type: "hello", Token: "secret"}))
	var welcome welcomeMessage
	require.NoError(t, conn.ReadJSON(&welcome))
	assert.Equal(t, "welcome", welcome.Type)
}

func TestBridgeFailsPendingOnDisconnect(t *testing.T) {
	b := startBridge(t, "")

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+b.Addr()+"/ws", nil)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(helloMessage{Type: "hello"}))
	var welcome welcomeMessage
	require.NoError(t, conn.ReadJSON(&welcome))
	require.NoError(t, b.WaitForConnected(context.Background(), time.Second))

	errCh := make(chan error, 1)
	go func() {
		_, err := b.Call(context.Background(), MethodWaitForLoad, tabParams{TabID: "tab-1"})
		errCh <- err
	}()

	// read the request, then drop the connection without answering
	var req rpcRequest
	require.NoError(t, conn.ReadJSON(&req))
	_ = conn.Close()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, performer.ErrNotConnected)
	case <-time.After(time.Second):
		t.Fatal("pending call was not failed after disconnect")
	}
}
