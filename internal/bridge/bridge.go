// Package bridge hosts a loopback WebSocket endpoint a browser extension
// connects to, and drives the extension's tabs as a performer.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/v0xg/tabmacro/internal/performer"
)

const protocolVersion = 1

// JSON-RPC methods the extension implements
const (
	MethodOpenTab     = "tabs.open"
	MethodNavigate    = "tabs.navigate"
	MethodWaitForLoad = "tabs.waitForLoad"
	MethodSend        = "tabs.send"
)

type Config struct {
	ListenAddr string
	Token      string
	Timeout    time.Duration
	Logger     *zap.Logger
}

func (c Config) withDefaults() Config {
	out := c
	out.ListenAddr = strings.TrimSpace(out.ListenAddr)
	out.Token = strings.TrimSpace(out.Token)
	if out.ListenAddr == "" {
		out.ListenAddr = "127.0.0.1:17333"
	}
	if out.Timeout <= 0 {
		out.Timeout = 60 * time.Second
	}
	if out.Logger == nil {
		out.Logger = zap.NewNop()
	}
	return out
}

// Bridge forwards performer calls to the connected extension as JSON-RPC requests.
// Only one extension connection is active at a time; a new hello replaces the old one.
type Bridge struct {
	cfg    Config
	logger *zap.Logger

	mu        sync.RWMutex
	ln        net.Listener
	httpSrv   *http.Server
	addr      string
	conn      *websocket.Conn
	lastHello helloMessage

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan callResult
	nextID    atomic.Uint64
}

var _ performer.Performer = (*Bridge)(nil)

func New(cfg Config) *Bridge {
	cfg = cfg.withDefaults()
	return &Bridge{
		cfg:     cfg,
		logger:  cfg.Logger.Named("bridge"),
		pending: make(map[string]chan callResult),
	}
}

func (b *Bridge) Addr() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.addr
}

func (b *Bridge) Connected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.conn != nil
}

// Start binds the listener and serves /ws in the background
func (b *Bridge) Start() error {
	b.mu.Lock()
	if b.ln != nil {
		b.mu.Unlock()
		return nil
	}
	cfg := b.cfg
	b.mu.Unlock()

	host, _, err := net.SplitHostPort(cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("invalid bridge listen address %q: %w", cfg.ListenAddr, err)
	}
	if !isLoopback(host) {
		return fmt.Errorf("bridge listen address must bind to loopback, got %q", cfg.ListenAddr)
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %q: %w", cfg.ListenAddr, err)
	}
	addr := ln.Addr().String()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", b.handleWS)
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	b.mu.Lock()
	b.ln = ln
	b.httpSrv = httpSrv
	b.addr = addr
	b.mu.Unlock()

	go func() {
		_ = httpSrv.Serve(ln)
	}()
	b.logger.Info("Extension bridge listening", zap.String("addr", addr))
	return nil
}

func (b *Bridge) Close(ctx context.Context) error {
	b.mu.Lock()
	srv := b.httpSrv
	conn := b.conn
	b.httpSrv = nil
	b.conn = nil
	b.ln = nil
	b.addr = ""
	b.lastHello = helloMessage{}
	b.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// WaitForConnected polls until an extension has completed the handshake
func (b *Bridge) WaitForConnected(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = b.cfg.Timeout
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if b.Connected() {
			return nil
		}
		select {
		case <-waitCtx.Done():
			return waitCtx.Err()
		case <-ticker.C:
		}
	}
}

type openTabResult struct {
	TabID string `json:"tabId"`
}

type tabParams struct {
	TabID   performer.TabID    `json:"tabId"`
	URL     string             `json:"url,omitempty"`
	Request *performer.Request `json:"request,omitempty"`
}

func (b *Bridge) OpenTab(ctx context.Context, url string) (performer.TabID, error) {
	raw, err := b.Call(ctx, MethodOpenTab, map[string]string{"url": url})
	if err != nil {
		return "", fmt.Errorf("open tab %s: %w", url, err)
	}
	var out openTabResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode open tab result: %w", err)
	}
	if out.TabID == "" {
		return "", errors.New("extension returned an empty tab id")
	}
	return performer.TabID(out.TabID), nil
}

func (b *Bridge) Navigate(ctx context.Context, tab performer.TabID, url string) error {
	if tab == "" {
		return performer.ErrNoActiveTab
	}
	_, err := b.Call(ctx, MethodNavigate, tabParams{TabID: tab, URL: url})
	return err
}

func (b *Bridge) WaitForLoad(ctx context.Context, tab performer.TabID) error {
	if tab == "" {
		return performer.ErrNoActiveTab
	}
	_, err := b.Call(ctx, MethodWaitForLoad, tabParams{TabID: tab})
	return err
}

func (b *Bridge) Send(ctx context.Context, tab performer.TabID, req performer.Request) (performer.Response, error) {
	if tab == "" {
		return performer.Response{}, performer.ErrNoActiveTab
	}
	raw, err := b.Call(ctx, MethodSend, tabParams{TabID: tab, Request: &req})
	if err != nil {
		return performer.Response{}, err
	}
	var resp performer.Response
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &resp); err != nil {
			return performer.Response{}, fmt.Errorf("decode %s response: %w", req.Action, err)
		}
	}
	return resp, resp.Err(req)
}

// Call issues one JSON-RPC request and waits for the matching response
func (b *Bridge) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	method = strings.TrimSpace(method)
	if method == "" {
		return nil, errors.New("method is required")
	}

	b.mu.RLock()
	conn := b.conn
	timeout := b.cfg.Timeout
	b.mu.RUnlock()
	if conn == nil {
		return nil, performer.ErrNotConnected
	}

	id := strconv.FormatUint(b.nextID.Add(1), 10)
	ch := make(chan callResult, 1)

	b.pendingMu.Lock()
	b.pending[id] = ch
	b.pendingMu.Unlock()

	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	}
	if err := b.writeJSON(conn, req); err != nil {
		b.dropPending(id)
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case <-callCtx.Done():
		b.dropPending(id)
		return nil, fmt.Errorf("%s: %w", method, callCtx.Err())
	case res := <-ch:
		return res.Result, res.Err
	}
}

func (b *Bridge) dropPending(id string) {
	b.pendingMu.Lock()
	delete(b.pending, id)
	b.pendingMu.Unlock()
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// LastHello reports the client name and protocol version of the connected extension
func (b *Bridge) LastHello() (client string, version int) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return strings.TrimSpace(b.lastHello.Client), b.lastHello.Version
}
