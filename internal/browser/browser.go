// Package browser drives a local Chrome through rod and exposes it as a performer.
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"github.com/v0xg/tabmacro/internal/performer"
)

// selectLoadWindow bounds the wait for the load a selection triggers
const selectLoadWindow = 10 * time.Second

// Options configures the launched browser
type Options struct {
	Width       int
	Height      int
	Headless    bool
	Bin         string        // Chrome binary; looked up on PATH when empty
	ProfileDir  string        // Chrome/Chromium profile directory for authenticated sessions
	IdleTimeout time.Duration // upper bound on waiting for network idle after load
	Logger      *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.Width == 0 {
		o.Width = 1280
	}
	if o.Height == 0 {
		o.Height = 720
	}
	if o.IdleTimeout == 0 {
		o.IdleTimeout = 5 * time.Second
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Browser wraps the rod browser and the tabs opened through it
type Browser struct {
	opts    Options
	browser *rod.Browser
	logger  *zap.Logger

	mu    sync.Mutex
	pages map[performer.TabID]*rod.Page
}

var _ performer.Performer = (*Browser)(nil)

// Launch starts Chrome and connects to it
func Launch(opts Options) (*Browser, error) {
	opts = opts.withDefaults()

	l := launcher.New().Headless(opts.Headless)
	bin := opts.Bin
	if bin == "" {
		bin, _ = launcher.LookPath()
	}
	if bin != "" {
		l = l.Bin(bin)
	}
	if opts.ProfileDir != "" {
		l = l.UserDataDir(opts.ProfileDir)
	}

	u, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	b := rod.New().ControlURL(u)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("connect to browser: %w", err)
	}
	opts.Logger.Info("Browser launched", zap.String("control_url", u), zap.Bool("headless", opts.Headless))

	return &Browser{
		opts:    opts,
		browser: b,
		logger:  opts.Logger,
		pages:   make(map[performer.TabID]*rod.Page),
	}, nil
}

// Close cleans up browser resources
func (b *Browser) Close() {
	b.mu.Lock()
	pages := b.pages
	b.pages = make(map[performer.TabID]*rod.Page)
	b.mu.Unlock()

	for _, p := range pages {
		_ = p.Close()
	}
	if b.browser != nil {
		_ = b.browser.Close()
	}
}

// OpenTab opens url in a new tab and waits for it to load
func (b *Browser) OpenTab(ctx context.Context, url string) (performer.TabID, error) {
	page, err := b.browser.Context(ctx).Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		return "", fmt.Errorf("open tab %s: %w", url, err)
	}
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             b.opts.Width,
		Height:            b.opts.Height,
		DeviceScaleFactor: 1,
	}); err != nil {
		b.logger.Debug("Failed to set viewport", zap.Error(err))
	}

	if err := b.waitLoad(ctx, page); err != nil {
		if cerr := page.Close(); cerr != nil {
			b.logger.Debug("Failed to close tab", zap.Error(cerr))
		}
		return "", err
	}

	id := performer.TabID(page.TargetID)
	b.mu.Lock()
	b.pages[id] = page
	b.mu.Unlock()
	return id, nil
}

// Navigate loads url in an existing tab
func (b *Browser) Navigate(ctx context.Context, tab performer.TabID, url string) error {
	page, err := b.page(tab)
	if err != nil {
		return err
	}
	if err := page.Context(ctx).Navigate(url); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	return b.waitLoad(ctx, page)
}

// WaitForLoad blocks until the tab reports load complete
func (b *Browser) WaitForLoad(ctx context.Context, tab performer.TabID) error {
	page, err := b.page(tab)
	if err != nil {
		return err
	}
	return b.waitLoad(ctx, page)
}

// Send runs a surface request inside the tab
func (b *Browser) Send(ctx context.Context, tab performer.TabID, req performer.Request) (performer.Response, error) {
	page, err := b.page(tab)
	if err != nil {
		return performer.Response{}, err
	}

	if req.Action != performer.ActionSelect {
		return evalRequest(page.Context(ctx), req)
	}

	// Selection may navigate; listen for the load before triggering it
	waitCtx, cancel := context.WithTimeout(ctx, selectLoadWindow)
	defer cancel()
	waitNav := page.Context(waitCtx).WaitNavigation(proto.PageLifecycleEventNameLoad)

	resp, err := evalRequest(page.Context(ctx), req)
	if err != nil || resp.Error != "" {
		return resp, err
	}
	waitNav()
	if err := ctx.Err(); err != nil {
		return resp, err
	}
	return resp, nil
}

func (b *Browser) page(tab performer.TabID) (*rod.Page, error) {
	if tab == "" {
		return nil, performer.ErrNoActiveTab
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	page, ok := b.pages[tab]
	if !ok {
		return nil, fmt.Errorf("%w: %s", performer.ErrUnknownTab, tab)
	}
	return page, nil
}
