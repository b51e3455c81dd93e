package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"go.uber.org/zap"

	"github.com/v0xg/tabmacro/internal/performer"
)

// surfaceJS answers a performer.Request from inside the page.
// It always returns a JSON-encoded performer.Response.
const surfaceJS = `(req) => {
	const done = (result) => JSON.stringify({result: result || ""});
	const fail = (msg) => JSON.stringify({error: msg});
	const selector = req.action === "select" ? req.filterQuerySelector : req.queryselector;
	let el;
	try {
		el = document.querySelector(selector);
	} catch (e) {
		return fail("invalid selector " + selector + ": " + e.message);
	}
	if (!el) return fail("no element matches " + selector);

	switch (req.action) {
	case "input":
		el.focus();
		el.value = req.text || "";
		el.dispatchEvent(new Event("input", {bubbles: true}));
		el.dispatchEvent(new Event("change", {bubbles: true}));
		return done("");
	case "click":
		el.click();
		return done("");
	case "select":
		el.value = req.filterValue || "";
		el.dispatchEvent(new Event("change", {bubbles: true}));
		return done("");
	case "infer":
		return done(el.outerHTML);
	}
	return fail("unsupported action " + req.action);
}`

func evalRequest(page *rod.Page, req performer.Request) (performer.Response, error) {
	obj, err := page.Eval(surfaceJS, req)
	if err != nil {
		return performer.Response{}, fmt.Errorf("%s on %s: %w", req.Action, req.QuerySelector+req.FilterQuerySelector, err)
	}

	var resp performer.Response
	if err := json.Unmarshal([]byte(obj.Value.String()), &resp); err != nil {
		return performer.Response{}, fmt.Errorf("decode %s response: %w", req.Action, err)
	}
	return resp, resp.Err(req)
}

// waitLoad waits for the load event, then gives the page a bounded window to
// go network-idle so late XHR-driven content is present (SPAs need this).
func (b *Browser) waitLoad(ctx context.Context, page *rod.Page) error {
	if err := page.Context(ctx).WaitLoad(); err != nil {
		return fmt.Errorf("wait for load: %w", err)
	}

	start := time.Now()
	// Use timeout to avoid hanging on persistent connections (WebSockets, polling, etc.)
	page.Context(ctx).Timeout(b.opts.IdleTimeout).WaitRequestIdle(500*time.Millisecond, nil, nil, nil)()
	b.logger.Debug("Page settled", zap.Duration("idle_wait", time.Since(start)))

	return ctx.Err()
}
