// Package fetch downloads pages outside the browser and extracts their text.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const maxBodyBytes = 5 << 20

// Client fetches a URL and returns the visible text of a selector
type Client struct {
	http      *http.Client
	userAgent string
}

// NewClient creates a client; zero timeout means 30s
func NewClient(timeout time.Duration, userAgent string) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if userAgent == "" {
		userAgent = "tabmacro/1.0"
	}
	return &Client{
		http:      &http.Client{Timeout: timeout},
		userAgent: userAgent,
	}
}

// Fetch GETs url and returns the text of all elements matching selector,
// or of the whole body when selector is empty.
func (c *Client) Fetch(ctx context.Context, url, selector string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build request for %s: %w", url, err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("fetch %s: unexpected status %s", url, resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("parse %s: %w", url, err)
	}

	if selector == "" {
		doc.Find("script, style, noscript").Remove()
		return normalizeSpace(doc.Find("body").Text()), nil
	}

	sel := doc.Find(selector)
	if sel.Length() == 0 {
		return "", fmt.Errorf("no element matches %s at %s", selector, url)
	}
	parts := make([]string, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) {
		if text := normalizeSpace(s.Text()); text != "" {
			parts = append(parts, text)
		}
	})
	return strings.Join(parts, "\n"), nil
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
