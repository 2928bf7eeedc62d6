package carddeck

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

// HTTPCatalog reads card content from a remote catalog service:
//
//	GET /decks/<language>/<color>/count   -> {"count": N}
//	GET /decks/<language>/<color>/<index> -> {"text": "...", "usage": N}
type HTTPCatalog struct {
	baseURL string
	http    *fasthttp.Client

	defaultTimeout time.Duration
}

type HTTPOption func(*HTTPCatalog)

func WithTimeout(d time.Duration) HTTPOption {
	return func(c *HTTPCatalog) { c.defaultTimeout = d }
}

func WithMaxConnsPerHost(n int) HTTPOption {
	return func(c *HTTPCatalog) { c.http.MaxConnsPerHost = n }
}

func NewHTTPCatalog(baseURL string, opts ...HTTPOption) *HTTPCatalog {
	c := &HTTPCatalog{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 64},
		defaultTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *HTTPCatalog) Count(ctx context.Context, language string, color Color) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	path := fmt.Sprintf("/decks/%s/%s/count", language, color)
	if err := c.getJSON(ctx, path, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

func (c *HTTPCatalog) Get(ctx context.Context, language string, color Color, index int) (Card, error) {
	var card Card
	path := fmt.Sprintf("/decks/%s/%s/%d", language, color, index)
	if err := c.getJSON(ctx, path, &card); err != nil {
		return Card{}, err
	}
	return card, nil
}

func (c *HTTPCatalog) getJSON(ctx context.Context, path string, out any) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodGet)
	req.SetRequestURI(c.baseURL + path)

	deadline := time.Now().Add(c.defaultTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.http.DoDeadline(req, resp, deadline); err != nil {
		return fmt.Errorf("catalog request failed: %w", err)
	}

	status := resp.StatusCode()
	if status == fasthttp.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrCardNotFound, path)
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("catalog api error: status=%d path=%s", status, path)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(resp.Body(), out)
}
