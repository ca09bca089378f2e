package gitlab_http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const apiRoot = "/api/v4"

type Client struct {
	baseUrl string
	token   string
	hc      *http.Client
	limiter *rate.Limiter
}

// New builds the API client. rps <= 0 disables request pacing.
func New(baseUrl string, token string, timeout time.Duration, rps float64) *Client {
	tr := &http.Transport{
		DialContext:         (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		TLSHandshakeTimeout: 5 * time.Second,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if rps > 0 {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}

	return &Client{
		baseUrl: trimSlash(baseUrl),
		token:   token,
		hc:      &http.Client{Transport: tr, Timeout: timeout},
		limiter: limiter,
	}
}

func (c *Client) Get(ctx context.Context, path string, query url.Values) (json.RawMessage, int, error) {
	u := c.url(path)
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, 0, err
	}

	body, hdr, err := c.do(req)
	if err != nil {
		return nil, 0, err
	}

	return body, totalPages(hdr), nil
}

func (c *Client) Post(ctx context.Context, path string, body any) (json.RawMessage, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode body for %s: %w", path, err)
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(path), rd)
	if err != nil {
		return nil, err
	}
	if rd != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}

	out, _, err := c.do(req)
	return out, err
}

func (c *Client) do(req *http.Request) (json.RawMessage, http.Header, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, nil, err
	}

	req.Header.Set("PRIVATE-TOKEN", c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, nil, fmt.Errorf("gitlab %s %s: %s", req.Method, req.URL.Path, resp.Status)
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", req.URL.Path, err)
	}

	if !json.Valid(b) {
		return nil, nil, fmt.Errorf("gitlab %s %s: response is not json", req.Method, req.URL.Path)
	}

	return json.RawMessage(b), resp.Header, nil
}

func (c *Client) url(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseUrl + apiRoot + path
}

func totalPages(h http.Header) int {
	n, err := strconv.Atoi(strings.TrimSpace(h.Get("X-Total-Pages")))
	if err != nil || n < 0 {
		return 1
	}
	return n
}

func trimSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}
