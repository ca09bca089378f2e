package domain

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strconv"
	"sync"
	"time"
)

var ErrMockNotFound = errors.New("gitlab 404 Not Found")

type MockResponse struct {
	Body       string
	TotalPages int
	Err        error
}

// MockGitLab serves canned responses keyed by path. Paged requests (those
// carrying a "page" query) pick Responses[path][page-1]; unpaged requests walk
// the list one call at a time and then stick on the last entry, which is how
// status sequences are scripted.
type MockGitLab struct {
	Responses     map[string][]MockResponse
	PostResponses map[string]MockResponse
	Delay         time.Duration

	mu          sync.Mutex
	Calls       []string
	Posts       []string
	cursor      map[string]int
	inflight    int
	MaxInflight int
}

func (m *MockGitLab) Get(ctx context.Context, path string, query url.Values) (json.RawMessage, int, error) {
	m.enter(path, query)
	defer m.leave()

	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	list, ok := m.Responses[path]
	if !ok || len(list) == 0 {
		return nil, 0, ErrMockNotFound
	}

	var r MockResponse
	if p := query.Get("page"); p != "" {
		n, _ := strconv.Atoi(p)
		if n < 1 || n > len(list) {
			return json.RawMessage("[]"), len(list), nil
		}
		r = list[n-1]
	} else {
		if m.cursor == nil {
			m.cursor = make(map[string]int)
		}
		i := m.cursor[path]
		if i >= len(list) {
			i = len(list) - 1
		}
		r = list[i]
		m.cursor[path] = i + 1
	}

	if r.Err != nil {
		return nil, 0, r.Err
	}
	pages := r.TotalPages
	if pages == 0 && query.Get("page") == "" {
		pages = 1
	}
	return json.RawMessage(r.Body), pages, nil
}

func (m *MockGitLab) Post(_ context.Context, path string, _ any) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Posts = append(m.Posts, path)
	r, ok := m.PostResponses[path]
	if !ok {
		return json.RawMessage("{}"), nil
	}
	if r.Err != nil {
		return nil, r.Err
	}
	return json.RawMessage(r.Body), nil
}

func (m *MockGitLab) CallCount(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, c := range m.Calls {
		if c == path {
			n++
		}
	}
	return n
}

func (m *MockGitLab) enter(path string, _ url.Values) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, path)
	m.inflight++
	if m.inflight > m.MaxInflight {
		m.MaxInflight = m.inflight
	}
}

func (m *MockGitLab) leave() {
	m.mu.Lock()
	m.inflight--
	m.mu.Unlock()
}

type MockMailer struct {
	mu       sync.Mutex
	Messages []Message
	Err      error
}

func (n *MockMailer) Send(_ context.Context, msg Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Messages = append(n.Messages, msg)
	return n.Err
}

type MockReportSink struct {
	Reports []Report
	Err     error
}

func (c *MockReportSink) Write(_ context.Context, r Report) error {
	if c.Err != nil {
		return c.Err
	}
	c.Reports = append(c.Reports, r)
	return nil
}
