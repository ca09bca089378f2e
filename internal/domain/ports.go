package domain

import (
	"context"
	"encoding/json"
	"net/url"
)

// GitlabAPI is the authenticated transport to the GitLab REST API. Paths are
// relative to the /api/v4 root.
type GitlabAPI interface {
	// Get returns the response body and the declared total page count, 1 when
	// the server does not announce one.
	Get(ctx context.Context, path string, query url.Values) (json.RawMessage, int, error)
	Post(ctx context.Context, path string, body any) (json.RawMessage, error)
}

type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

type ReportSink interface {
	Write(ctx context.Context, r Report) error
}
