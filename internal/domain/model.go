package domain

import (
	"strings"
	"time"
)

type (
	GroupID    uint64
	ProjectID  uint64
	JobID      uint64
	PipelineID uint64
)

// JobScope is a GitLab job lifecycle state as it appears on the wire.
// https://docs.gitlab.com/ee/api/jobs.html#list-project-jobs
type JobScope string

const (
	ScopeCreated            JobScope = "created"
	ScopePending            JobScope = "pending"
	ScopeRunning            JobScope = "running"
	ScopeFailed             JobScope = "failed"
	ScopeSuccess            JobScope = "success"
	ScopeCanceled           JobScope = "canceled"
	ScopeSkipped            JobScope = "skipped"
	ScopeWaitingForResource JobScope = "waiting_for_resource"
	ScopeManual             JobScope = "manual"
	ScopeInvalid            JobScope = "invalid"
)

var AllScopes = []JobScope{
	ScopeCreated,
	ScopePending,
	ScopeRunning,
	ScopeFailed,
	ScopeSuccess,
	ScopeCanceled,
	ScopeSkipped,
	ScopeWaitingForResource,
	ScopeManual,
	ScopeInvalid,
}

// ParseJobScope never fails: anything it does not recognize is ScopeInvalid.
func ParseJobScope(s string) JobScope {
	switch v := JobScope(strings.ToLower(strings.TrimSpace(s))); v {
	case ScopeCreated, ScopePending, ScopeRunning, ScopeFailed, ScopeSuccess,
		ScopeCanceled, ScopeSkipped, ScopeWaitingForResource, ScopeManual:
		return v
	default:
		return ScopeInvalid
	}
}

func (s JobScope) String() string {
	if s == "" {
		return string(ScopeInvalid)
	}
	return string(s)
}

// IsPending reports whether a job in this state may still change on its own.
func (s JobScope) IsPending() bool {
	switch s {
	case ScopePending, ScopeRunning, ScopeWaitingForResource, ScopeManual:
		return true
	}
	return false
}

type Message struct {
	To      []string
	Subject string
	HTML    string
}

type Report struct {
	RunID    string
	Started  time.Time
	Finished time.Time
	Outcomes []Outcome
}
