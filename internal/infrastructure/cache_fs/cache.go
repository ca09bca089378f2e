package cache_fs

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/davarch/ci-reconciler/internal/domain"
)

// ReportFile keeps the outcome of the last run as JSON on disk.
type ReportFile struct {
	path string
}

func New(path string) *ReportFile { return &ReportFile{path: path} }

type outcomeJSON struct {
	JobID      uint64 `json:"job_id"`
	ProjectID  uint64 `json:"project_id"`
	Project    string `json:"project"`
	PipelineID uint64 `json:"pipeline_id,omitempty"`
	Status     string `json:"status"`
	Reason     string `json:"reason"`
	GitTag     string `json:"git_tag,omitempty"`
	Branch     string `json:"branch,omitempty"`
	URL        string `json:"url,omitempty"`
}

type reportJSON struct {
	RunID    string        `json:"run_id"`
	Started  time.Time     `json:"started"`
	Finished time.Time     `json:"finished"`
	Outcomes []outcomeJSON `json:"outcomes"`
}

func (c *ReportFile) Write(_ context.Context, r domain.Report) error {
	if c.path == "" {
		return errors.New("report path is empty")
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return err
	}

	lf, err := os.OpenFile(c.path+".lock", os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return err
	}
	defer func() { _ = lf.Close() }()

	if runtime.GOOS != "windows" {
		if err := syscall.Flock(int(lf.Fd()), syscall.LOCK_EX); err != nil {
			return err
		}
		defer func() { _ = syscall.Flock(int(lf.Fd()), syscall.LOCK_UN) }()
	}

	out := reportJSON{
		RunID:    r.RunID,
		Started:  r.Started,
		Finished: r.Finished,
		Outcomes: make([]outcomeJSON, 0, len(r.Outcomes)),
	}
	for _, o := range r.Outcomes {
		out.Outcomes = append(out.Outcomes, outcomeJSON{
			JobID:      uint64(o.Job.ID),
			ProjectID:  uint64(o.Job.ProjectID),
			Project:    o.Job.ProjectName,
			PipelineID: uint64(o.Job.PipelineID),
			Status:     o.Job.Status.String(),
			Reason:     o.Reason.String(),
			GitTag:     o.Job.GitTag,
			Branch:     o.Job.Branch,
			URL:        o.Job.URL,
		})
	}

	tmp := c.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}

	return os.Rename(tmp, c.path)
}
