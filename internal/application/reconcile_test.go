package application

import (
	"context"
	"sync"
	"testing"

	"github.com/davarch/ci-reconciler/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeTags struct {
	mu    sync.Mutex
	tags  map[domain.ProjectID][]string
	asked []domain.ProjectID
}

func (f *fakeTags) Tags(_ context.Context, p domain.ProjectID) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.asked = append(f.asked, p)
	return f.tags[p]
}

func manual(id, project, pipeline uint64) domain.JobInfo {
	return domain.JobInfo{
		ID:         domain.JobID(id),
		ProjectID:  domain.ProjectID(project),
		PipelineID: domain.PipelineID(pipeline),
		Status:     domain.ScopeManual,
	}
}

func byProject(jobs ...domain.JobInfo) domain.JobsByProject {
	out := domain.JobsByProject{}
	for _, j := range jobs {
		if out[j.ProjectID] == nil {
			out[j.ProjectID] = domain.JobSet{}
		}
		out[j.ProjectID].Add(j)
	}
	return out
}

func TestPipelinesToCancel_KeepsNewest(t *testing.T) {
	jobs := byProject(
		manual(1, 100, 10),
		manual(2, 100, 15),
		manual(3, 100, 22),
		manual(4, 100, 22),
		manual(5, 200, 7),
		manual(6, 200, 7),
	)

	got := PipelinesToCancel(jobs)

	assert.Equal(t, map[domain.ProjectID]map[domain.PipelineID]struct{}{
		100: {10: {}, 15: {}},
	}, got)
}

func TestPipelinesToCancel_IgnoresNonManual(t *testing.T) {
	running := manual(2, 100, 30)
	running.Status = domain.ScopeRunning

	got := PipelinesToCancel(byProject(manual(1, 100, 10), running))

	assert.Empty(t, got)
}

func TestValidateJobs_Totality(t *testing.T) {
	tagged := manual(3, 100, 22)
	tagged.GitTag = "v1"
	tagged.SourceID = 300
	bad := manual(4, 200, 9)
	bad.GitTag = "nope"
	plain := manual(5, 200, 9)

	jobs := byProject(manual(1, 100, 10), manual(2, 100, 15), tagged, bad, plain)
	tags := &fakeTags{tags: map[domain.ProjectID][]string{300: {"v0", "v1"}, 200: {"v1"}}}

	got := ValidateJobs(context.Background(), jobs, tags, zaptest.NewLogger(t))

	require.Len(t, got, jobs.Count())
	assert.Equal(t, domain.Decision{Play: false, Reason: domain.Duplicated}, got[manual(1, 100, 10)])
	assert.Equal(t, domain.Decision{Play: false, Reason: domain.Duplicated}, got[manual(2, 100, 15)])
	assert.Equal(t, domain.Decision{Play: true}, got[tagged])
	assert.Equal(t, domain.Decision{Play: false, Reason: domain.InvalidTag}, got[bad])
	assert.Equal(t, domain.Decision{Play: true}, got[plain])

	for job, d := range got {
		if d.Play {
			assert.False(t, d.Reason.IsSet(), "job %s", job)
			continue
		}
		assert.Contains(t, []domain.MailReason{domain.Duplicated, domain.InvalidTag}, d.Reason)
	}
}

func TestValidateJobs_SourceProjectTakesPrecedence(t *testing.T) {
	job := manual(1, 100, 10)
	job.GitTag = "v1"
	job.SourceID = 300

	tags := &fakeTags{tags: map[domain.ProjectID][]string{100: {"v1"}, 300: {"v2"}}}

	got := ValidateJobs(context.Background(), byProject(job), tags, zaptest.NewLogger(t))

	assert.Equal(t, domain.InvalidTag, got[job].Reason)
	assert.Equal(t, []domain.ProjectID{300}, tags.asked)
}

func TestValidateJobs_TagWithoutSourceUsesOwnProject(t *testing.T) {
	job := manual(1, 100, 10)
	job.GitTag = "v1"

	tags := &fakeTags{tags: map[domain.ProjectID][]string{100: {"v1"}}}

	got := ValidateJobs(context.Background(), byProject(job), tags, zaptest.NewLogger(t))

	assert.Equal(t, domain.Decision{Play: true}, got[job])
	assert.Equal(t, []domain.ProjectID{100}, tags.asked)
}

func TestValidateJobs_DuplicateSkipsTagLookup(t *testing.T) {
	old := manual(1, 100, 10)
	old.GitTag = "v1"
	old.SourceID = 300

	tags := &fakeTags{}
	got := ValidateJobs(context.Background(), byProject(old, manual(2, 100, 11)), tags, zaptest.NewLogger(t))

	assert.Equal(t, domain.Duplicated, got[old].Reason)
	assert.Empty(t, tags.asked)
}

func TestValidateJobs_TagsListedOncePerProject(t *testing.T) {
	a := manual(1, 100, 10)
	a.GitTag, a.SourceID = "v1", 300
	b := manual(2, 200, 20)
	b.GitTag, b.SourceID = "v1", 300

	tags := &fakeTags{tags: map[domain.ProjectID][]string{300: {"v1"}}}
	got := ValidateJobs(context.Background(), byProject(a, b), tags, zaptest.NewLogger(t))

	assert.True(t, got[a].Play)
	assert.True(t, got[b].Play)
	assert.Equal(t, []domain.ProjectID{300}, tags.asked)
}
