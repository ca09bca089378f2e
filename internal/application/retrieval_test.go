package application

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/davarch/ci-reconciler/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func page(body string, total int) domain.MockResponse {
	return domain.MockResponse{Body: body, TotalPages: total}
}

func one(body string) []domain.MockResponse {
	return []domain.MockResponse{{Body: body}}
}

func TestListProjects_UnionOfAllPages(t *testing.T) {
	gl := &domain.MockGitLab{Responses: map[string][]domain.MockResponse{
		"/groups/9/projects": {
			page(`[{"id":1},{"id":2}]`, 5),
			page(`[{"id":3}]`, 5),
			page(`[{"id":4}]`, 5),
			page(`[{"id":5},{"id":1}]`, 5),
			page(`[{"id":6}]`, 5),
		},
	}}
	r := NewRetriever(gl, zaptest.NewLogger(t), 4, "")

	got := r.ListProjects(context.Background(), 9)

	assert.Len(t, got, 6)
	assert.Equal(t, 5, gl.CallCount("/groups/9/projects"))
}

func TestPaginate_Termination(t *testing.T) {
	cases := []struct {
		name      string
		pages     []domain.MockResponse
		wantCalls int
		wantIDs   int
	}{
		{"zero declared pages", []domain.MockResponse{page(`[{"id":1}]`, 0)}, 1, 1},
		{"single page", []domain.MockResponse{page(`[{"id":1}]`, 1)}, 1, 1},
		{"first page fails", []domain.MockResponse{{Err: errors.New("boom")}, page(`[{"id":2}]`, 2)}, 1, 0},
		{"first page is not a list", []domain.MockResponse{page(`{"message":"403"}`, 1)}, 1, 0},
		{"middle page fails", []domain.MockResponse{
			page(`[{"id":1}]`, 3),
			{Err: errors.New("boom")},
			page(`[{"id":3}]`, 3),
		}, 3, 2},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gl := &domain.MockGitLab{Responses: map[string][]domain.MockResponse{"/projects/1/jobs": tc.pages}}
			r := NewRetriever(gl, zaptest.NewLogger(t), 2, "")

			got := r.ListJobs(context.Background(), 1, domain.ScopeManual)

			assert.Len(t, got, tc.wantIDs)
			assert.Equal(t, tc.wantCalls, gl.CallCount("/projects/1/jobs"))
		})
	}
}

func TestPaginate_MissingEndpointIsEmpty(t *testing.T) {
	gl := &domain.MockGitLab{}
	r := NewRetriever(gl, zaptest.NewLogger(t), 2, "")

	assert.Empty(t, r.ListProjects(context.Background(), 1))
	assert.Equal(t, 1, gl.CallCount("/groups/1/projects"))
}

func jobJSON(id, pipeline uint64, status, ref, committer, refName string) string {
	return fmt.Sprintf(`{"id":%d,"status":%q,"web_url":"https://gl/jobs/%d","ref":%q,
		"pipeline":{"id":%d},"commit":{"committer_email":%q,"ref_name":%q}}`,
		id, status, id, ref, pipeline, committer, refName)
}

func TestJobDetail_TriggerVariablesWin(t *testing.T) {
	gl := &domain.MockGitLab{Responses: map[string][]domain.MockResponse{
		"/projects/100/jobs/7": one(jobJSON(7, 55, "manual", "main", "dev@corp", "main")),
		"/projects/100":        one(`{"id":100,"name":"deployer"}`),
		"/projects/100/pipelines/55/variables": {page(`[
			{"key":"trigger_email","value":"owner@corp"},
			{"key":"ref_source","value":"release"},
			{"key":"source_id","value":"306"},
			{"key":"PROD_TAG","value":"PROD-1.0.0"}
		]`, 1)},
	}}
	r := NewRetriever(gl, zaptest.NewLogger(t), 2, "PROD_TAG")

	got, err := r.JobDetail(context.Background(), 100, 7)
	require.NoError(t, err)

	assert.Equal(t, domain.JobInfo{
		ID:          7,
		ProjectID:   100,
		ProjectName: "deployer",
		Status:      domain.ScopeManual,
		URL:         "https://gl/jobs/7",
		PipelineID:  55,
		SourceID:    306,
		GitTag:      "PROD-1.0.0",
		Branch:      "release",
		UserMail:    "owner@corp",
	}, got)
}

func TestJobDetail_FallsBackToJobAndCommit(t *testing.T) {
	gl := &domain.MockGitLab{Responses: map[string][]domain.MockResponse{
		"/projects/100/jobs/7":                 one(jobJSON(7, 55, "manual", "main", "dev@corp", "v2.0.0")),
		"/projects/100/pipelines/55/variables": {page(`[]`, 1)},
	}}
	r := NewRetriever(gl, zaptest.NewLogger(t), 2, "")

	got, err := r.JobDetail(context.Background(), 100, 7)
	require.NoError(t, err)

	assert.Equal(t, "", got.ProjectName)
	assert.Equal(t, "v2.0.0", got.GitTag)
	assert.Equal(t, "main", got.Branch)
	assert.Equal(t, "dev@corp", got.UserMail)
	assert.Zero(t, got.SourceID)
}

func TestJobDetail_ProductionTagKeyAbsentLeavesTagEmpty(t *testing.T) {
	gl := &domain.MockGitLab{Responses: map[string][]domain.MockResponse{
		"/projects/100/jobs/7":                 one(jobJSON(7, 55, "manual", "main", "dev@corp", "v2.0.0")),
		"/projects/100/pipelines/55/variables": {page(`[{"key":"source_id","value":"abc"}]`, 1)},
	}}
	r := NewRetriever(gl, zaptest.NewLogger(t), 2, "PROD_TAG")

	got, err := r.JobDetail(context.Background(), 100, 7)
	require.NoError(t, err)

	assert.Empty(t, got.GitTag)
	assert.Zero(t, got.SourceID)
}

func TestJobDetail_WithoutPipeline(t *testing.T) {
	gl := &domain.MockGitLab{Responses: map[string][]domain.MockResponse{
		"/projects/100/jobs/7": one(`{"id":7,"status":"manual","ref":"main"}`),
	}}
	r := NewRetriever(gl, zaptest.NewLogger(t), 2, "")

	got, err := r.JobDetail(context.Background(), 100, 7)
	require.NoError(t, err)

	assert.Zero(t, got.PipelineID)
	assert.Empty(t, got.Branch)
	assert.Equal(t, 0, gl.CallCount("/projects/100/pipelines/0/variables"))
}

func TestJobDetail_Errors(t *testing.T) {
	gl := &domain.MockGitLab{Responses: map[string][]domain.MockResponse{
		"/projects/1/jobs/2": one(`[1,2,3]`),
	}}
	r := NewRetriever(gl, zaptest.NewLogger(t), 2, "")

	_, err := r.JobDetail(context.Background(), 1, 2)
	require.Error(t, err)

	_, err = r.JobDetail(context.Background(), 1, 3)
	require.ErrorIs(t, err, domain.ErrMockNotFound)
}

func TestGetJobs_GroupAndProjectRoots(t *testing.T) {
	gl := &domain.MockGitLab{
		Delay: 5 * time.Millisecond,
		Responses: map[string][]domain.MockResponse{
			"/groups/9/projects": {page(`[{"id":1},{"id":2}]`, 1)},
			"/projects/1/jobs":   {page(`[{"id":11},{"id":12},{"id":13}]`, 1)},
			"/projects/2/jobs":   {page(`[{"id":21}]`, 1)},
			"/projects/3/jobs":   {page(`[{"id":31},{"id":32}]`, 1)},
		},
	}
	for _, j := range []struct{ p, j, pipe uint64 }{{1, 11, 5}, {1, 12, 6}, {1, 13, 6}, {2, 21, 8}, {3, 31, 9}, {3, 32, 9}} {
		gl.Responses[fmt.Sprintf("/projects/%d/jobs/%d", j.p, j.j)] = one(jobJSON(j.j, j.pipe, "manual", "main", "", ""))
	}
	r := NewRetriever(gl, zaptest.NewLogger(t), 3, "")

	got := r.GetJobs(context.Background(), Target{Group: 9, Project: 3}, domain.ScopeManual)

	require.Len(t, got, 3)
	assert.Equal(t, 3, got[1].Len())
	assert.Equal(t, 1, got[2].Len())
	assert.Equal(t, 2, got[3].Len())
	assert.Equal(t, 6, got.Count())
	assert.LessOrEqual(t, gl.MaxInflight, 3*2, "job detail runs two calls per worker")
}

func TestGetJobs_DropsUnreadableJobs(t *testing.T) {
	gl := &domain.MockGitLab{Responses: map[string][]domain.MockResponse{
		"/projects/4/jobs":    {page(`[{"id":41},{"id":42}]`, 1)},
		"/projects/4/jobs/41": one(jobJSON(41, 1, "manual", "main", "", "")),
	}}
	r := NewRetriever(gl, zaptest.NewLogger(t), 2, "")

	got := r.GetJobs(context.Background(), Target{Project: 4}, domain.ScopeManual)

	require.Len(t, got, 1)
	assert.Equal(t, domain.JobID(41), got[4].Sorted()[0].ID)
}

func TestTags(t *testing.T) {
	gl := &domain.MockGitLab{Responses: map[string][]domain.MockResponse{
		"/projects/5/repository/tags": one(`[{"name":"v1"},{"name":"v2"}]`),
	}}
	r := NewRetriever(gl, zaptest.NewLogger(t), 2, "")

	assert.Equal(t, []string{"v1", "v2"}, r.Tags(context.Background(), 5))
	assert.Empty(t, r.Tags(context.Background(), 6))
}

func TestPlayAndCancel(t *testing.T) {
	gl := &domain.MockGitLab{PostResponses: map[string]domain.MockResponse{
		"/projects/1/jobs/2/play":   {Body: `{"id":2,"status":"pending"}`},
		"/projects/1/jobs/3/cancel": {Err: errors.New("gitlab 403 Forbidden")},
	}}
	r := NewRetriever(gl, zaptest.NewLogger(t), 2, "")

	played, err := r.Play(context.Background(), domain.JobInfo{ID: 2, ProjectID: 1, Status: domain.ScopeManual})
	require.NoError(t, err)
	assert.Equal(t, domain.ScopePending, played.Status)

	_, err = r.Cancel(context.Background(), domain.JobInfo{ID: 3, ProjectID: 1, Status: domain.ScopeManual})
	var ae *ActionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, ActionCancel, ae.Action)
	assert.Equal(t, domain.ScopeInvalid, ae.Job.Status)
	assert.Equal(t, domain.JobID(3), ae.Job.ID)

	assert.Equal(t, []string{"/projects/1/jobs/2/play", "/projects/1/jobs/3/cancel"}, gl.Posts)
}

func TestStatus(t *testing.T) {
	gl := &domain.MockGitLab{Responses: map[string][]domain.MockResponse{
		"/projects/1/jobs/2": {{Body: `{"status":"running"}`}, {Body: `{"status":"success"}`}},
	}}
	r := NewRetriever(gl, zaptest.NewLogger(t), 2, "")
	job := domain.JobInfo{ID: 2, ProjectID: 1}

	assert.Equal(t, domain.ScopeRunning, r.Status(context.Background(), job))
	assert.Equal(t, domain.ScopeSuccess, r.Status(context.Background(), job))
	assert.Equal(t, domain.ScopeSuccess, r.Status(context.Background(), job))
	assert.Equal(t, domain.ScopeInvalid, r.Status(context.Background(), domain.JobInfo{ID: 9, ProjectID: 1}))
}
