package application

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/davarch/ci-reconciler/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultWidth bounds every fan-out stage independently.
const DefaultWidth = 15

const (
	varTriggerEmail = "trigger_email"
	varRefSource    = "ref_source"
	varSourceID     = "source_id"
)

// Target is the scan root; either or both fields may be set.
type Target struct {
	Group   domain.GroupID
	Project domain.ProjectID
}

type Retriever struct {
	api     domain.GitlabAPI
	log     *zap.Logger
	width   int
	prodTag string
}

// NewRetriever resolves git tags from the pipeline variable prodTagKey when
// it is set, and from the commit ref name otherwise.
func NewRetriever(api domain.GitlabAPI, log *zap.Logger, width int, prodTagKey string) *Retriever {
	if width <= 0 {
		width = DefaultWidth
	}
	return &Retriever{api: api, log: log, width: width, prodTag: prodTagKey}
}

type idDTO struct {
	ID uint64 `json:"id"`
}

type variableDTO struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type jobDTO struct {
	ID       uint64 `json:"id"`
	Status   string `json:"status"`
	WebURL   string `json:"web_url"`
	Ref      string `json:"ref"`
	Pipeline *struct {
		ID uint64 `json:"id"`
	} `json:"pipeline"`
	Commit *struct {
		CommitterEmail string  `json:"committer_email"`
		RefName        *string `json:"ref_name"`
	} `json:"commit"`
}

type projectDTO struct {
	Name string `json:"name"`
}

type tagDTO struct {
	Name string `json:"name"`
}

// paginate walks pages 1..N where N is the page count declared by the last
// successful response. A failed first page leaves N at 1, so the walk never
// outlives the server's own announcement.
func (r *Retriever) paginate(ctx context.Context, path string, query url.Values, each func(json.RawMessage)) {
	total := 1
	for page := 1; ; page++ {
		q := url.Values{}
		for k, v := range query {
			q[k] = v
		}
		q.Set("per_page", "100")
		q.Set("page", strconv.Itoa(page))

		body, pages, err := r.api.Get(ctx, path, q)
		if err != nil {
			r.log.Warn("page fetch failed",
				zap.String("path", path),
				zap.Int("page", page),
				zap.Error(err),
			)
		} else {
			total = pages
			each(body)
		}

		if page >= total || ctx.Err() != nil {
			return
		}
	}
}

func (r *Retriever) ListProjects(ctx context.Context, group domain.GroupID) map[domain.ProjectID]struct{} {
	out := make(map[domain.ProjectID]struct{})
	path := fmt.Sprintf("/groups/%d/projects", group)
	q := url.Values{"simple": {"true"}, "order_by": {"id"}, "sort": {"asc"}}

	r.paginate(ctx, path, q, func(body json.RawMessage) {
		var list []idDTO
		if err := json.Unmarshal(body, &list); err != nil {
			r.log.Warn("decode projects", zap.Uint64("group", uint64(group)), zap.Error(err))
			return
		}
		for _, p := range list {
			if p.ID != 0 {
				out[domain.ProjectID(p.ID)] = struct{}{}
			}
		}
	})

	return out
}

func (r *Retriever) ListJobs(ctx context.Context, project domain.ProjectID, scope domain.JobScope) map[domain.JobID]struct{} {
	out := make(map[domain.JobID]struct{})
	path := fmt.Sprintf("/projects/%d/jobs", project)
	q := url.Values{"scope": {scope.String()}, "order_by": {"id"}, "sort": {"asc"}}

	r.paginate(ctx, path, q, func(body json.RawMessage) {
		var list []idDTO
		if err := json.Unmarshal(body, &list); err != nil {
			r.log.Warn("decode jobs", zap.Uint64("project", uint64(project)), zap.Error(err))
			return
		}
		for _, j := range list {
			if j.ID != 0 {
				out[domain.JobID(j.ID)] = struct{}{}
			}
		}
	})

	return out
}

func (r *Retriever) PipelineVariables(ctx context.Context, project domain.ProjectID, pipeline domain.PipelineID) map[string]string {
	out := make(map[string]string)
	path := fmt.Sprintf("/projects/%d/pipelines/%d/variables", project, pipeline)

	r.paginate(ctx, path, nil, func(body json.RawMessage) {
		var vars []variableDTO
		if err := json.Unmarshal(body, &vars); err != nil {
			r.log.Warn("decode pipeline variables", zap.Uint64("pipeline", uint64(pipeline)), zap.Error(err))
			return
		}
		for _, v := range vars {
			if v.Key != "" {
				out[v.Key] = v.Value
			}
		}
	})

	return out
}

func (r *Retriever) ProjectName(ctx context.Context, project domain.ProjectID) string {
	body, _, err := r.api.Get(ctx, fmt.Sprintf("/projects/%d", project), nil)
	if err != nil {
		r.log.Debug("project lookup failed", zap.Uint64("project", uint64(project)), zap.Error(err))
		return ""
	}

	var p projectDTO
	if err := json.Unmarshal(body, &p); err != nil {
		return ""
	}
	return p.Name
}

func (r *Retriever) JobDetail(ctx context.Context, project domain.ProjectID, job domain.JobID) (domain.JobInfo, error) {
	var (
		g    errgroup.Group
		raw  json.RawMessage
		name string
	)

	g.Go(func() error {
		var err error
		raw, _, err = r.api.Get(ctx, jobPath(project, job), nil)
		return err
	})
	g.Go(func() error {
		name = r.ProjectName(ctx, project)
		return nil
	})

	if err := g.Wait(); err != nil {
		return domain.JobInfo{}, fmt.Errorf("job %d of project %d: %w", job, project, err)
	}

	var dto jobDTO
	if err := json.Unmarshal(raw, &dto); err != nil {
		return domain.JobInfo{}, fmt.Errorf("decode job %d of project %d: %w", job, project, err)
	}

	info := domain.JobInfo{
		ID:          job,
		ProjectID:   project,
		ProjectName: name,
		Status:      domain.ParseJobScope(dto.Status),
		URL:         dto.WebURL,
	}

	if dto.Pipeline == nil {
		return info, nil
	}

	info.PipelineID = domain.PipelineID(dto.Pipeline.ID)

	vars := map[string]string{}
	if info.PipelineID != 0 {
		vars = r.PipelineVariables(ctx, project, info.PipelineID)
	}

	if v, ok := vars[varTriggerEmail]; ok {
		info.UserMail = v
	} else if dto.Commit != nil {
		info.UserMail = dto.Commit.CommitterEmail
	}

	if r.prodTag != "" {
		info.GitTag = vars[r.prodTag]
	} else if dto.Commit != nil && dto.Commit.RefName != nil {
		info.GitTag = *dto.Commit.RefName
	}

	if v, ok := vars[varRefSource]; ok {
		info.Branch = v
	} else {
		info.Branch = dto.Ref
	}

	if v, ok := vars[varSourceID]; ok {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			r.log.Warn("ignoring unparseable source_id",
				zap.Uint64("job", uint64(job)),
				zap.String("source_id", v),
			)
		} else {
			info.SourceID = domain.ProjectID(id)
		}
	}

	return info, nil
}

type projectJob struct {
	project domain.ProjectID
	job     domain.JobID
}

// GetJobs scans the target for jobs in scope and freezes them into a map in
// one pass once every fetch has returned.
func (r *Retriever) GetJobs(ctx context.Context, target Target, scope domain.JobScope) domain.JobsByProject {
	projects := make(map[domain.ProjectID]struct{})
	if target.Group != 0 {
		projects = r.ListProjects(ctx, target.Group)
		r.log.Debug("group projects", zap.Uint64("group", uint64(target.Group)), zap.Int("projects", len(projects)))
	}
	if target.Project != 0 {
		projects[target.Project] = struct{}{}
	}

	ids := make([]domain.ProjectID, 0, len(projects))
	for p := range projects {
		ids = append(ids, p)
	}

	listed := make([]map[domain.JobID]struct{}, len(ids))
	g := new(errgroup.Group)
	g.SetLimit(r.width)
	for i, p := range ids {
		i, p := i, p
		g.Go(func() error {
			listed[i] = r.ListJobs(ctx, p, scope)
			return nil
		})
	}
	_ = g.Wait()

	var pairs []projectJob
	for i, p := range ids {
		for j := range listed[i] {
			pairs = append(pairs, projectJob{project: p, job: j})
		}
	}

	infos := make([]*domain.JobInfo, len(pairs))
	g = new(errgroup.Group)
	g.SetLimit(r.width)
	for i, pj := range pairs {
		i, pj := i, pj
		g.Go(func() error {
			info, err := r.JobDetail(ctx, pj.project, pj.job)
			if err != nil {
				r.log.Warn("job detail failed",
					zap.Uint64("project", uint64(pj.project)),
					zap.Uint64("job", uint64(pj.job)),
					zap.Error(err),
				)
				return nil
			}
			infos[i] = &info
			return nil
		})
	}
	_ = g.Wait()

	out := make(domain.JobsByProject)
	for i, info := range infos {
		if info == nil {
			continue
		}
		p := pairs[i].project
		if out[p] == nil {
			out[p] = make(domain.JobSet)
		}
		out[p].Add(*info)
	}

	r.log.Info("jobs retrieved",
		zap.String("scope", scope.String()),
		zap.Int("projects", len(ids)),
		zap.Int("jobs", out.Count()),
	)

	return out
}

func (r *Retriever) Tags(ctx context.Context, project domain.ProjectID) []string {
	body, _, err := r.api.Get(ctx, fmt.Sprintf("/projects/%d/repository/tags", project), url.Values{"order_by": {"updated"}})
	if err != nil {
		r.log.Warn("tag listing failed", zap.Uint64("project", uint64(project)), zap.Error(err))
		return nil
	}

	var list []tagDTO
	if err := json.Unmarshal(body, &list); err != nil {
		r.log.Warn("decode tags", zap.Uint64("project", uint64(project)), zap.Error(err))
		return nil
	}

	out := make([]string, 0, len(list))
	for _, t := range list {
		out = append(out, t.Name)
	}
	return out
}

func (r *Retriever) Status(ctx context.Context, job domain.JobInfo) domain.JobScope {
	body, _, err := r.api.Get(ctx, jobPath(job.ProjectID, job.ID), nil)
	if err != nil {
		r.log.Debug("status lookup failed", zap.Uint64("job", uint64(job.ID)), zap.Error(err))
		return domain.ScopeInvalid
	}

	var dto jobDTO
	if err := json.Unmarshal(body, &dto); err != nil {
		return domain.ScopeInvalid
	}
	return domain.ParseJobScope(dto.Status)
}

func (r *Retriever) Play(ctx context.Context, job domain.JobInfo) (domain.JobInfo, error) {
	return r.act(ctx, ActionPlay, job)
}

func (r *Retriever) Cancel(ctx context.Context, job domain.JobInfo) (domain.JobInfo, error) {
	return r.act(ctx, ActionCancel, job)
}

func (r *Retriever) act(ctx context.Context, action Action, job domain.JobInfo) (domain.JobInfo, error) {
	body, err := r.api.Post(ctx, jobPath(job.ProjectID, job.ID)+"/"+string(action), nil)
	if err != nil {
		return domain.JobInfo{}, &ActionError{Action: action, Job: job.WithStatus(domain.ScopeInvalid), Err: err}
	}

	var dto jobDTO
	if json.Unmarshal(body, &dto) == nil && dto.Status != "" {
		return job.WithStatus(domain.ParseJobScope(dto.Status)), nil
	}
	return job, nil
}

func jobPath(project domain.ProjectID, job domain.JobID) string {
	return fmt.Sprintf("/projects/%d/jobs/%d", project, job)
}
