package application

import (
	"context"

	"github.com/davarch/ci-reconciler/internal/domain"
	"go.uber.org/zap"
)

type TagLister interface {
	Tags(ctx context.Context, project domain.ProjectID) []string
}

// PipelinesToCancel keeps only the newest manual pipeline of every project.
// Pipeline ids grow monotonically, so every other one is superseded.
func PipelinesToCancel(jobs domain.JobsByProject) map[domain.ProjectID]map[domain.PipelineID]struct{} {
	out := make(map[domain.ProjectID]map[domain.PipelineID]struct{})

	for project, set := range jobs {
		pipes := make(map[domain.PipelineID]struct{})
		var newest domain.PipelineID
		for j := range set {
			if j.Status != domain.ScopeManual || j.PipelineID == 0 {
				continue
			}
			pipes[j.PipelineID] = struct{}{}
			if j.PipelineID > newest {
				newest = j.PipelineID
			}
		}

		delete(pipes, newest)
		if len(pipes) > 0 {
			out[project] = pipes
		}
	}

	return out
}

// ValidateJobs yields exactly one decision per job. A job is canceled when its
// pipeline is superseded or when its git tag does not exist in the source
// project (its own project when no source is recorded).
func ValidateJobs(ctx context.Context, jobs domain.JobsByProject, tags TagLister, log *zap.Logger) domain.Decisions {
	toCancel := PipelinesToCancel(jobs)
	known := make(map[domain.ProjectID]map[string]struct{})

	lookup := func(p domain.ProjectID) map[string]struct{} {
		if set, ok := known[p]; ok {
			return set
		}
		set := make(map[string]struct{})
		for _, t := range tags.Tags(ctx, p) {
			set[t] = struct{}{}
		}
		known[p] = set
		return set
	}

	out := make(domain.Decisions, jobs.Count())
	for project, set := range jobs {
		for j := range set {
			if _, dup := toCancel[project][j.PipelineID]; dup {
				out[j] = domain.Decision{Play: false, Reason: domain.Duplicated}
				continue
			}

			if j.GitTag != "" {
				source := j.SourceID
				if source == 0 {
					source = j.ProjectID
				}
				if _, ok := lookup(source)[j.GitTag]; !ok {
					log.Info("tag not found",
						zap.Uint64("job", uint64(j.ID)),
						zap.Uint64("source", uint64(source)),
						zap.String("tag", j.GitTag),
					)
					out[j] = domain.Decision{Play: false, Reason: domain.InvalidTag}
					continue
				}
			}

			out[j] = domain.Decision{Play: true}
		}
	}

	return out
}
