package domain

import (
	"fmt"
	"html"
	"sort"
	"strings"
)

// JobInfo is one GitLab job as discovered by a retrieval pass. It is
// comparable and used as a map key, so treat it as a value: derive updated
// copies instead of mutating a stored one.
type JobInfo struct {
	ID          JobID
	ProjectID   ProjectID
	ProjectName string
	Status      JobScope
	URL         string
	PipelineID  PipelineID
	// SourceID is the upstream project whose git tag must be validated, zero when absent.
	SourceID ProjectID
	GitTag   string
	Branch   string
	UserMail string
}

func (j JobInfo) WithStatus(s JobScope) JobInfo {
	j.Status = s
	return j
}

func (j JobInfo) String() string {
	name := j.ProjectName
	if name == "" {
		name = "unknown"
	}
	return fmt.Sprintf("%d from project %s", j.ID, name)
}

func (j JobInfo) HTML() string {
	or := func(s string) string {
		if s == "" {
			return "unknown"
		}
		return html.EscapeString(s)
	}

	var status string
	switch j.Status {
	case ScopeFailed, ScopeCanceled:
		status = `<font color="red">` + j.Status.String() + `</font>`
	case ScopeSuccess:
		status = `<font color="green">` + j.Status.String() + `</font>`
	default:
		status = j.Status.String()
	}

	url := or(j.URL)

	var b strings.Builder
	b.WriteString(`<div style="text-align: left;">` + "\n")
	fmt.Fprintf(&b, `<h2 style="text-align: center;">%s: %s</h2>`+"\n", strings.ToUpper(or(j.ProjectName)), status)
	b.WriteString(`<table style="border:0px;margin-left:auto;margin-right:auto;">` + "\n")
	row := func(label, value string) {
		fmt.Fprintf(&b, "<tr><td>%s:</td><td><b>%s</b></td></tr>\n", label, value)
	}
	row("Project name", or(j.ProjectName))
	row("Git tag", or(j.GitTag))
	row("Branch", or(j.Branch))
	row("Source project id", fmt.Sprint(uint64(j.SourceID)))
	row("Deploy project id", fmt.Sprint(uint64(j.ProjectID)))
	row("Deploy pipeline id", fmt.Sprint(uint64(j.PipelineID)))
	row("User mail", or(j.UserMail))
	row("Job URL", fmt.Sprintf(`<a href="%s">%s</a>`, url, url))
	row("Job id", fmt.Sprint(uint64(j.ID)))
	row("Job status", status)
	b.WriteString("</table>\n</div>\n")

	return b.String()
}

type JobSet map[JobInfo]struct{}

func (s JobSet) Add(j JobInfo) { s[j] = struct{}{} }

func (s JobSet) Has(j JobInfo) bool {
	_, ok := s[j]
	return ok
}

func (s JobSet) Len() int { return len(s) }

// Sorted returns the jobs ordered by job id.
func (s JobSet) Sorted() []JobInfo {
	out := make([]JobInfo, 0, len(s))
	for j := range s {
		out = append(out, j)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}

type JobsByProject map[ProjectID]JobSet

func (m JobsByProject) Count() int {
	n := 0
	for _, s := range m {
		n += s.Len()
	}
	return n
}
