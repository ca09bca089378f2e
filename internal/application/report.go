package application

import (
	"strings"

	"github.com/davarch/ci-reconciler/internal/domain"
)

type MailSettings struct {
	To            string
	SubjectPrefix string
}

// BuildMessage renders one job outcome as a mail. The job's user mail joins
// the configured recipients.
func BuildMessage(job domain.JobInfo, reason domain.MailReason, s MailSettings) domain.Message {
	var to []string
	for _, addr := range strings.Split(s.To, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			to = append(to, addr)
		}
	}
	if m := strings.TrimSpace(job.UserMail); m != "" {
		to = append(to, m)
	}

	return domain.Message{
		To:      to,
		Subject: s.SubjectPrefix + subjectFor(job, reason),
		HTML:    job.HTML(),
	}
}

func subjectFor(job domain.JobInfo, reason domain.MailReason) string {
	switch reason.Kind {
	case domain.ReasonDuplicated:
		return "Job " + job.String() + " canceled: a newer pipeline exists"
	case domain.ReasonInvalidTag:
		return "Job " + job.String() + " canceled: git tag " + job.GitTag + " not found"
	case domain.ReasonErrorToCancel:
		return "Error canceling job " + job.String()
	case domain.ReasonErrorToPlay:
		return "Error playing job " + job.String()
	case domain.ReasonMaxWaitElapsed:
		return "Job " + job.String() + " did not finish within the max wait time"
	case domain.ReasonStatus:
		return "Job " + job.String() + " finished: " + reason.Status.String()
	default:
		return "Job " + job.String()
	}
}
