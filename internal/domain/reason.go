package domain

type ReasonKind int

const (
	reasonNone ReasonKind = iota
	ReasonDuplicated
	ReasonInvalidTag
	ReasonErrorToCancel
	ReasonErrorToPlay
	ReasonMaxWaitElapsed
	ReasonStatus
)

// MailReason explains the disposition of a job in a report. The zero value
// carries no reason; Status is only meaningful for ReasonStatus.
type MailReason struct {
	Kind   ReasonKind
	Status JobScope
}

var (
	Duplicated     = MailReason{Kind: ReasonDuplicated}
	InvalidTag     = MailReason{Kind: ReasonInvalidTag}
	ErrorToCancel  = MailReason{Kind: ReasonErrorToCancel}
	ErrorToPlay    = MailReason{Kind: ReasonErrorToPlay}
	MaxWaitElapsed = MailReason{Kind: ReasonMaxWaitElapsed}
)

func StatusReason(s JobScope) MailReason {
	return MailReason{Kind: ReasonStatus, Status: s}
}

func (r MailReason) IsSet() bool { return r.Kind != reasonNone }

func (r MailReason) String() string {
	switch r.Kind {
	case ReasonDuplicated:
		return "duplicated"
	case ReasonInvalidTag:
		return "invalid_tag"
	case ReasonErrorToCancel:
		return "error_to_cancel"
	case ReasonErrorToPlay:
		return "error_to_play"
	case ReasonMaxWaitElapsed:
		return "max_wait_elapsed"
	case ReasonStatus:
		return "status:" + r.Status.String()
	default:
		return "none"
	}
}

type Decision struct {
	Play   bool
	Reason MailReason
}

type Decisions map[JobInfo]Decision

type Outcome struct {
	Job    JobInfo
	Reason MailReason
}
