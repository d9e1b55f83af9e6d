package scrape

// FailureKind buckets fetch failures for retry and abort decisions.
type FailureKind string

// Failure taxonomy. Transient failures are retried with backoff; denials are
// never retried, since retrying a denial is indistinguishable from abuse.
const (
	FailureTransient FailureKind = "transient"
	FailureDenial    FailureKind = "denial"
	FailureParse     FailureKind = "parse"
	FailureSystemic  FailureKind = "systemic"
	FailureNone      FailureKind = ""
)

// ClassifyStatus maps a fetch status kind onto the failure taxonomy.
func ClassifyStatus(status StatusKind) FailureKind {
	switch status {
	case StatusOK:
		return FailureNone
	case StatusBlocked, StatusCaptcha:
		return FailureDenial
	case StatusRateLimited, StatusTimeout, StatusError:
		return FailureTransient
	default:
		return FailureTransient
	}
}

// Retryable reports whether a fetch with this status should be reattempted.
func Retryable(status StatusKind) bool {
	return ClassifyStatus(status) == FailureTransient
}
