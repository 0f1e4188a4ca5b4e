package threat

import (
	"time"
)

// Type categorizes a detected threat.
type Type string

const (
	TypeSuspiciousConnection Type = "suspicious_connection"
	TypeSuspiciousProcess    Type = "suspicious_process"
	TypeBruteForceAttempt    Type = "brute_force_attempt"
	TypeSystemAnomaly        Type = "system_anomaly"
	TypeComplianceIssue      Type = "compliance_issue"
)

// Severity bounds on the 1-5 scale used throughout the agent.
const (
	SeverityMin = 1
	SeverityMax = 5
)

// Detail keys that executors extract their targets from. A probe emitting a
// threat of a given type must populate the key its paired executor reads.
const (
	DetailRemoteAddress  = "remote_address"
	DetailPID            = "pid"
	DetailProcessName    = "process_name"
	DetailUsername       = "username"
	DetailFilePath       = "file_path"
	DetailRule           = "rule"
	DetailAnomalyReasons = "anomaly_reasons"
)

// Threat is a single detected security event.
type Threat struct {
	ID         string         `json:"id"`
	Type       Type           `json:"type"`
	Source     string         `json:"source"`
	Severity   int            `json:"severity"`
	Confidence float64        `json:"confidence"`
	Timestamp  time.Time      `json:"timestamp"`
	Details    map[string]any `json:"details,omitempty"`

	Resolved          bool       `json:"resolved"`
	ResolutionTime    *time.Time `json:"resolution_time,omitempty"`
	ResolutionAction  string     `json:"resolution_action,omitempty"`
	ResolutionDetails string     `json:"resolution_details,omitempty"`
}

// Clone returns a copy of the threat with its own details map, so callers can
// hold it without sharing mutable state with the record store.
func (t Threat) Clone() Threat {
	out := t
	if t.Details != nil {
		out.Details = make(map[string]any, len(t.Details))
		for k, v := range t.Details {
			out.Details[k] = v
		}
	}
	if t.ResolutionTime != nil {
		rt := *t.ResolutionTime
		out.ResolutionTime = &rt
	}
	return out
}

// Outcome is the variant result of one executor invocation. Unsupported means
// the action is not available on this platform, as opposed to having been
// attempted and failed.
type Outcome string

const (
	OutcomeSuccess     Outcome = "success"
	OutcomeFailed      Outcome = "failed"
	OutcomeUnsupported Outcome = "unsupported"
)

// Result detail keys.
const (
	ResultError     = "error"
	ResultSimulated = "simulated"
	ResultMethods   = "methods"
)

// ResponseResult is the immutable outcome of one action executor invocation
// against one threat.
type ResponseResult struct {
	ThreatID  string         `json:"threat_id"`
	Action    string         `json:"action"`
	Outcome   Outcome        `json:"outcome"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Success reports whether the action succeeded.
func (r ResponseResult) Success() bool { return r.Outcome == OutcomeSuccess }

// Err returns the error detail, or "" if none was recorded.
func (r ResponseResult) Err() string {
	if r.Details == nil {
		return ""
	}
	if s, ok := r.Details[ResultError].(string); ok {
		return s
	}
	return ""
}

// FailedResult builds a failed result with an explanatory error detail.
func FailedResult(t Threat, action, errMsg string) ResponseResult {
	return ResponseResult{
		ThreatID:  t.ID,
		Action:    action,
		Outcome:   OutcomeFailed,
		Details:   map[string]any{ResultError: errMsg},
		Timestamp: time.Now().UTC(),
	}
}
