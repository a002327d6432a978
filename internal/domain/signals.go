package domain

// AgentStatus represents the agent's self-reported status for a story
type AgentStatus string

const (
	AgentWorking  AgentStatus = "working"
	AgentComplete AgentStatus = "complete"
	AgentBlocked  AgentStatus = "blocked"
	AgentError    AgentStatus = "error"
)

// CriterionCheck represents the outcome of a single acceptance criterion check
type CriterionCheck struct {
	Description string
	Met         bool
	Evidence    string
	Confidence  float64
}

// NewCriterionCheck creates a CriterionCheck with confidence clamped to [0,1]
func NewCriterionCheck(description string, met bool, evidence string, confidence float64) CriterionCheck {
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	return CriterionCheck{
		Description: description,
		Met:         met,
		Evidence:    evidence,
		Confidence:  confidence,
	}
}

// CiStatus represents the status of a single CI check
type CiStatus string

const (
	CiRunning   CiStatus = "running"
	CiPassed    CiStatus = "passed"
	CiFailed    CiStatus = "failed"
	CiCancelled CiStatus = "cancelled"
	CiTimeout   CiStatus = "timeout"
	CiPending   CiStatus = "pending"
)

// IsFailure returns true if the status counts as a failure for aggregation
func (s CiStatus) IsFailure() bool {
	return s == CiFailed || s == CiCancelled || s == CiTimeout
}

// CiCheckResult represents the result of a single named CI check
type CiCheckResult struct {
	Name   string
	Status CiStatus
}

// AggregateCi reduces a set of CI checks to a single status.
// Any failure wins, then any running, then all passed, else pending.
func AggregateCi(checks []CiCheckResult) CiStatus {
	if len(checks) == 0 {
		return CiPending
	}

	running := false
	allPassed := true
	for _, c := range checks {
		if c.Status.IsFailure() {
			return CiFailed
		}
		if c.Status == CiRunning {
			running = true
		}
		if c.Status != CiPassed {
			allPassed = false
		}
	}

	if running {
		return CiRunning
	}
	if allPassed {
		return CiPassed
	}
	return CiPending
}

// PrStatus represents the hosting provider's view of a pull request
type PrStatus string

const (
	PrStatusPending   PrStatus = "pending"
	PrStatusMergeable PrStatus = "mergeable"
	PrStatusConflicts PrStatus = "conflicts"
	PrStatusBlocked   PrStatus = "blocked" // Blocked by branch policy, not conflicts
)
