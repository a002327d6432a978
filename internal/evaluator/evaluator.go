// Package evaluator computes a single completion status plus ranked
// feedback for one story from the signals gathered by the orchestration
// loop. Evaluation is a pure function of its inputs.
package evaluator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hanibalsk/autodev/internal/domain"
)

// Feedback priorities, highest first. Callers act on the first item.
const (
	priorityMergeConflict = 95
	priorityCiFailure     = 90
	priorityReviewIssue   = 85
	priorityCriterion     = 80
)

// requiredCiCategories are the CI categories whose failure forces fixes,
// matched by name substring
var requiredCiCategories = []string{"build", "lint", "test"}

// Inputs carries all signals for one story evaluation. Zero values mean
// the signal is absent: empty AgentStatus for no self-report, nil Review
// for no review yet, empty PrStatus for no pull request.
type Inputs struct {
	AgentStatus domain.AgentStatus
	Criteria    []domain.CriterionCheck
	CiChecks    []domain.CiCheckResult
	Review      *domain.ReviewResult
	PrStatus    domain.PrStatus
}

// Evaluator decides whether a unit of work is done and what to do next
type Evaluator struct {
	reviewRequired bool
}

// New creates an Evaluator. reviewRequired gates whether completed work
// must pass review before it can merge.
func New(reviewRequired bool) *Evaluator {
	return &Evaluator{reviewRequired: reviewRequired}
}

// Evaluate computes the completion status and ranked feedback for the
// given signals. Identical inputs always produce identical results.
func (e *Evaluator) Evaluate(in Inputs) domain.WorkEvaluationResult {
	return domain.WorkEvaluationResult{
		Status:   e.decide(in),
		Feedback: buildFeedback(in),
	}
}

// decide applies the decision rules in order; the first match wins
func (e *Evaluator) decide(in Inputs) domain.WorkCompletionStatus {
	if in.AgentStatus == domain.AgentBlocked {
		return domain.WorkBlocked
	}
	if in.AgentStatus == domain.AgentError {
		return domain.WorkFailed
	}

	if hasRequiredCiFailure(in.CiChecks) {
		return domain.WorkNeedsCiFixes
	}

	ci := domain.AggregateCi(in.CiChecks)

	if in.Review != nil {
		if in.Review.HasBlockingIssue() || in.Review.Verdict == domain.VerdictChangesRequested {
			return domain.WorkNeedsReviewFixes
		}
		if in.Review.Verdict == domain.VerdictPending || in.Review.Verdict == domain.VerdictNeedsDiscussion {
			return domain.WorkNeedsReview
		}
	} else if e.reviewRequired && ci == domain.CiPassed && in.AgentStatus == domain.AgentComplete {
		return domain.WorkNeedsReview
	}

	switch in.PrStatus {
	case domain.PrStatusConflicts:
		return domain.WorkBlocked
	case domain.PrStatusBlocked:
		return domain.WorkNeedsPrApproval
	case domain.PrStatusMergeable:
		if ci == domain.CiPassed {
			return domain.WorkReadyToMerge
		}
	}

	if allCriteriaMet(in.Criteria) && ci != domain.CiFailed && in.AgentStatus == domain.AgentComplete {
		if e.reviewRequired && in.Review == nil {
			return domain.WorkNeedsReview
		}
		return domain.WorkComplete
	}

	return domain.WorkInProgress
}

// buildFeedback is an additive pass over every actionable signal,
// independent of the decided status
func buildFeedback(in Inputs) []domain.FeedbackItem {
	var items []domain.FeedbackItem

	for _, criterion := range in.Criteria {
		if criterion.Met {
			continue
		}
		items = append(items, domain.FeedbackItem{
			Priority: priorityCriterion,
			Category: domain.FeedbackCriterion,
			Message:  fmt.Sprintf("acceptance criterion not met: %s", criterion.Description),
			Action:   fmt.Sprintf("implement and verify: %s", criterion.Description),
		})
	}

	for _, check := range in.CiChecks {
		if !check.Status.IsFailure() {
			continue
		}
		items = append(items, domain.FeedbackItem{
			Priority: priorityCiFailure,
			Category: ciCategory(check.Name),
			Message:  fmt.Sprintf("CI check %s is %s", check.Name, check.Status),
			Action:   fmt.Sprintf("fix failing check %s", check.Name),
		})
	}

	if in.Review != nil {
		for _, issue := range in.Review.Issues {
			if !issue.Severity.Blocking() {
				continue
			}
			action := issue.Suggestion
			if action == "" {
				action = issue.Description
			}
			items = append(items, domain.FeedbackItem{
				Priority: priorityReviewIssue,
				Category: domain.FeedbackReview,
				Message:  fmt.Sprintf("[%s] %s", issue.Severity, describeIssue(issue)),
				Action:   action,
			})
		}
	}

	if in.PrStatus == domain.PrStatusConflicts {
		items = append(items, domain.FeedbackItem{
			Priority: priorityMergeConflict,
			Category: domain.FeedbackMergeConflict,
			Message:  "pull request has merge conflicts",
			Action:   "rebase onto the target branch and resolve conflicts",
		})
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Priority > items[j].Priority
	})
	return items
}

func hasRequiredCiFailure(checks []domain.CiCheckResult) bool {
	for _, check := range checks {
		if !check.Status.IsFailure() {
			continue
		}
		name := strings.ToLower(check.Name)
		for _, category := range requiredCiCategories {
			if strings.Contains(name, category) {
				return true
			}
		}
	}
	return false
}

func allCriteriaMet(criteria []domain.CriterionCheck) bool {
	for _, c := range criteria {
		if !c.Met {
			return false
		}
	}
	return true
}

func ciCategory(name string) domain.FeedbackCategory {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "test"):
		return domain.FeedbackCiTest
	case strings.Contains(lower, "build"):
		return domain.FeedbackCiBuild
	case strings.Contains(lower, "lint"):
		return domain.FeedbackCiLint
	default:
		return domain.FeedbackCiOther
	}
}

func describeIssue(issue domain.ReviewIssue) string {
	if issue.Location != "" {
		return issue.Location + ": " + issue.Description
	}
	return issue.Description
}
