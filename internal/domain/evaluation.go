package domain

// WorkCompletionStatus represents the evaluated completion status of a story
type WorkCompletionStatus string

const (
	WorkComplete         WorkCompletionStatus = "complete"
	WorkInProgress       WorkCompletionStatus = "in_progress"
	WorkBlocked          WorkCompletionStatus = "blocked"
	WorkFailed           WorkCompletionStatus = "failed"
	WorkNeedsCiFixes     WorkCompletionStatus = "needs_ci_fixes"
	WorkNeedsReviewFixes WorkCompletionStatus = "needs_review_fixes"
	WorkNeedsReview      WorkCompletionStatus = "needs_review"
	WorkNeedsPrApproval  WorkCompletionStatus = "needs_pr_approval"
	WorkReadyToMerge     WorkCompletionStatus = "ready_to_merge"
)

// FeedbackCategory represents the kind of action a feedback item calls for
type FeedbackCategory string

const (
	FeedbackCriterion     FeedbackCategory = "criterion"
	FeedbackCiTest        FeedbackCategory = "ci_test"
	FeedbackCiBuild       FeedbackCategory = "ci_build"
	FeedbackCiLint        FeedbackCategory = "ci_lint"
	FeedbackCiOther       FeedbackCategory = "ci_other"
	FeedbackReview        FeedbackCategory = "review"
	FeedbackMergeConflict FeedbackCategory = "merge_conflict"
)

// FeedbackItem represents one actionable piece of evaluator feedback
type FeedbackItem struct {
	Priority int // Higher runs first
	Category FeedbackCategory
	Message  string
	Action   string
}

// WorkEvaluationResult represents the evaluator's verdict for one story.
// Feedback is ordered by descending priority; callers pick the first item
// as the next action.
type WorkEvaluationResult struct {
	Status   WorkCompletionStatus
	Feedback []FeedbackItem
}
