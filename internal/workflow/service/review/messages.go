package review

import (
	"fmt"

	"healthpass/internal/workflow/models"
)

// composeIssueMessage builds the applicant-facing text for one review issue.
// Severity escalates with the attempt number: plain, then a one-attempt-left
// warning, then a final-attempt alert. At the ceiling the message is the
// distinct terminal wording: the applicant must be able to tell closure apart
// from an ordinary rejection.
func composeIssueMessage(issue *models.ReviewIssue, docTypeName string, ceiling int) (title, message string) {
	verb := "rejected"
	if issue.Kind == models.KindMedicalReferral {
		verb = "referred for medical follow-up"
	}

	switch {
	case issue.AttemptNumber >= ceiling:
		title = "Application permanently closed"
		message = fmt.Sprintf(
			"Your %s was %s: %s. The maximum number of resubmission attempts has been used. "+
				"Your application is permanently closed and no further resubmission is possible.",
			docTypeName, verb, issue.Reason)
	case issue.AttemptNumber == ceiling-1:
		title = "🚨 Final attempt"
		message = fmt.Sprintf(
			"🚨 Final attempt: your %s was %s: %s. This is your last chance to resubmit; "+
				"another rejection will permanently close your application.",
			docTypeName, verb, issue.Reason)
	case issue.AttemptNumber == ceiling-2:
		title = "⚠️ Document " + verb
		message = fmt.Sprintf(
			"⚠️ Warning: your %s was %s: %s. You have 1 attempt remaining before your "+
				"application is permanently closed.",
			docTypeName, verb, issue.Reason)
	default:
		title = "Document " + verb
		message = fmt.Sprintf("Your %s was %s: %s. Please resubmit the document.",
			docTypeName, verb, issue.Reason)
	}
	return title, message
}
