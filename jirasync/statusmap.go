package jirasync

import "strings"

// Canonical Jira status names used when driving transitions.
const (
	statusToDo       = "To Do"
	statusInProgress = "In Progress"
	statusDone       = "Done"
)

// StatusToPercent maps a Jira status name onto a percent-complete value
// for an activity pull. Matching is case-insensitive and substring-based;
// the "in progress" bump to 50 only applies when the activity had not
// started, so an in-progress status never lowers a locally-tracked 80%.
// A to-do or open status resets the activity to 0 whatever its current
// value. The boolean is false when the status implies no change.
func StatusToPercent(statusName string, currentPercent float64) (float64, bool) {
	name := strings.ToLower(strings.TrimSpace(statusName))
	switch {
	case strings.Contains(name, "done") || strings.Contains(name, "complete"):
		return 100, true
	case strings.Contains(name, "progress"):
		if currentPercent == 0 {
			return 50, true
		}
		return 0, false
	case strings.Contains(name, "todo") || name == "to do" || name == "open":
		return 0, true
	default:
		return 0, false
	}
}

// PercentToStatus derives the Jira status an activity's progress implies:
// untouched work is To Do, anything in between is In Progress, and 100
// or more is Done.
func PercentToStatus(percent float64) string {
	switch {
	case percent <= 0:
		return statusToDo
	case percent >= 100:
		return statusDone
	default:
		return statusInProgress
	}
}
