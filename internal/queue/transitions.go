package queue

import "github.com/matunokihanten/noda/internal/models"

var transitionMap = map[string][]string{
	models.StatusWaiting: {models.StatusArrived, models.StatusCalled, models.StatusAbsent, models.StatusCompleted, models.StatusDeleted},
	models.StatusArrived: {models.StatusCalled, models.StatusAbsent, models.StatusCompleted, models.StatusDeleted},
	models.StatusCalled:  {models.StatusAbsent, models.StatusCompleted, models.StatusDeleted},
	models.StatusAbsent:  {models.StatusWaiting, models.StatusArrived, models.StatusCompleted, models.StatusDeleted},
}

func ValidTransition(fromStatus, toStatus string) bool {
	allowed, ok := transitionMap[fromStatus]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == toStatus {
			return true
		}
	}
	return false
}

func isTerminal(status string) bool {
	return status == models.StatusCompleted || status == models.StatusDeleted
}

// restoreTarget picks the status an absent ticket returns to when its
// absence is cancelled. A guest who was called and then came back is
// treated as arrived.
func restoreTarget(previous string) string {
	if previous == models.StatusWaiting {
		return models.StatusWaiting
	}
	return models.StatusArrived
}
