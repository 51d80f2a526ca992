package lifecycle

import "content-backoffice/internal/models"

// allowed is the content status transition table. Anything not listed is an
// illegal transition.
var allowed = map[models.ContentStatus][]models.ContentStatus{
	models.StatusDraft:     {models.StatusReview},
	models.StatusReview:    {models.StatusPublished, models.StatusDraft, models.StatusArchived},
	models.StatusPublished: {models.StatusArchived},
}

func canTransition(from, to models.ContentStatus) bool {
	for _, next := range allowed[from] {
		if next == to {
			return true
		}
	}
	return false
}
