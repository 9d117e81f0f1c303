package webhook

const (
	EventDocumentPublished   = "document.published"
	EventDocumentUnpublished = "document.unpublished"
	EventBatchCompleted      = "batch.completed"
)

// Events lists what a webhook may subscribe to.
var Events = []string{EventDocumentPublished, EventDocumentUnpublished, EventBatchCompleted}

func KnownEvent(e string) bool {
	for _, known := range Events {
		if e == known {
			return true
		}
	}
	return false
}
