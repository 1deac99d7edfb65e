package dispatch

import (
	"github.com/jwalitptl/notification-dispatcher/internal/model"
)

// Reduce flattens a batch result into per-address delivery statuses. Entries
// without an address are keyed by endpoint id so nothing is dropped.
func Reduce(result *model.BatchResult) map[string]model.DeliveryStatus {
	statuses := make(map[string]model.DeliveryStatus)
	if result == nil {
		return statuses
	}
	for endpointID, r := range result.Results {
		key := r.Address
		if key == "" {
			key = endpointID
		}
		statuses[key] = model.DeliveryStatus{
			Status:        r.DeliveryStatus,
			StatusCode:    r.StatusCode,
			MessageID:     r.MessageID,
			StatusMessage: r.StatusMessage,
			UpdatedToken:  r.UpdatedToken,
		}
	}
	return statuses
}

// Summarize counts delivered and failed entries.
func Summarize(statuses map[string]model.DeliveryStatus) (delivered, failed int) {
	for _, s := range statuses {
		if s.Delivered() {
			delivered++
		} else {
			failed++
		}
	}
	return delivered, failed
}
