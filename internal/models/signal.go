package models

// Signal is the deduplicated, capped variant of a finding used by the
// signal aggregation path
type Signal struct {
	Category Category `json:"category"`
	Severity Severity `json:"severity"`
	Resource string   `json:"resource"` // kind/namespace/name
	Message  string   `json:"message"`
}

// Key returns the deduplication key of the signal
func (s Signal) Key() SignalKey {
	return SignalKey{Category: s.Category, Resource: s.Resource, Message: s.Message}
}

// SignalKey identifies a signal for deduplication
type SignalKey struct {
	Category Category
	Resource string
	Message  string
}
