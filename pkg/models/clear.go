package models

// ClearSummary reports what a clear removed
type ClearSummary struct {
	ResourceType         string `json:"resource_type,omitempty"`
	LinksRemoved         int    `json:"links_removed"`
	GoldenRecordsRemoved int    `json:"golden_records_removed"`
}
