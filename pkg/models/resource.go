package models

import (
	"time"

	"github.com/Ramsey-B/clover/pkg/database"
)

// Resource is any record participating in linkage. Golden records are resources with MDMManaged set.
// A resource's type never changes after creation.
type Resource struct {
	ID           string        `json:"id" db:"id"`
	ResourceType string        `json:"resource_type" db:"resource_type"`
	MDMManaged   bool          `json:"mdm_managed" db:"mdm_managed"`
	Data         database.JSON `json:"data" db:"data"`
	Version      int           `json:"version" db:"version"`
	CreatedAt    time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at" db:"updated_at"`
}

func (r Resource) IsGolden() bool {
	return r.MDMManaged
}

// CreateResourceRequest is the request for creating a source resource
type CreateResourceRequest struct {
	ID           string        `json:"id,omitempty" validate:"omitempty,max=64"`
	ResourceType string        `json:"resource_type" validate:"required,max=64"`
	Data         database.JSON `json:"data" validate:"required"`
}

// ResourceListResponse is the response for listing resources
type ResourceListResponse struct {
	Items      []Resource `json:"items"`
	TotalCount int        `json:"total_count"`
}

// CreateResourceResponse reports the created resource and the links matching produced for it
type CreateResourceResponse struct {
	Resource Resource `json:"resource"`
	Links    []Link   `json:"links"`
	// GoldenCreated is set when no existing golden record matched and a new one was allocated
	GoldenCreated bool `json:"golden_created"`
}

// DeleteResourceResponse reports what deleting a resource removed along with it
type DeleteResourceResponse struct {
	ResourceID           string   `json:"resource_id"`
	LinksRemoved         int      `json:"links_removed"`
	GoldenRecordsRemoved []string `json:"golden_records_removed"`
}
