package entity

import "time"

// WorkflowDefinition is one version of a declaratively-defined business
// process. A new version is a new, independent row copying the step graph;
// running instances pin their definition by id, so deactivating or versioning
// a definition never affects them.
type WorkflowDefinition struct {
	ID          int64     `json:"id"`
	Code        string    `json:"code"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Version     int       `json:"version"`
	EntityType  string    `json:"entity_type"`
	Schema      JSONMap   `json:"schema,omitempty"`
	IsActive    bool      `json:"is_active"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
