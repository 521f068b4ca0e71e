package category

import "time"

// Event types written to a category stream.
const (
	EventCategoryCreated = "CategoryCreated"
	EventCategoryUpdated = "CategoryUpdated"
	EventCategoryDeleted = "CategoryDeleted"
)

// Details is the editable part of a category. Created and updated events
// both carry the full set, so an update replaces rather than merges.
type Details struct {
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Description string `json:"description"`
	ParentID    string `json:"parent_id,omitempty"`
	SortOrder   int    `json:"sort_order"`
}

type CategoryCreated struct {
	CategoryID string `json:"category_id"`
	Details
	CreatedAt time.Time `json:"created_at"`
}

type CategoryUpdated struct {
	CategoryID string `json:"category_id"`
	Details
	UpdatedAt time.Time `json:"updated_at"`
}

// CategoryDeleted closes the stream. The category stays readable.
type CategoryDeleted struct {
	CategoryID string    `json:"category_id"`
	DeletedAt  time.Time `json:"deleted_at"`
}
