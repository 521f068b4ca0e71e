package category

import "github.com/example/ec-event-sourcing/internal/domain/aggregate"

const (
	CmdCreateCategory = "CreateCategory"
	CmdUpdateCategory = "UpdateCategory"
	CmdDeleteCategory = "DeleteCategory"
)

type CreateCategory struct {
	CategoryID  string `json:"category_id"`
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Description string `json:"description"`
	ParentID    string `json:"parent_id,omitempty"`
	SortOrder   int    `json:"sort_order"`
}

type UpdateCategory struct {
	CategoryID  string `json:"category_id"`
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Description string `json:"description"`
	ParentID    string `json:"parent_id,omitempty"`
	SortOrder   int    `json:"sort_order"`
}

type DeleteCategory struct {
	CategoryID string `json:"category_id"`
}

func (c CreateCategory) CommandType() string { return CmdCreateCategory }
func (c CreateCategory) AggregateID() string { return c.CategoryID }
func (c CreateCategory) WithAggregateID(id string) aggregate.Command {
	c.CategoryID = id
	return c
}

func (c UpdateCategory) CommandType() string { return CmdUpdateCategory }
func (c UpdateCategory) AggregateID() string { return c.CategoryID }
func (c UpdateCategory) WithAggregateID(id string) aggregate.Command {
	c.CategoryID = id
	return c
}

func (c DeleteCategory) CommandType() string { return CmdDeleteCategory }
func (c DeleteCategory) AggregateID() string { return c.CategoryID }
func (c DeleteCategory) WithAggregateID(id string) aggregate.Command {
	c.CategoryID = id
	return c
}

// Routes lists the category commands for the dispatcher
func Routes() []aggregate.Route {
	return []aggregate.Route{
		{CommandType: CmdCreateCategory, Policy: aggregate.PolicyMustNotExist, Decode: aggregate.Decoder[CreateCategory]()},
		{CommandType: CmdUpdateCategory, Policy: aggregate.PolicyMustExist, Decode: aggregate.Decoder[UpdateCategory]()},
		{CommandType: CmdDeleteCategory, Policy: aggregate.PolicyMustExist, Decode: aggregate.Decoder[DeleteCategory]()},
	}
}
