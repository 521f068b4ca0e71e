package category

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/example/ec-event-sourcing/internal/apperr"
	"github.com/example/ec-event-sourcing/internal/domain/aggregate"
	"github.com/example/ec-event-sourcing/internal/infrastructure/store"
)

const AggregateType = "Category"

var (
	ErrCategoryNotFound = fmt.Errorf("%w: category not found", apperr.ErrNotFound)
	ErrInvalidName      = fmt.Errorf("%w: name is required", apperr.ErrValidation)
	ErrInvalidSlug      = fmt.Errorf("%w: invalid slug format", apperr.ErrValidation)
	ErrSelfParent       = fmt.Errorf("%w: category cannot be its own parent", apperr.ErrValidation)
)

// slugRegex validates slug format (lowercase letters, numbers, hyphens)
var slugRegex = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

var (
	slugInvalidChars = regexp.MustCompile(`[^a-z0-9-]`)
	slugHyphenRuns   = regexp.MustCompile(`-+`)
)

// Category represents a product category
type Category struct {
	ID string `json:"id"`
	Details
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int       `json:"version"`
}

func New() *Category { return &Category{} }

func (c *Category) GetID() string { return c.ID }
func (c *Category) GetVersion() int { return c.Version }
func (c *Category) SetVersion(v int)  { c.Version = v }
func (c *Category) Exists() bool { return c.ID != "" }
func (c *Category) IsTerminal() bool { return c.Exists() && !c.IsActive }

// ApplyEvent folds one event into the category state
func (c *Category) ApplyEvent(event store.Event) {
	switch event.EventType {
	case EventCategoryCreated:
		var data CategoryCreated
		if json.Unmarshal(event.Data, &data) != nil {
			return
		}
		c.ID = data.CategoryID
		c.Details = data.Details
		c.IsActive = true
		c.CreatedAt = data.CreatedAt
		c.UpdatedAt = data.CreatedAt
	case EventCategoryUpdated:
		var data CategoryUpdated
		if json.Unmarshal(event.Data, &data) != nil {
			return
		}
		c.Details = data.Details
		c.UpdatedAt = data.UpdatedAt
	case EventCategoryDeleted:
		var data CategoryDeleted
		if json.Unmarshal(event.Data, &data) != nil {
			return
		}
		c.IsActive = false
		c.UpdatedAt = data.DeletedAt
	}
}

// Execute decides the events for a command without changing state
func (c *Category) Execute(cmd aggregate.Command) ([]aggregate.Change, error) {
	now := time.Now()
	switch cmd := cmd.(type) {
	case CreateCategory:
		details, err := validate(cmd.CategoryID, Details{
			Name:        cmd.Name,
			Slug:        cmd.Slug,
			Description: cmd.Description,
			ParentID:    cmd.ParentID,
			SortOrder:   cmd.SortOrder,
		})
		if err != nil {
			return nil, err
		}
		return []aggregate.Change{aggregate.NewChange(EventCategoryCreated, CategoryCreated{
			CategoryID: cmd.CategoryID,
			Details:    details,
			CreatedAt:  now,
		})}, nil

	case UpdateCategory:
		details, err := validate(c.ID, Details{
			Name:        cmd.Name,
			Slug:        cmd.Slug,
			Description: cmd.Description,
			ParentID:    cmd.ParentID,
			SortOrder:   cmd.SortOrder,
		})
		if err != nil {
			return nil, err
		}
		if details == c.Details {
			return nil, nil
		}
		return []aggregate.Change{aggregate.NewChange(EventCategoryUpdated, CategoryUpdated{
			CategoryID: c.ID,
			Details:    details,
			UpdatedAt:  now,
		})}, nil

	case DeleteCategory:
		return []aggregate.Change{aggregate.NewChange(EventCategoryDeleted, CategoryDeleted{
			CategoryID: c.ID,
			DeletedAt:  now,
		})}, nil
	}
	return nil, fmt.Errorf("%w: %s", aggregate.ErrUnsupportedType, cmd.CommandType())
}

// validate checks name and parent and fills in a missing slug
func validate(id string, d Details) (Details, error) {
	if strings.TrimSpace(d.Name) == "" {
		return Details{}, ErrInvalidName
	}
	if d.ParentID != "" && d.ParentID == id {
		return Details{}, ErrSelfParent
	}

	if d.Slug == "" {
		d.Slug = generateSlug(d.Name)
	}
	if !slugRegex.MatchString(d.Slug) {
		return Details{}, ErrInvalidSlug
	}
	return d, nil
}

// generateSlug creates a URL-friendly slug from a name
func generateSlug(name string) string {
	slug := strings.ToLower(name)
	slug = strings.ReplaceAll(slug, " ", "-")
	slug = strings.ReplaceAll(slug, "_", "-")
	slug = slugInvalidChars.ReplaceAllString(slug, "")
	slug = slugHyphenRuns.ReplaceAllString(slug, "-")
	return strings.Trim(slug, "-")
}
