package product

import "time"

// Event types written to a product stream.
const (
	EventProductCreated          = "ProductCreated"
	EventProductUpdated          = "ProductUpdated"
	EventProductCategoryAssigned = "ProductCategoryAssigned"
	EventProductCategoryRemoved  = "ProductCategoryRemoved"
	EventProductDeleted          = "ProductDeleted"
)

// Listing is what a shopper sees of a product. Price is in minor units.
type Listing struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Price       int    `json:"price"`
}

type ProductCreated struct {
	ProductID string `json:"product_id"`
	Listing
	CategoryID string    `json:"category_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// ProductUpdated replaces the whole listing.
type ProductUpdated struct {
	ProductID string `json:"product_id"`
	Listing
	UpdatedAt time.Time `json:"updated_at"`
}

// ProductCategoryAssigned moves a product into CategoryID. PreviousCategoryID
// is empty when the product had none.
type ProductCategoryAssigned struct {
	ProductID          string    `json:"product_id"`
	CategoryID         string    `json:"category_id"`
	PreviousCategoryID string    `json:"previous_category_id,omitempty"`
	AssignedAt         time.Time `json:"assigned_at"`
}

type ProductCategoryRemoved struct {
	ProductID  string    `json:"product_id"`
	CategoryID string    `json:"category_id"`
	RemovedAt  time.Time `json:"removed_at"`
}

// ProductDeleted is final. Stock for the product lives in its inventory
// stream and is not touched.
type ProductDeleted struct {
	ProductID string    `json:"product_id"`
	DeletedAt time.Time `json:"deleted_at"`
}
