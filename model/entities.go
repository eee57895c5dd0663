package model

import "time"

// Admin records a platform administrator. Admin records are immutable after
// creation; removing an admin deletes the record, and re-adding the same
// address creates a fresh record with a new AddedAt.
type Admin struct {
	ObjectType string    `json:"objectType"` // "Admin"
	Address    string    `json:"address"`
	AddedBy    string    `json:"addedBy"`
	AddedAt    time.Time `json:"addedAt"`
}

// Merchant records a registered merchant. Balance is the only mutable field
// and is written exclusively through the balance-update operation.
type Merchant struct {
	ObjectType string    `json:"objectType"` // "Merchant"
	Address    string    `json:"address"`
	AddedBy    string    `json:"addedBy"`
	AddedAt    time.Time `json:"addedAt"`
	Balance    uint64    `json:"balance"`
}

// Product records a catalog entry belonging to a merchant. AddedBy, AddedAt
// and MerchantAddress are fixed at creation; the references and UpdatedAt
// change on update.
type Product struct {
	ObjectType        string    `json:"objectType"` // "Product"
	ID                string    `json:"id"`
	AddedBy           string    `json:"addedBy"`
	AddedAt           time.Time `json:"addedAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
	ImageReference    string    `json:"imageReference"`
	MetadataReference string    `json:"metadataReference"`
	MerchantAddress   string    `json:"merchantAddress"`
}

// Order is an immutable settlement record. OrderID comes from a strictly
// increasing counter and is never reused.
type Order struct {
	ObjectType     string    `json:"objectType"` // "Order"
	OrderID        uint64    `json:"orderId"`
	CreatedBy      string    `json:"createdBy"`
	OrderReference string    `json:"orderReference"`
	TotalAmount    uint64    `json:"totalAmount"`
	Commission     uint64    `json:"commission"`
	MerchantPayout uint64    `json:"merchantPayout"`
	CreatedAt      time.Time `json:"createdAt"`
}

// CollaboratorPointer stores the currently trusted address of an external
// collaborator contract. It is mutated only through the rotation protocol.
type CollaboratorPointer struct {
	ObjectType string    `json:"objectType"` // "CollaboratorPointer"
	Name       string    `json:"name"`
	Address    string    `json:"address"`
	UpdatedBy  string    `json:"updatedBy"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// SelfIdentity is the payload a collaborator returns from its liveness probe.
type SelfIdentity struct {
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	Timestamp time.Time `json:"timestamp"`
}

// PaginatedProductResponse is the structure returned by paginated product queries.
type PaginatedProductResponse struct {
	Products     []*Product `json:"products"`
	NextBookmark string     `json:"nextBookmark"`
	FetchedCount int32      `json:"fetchedCount"`
}
