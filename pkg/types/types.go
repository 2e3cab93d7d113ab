package types

import "time"

// AgentRegistration records a freshly minted agent with the marketplace backend
type AgentRegistration struct {
	Chain        string   `json:"chain" validate:"required,oneof=eth base bnb sol tron"`
	TokenID      string   `json:"tokenId" validate:"required"`
	TxHash       string   `json:"txHash" validate:"required"`
	Owner        string   `json:"owner" validate:"required"`
	Name         string   `json:"name" validate:"required"`
	Description  string   `json:"description,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
	ModelType    string   `json:"modelType,omitempty"`
	TokenURI     string   `json:"tokenUri,omitempty"`
}

// ListingRecord records an agent put up for sale
type ListingRecord struct {
	Chain   string `json:"chain" validate:"required,oneof=eth base bnb sol tron"`
	TokenID string `json:"tokenId" validate:"required"`
	Price   string `json:"price" validate:"required,numeric"`
	Seller  string `json:"seller" validate:"required"`
	TxHash  string `json:"txHash" validate:"required"`
}

// PurchaseRecord marks a listing as sold
type PurchaseRecord struct {
	Buyer  string `json:"buyer" validate:"required"`
	TxHash string `json:"txHash" validate:"required"`
}

// DelistRecord carries the transaction that cancelled a listing
type DelistRecord struct {
	TxHash string `json:"txHash" validate:"required"`
}

// RentalRecord creates an active rental of a listed agent
type RentalRecord struct {
	ListingID    string `json:"listingId" validate:"required"`
	Renter       string `json:"renter" validate:"required"`
	DurationDays int    `json:"durationDays" validate:"gt=0"`
	TxHash       string `json:"txHash" validate:"required"`
}

// BidRecord records a bid placed on an auction
type BidRecord struct {
	Bidder string `json:"bidder" validate:"required"`
	Amount string `json:"amount" validate:"required,numeric"`
	TxHash string `json:"txHash" validate:"required"`
}

// Agent is the backend's view of a registered agent
type Agent struct {
	ID        string    `json:"id"`
	Chain     string    `json:"chain"`
	TokenID   string    `json:"tokenId"`
	Owner     string    `json:"owner"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// Listing is the backend's view of a marketplace listing
type Listing struct {
	ID      string `json:"id"`
	Chain   string `json:"chain"`
	TokenID string `json:"tokenId"`
	Price   string `json:"price"`
	Seller  string `json:"seller"`
	Buyer   string `json:"buyer,omitempty"`
	Status  string `json:"status"` // active, sold or delisted
	TxHash  string `json:"txHash"`
}

type Rental struct {
	ID           string    `json:"id"`
	ListingID    string    `json:"listingId"`
	Renter       string    `json:"renter"`
	DurationDays int       `json:"durationDays"`
	Status       string    `json:"status"`
	StartsAt     time.Time `json:"startsAt"`
	EndsAt       time.Time `json:"endsAt"`
}

type Bid struct {
	ID        string    `json:"id"`
	AuctionID string    `json:"auctionId"`
	Bidder    string    `json:"bidder"`
	Amount    string    `json:"amount"`
	TxHash    string    `json:"txHash"`
	CreatedAt time.Time `json:"createdAt"`
}
