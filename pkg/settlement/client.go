package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sigweihq/agentpay/pkg/chains"
	"github.com/sigweihq/agentpay/pkg/types"
	"github.com/sigweihq/agentpay/pkg/utils"
)

// IdempotencyHeader carries a fresh key per request so the backend can drop duplicates
const IdempotencyHeader = "Idempotency-Key"

// Client reports confirmed on-chain operations to the marketplace backend.
// It never retries; a failed call is returned to the caller with the transaction identifier intact.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      string
	logger     *slog.Logger
	validate   *validator.Validate
	newKey     func() string
}

// Option configures a Client
type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithToken sends token as a bearer Authorization header
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// NewClient creates a backend client. baseURL must use https unless it points at localhost.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		return nil, errors.New("backend URL must not be empty")
	}
	if err := utils.ValidateServiceURL(baseURL); err != nil {
		return nil, err
	}

	c := &Client{
		baseURL:    baseURL,
		httpClient: utils.CreateHTTPClientWithTimeouts(),
		logger:     slog.Default(),
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		newKey:     func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// RegisterAgent records a minted agent. POST /api/agents
func (c *Client) RegisterAgent(ctx context.Context, req types.AgentRegistration) (*types.Agent, error) {
	var agent types.Agent
	if err := c.send(ctx, http.MethodPost, "/api/agents", req, &agent); err != nil {
		return nil, err
	}
	return &agent, nil
}

// RecordListing records a listing. POST /api/listings
func (c *Client) RecordListing(ctx context.Context, req types.ListingRecord) (*types.Listing, error) {
	var listing types.Listing
	if err := c.send(ctx, http.MethodPost, "/api/listings", req, &listing); err != nil {
		return nil, err
	}
	return &listing, nil
}

// RecordPurchase marks a listing sold. POST /api/listings/{id}/purchase
func (c *Client) RecordPurchase(ctx context.Context, listingID string, req types.PurchaseRecord) (*types.Listing, error) {
	path, err := resourcePath("/api/listings/%s/purchase", listingID)
	if err != nil {
		return nil, err
	}
	var listing types.Listing
	if err := c.send(ctx, http.MethodPost, path, req, &listing); err != nil {
		return nil, err
	}
	return &listing, nil
}

// Delist removes a listing. DELETE /api/listings/{id}
func (c *Client) Delist(ctx context.Context, listingID string, req types.DelistRecord) error {
	path, err := resourcePath("/api/listings/%s", listingID)
	if err != nil {
		return err
	}
	return c.send(ctx, http.MethodDelete, path, req, nil)
}

// CreateRental starts an active rental. POST /api/rentals
func (c *Client) CreateRental(ctx context.Context, req types.RentalRecord) (*types.Rental, error) {
	var rental types.Rental
	if err := c.send(ctx, http.MethodPost, "/api/rentals", req, &rental); err != nil {
		return nil, err
	}
	return &rental, nil
}

// RecordBid records an auction bid. POST /api/auctions/{id}/bids
func (c *Client) RecordBid(ctx context.Context, auctionID string, req types.BidRecord) (*types.Bid, error) {
	path, err := resourcePath("/api/auctions/%s/bids", auctionID)
	if err != nil {
		return nil, err
	}
	var bid types.Bid
	if err := c.send(ctx, http.MethodPost, path, req, &bid); err != nil {
		return nil, err
	}
	return &bid, nil
}

func (c *Client) send(ctx context.Context, method, path string, body, result any) error {
	if err := c.validate.Struct(body); err != nil {
		return fmt.Errorf("invalid %s %s request: %w", method, path, err)
	}

	key := c.newKey()
	headers := map[string]string{IdempotencyHeader: key}
	if c.token != "" {
		headers["Authorization"] = "Bearer " + c.token
	}

	if err := httpRequest(ctx, c.httpClient, method, c.baseURL+path, body, headers, result); err != nil {
		c.logger.Warn("backend settlement failed", "method", method, "path", path, "idempotencyKey", key, "error", err)
		return err
	}
	c.logger.Debug("backend settlement recorded", "method", method, "path", path, "idempotencyKey", key)
	return nil
}

func resourcePath(format, id string) (string, error) {
	if id == "" {
		return "", errors.New("resource id must not be empty")
	}
	return fmt.Sprintf(format, url.PathEscape(id)), nil
}

// AgentFromMint builds the registration for a mint outcome
func AgentFromMint(outcome *chains.TransactionOutcome, owner string, req chains.MintRequest) types.AgentRegistration {
	return types.AgentRegistration{
		Chain:        string(outcome.Chain),
		TokenID:      outcome.TokenID,
		TxHash:       outcome.TxHash,
		Owner:        owner,
		Name:         req.Name,
		Description:  req.Description,
		Capabilities: req.Capabilities,
		ModelType:    req.ModelType,
		TokenURI:     req.TokenURI,
	}
}

// ListingFromOutcome builds the listing record for a list outcome
func ListingFromOutcome(outcome *chains.TransactionOutcome, tokenID, price, seller string) types.ListingRecord {
	return types.ListingRecord{
		Chain:   string(outcome.Chain),
		TokenID: tokenID,
		Price:   price,
		Seller:  seller,
		TxHash:  outcome.TxHash,
	}
}
