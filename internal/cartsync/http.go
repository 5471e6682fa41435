package cartsync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/afm-storefront/internal/cartstore"
	pkgerrors "github.com/angelmondragon/afm-storefront/pkg/errors"
	"github.com/angelmondragon/afm-storefront/pkg/types"
)

const defaultHTTPTimeout = 10 * time.Second

// rejectionCodes are error codes that describe the request, not the transport.
var rejectionCodes = map[pkgerrors.Code]struct{}{
	pkgerrors.CodeValidation:    {},
	pkgerrors.CodeNotFound:      {},
	pkgerrors.CodeStateConflict: {},
	pkgerrors.CodeConflict:      {},
	pkgerrors.CodeOutOfStock:    {},
}

// HTTPStatusError is a non-2xx response that did not carry a rejection code.
type HTTPStatusError struct {
	Status int
	Code   string
	Body   string
}

func (e *HTTPStatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d: %s", e.Status, e.Code)
	}
	return fmt.Sprintf("http %d", e.Status)
}

// Client speaks the storefront JSON API. It backs both the server cart
// persister and the remote catalog.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	token   string
}

type ClientOption func(*Client)

// WithHTTPClient overrides the transport.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithBearerToken authenticates requests as a signed-in customer.
func WithBearerToken(token string) ClientOption {
	return func(c *Client) {
		c.token = strings.TrimSpace(token)
	}
}

func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", baseURL)
	}
	c := &Client{
		baseURL: u,
		http:    &http.Client{Timeout: defaultHTTPTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// CreateCart opens an empty server cart.
func (c *Client) CreateCart(ctx context.Context) (cartstore.ServerCart, error) {
	var out cartstore.ServerCart
	err := c.do(ctx, http.MethodPost, "/api/v1/carts", nil, struct{}{}, &out)
	return out, err
}

// GetCart fetches the server cart by id.
func (c *Client) GetCart(ctx context.Context, cartID string) (cartstore.ServerCart, error) {
	var out cartstore.ServerCart
	err := c.do(ctx, http.MethodGet, "/api/v1/carts/"+url.PathEscape(cartID), nil, nil, &out)
	return out, err
}

type lineRequest struct {
	ProductID string `json:"productId"`
	VariantID string `json:"variantId,omitempty"`
	Quantity  int    `json:"quantity"`
}

// Apply sends m as an absolute set-quantity or a delete. Both are idempotent
// on the server.
func (c *Client) Apply(ctx context.Context, m cartstore.Mutation) (cartstore.ServerCart, error) {
	path := "/api/v1/carts/" + url.PathEscape(m.CartID) + "/lines"
	var out cartstore.ServerCart
	switch m.Kind {
	case cartstore.MutationUpsert:
		body := lineRequest{ProductID: m.ProductID, VariantID: m.VariantID, Quantity: m.Quantity}
		return out, c.do(ctx, http.MethodPut, path, nil, body, &out)
	case cartstore.MutationRemove:
		q := url.Values{}
		q.Set("productId", m.ProductID)
		if m.VariantID != "" {
			q.Set("variantId", m.VariantID)
		}
		return out, c.do(ctx, http.MethodDelete, path, q, nil, &out)
	default:
		return out, fmt.Errorf("unknown mutation kind %q", m.Kind)
	}
}

type variantPayload struct {
	ID       string           `json:"id"`
	Name     string           `json:"name"`
	Price    *decimal.Decimal `json:"price"`
	Stock    int              `json:"stock"`
	IsActive bool             `json:"isActive"`
}

type productPayload struct {
	ID       string           `json:"id"`
	Name     string           `json:"name"`
	Price    decimal.Decimal  `json:"price"`
	Stock    int              `json:"stock"`
	IsActive bool             `json:"isActive"`
	Variants []variantPayload `json:"variants"`
}

// Product implements cartstore.Catalog against the public product endpoint.
func (c *Client) Product(ctx context.Context, productID string) (cartstore.CatalogProduct, error) {
	var p productPayload
	err := c.do(ctx, http.MethodGet, "/api/v1/products/"+url.PathEscape(productID), nil, nil, &p)
	if err != nil {
		var rejected *RejectedError
		if errors.As(err, &rejected) && rejected.Code == string(pkgerrors.CodeNotFound) {
			return cartstore.CatalogProduct{}, cartstore.ErrProductNotFound
		}
		return cartstore.CatalogProduct{}, err
	}
	out := cartstore.CatalogProduct{
		ID:     p.ID,
		Name:   p.Name,
		Price:  p.Price,
		Stock:  p.Stock,
		Active: p.IsActive,
	}
	for _, v := range p.Variants {
		if !v.IsActive {
			continue
		}
		price := p.Price
		if v.Price != nil {
			price = *v.Price
		}
		out.Variants = append(out.Variants, cartstore.CatalogVariant{
			ID:    v.ID,
			Name:  v.Name,
			Price: price,
			Stock: v.Stock,
		})
	}
	return out, nil
}

// Ping reports whether the liveness endpoint answers.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resolve("/health/live", nil), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return &HTTPStatusError{Status: resp.StatusCode}
	}
	return nil
}

func (c *Client) resolve(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.resolve(path, query), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	envelope := struct {
		Data json.RawMessage `json:"data"`
	}{}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return errors.New("decode response: empty data")
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	return nil
}

func decodeError(status int, raw []byte) error {
	var envelope types.ErrorEnvelope
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error.Code != "" {
		if _, ok := rejectionCodes[pkgerrors.Code(envelope.Error.Code)]; ok && status < 500 {
			return &RejectedError{
				Code:    envelope.Error.Code,
				Message: envelope.Error.Message,
				Details: envelope.Error.Details,
			}
		}
		return &HTTPStatusError{Status: status, Code: envelope.Error.Code, Body: envelope.Error.Message}
	}
	snippet := string(raw)
	if len(snippet) > 256 {
		snippet = snippet[:256]
	}
	return &HTTPStatusError{Status: status, Body: snippet}
}
