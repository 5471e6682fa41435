package cartsync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/afm-storefront/internal/cartstore"
)

func writeEnvelope(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func TestClientApplySendsAbsoluteQuantity(t *testing.T) {
	var gotMethod, gotPath, gotAuth string
	var gotBody lineRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath, gotAuth = r.Method, r.URL.Path, r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		writeEnvelope(w, http.StatusOK, map[string]any{
			"data": map[string]any{
				"id":       "cart-9",
				"currency": "USD",
				"items":    []map[string]any{{"productId": "A", "quantity": 4, "unitPrice": "9.5"}},
			},
		})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, WithBearerToken("tok"))
	require.NoError(t, err)

	cart, err := client.Apply(context.Background(), cartstore.Mutation{
		Kind: cartstore.MutationUpsert, CartID: "cart-9", ProductID: "A", Quantity: 4,
	})
	require.NoError(t, err)
	require.Equal(t, http.MethodPut, gotMethod)
	require.Equal(t, "/api/v1/carts/cart-9/lines", gotPath)
	require.Equal(t, "Bearer tok", gotAuth)
	require.Equal(t, lineRequest{ProductID: "A", Quantity: 4}, gotBody)
	require.Equal(t, "cart-9", cart.ID)
	require.Len(t, cart.Items, 1)
	require.Equal(t, "9.5", cart.Items[0].UnitPrice.String())
}

func TestClientApplyRemoveUsesQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		require.Equal(t, "M", r.URL.Query().Get("productId"))
		require.Equal(t, "red", r.URL.Query().Get("variantId"))
		writeEnvelope(w, http.StatusOK, map[string]any{"data": map[string]any{"id": "c", "items": []any{}}})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL)
	require.NoError(t, err)
	_, err = client.Apply(context.Background(), cartstore.Mutation{
		Kind: cartstore.MutationRemove, CartID: "c", ProductID: "M", VariantID: "red",
	})
	require.NoError(t, err)
}

func TestClientClassifiesErrorResponses(t *testing.T) {
	cases := []struct {
		name     string
		status   int
		body     any
		rejected bool
	}{
		{"out of stock", http.StatusConflict, map[string]any{"error": map[string]any{"code": "OUT_OF_STOCK", "message": "gone"}}, true},
		{"validation", http.StatusBadRequest, map[string]any{"error": map[string]any{"code": "VALIDATION_ERROR", "message": "bad"}}, true},
		{"internal", http.StatusInternalServerError, map[string]any{"error": map[string]any{"code": "INTERNAL_ERROR", "message": "boom"}}, false},
		{"unauthorized", http.StatusUnauthorized, map[string]any{"error": map[string]any{"code": "UNAUTHORIZED", "message": "login"}}, false},
		{"html gateway page", http.StatusBadGateway, "<html>bad gateway</html>", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				writeEnvelope(w, tc.status, tc.body)
			}))
			defer srv.Close()

			client, err := NewClient(srv.URL)
			require.NoError(t, err)
			_, err = client.CreateCart(context.Background())
			require.Error(t, err)

			var rejected *RejectedError
			var status *HTTPStatusError
			if tc.rejected {
				require.ErrorAs(t, err, &rejected)
			} else {
				require.ErrorAs(t, err, &status)
				require.Equal(t, tc.status, status.Status)
			}
		})
	}
}

func TestClientProductMapsCatalogPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/products/missing" {
			writeEnvelope(w, http.StatusNotFound, map[string]any{"error": map[string]any{"code": "NOT_FOUND", "message": "no"}})
			return
		}
		writeEnvelope(w, http.StatusOK, map[string]any{"data": map[string]any{
			"id": "M", "name": "Mug", "price": "15.00", "stock": 0, "isActive": true,
			"variants": []map[string]any{
				{"id": "red", "name": "Red", "price": nil, "stock": 3, "isActive": true},
				{"id": "blue", "name": "Blue", "price": "16.00", "stock": 5, "isActive": true},
				{"id": "gold", "name": "Gold", "price": "99.00", "stock": 1, "isActive": false},
			},
		}})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL)
	require.NoError(t, err)

	p, err := client.Product(context.Background(), "M")
	require.NoError(t, err)
	require.Len(t, p.Variants, 2)
	require.Equal(t, "15", p.Variants[0].Price.String())
	require.Equal(t, "16", p.Variants[1].Price.String())

	_, err = client.Product(context.Background(), "missing")
	require.ErrorIs(t, err, cartstore.ErrProductNotFound)
}

func TestNewClientRejectsRelativeURL(t *testing.T) {
	_, err := NewClient("/api")
	require.Error(t, err)
}
