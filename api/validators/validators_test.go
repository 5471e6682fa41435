package validators

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/afm-storefront/pkg/errors"
)

type lineBody struct {
	ProductID string `json:"productId" validate:"required,uuid"`
	Quantity  int    `json:"quantity" validate:"gte=0"`
}

func TestDecodeJSONBodyReportsFieldsByJSONName(t *testing.T) {
	req := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"productId":"nope","quantity":-1}`))
	var body lineBody
	err := DecodeJSONBody(req, &body)
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	details, ok := pkgerrors.As(err).Details().(map[string]string)
	if !ok {
		t.Fatalf("expected field details, got %T", pkgerrors.As(err).Details())
	}
	if details["productId"] != "must be a valid id" {
		t.Fatalf("unexpected productId message %q", details["productId"])
	}
	if details["quantity"] != "must be 0 or more" {
		t.Fatalf("unexpected quantity message %q", details["quantity"])
	}
}

func TestDecodeJSONBodyRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"productId":"`+uuid.NewString()+`","quantity":1,"price":"0.01"}`))
	var body lineBody
	if err := DecodeJSONBody(req, &body); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected unknown field to be rejected, got %v", err)
	}
}

func TestParsePagination(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=10&cursor=abc", nil)
	params, err := ParsePagination(req)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if params.Limit != 10 || params.Cursor != "abc" {
		t.Fatalf("unexpected params %+v", params)
	}

	req = httptest.NewRequest(http.MethodGet, "/?limit=1000", nil)
	if _, err := ParsePagination(req); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected out of range limit to fail, got %v", err)
	}
}

func TestParseUUIDParam(t *testing.T) {
	id := uuid.New()
	rc := chi.NewRouteContext()
	rc.URLParams.Add("cartId", id.String())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rc))

	got, err := ParseUUIDParam(req, "cartId")
	if err != nil || got != id {
		t.Fatalf("expected %s, got %s (%v)", id, got, err)
	}
	if _, err := ParseUUIDParam(req, "productId"); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected missing param to fail, got %v", err)
	}
}

func TestDecodeJSONBodyRejectsTrailingAndOversizedInput(t *testing.T) {
	id := uuid.NewString()
	req := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"productId":"`+id+`","quantity":1} {"quantity":2}`))
	var body lineBody
	if err := DecodeJSONBody(req, &body); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected trailing object to be rejected, got %v", err)
	}

	huge := `{"productId":"` + id + `","quantity":1,"pad":"` + strings.Repeat("x", MaxBodyBytes) + `"}`
	req = httptest.NewRequest(http.MethodPut, "/", strings.NewReader(huge))
	if err := DecodeJSONBody(req, &body); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected oversized body to be rejected, got %v", err)
	}

	req = httptest.NewRequest(http.MethodPut, "/", strings.NewReader(""))
	if err := DecodeJSONBody(req, &body); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected empty body to be rejected, got %v", err)
	}
}

func TestSearchTerm(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?q=%20%20ca%C3%B1a%20%20%20de%20az%C3%BAcar%20", nil)
	if got := SearchTerm(req, "q", 0); got != "caña de azúcar" {
		t.Fatalf("unexpected term %q", got)
	}
	if got := SearchTerm(req, "q", 5); got != "caña" {
		t.Fatalf("expected rune-safe truncation, got %q", got)
	}
	if got := SearchTerm(req, "missing", 10); got != "" {
		t.Fatalf("expected empty term, got %q", got)
	}
}
