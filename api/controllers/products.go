package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/afm-storefront/api/responses"
	"github.com/angelmondragon/afm-storefront/api/validators"
	"github.com/angelmondragon/afm-storefront/internal/catalog"
	pkgerrors "github.com/angelmondragon/afm-storefront/pkg/errors"
	"github.com/angelmondragon/afm-storefront/pkg/logger"
)

const maxSearchLength = 100

type variantRequest struct {
	ID       *uuid.UUID       `json:"id,omitempty"`
	SKU      string           `json:"sku" validate:"max=64"`
	Name     string           `json:"name" validate:"required,max=120"`
	Price    *decimal.Decimal `json:"price,omitempty"`
	Stock    int              `json:"stock" validate:"gte=0"`
	IsActive *bool            `json:"isActive,omitempty"`
}

type createProductRequest struct {
	Slug        string           `json:"slug" validate:"max=120"`
	Name        string           `json:"name" validate:"required,max=200"`
	Description string           `json:"description" validate:"max=5000"`
	Price       decimal.Decimal  `json:"price"`
	Currency    string           `json:"currency" validate:"omitempty,len=3"`
	Stock       int              `json:"stock" validate:"gte=0"`
	IsActive    *bool            `json:"isActive,omitempty"`
	Variants    []variantRequest `json:"variants" validate:"dive"`
}

type updateProductRequest struct {
	Name        *string          `json:"name,omitempty" validate:"omitempty,max=200"`
	Description *string          `json:"description,omitempty" validate:"omitempty,max=5000"`
	Price       *decimal.Decimal `json:"price,omitempty"`
	Stock       *int             `json:"stock,omitempty" validate:"omitempty,gte=0"`
	IsActive    *bool            `json:"isActive,omitempty"`
	Variants    []variantRequest `json:"variants" validate:"dive"`
}

func (v variantRequest) input() catalog.VariantInput {
	active := true
	if v.IsActive != nil {
		active = *v.IsActive
	}
	return catalog.VariantInput{
		ID:       v.ID,
		SKU:      strings.TrimSpace(v.SKU),
		Name:     strings.TrimSpace(v.Name),
		Price:    v.Price,
		Stock:    v.Stock,
		IsActive: active,
	}
}

func variantInputs(in []variantRequest) []catalog.VariantInput {
	out := make([]catalog.VariantInput, 0, len(in))
	for _, v := range in {
		out = append(out, v.input())
	}
	return out
}

// ProductList serves the storefront listing of active products.
func ProductList(svc catalog.Service, logg *logger.Logger) http.HandlerFunc {
	return listProducts(svc, logg, false)
}

// AdminProductList includes inactive products.
func AdminProductList(svc catalog.Service, logg *logger.Logger) http.HandlerFunc {
	return listProducts(svc, logg, true)
}

func listProducts(svc catalog.Service, logg *logger.Logger, includeInactive bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "catalog service unavailable"))
			return
		}

		params, err := validators.ParsePagination(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		list, err := svc.ListProducts(r.Context(), catalog.ListInput{
			IncludeInactive: includeInactive,
			Search:          validators.SearchTerm(r, "q", maxSearchLength),
			Pagination:      params,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

// ProductDetail resolves {ref} as a product id or slug.
func ProductDetail(svc catalog.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "catalog service unavailable"))
			return
		}

		ref := strings.TrimSpace(chi.URLParam(r, "ref"))
		if ref == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "product reference required"))
			return
		}

		product, err := svc.GetProduct(r.Context(), ref)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, product)
	}
}

func AdminCreateProduct(svc catalog.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "catalog service unavailable"))
			return
		}

		var body createProductRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		active := true
		if body.IsActive != nil {
			active = *body.IsActive
		}
		product, err := svc.CreateProduct(r.Context(), catalog.CreateProductInput{
			Slug:        strings.TrimSpace(body.Slug),
			Name:        strings.TrimSpace(body.Name),
			Description: strings.TrimSpace(body.Description),
			Price:       body.Price,
			Currency:    strings.ToUpper(strings.TrimSpace(body.Currency)),
			Stock:       body.Stock,
			IsActive:    active,
			Variants:    variantInputs(body.Variants),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, product)
	}
}

func AdminUpdateProduct(svc catalog.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "catalog service unavailable"))
			return
		}

		productID, err := validators.ParseUUIDParam(r, "productId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body updateProductRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		product, err := svc.UpdateProduct(r.Context(), productID, catalog.UpdateProductInput{
			Name:        body.Name,
			Description: body.Description,
			Price:       body.Price,
			Stock:       body.Stock,
			IsActive:    body.IsActive,
			Variants:    variantInputs(body.Variants),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, product)
	}
}

// AdminUploadMedia accepts a multipart "file" part and stores it for the product.
func AdminUploadMedia(svc catalog.Service, maxBytes int64, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "catalog service unavailable"))
			return
		}

		productID, err := validators.ParseUUIDParam(r, "productId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if maxBytes > 0 {
			// multipart framing needs a little headroom over the file itself
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes+1<<20)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "file is required").
				WithDetails(map[string]string{"file": "is required"}))
			return
		}
		defer file.Close()

		media, err := svc.UploadMedia(r.Context(), productID, catalog.MediaUpload{
			Filename: header.Filename,
			Size:     header.Size,
			Body:     file,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, media)
	}
}
