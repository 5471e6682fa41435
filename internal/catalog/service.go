package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gorm.io/gorm"

	"github.com/angelmondragon/afm-storefront/internal/cartstore"
	"github.com/angelmondragon/afm-storefront/pkg/db"
	"github.com/angelmondragon/afm-storefront/pkg/db/models"
	"github.com/angelmondragon/afm-storefront/pkg/enums"
	pkgerrors "github.com/angelmondragon/afm-storefront/pkg/errors"
	"github.com/angelmondragon/afm-storefront/pkg/logger"
	"github.com/angelmondragon/afm-storefront/pkg/pagination"
	"github.com/angelmondragon/afm-storefront/pkg/pricing"
	"github.com/angelmondragon/afm-storefront/pkg/storage"
)

// Service exposes storefront catalog reads and admin product management.
type Service interface {
	ListProducts(ctx context.Context, input ListInput) (*ProductList, error)
	GetProduct(ctx context.Context, ref string) (*ProductDTO, error)
	CreateProduct(ctx context.Context, input CreateProductInput) (*ProductDTO, error)
	UpdateProduct(ctx context.Context, id uuid.UUID, input UpdateProductInput) (*ProductDTO, error)
	UploadMedia(ctx context.Context, productID uuid.UUID, upload MediaUpload) (*MediaDTO, error)
	Product(ctx context.Context, productID string) (cartstore.CatalogProduct, error)
}

// ListInput filters the storefront listing. Admin listings include inactive products.
type ListInput struct {
	IncludeInactive bool
	Search          string
	Pagination      pagination.Params
}

type VariantInput struct {
	ID       *uuid.UUID
	SKU      string
	Name     string
	Price    *decimal.Decimal
	Stock    int
	IsActive bool
}

type CreateProductInput struct {
	Slug        string
	Name        string
	Description string
	Price       decimal.Decimal
	Currency    string
	Stock       int
	IsActive    bool
	Variants    []VariantInput
}

// UpdateProductInput holds optional mutation values for a product. Variants
// with an ID are updated in place, others are created.
type UpdateProductInput struct {
	Name        *string
	Description *string
	Price       *decimal.Decimal
	Stock       *int
	IsActive    *bool
	Variants    []VariantInput
}

// MediaUpload is a raw upload. Size is the declared length and is enforced.
type MediaUpload struct {
	Filename string
	Size     int64
	Body     io.Reader
}

var allowedMedia = map[string]enums.MediaKind{
	"image/jpeg": enums.MediaKindImage,
	"image/png":  enums.MediaKindImage,
	"image/webp": enums.MediaKindImage,
	"image/gif":  enums.MediaKindImage,
	"video/mp4":  enums.MediaKindVideo,
}

type ServiceParams struct {
	Repo      *Repository
	DB        *db.Client
	Storage   storage.Store
	Logger    *logger.Logger
	Currency  string
	Locale    string
	MaxUpload int64
}

type service struct {
	repo      *Repository
	db        *db.Client
	storage   storage.Store
	logg      *logger.Logger
	currency  string
	locale    string
	maxUpload int64
}

// NewService constructs a catalog service instance. Storage is optional;
// uploads fail with a dependency error without it.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("product repository required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db client required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	currency := strings.ToUpper(strings.TrimSpace(params.Currency))
	if currency == "" {
		currency = "USD"
	}
	if err := pricing.ValidateCurrency(currency); err != nil {
		return nil, err
	}
	return &service{
		repo:      params.Repo,
		db:        params.DB,
		storage:   params.Storage,
		logg:      params.Logger,
		currency:  currency,
		locale:    params.Locale,
		maxUpload: params.MaxUpload,
	}, nil
}

func (s *service) ListProducts(ctx context.Context, input ListInput) (*ProductList, error) {
	if _, err := pagination.ParseCursor(input.Pagination.Cursor); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, next, err := s.repo.List(ctx, listQuery{
		ActiveOnly: !input.IncludeInactive,
		Search:     input.Search,
		Pagination: input.Pagination,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list products")
	}
	out := &ProductList{Items: make([]ProductDTO, 0, len(rows)), NextCursor: next}
	for i := range rows {
		out.Items = append(out.Items, NewProductDTO(&rows[i], s.locale))
	}
	return out, nil
}

// GetProduct resolves ref as an id first and a slug otherwise.
func (s *service) GetProduct(ctx context.Context, ref string) (*ProductDTO, error) {
	product, err := s.load(ctx, ref)
	if err != nil {
		return nil, err
	}
	dto := NewProductDTO(product, s.locale)
	return &dto, nil
}

func (s *service) load(ctx context.Context, ref string) (*models.Product, error) {
	var (
		product *models.Product
		err     error
	)
	if id, parseErr := uuid.Parse(ref); parseErr == nil {
		product, err = s.repo.FindByID(ctx, id)
	} else {
		product, err = s.repo.FindBySlug(ctx, strings.ToLower(strings.TrimSpace(ref)))
	}
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product")
	}
	return product, nil
}

func (s *service) CreateProduct(ctx context.Context, input CreateProductInput) (*ProductDTO, error) {
	if err := validatePriceAndStock(input.Price, input.Stock); err != nil {
		return nil, err
	}
	slug := Slugify(input.Slug)
	if slug == "" {
		slug = Slugify(input.Name)
	}
	if slug == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "slug cannot be derived from name")
	}
	currency := strings.ToUpper(strings.TrimSpace(input.Currency))
	if currency == "" {
		currency = s.currency
	}
	if err := pricing.ValidateCurrency(currency); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unsupported currency")
	}

	product := &models.Product{
		Slug:        slug,
		Name:        strings.TrimSpace(input.Name),
		Description: input.Description,
		Price:       input.Price,
		Currency:    currency,
		Stock:       input.Stock,
		IsActive:    input.IsActive,
	}
	for _, v := range input.Variants {
		if err := validateVariant(v); err != nil {
			return nil, err
		}
		product.Variants = append(product.Variants, models.ProductVariant{
			SKU:      strings.TrimSpace(v.SKU),
			Name:     strings.TrimSpace(v.Name),
			Price:    v.Price,
			Stock:    v.Stock,
			IsActive: v.IsActive,
		})
	}

	if err := s.repo.Create(ctx, product); err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "slug or sku already exists")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert product")
	}
	s.logg.Info(s.logg.WithField(ctx, "product_id", product.ID.String()), "product created")
	return s.GetProduct(ctx, product.ID.String())
}

func (s *service) UpdateProduct(ctx context.Context, id uuid.UUID, input UpdateProductInput) (*ProductDTO, error) {
	product, err := s.load(ctx, id.String())
	if err != nil {
		return nil, err
	}
	applyUpdate(product, input)
	if err := validatePriceAndStock(product.Price, product.Stock); err != nil {
		return nil, err
	}
	existing := make(map[uuid.UUID]models.ProductVariant, len(product.Variants))
	for _, v := range product.Variants {
		existing[v.ID] = v
	}

	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)
		if err := txRepo.Update(ctx, product); err != nil {
			return err
		}
		for _, in := range input.Variants {
			if err := validateVariant(in); err != nil {
				return err
			}
			variant := models.ProductVariant{ProductID: product.ID}
			if in.ID != nil {
				current, ok := existing[*in.ID]
				if !ok {
					return pkgerrors.New(pkgerrors.CodeNotFound, "variant not found")
				}
				variant = current
			}
			variant.SKU = strings.TrimSpace(in.SKU)
			variant.Name = strings.TrimSpace(in.Name)
			variant.Price = in.Price
			variant.Stock = in.Stock
			variant.IsActive = in.IsActive
			if err := txRepo.SaveVariant(ctx, &variant); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		if db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "sku already exists")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update product")
	}
	return s.GetProduct(ctx, id.String())
}

func (s *service) UploadMedia(ctx context.Context, productID uuid.UUID, upload MediaUpload) (*MediaDTO, error) {
	if s.storage == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "media storage not configured")
	}
	if upload.Body == nil || upload.Size <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "file is required")
	}
	if s.maxUpload > 0 && upload.Size > s.maxUpload {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("file exceeds %d bytes", s.maxUpload))
	}
	if _, err := s.load(ctx, productID.String()); err != nil {
		return nil, err
	}

	mtype, err := mimetype.DetectReader(io.LimitReader(upload.Body, 3072))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read upload")
	}
	contentType := strings.SplitN(mtype.String(), ";", 2)[0]
	kind, ok := allowedMedia[contentType]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unsupported media type "+contentType).
			WithDetails(map[string]string{"file": "must be jpeg, png, webp, gif or mp4"})
	}

	mediaID := uuid.New()
	filename := upload.Filename
	if filename == "" {
		filename = mediaID.String() + mtype.Extension()
	}
	key := storage.ProductMediaKey(productID.String(), mediaID.String(), filename)
	// DetectReader consumed the header bytes.
	body, err := rewind(upload.Body)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read upload")
	}
	url, err := s.storage.Put(ctx, key, io.LimitReader(body, upload.Size), contentType)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store media")
	}

	media := &models.ProductMedia{
		ID:          mediaID,
		ProductID:   productID,
		Kind:        kind,
		StorageKey:  key,
		URL:         url,
		ContentType: contentType,
		SizeBytes:   upload.Size,
	}
	if err := s.repo.AddMedia(ctx, media); err != nil {
		if delErr := s.storage.Delete(ctx, key); delErr != nil {
			s.logg.Warn(s.logg.WithField(ctx, "storage_key", key), "orphaned media object")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert media")
	}
	return &MediaDTO{
		ID:          media.ID,
		URL:         media.URL,
		ContentType: media.ContentType,
		SizeBytes:   media.SizeBytes,
		Position:    media.Position,
	}, nil
}

// Product implements cartstore.Catalog for server-side cart pricing.
func (s *service) Product(ctx context.Context, productID string) (cartstore.CatalogProduct, error) {
	id, err := uuid.Parse(productID)
	if err != nil {
		return cartstore.CatalogProduct{}, cartstore.ErrProductNotFound
	}
	product, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return cartstore.CatalogProduct{}, cartstore.ErrProductNotFound
		}
		return cartstore.CatalogProduct{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product")
	}
	return ToCatalogProduct(product), nil
}

func rewind(r io.Reader) (io.Reader, error) {
	seeker, ok := r.(io.Seeker)
	if !ok {
		return nil, errors.New("upload body must be seekable")
	}
	if _, err := seeker.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return r, nil
}

func applyUpdate(product *models.Product, input UpdateProductInput) {
	if input.Name != nil {
		product.Name = strings.TrimSpace(*input.Name)
	}
	if input.Description != nil {
		product.Description = *input.Description
	}
	if input.Price != nil {
		product.Price = *input.Price
	}
	if input.Stock != nil {
		product.Stock = *input.Stock
	}
	if input.IsActive != nil {
		product.IsActive = *input.IsActive
	}
}

func validatePriceAndStock(price decimal.Decimal, stock int) error {
	if price.IsNegative() {
		return pkgerrors.New(pkgerrors.CodeValidation, "price cannot be negative").
			WithDetails(map[string]string{"price": "must be >= 0"})
	}
	if stock < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "stock cannot be negative").
			WithDetails(map[string]string{"stock": "must be >= 0"})
	}
	return nil
}

func validateVariant(v VariantInput) error {
	if strings.TrimSpace(v.SKU) == "" || strings.TrimSpace(v.Name) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "variant sku and name are required").
			WithDetails(map[string]string{"variants": "sku and name are required"})
	}
	if v.Price != nil && v.Price.IsNegative() {
		return pkgerrors.New(pkgerrors.CodeValidation, "variant price cannot be negative").
			WithDetails(map[string]string{"variants": "price must be >= 0"})
	}
	if v.Stock < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "variant stock cannot be negative").
			WithDetails(map[string]string{"variants": "stock must be >= 0"})
	}
	return nil
}

// Slugify folds accents and joins alphanumeric runs with single dashes.
func Slugify(raw string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), raw)
	if err != nil {
		folded = raw
	}
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(folded) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
			dash = false
		case b.Len() > 0 && !dash:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
