package catalog

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/afm-storefront/pkg/db/models"
	"github.com/angelmondragon/afm-storefront/pkg/pagination"
)

// Repository wires together all product persistence helpers.
type Repository struct {
	db *gorm.DB
}

// NewRepository builds a repository tied to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to the provided transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

func (r *Repository) withDetail(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Preload("Variants", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC, id ASC")
		}).
		Preload("Media", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		})
}

// FindByID loads a product with variants and media.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	var product models.Product
	if err := r.withDetail(ctx).First(&product, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &product, nil
}

// FindBySlug loads a product by its URL slug.
func (r *Repository) FindBySlug(ctx context.Context, slug string) (*models.Product, error) {
	var product models.Product
	if err := r.withDetail(ctx).First(&product, "slug = ?", slug).Error; err != nil {
		return nil, err
	}
	return &product, nil
}

// FindByIDs loads products keyed by id; missing ids are simply absent.
func (r *Repository) FindByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*models.Product, error) {
	out := make(map[uuid.UUID]*models.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []models.Product
	if err := r.withDetail(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	for i := range rows {
		out[rows[i].ID] = &rows[i]
	}
	return out, nil
}

type listQuery struct {
	ActiveOnly bool
	Search     string
	Pagination pagination.Params
}

// List pages products newest first using the (created_at, id) cursor.
func (r *Repository) List(ctx context.Context, query listQuery) ([]models.Product, string, error) {
	qb := r.withDetail(ctx).Model(&models.Product{})
	if query.ActiveOnly {
		qb = qb.Where("is_active = ?", true)
	}
	if term := strings.TrimSpace(query.Search); term != "" {
		like := "%" + strings.ToLower(term) + "%"
		qb = qb.Where("LOWER(name) LIKE ? OR LOWER(description) LIKE ?", like, like)
	}
	return pagination.Newest(qb, query.Pagination, func(p *models.Product) pagination.Cursor {
		return pagination.Cursor{CreatedAt: p.CreatedAt, ID: p.ID}
	})
}

// Create inserts the product and its variants.
func (r *Repository) Create(ctx context.Context, product *models.Product) error {
	return r.db.WithContext(ctx).Create(product).Error
}

// Update saves product columns only; variants are handled separately.
func (r *Repository) Update(ctx context.Context, product *models.Product) error {
	return r.db.WithContext(ctx).Omit("Variants", "Media").Save(product).Error
}

// SaveVariant inserts or updates one variant.
func (r *Repository) SaveVariant(ctx context.Context, variant *models.ProductVariant) error {
	return r.db.WithContext(ctx).Save(variant).Error
}

// AddMedia appends a media entry at the next position.
func (r *Repository) AddMedia(ctx context.Context, media *models.ProductMedia) error {
	var maxPos *int
	if err := r.db.WithContext(ctx).
		Model(&models.ProductMedia{}).
		Where("product_id = ?", media.ProductID).
		Select("MAX(position)").
		Scan(&maxPos).Error; err != nil {
		return err
	}
	media.Position = 0
	if maxPos != nil {
		media.Position = *maxPos + 1
	}
	return r.db.WithContext(ctx).Create(media).Error
}

// DecrementStock removes qty units from the product or variant row. It
// reports false, without touching the row, when fewer than qty units remain.
func (r *Repository) DecrementStock(ctx context.Context, productID uuid.UUID, variantID *uuid.UUID, qty int) (bool, error) {
	var res *gorm.DB
	if variantID != nil {
		res = r.db.WithContext(ctx).
			Model(&models.ProductVariant{}).
			Where("id = ? AND product_id = ? AND stock >= ?", *variantID, productID, qty).
			UpdateColumn("stock", gorm.Expr("stock - ?", qty))
	} else {
		res = r.db.WithContext(ctx).
			Model(&models.Product{}).
			Where("id = ? AND stock >= ?", productID, qty).
			UpdateColumn("stock", gorm.Expr("stock - ?", qty))
	}
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Decrement is DecrementStock bound to the caller's transaction.
func (r *Repository) Decrement(ctx context.Context, tx *gorm.DB, productID uuid.UUID, variantID *uuid.UUID, qty int) (bool, error) {
	return r.WithTx(tx).DecrementStock(ctx, productID, variantID, qty)
}
