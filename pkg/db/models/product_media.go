package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/afm-storefront/pkg/enums"
)

// ProductMedia stores ordered media entries for products.
type ProductMedia struct {
	ID          uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	ProductID   uuid.UUID       `gorm:"column:product_id;type:uuid;not null;index"`
	Kind        enums.MediaKind `gorm:"column:kind;type:text;not null;default:'image'"`
	StorageKey  string          `gorm:"column:storage_key;not null"`
	URL         string          `gorm:"column:url;not null"`
	ContentType string          `gorm:"column:content_type;not null"`
	SizeBytes   int64           `gorm:"column:size_bytes;not null"`
	Position    int             `gorm:"column:position;not null;default:0"`
	CreatedAt   time.Time       `gorm:"column:created_at;autoCreateTime"`
}
