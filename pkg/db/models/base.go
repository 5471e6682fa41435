package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// assignID fills a zero primary key before insert. Postgres could default the
// column itself, but SQLite has no uuid generator.
func assignID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}

func (c *Customer) BeforeCreate(*gorm.DB) error       { assignID(&c.ID); return nil }
func (p *Product) BeforeCreate(*gorm.DB) error        { assignID(&p.ID); return nil }
func (v *ProductVariant) BeforeCreate(*gorm.DB) error { assignID(&v.ID); return nil }
func (m *ProductMedia) BeforeCreate(*gorm.DB) error   { assignID(&m.ID); return nil }
func (c *Cart) BeforeCreate(*gorm.DB) error           { assignID(&c.ID); return nil }
func (l *CartLine) BeforeCreate(*gorm.DB) error       { assignID(&l.ID); return nil }
func (o *Order) BeforeCreate(*gorm.DB) error          { assignID(&o.ID); return nil }
func (l *OrderLine) BeforeCreate(*gorm.DB) error      { assignID(&l.ID); return nil }
func (e *OutboxEvent) BeforeCreate(*gorm.DB) error    { assignID(&e.ID); return nil }
func (d *OutboxDLQ) BeforeCreate(*gorm.DB) error      { assignID(&d.ID); return nil }

// All lists every persisted model, in dependency order, for AutoMigrate callers.
func All() []any {
	return []any{
		&Customer{},
		&Product{},
		&ProductVariant{},
		&ProductMedia{},
		&Cart{},
		&CartLine{},
		&Order{},
		&OrderLine{},
		&OutboxEvent{},
		&OutboxDLQ{},
	}
}
