package cart

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/afm-storefront/internal/cartstore"
	"github.com/angelmondragon/afm-storefront/pkg/config"
	"github.com/angelmondragon/afm-storefront/pkg/db"
	"github.com/angelmondragon/afm-storefront/pkg/db/models"
	"github.com/angelmondragon/afm-storefront/pkg/enums"
	pkgerrors "github.com/angelmondragon/afm-storefront/pkg/errors"
	"github.com/angelmondragon/afm-storefront/pkg/logger"
	"github.com/angelmondragon/afm-storefront/pkg/metrics"
	"github.com/angelmondragon/afm-storefront/pkg/pricing"
)

// Service exposes the authoritative server cart. A nil customerID is a guest
// caller; guest carts are reachable by id alone, customer carts only by
// their owner.
type Service interface {
	CreateCart(ctx context.Context, customerID *uuid.UUID) (*CartDTO, error)
	GetCart(ctx context.Context, cartID uuid.UUID, customerID *uuid.UUID) (*CartDTO, error)
	Reprice(ctx context.Context, cartID uuid.UUID, customerID *uuid.UUID) (*CartDTO, error)
	ActiveCart(ctx context.Context, customerID uuid.UUID) (*CartDTO, error)
	SetLine(ctx context.Context, cartID uuid.UUID, customerID *uuid.UUID, input LineInput) (*CartDTO, error)
	RemoveLine(ctx context.Context, cartID uuid.UUID, customerID *uuid.UUID, productID, variantID string) (*CartDTO, error)
	Clear(ctx context.Context, cartID uuid.UUID, customerID *uuid.UUID) (*CartDTO, error)
	Claim(ctx context.Context, guestCartID, customerID uuid.UUID) (*CartDTO, error)
	ConvertTx(ctx context.Context, tx *gorm.DB, cartID uuid.UUID) error
	Forget(ctx context.Context, cartIDs ...uuid.UUID)
}

type ServiceParams struct {
	Repo       CartRepository
	DB         txRunner
	Catalog    cartstore.Catalog
	Cache      *SnapshotCache
	Logger     *logger.Logger
	Metrics    *metrics.CartMetrics
	Config     config.CartConfig
	GuestCarts bool
	Clock      func() time.Time
}

type service struct {
	repo       CartRepository
	tx         txRunner
	catalog    cartstore.Catalog
	cache      *SnapshotCache
	logg       *logger.Logger
	metrics    *metrics.CartMetrics
	cfg        config.CartConfig
	guestCarts bool
	now        func() time.Time
}

// NewService builds a cart service backed by the provided stack.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("cart repository required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Catalog == nil {
		return nil, fmt.Errorf("catalog required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	cfg := params.Config
	if cfg.MinQuantity < 1 {
		cfg.MinQuantity = 1
	}
	if cfg.MaxQuantity < cfg.MinQuantity {
		cfg.MaxQuantity = 99
	}
	cfg.Currency = strings.ToUpper(strings.TrimSpace(cfg.Currency))
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	now := params.Clock
	if now == nil {
		now = time.Now
	}
	return &service{
		repo:       params.Repo,
		tx:         params.DB,
		catalog:    params.Catalog,
		cache:      params.Cache,
		logg:       params.Logger,
		metrics:    params.Metrics,
		cfg:        cfg,
		guestCarts: params.GuestCarts,
		now:        now,
	}, nil
}

func (s *service) CreateCart(ctx context.Context, customerID *uuid.UUID) (*CartDTO, error) {
	if customerID == nil && !s.guestCarts {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "sign in to start a cart")
	}
	if customerID != nil {
		return s.ActiveCart(ctx, *customerID)
	}
	cart := &models.Cart{Status: enums.CartStatusActive, Currency: s.cfg.Currency}
	if s.cfg.GuestTTL > 0 {
		expires := s.now().UTC().Add(s.cfg.GuestTTL)
		cart.ExpiresAt = &expires
	}
	if err := s.repo.Create(ctx, cart); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create cart")
	}
	s.logg.Info(s.logg.WithCartID(ctx, cart.ID.String()), "guest cart created")
	return s.render(ctx, cart)
}

// ActiveCart returns the customer's open cart, creating one when none exists.
func (s *service) ActiveCart(ctx context.Context, customerID uuid.UUID) (*CartDTO, error) {
	cart, err := s.repo.FindActiveByCustomer(ctx, customerID)
	if err == nil {
		return s.render(ctx, cart)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load customer cart")
	}
	cart = &models.Cart{CustomerID: &customerID, Status: enums.CartStatusActive, Currency: s.cfg.Currency}
	if err := s.repo.Create(ctx, cart); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create cart")
	}
	s.logg.Info(s.logg.WithCartID(s.logg.WithCustomerID(ctx, customerID.String()), cart.ID.String()), "customer cart created")
	return s.render(ctx, cart)
}

// GetCart serves the cached snapshot when one is present.
func (s *service) GetCart(ctx context.Context, cartID uuid.UUID, customerID *uuid.UUID) (*CartDTO, error) {
	if dto, ok := s.cache.Get(ctx, cartID.String()); ok {
		if err := authorizeOwner(dto.CustomerID, customerID); err != nil {
			return nil, err
		}
		return dto, nil
	}
	return s.Reprice(ctx, cartID, customerID)
}

// Reprice rebuilds the snapshot from the database and the live catalog and
// refreshes the cache.
func (s *service) Reprice(ctx context.Context, cartID uuid.UUID, customerID *uuid.UUID) (*CartDTO, error) {
	cart, err := s.load(ctx, s.repo, cartID, customerID)
	if err != nil {
		return nil, err
	}
	cart, err = s.expire(ctx, cart)
	if err != nil {
		return nil, err
	}
	return s.render(ctx, cart)
}

// SetLine sets the absolute quantity of one line; zero removes it. Replaying
// the same request leaves the cart unchanged.
func (s *service) SetLine(ctx context.Context, cartID uuid.UUID, customerID *uuid.UUID, input LineInput) (out *CartDTO, err error) {
	defer func() { s.metrics.ObserveMutation("set_line", err) }()

	productID, variantID, err := parseLineRef(input.ProductID, input.VariantID)
	if err != nil {
		return nil, err
	}
	if input.Quantity == 0 {
		return s.removeLine(ctx, cartID, customerID, productID, variantID)
	}
	if input.Quantity < s.cfg.MinQuantity || input.Quantity > s.cfg.MaxQuantity {
		bounds := fmt.Sprintf("must be between %d and %d", s.cfg.MinQuantity, s.cfg.MaxQuantity)
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity "+bounds).
			WithDetails(map[string]string{"quantity": bounds})
	}

	cart, err := s.openCart(ctx, cartID, customerID)
	if err != nil {
		return nil, err
	}
	offer, err := s.offer(ctx, productID.String(), variantString(variantID))
	if err != nil {
		return nil, err
	}
	key := cartstore.KeyFor(productID.String(), variantString(variantID))
	if input.Quantity > offer.Stock {
		return nil, outOfStock([]Shortfall{{
			ProductID: productID.String(),
			VariantID: variantString(variantID),
			Name:      offer.Name,
			Requested: input.Quantity,
			Available: max(offer.Stock, 0),
		}})
	}

	line := &models.CartLine{
		CartID:    cart.ID,
		LineKey:   string(key),
		ProductID: productID,
		VariantID: variantID,
		Quantity:  input.Quantity,
		UnitPrice: offer.Price,
	}
	write := func() error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			if err := repo.UpsertLine(ctx, line); err != nil {
				return err
			}
			return repo.Touch(ctx, cart.ID)
		})
	}
	err = write()
	if err != nil && db.IsUniqueViolation(err, "") {
		// A concurrent request inserted the same line key; the retry updates it.
		line.ID = uuid.Nil
		err = write()
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save cart line")
	}
	s.cache.Invalidate(ctx, cart.ID.String())
	return s.Reprice(ctx, cart.ID, customerID)
}

// RemoveLine is idempotent: removing an absent line returns the cart unchanged.
func (s *service) RemoveLine(ctx context.Context, cartID uuid.UUID, customerID *uuid.UUID, productID, variantID string) (out *CartDTO, err error) {
	defer func() { s.metrics.ObserveMutation("remove_line", err) }()
	pid, vid, err := parseLineRef(productID, variantID)
	if err != nil {
		return nil, err
	}
	return s.removeLine(ctx, cartID, customerID, pid, vid)
}

func (s *service) removeLine(ctx context.Context, cartID uuid.UUID, customerID *uuid.UUID, productID uuid.UUID, variantID *uuid.UUID) (*CartDTO, error) {
	cart, err := s.openCart(ctx, cartID, customerID)
	if err != nil {
		return nil, err
	}
	key := cartstore.KeyFor(productID.String(), variantString(variantID))
	removed, err := s.repo.DeleteLine(ctx, cart.ID, string(key))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete cart line")
	}
	if removed {
		if err := s.repo.Touch(ctx, cart.ID); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "touch cart")
		}
		s.cache.Invalidate(ctx, cart.ID.String())
	}
	return s.GetCart(ctx, cart.ID, customerID)
}

func (s *service) Clear(ctx context.Context, cartID uuid.UUID, customerID *uuid.UUID) (out *CartDTO, err error) {
	defer func() { s.metrics.ObserveMutation("clear", err) }()
	cart, err := s.openCart(ctx, cartID, customerID)
	if err != nil {
		return nil, err
	}
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.ClearLines(ctx, cart.ID); err != nil {
			return err
		}
		return repo.Touch(ctx, cart.ID)
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear cart")
	}
	s.cache.Invalidate(ctx, cart.ID.String())
	return s.Reprice(ctx, cart.ID, customerID)
}

// Claim attaches a guest cart to a signed-in customer. When the customer
// already has an open cart the guest lines merge into it: the customer's
// lines win on conflicting keys, guest-only lines are appended clamped to
// current stock, and the guest cart is closed as merged.
func (s *service) Claim(ctx context.Context, guestCartID, customerID uuid.UUID) (out *CartDTO, err error) {
	defer func() { s.metrics.ObserveMutation("claim", err) }()
	ctx = s.logg.WithCustomerID(s.logg.WithCartID(ctx, guestCartID.String()), customerID.String())

	guest, err := s.load(ctx, s.repo, guestCartID, &customerID)
	if err != nil {
		return nil, err
	}
	if guest.CustomerID != nil {
		return s.Reprice(ctx, guest.ID, &customerID)
	}
	if guest, err = s.expire(ctx, guest); err != nil {
		return nil, err
	}
	if !guest.Status.IsOpen() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "cart is "+string(guest.Status))
	}

	target, err := s.repo.FindActiveByCustomer(ctx, customerID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if err := s.repo.AssignCustomer(ctx, guest.ID, customerID); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "assign cart")
		}
		s.cache.Invalidate(ctx, guest.ID.String())
		s.logg.Info(ctx, "guest cart assigned to customer")
		return s.Reprice(ctx, guest.ID, &customerID)
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load customer cart")
	}

	additions, err := s.mergeLines(ctx, target, guest)
	if err != nil {
		return nil, err
	}
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		for i := range additions {
			if err := repo.UpsertLine(ctx, &additions[i]); err != nil {
				return err
			}
		}
		if err := repo.MarkMerged(ctx, guest.ID, target.ID); err != nil {
			return err
		}
		return repo.Touch(ctx, target.ID)
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "merge carts")
	}
	s.cache.Invalidate(ctx, guest.ID.String(), target.ID.String())
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"merged_into": target.ID.String(),
		"lines_added": len(additions),
	}), "guest cart merged")
	return s.Reprice(ctx, target.ID, &customerID)
}

// mergeLines returns the guest lines to append to target. Lines already in
// target are skipped; the rest are clamped to stock and the quantity bounds,
// and dropped when nothing is left.
func (s *service) mergeLines(ctx context.Context, target, guest *models.Cart) ([]models.CartLine, error) {
	existing := make(map[string]struct{}, len(target.Lines))
	for _, line := range target.Lines {
		existing[line.LineKey] = struct{}{}
	}
	var out []models.CartLine
	for _, line := range guest.Lines {
		if _, ok := existing[line.LineKey]; ok {
			continue
		}
		offer, err := s.offer(ctx, line.ProductID.String(), variantString(line.VariantID))
		if err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
				return nil, err
			}
			continue
		}
		qty := pricing.Clamp(line.Quantity, 0, min(offer.Stock, s.cfg.MaxQuantity))
		if qty < s.cfg.MinQuantity {
			continue
		}
		out = append(out, models.CartLine{
			CartID:    target.ID,
			LineKey:   line.LineKey,
			ProductID: line.ProductID,
			VariantID: line.VariantID,
			Quantity:  qty,
			UnitPrice: offer.Price,
		})
	}
	return out, nil
}

// ConvertTx closes the cart as converted inside the caller's transaction.
// Converting an already converted cart is a no-op.
func (s *service) ConvertTx(ctx context.Context, tx *gorm.DB, cartID uuid.UUID) error {
	repo := s.repo.WithTx(tx)
	ok, err := repo.UpdateStatus(ctx, cartID, enums.CartStatusActive, enums.CartStatusConverted)
	if err != nil {
		return err
	}
	if !ok {
		s.logg.Warn(s.logg.WithCartID(ctx, cartID.String()), "cart was not active at conversion")
	}
	return nil
}

// Forget drops cached snapshots, e.g. after a transaction that touched the carts committed.
func (s *service) Forget(ctx context.Context, cartIDs ...uuid.UUID) {
	s.cache.Forget(ctx, cartIDs...)
}

func (s *service) load(ctx context.Context, repo CartRepository, cartID uuid.UUID, customerID *uuid.UUID) (*models.Cart, error) {
	cart, err := repo.FindByID(ctx, cartID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "cart not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}
	if err := authorizeOwner(cart.CustomerID, customerID); err != nil {
		return nil, err
	}
	return cart, nil
}

// openCart loads a cart that still accepts mutations.
func (s *service) openCart(ctx context.Context, cartID uuid.UUID, customerID *uuid.UUID) (*models.Cart, error) {
	cart, err := s.load(ctx, s.repo, cartID, customerID)
	if err != nil {
		return nil, err
	}
	if cart, err = s.expire(ctx, cart); err != nil {
		return nil, err
	}
	if !cart.Status.IsOpen() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "cart is "+string(cart.Status)).
			WithDetails(map[string]any{"status": cart.Status, "mergedInto": cart.MergedInto})
	}
	return cart, nil
}

// expire closes a guest cart whose lifetime ran out.
func (s *service) expire(ctx context.Context, cart *models.Cart) (*models.Cart, error) {
	if cart.Status != enums.CartStatusActive || cart.ExpiresAt == nil || s.now().Before(*cart.ExpiresAt) {
		return cart, nil
	}
	if _, err := s.repo.UpdateStatus(ctx, cart.ID, enums.CartStatusActive, enums.CartStatusAbandoned); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "expire cart")
	}
	cart.Status = enums.CartStatusAbandoned
	s.cache.Invalidate(ctx, cart.ID.String())
	s.logg.Info(s.logg.WithCartID(ctx, cart.ID.String()), "guest cart expired")
	return cart, nil
}

func (s *service) offer(ctx context.Context, productID, variantID string) (cartstore.Offer, error) {
	product, err := s.catalog.Product(ctx, productID)
	if err != nil {
		if errors.Is(err, cartstore.ErrProductNotFound) {
			return cartstore.Offer{}, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
		}
		if pkgerrors.As(err) != nil {
			return cartstore.Offer{}, err
		}
		return cartstore.Offer{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product")
	}
	offer, err := cartstore.Resolve(product, variantID)
	switch {
	case errors.Is(err, cartstore.ErrVariantRequired):
		return cartstore.Offer{}, pkgerrors.New(pkgerrors.CodeValidation, "choose a variant").
			WithDetails(map[string]string{"variantId": "is required for this product"})
	case errors.Is(err, cartstore.ErrProductNotFound):
		return cartstore.Offer{}, pkgerrors.New(pkgerrors.CodeNotFound, "variant not found")
	case err != nil:
		return cartstore.Offer{}, err
	}
	return offer, nil
}

// render prices every line against the live catalog. A line whose product
// disappeared keeps its stored price and is flagged unavailable.
func (s *service) render(ctx context.Context, cart *models.Cart) (*CartDTO, error) {
	dto := &CartDTO{
		ID:         cart.ID,
		CustomerID: cart.CustomerID,
		Status:     cart.Status,
		Currency:   cart.Currency,
		Items:      make([]LineDTO, 0, len(cart.Lines)),
		Subtotal:   decimal.Zero,
		ExpiresAt:  cart.ExpiresAt,
		UpdatedAt:  cart.UpdatedAt,
	}
	for _, line := range cart.Lines {
		item := LineDTO{
			ProductID: line.ProductID.String(),
			VariantID: variantString(line.VariantID),
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
		}
		offer, err := s.offer(ctx, item.ProductID, item.VariantID)
		switch {
		case err == nil:
			item.Name = offer.Name
			item.UnitPrice = offer.Price
			item.Available = max(offer.Stock, 0)
			item.Unavailable = offer.Stock <= 0
		case pkgerrors.IsCode(err, pkgerrors.CodeDependency):
			return nil, err
		default:
			item.Unavailable = true
		}
		item.LineTotal = item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
		dto.ItemCount += item.Quantity
		dto.Subtotal = dto.Subtotal.Add(item.LineTotal)
		dto.Items = append(dto.Items, item)
	}
	if display, err := pricing.FormatPrice(dto.Subtotal, dto.Currency, s.cfg.Locale); err == nil {
		dto.DisplaySubtotal = display
	}
	if cart.Status.IsOpen() {
		s.cache.Put(ctx, dto)
	}
	return dto, nil
}

func authorizeOwner(owner, caller *uuid.UUID) error {
	if owner == nil {
		return nil
	}
	if caller == nil || *caller != *owner {
		return pkgerrors.New(pkgerrors.CodeNotFound, "cart not found")
	}
	return nil
}

func parseLineRef(productID, variantID string) (uuid.UUID, *uuid.UUID, error) {
	pid, err := uuid.Parse(strings.TrimSpace(productID))
	if err != nil {
		return uuid.Nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid product id").
			WithDetails(map[string]string{"productId": "must be a uuid"})
	}
	variantID = strings.TrimSpace(variantID)
	if variantID == "" {
		return pid, nil, nil
	}
	vid, err := uuid.Parse(variantID)
	if err != nil {
		return uuid.Nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid variant id").
			WithDetails(map[string]string{"variantId": "must be a uuid"})
	}
	return pid, &vid, nil
}

func variantString(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	return id.String()
}
