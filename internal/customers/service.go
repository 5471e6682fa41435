package customers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/afm-storefront/internal/cart"
	pkgauth "github.com/angelmondragon/afm-storefront/pkg/auth"
	"github.com/angelmondragon/afm-storefront/pkg/auth/session"
	"github.com/angelmondragon/afm-storefront/pkg/config"
	"github.com/angelmondragon/afm-storefront/pkg/db"
	"github.com/angelmondragon/afm-storefront/pkg/db/models"
	"github.com/angelmondragon/afm-storefront/pkg/enums"
	pkgerrors "github.com/angelmondragon/afm-storefront/pkg/errors"
	"github.com/angelmondragon/afm-storefront/pkg/logger"
	"github.com/angelmondragon/afm-storefront/pkg/security"
)

const invalidCredentialsMessage = "invalid credentials"

// Service defines the behavior needed by the auth controller.
type Service interface {
	Register(ctx context.Context, req RegisterRequest) (*AuthResponse, error)
	Login(ctx context.Context, req LoginRequest) (*AuthResponse, error)
	Refresh(ctx context.Context, req RefreshRequest) (*AuthResponse, error)
	Logout(ctx context.Context, accessID string) error
	Me(ctx context.Context, customerID uuid.UUID) (*CustomerDTO, error)
}

type customerRepository interface {
	Create(ctx context.Context, customer *models.Customer) error
	FindByEmail(ctx context.Context, email string) (*models.Customer, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Customer, error)
	UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error
	UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) error
}

type sessionManager interface {
	Generate(ctx context.Context, accessID string, customerID uuid.UUID, role enums.CustomerRole) (string, error)
	Rotate(ctx context.Context, oldAccessID, provided string) (string, string, session.Session, error)
	Revoke(ctx context.Context, accessID string) error
}

type cartClaimer interface {
	Claim(ctx context.Context, guestCartID, customerID uuid.UUID) (*cart.CartDTO, error)
}

// ServiceParams bundles the dependencies required to build a customers service.
type ServiceParams struct {
	Repo           customerRepository
	SessionManager sessionManager
	Carts          cartClaimer
	Logger         *logger.Logger
	JWTConfig      config.JWTConfig
	PasswordConfig config.PasswordConfig
	Clock          func() time.Time
}

type service struct {
	repo     customerRepository
	sessions sessionManager
	carts    cartClaimer
	logg     *logger.Logger
	jwtCfg   config.JWTConfig
	pwCfg    config.PasswordConfig
	now      func() time.Time
}

// NewService constructs a customers service. Carts is optional; without it
// logins never claim guest carts.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("customer repository is required")
	}
	if params.SessionManager == nil {
		return nil, fmt.Errorf("session manager is required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	now := params.Clock
	if now == nil {
		now = time.Now
	}
	return &service{
		repo:     params.Repo,
		sessions: params.SessionManager,
		carts:    params.Carts,
		logg:     params.Logger,
		jwtCfg:   params.JWTConfig,
		pwCfg:    params.PasswordConfig,
		now:      now,
	}, nil
}

func (s *service) Register(ctx context.Context, req RegisterRequest) (*AuthResponse, error) {
	email := normalizeEmail(req.Email)
	if email == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "email is required").
			WithDetails(map[string]string{"email": "is required"})
	}
	if err := security.CheckPasswordStrength(req.Password); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, err.Error()).
			WithDetails(map[string]string{"password": err.Error()})
	}
	hash, err := security.HashPassword(req.Password, s.pwCfg)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "hash password")
	}

	customer := &models.Customer{
		Email:        email,
		PasswordHash: hash,
		FirstName:    strings.TrimSpace(req.FirstName),
		LastName:     strings.TrimSpace(req.LastName),
		Role:         enums.CustomerRoleShopper,
		IsActive:     true,
	}
	if err := s.repo.Create(ctx, customer); err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "email already registered")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create customer")
	}
	s.logg.Info(s.logg.WithCustomerID(ctx, customer.ID.String()), "customer registered")

	now := s.now().UTC()
	customer.LastLoginAt = &now
	return s.issue(ctx, customer, now, req.GuestCartID)
}

func (s *service) Login(ctx context.Context, req LoginRequest) (*AuthResponse, error) {
	customer, err := s.authenticate(ctx, req.Email, req.Password)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	if err := s.repo.UpdateLastLogin(ctx, customer.ID, now); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update last login")
	}
	customer.LastLoginAt = &now

	if security.NeedsRehash(customer.PasswordHash, s.pwCfg) {
		if hash, err := security.HashPassword(req.Password, s.pwCfg); err == nil {
			if err := s.repo.UpdatePasswordHash(ctx, customer.ID, hash); err != nil {
				s.logg.Warn(s.logg.WithCustomerID(ctx, customer.ID.String()), "password rehash not saved")
			}
		}
	}
	return s.issue(ctx, customer, now, req.GuestCartID)
}

// Refresh rotates the refresh session bound to the access token's jti.
func (s *service) Refresh(ctx context.Context, req RefreshRequest) (*AuthResponse, error) {
	claims, err := pkgauth.ParseAccessTokenAllowExpired(s.jwtCfg, strings.TrimSpace(req.AccessToken))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid access token")
	}
	accessID, refreshToken, sess, err := s.sessions.Rotate(ctx, claims.ID, strings.TrimSpace(req.RefreshToken))
	if err != nil {
		if errors.Is(err, session.ErrInvalidRefreshToken) {
			return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid refresh token")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rotate session")
	}
	if sess.CustomerID != claims.CustomerID {
		_ = s.sessions.Revoke(ctx, accessID)
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid refresh token")
	}
	customer, err := s.repo.FindByID(ctx, sess.CustomerID)
	if err != nil || !customer.IsActive {
		_ = s.sessions.Revoke(ctx, accessID)
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "account unavailable")
	}
	token, err := s.mint(customer, s.now().UTC(), accessID)
	if err != nil {
		return nil, err
	}
	return &AuthResponse{
		AccessToken:  token,
		RefreshToken: refreshToken,
		ExpiresIn:    int(s.jwtCfg.TTL().Seconds()),
		Customer:     FromModel(customer),
	}, nil
}

func (s *service) Logout(ctx context.Context, accessID string) error {
	if err := s.sessions.Revoke(ctx, accessID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "revoke session")
	}
	return nil
}

func (s *service) Me(ctx context.Context, customerID uuid.UUID) (*CustomerDTO, error) {
	customer, err := s.repo.FindByID(ctx, customerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "customer not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load customer")
	}
	return FromModel(customer), nil
}

func (s *service) issue(ctx context.Context, customer *models.Customer, now time.Time, guestCartID *uuid.UUID) (*AuthResponse, error) {
	accessID := session.NewAccessID()
	token, err := s.mint(customer, now, accessID)
	if err != nil {
		return nil, err
	}
	refreshToken, err := s.sessions.Generate(ctx, accessID, customer.ID, customer.Role)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store refresh token")
	}
	resp := &AuthResponse{
		AccessToken:  token,
		RefreshToken: refreshToken,
		ExpiresIn:    int(s.jwtCfg.TTL().Seconds()),
		Customer:     FromModel(customer),
	}
	if guestCartID != nil && s.carts != nil {
		// A failed claim leaves the guest cart untouched; the client can retry.
		claimed, err := s.carts.Claim(ctx, *guestCartID, customer.ID)
		if err != nil {
			s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
				"customer_id": customer.ID.String(),
				"cart_id":     guestCartID.String(),
				"error":       err.Error(),
			}), "guest cart claim failed")
		} else {
			resp.Cart = claimed
		}
	}
	return resp, nil
}

func (s *service) mint(customer *models.Customer, now time.Time, accessID string) (string, error) {
	token, err := pkgauth.MintAccessToken(s.jwtCfg, now, pkgauth.AccessTokenPayload{
		CustomerID: customer.ID,
		Email:      customer.Email,
		Role:       customer.Role,
		JTI:        accessID,
	})
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mint jwt")
	}
	return token, nil
}

func (s *service) authenticate(ctx context.Context, email, password string) (*models.Customer, error) {
	input := normalizeEmail(email)
	if input == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, invalidCredentialsMessage)
	}
	customer, err := s.repo.FindByEmail(ctx, input)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, invalidCredentialsMessage)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup customer")
	}
	valid, err := security.VerifyPassword(password, customer.PasswordHash)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "verify password")
	}
	if !valid || !customer.IsActive {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, invalidCredentialsMessage)
	}
	return customer, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
