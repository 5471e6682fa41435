package middleware

import (
	"context"

	"github.com/google/uuid"
)

type contextKey int

const (
	ctxCustomerID contextKey = iota
	ctxRole
	ctxAccessID
	ctxRequestID
)

func fromContext(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(key).(string)
	return v
}

func withValue(ctx context.Context, key contextKey, v string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, key, v)
}

func CustomerIDFromContext(ctx context.Context) string { return fromContext(ctx, ctxCustomerID) }

func RoleFromContext(ctx context.Context) string { return fromContext(ctx, ctxRole) }

// AccessIDFromContext returns the jti of the bearer token.
func AccessIDFromContext(ctx context.Context) string { return fromContext(ctx, ctxAccessID) }

func RequestIDFromContext(ctx context.Context) string { return fromContext(ctx, ctxRequestID) }

// CustomerUUID returns the authenticated customer, or nil for a guest.
func CustomerUUID(ctx context.Context) *uuid.UUID {
	id, err := uuid.Parse(CustomerIDFromContext(ctx))
	if err != nil {
		return nil
	}
	return &id
}

func WithCustomerID(ctx context.Context, customerID string) context.Context {
	return withValue(ctx, ctxCustomerID, customerID)
}

func WithRole(ctx context.Context, role string) context.Context {
	return withValue(ctx, ctxRole, role)
}
