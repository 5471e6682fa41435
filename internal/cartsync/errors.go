package cartsync

import (
	"errors"
	"fmt"

	"github.com/angelmondragon/afm-storefront/internal/cartstore"
)

// ErrOffline is returned by Flush when the layer believes it has no connectivity.
var ErrOffline = errors.New("cart sync offline")

// RejectedError is a definitive business refusal from the server, such as
// insufficient stock. Rejected mutations are dropped, not retried.
type RejectedError struct {
	Code    string
	Message string
	Details any
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("server rejected mutation: %s: %s", e.Code, e.Message)
}

// SyncError wraps a transport or server failure. The mutation stays queued.
type SyncError struct {
	Mutation cartstore.Mutation
	Err      error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync %s %s: %v", e.Mutation.Kind, e.Mutation.Key(), e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// Rejection is handed to the rejection callback so the UI can explain why a
// local change did not stick.
type Rejection struct {
	Mutation cartstore.Mutation
	Err      *RejectedError
}
