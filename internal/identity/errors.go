package identity

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidUsername  = errors.New("invalid username")
	ErrIdentityProvider = errors.New("identity provider error")

	errNoProvider        = errors.New("no identity provider configured")
	errMalformedIdentity = errors.New("malformed identity payload")
)

// ProviderError wraps any failure of the delegated identity exchange.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func (e *ProviderError) Is(target error) bool { return target == ErrIdentityProvider }
