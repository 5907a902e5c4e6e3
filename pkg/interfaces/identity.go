package interfaces

import "mobidoc/pkg/types"

// IdentityVerifier resolves an opaque bearer credential. Every failure wraps
// types.ErrUnauthenticated.
type IdentityVerifier interface {
	Verify(token string) (types.Identity, error)
}
