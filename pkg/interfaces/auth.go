package interfaces

import (
	"context"

	"rollcall/pkg/types"
)

// CredentialVerifier turns a bearer token into an identity.
// Any failure means the connection attempt is refused outright.
type CredentialVerifier interface {
	Verify(ctx context.Context, token string) (types.Identity, error)
}
