package auth

import (
	"github.com/pkg/errors"

	"rollcall/pkg/interfaces"
)

// Every authentication failure wraps interfaces.ErrUnauthorized so the
// transport can tell a refused credential from a broken directory.
var (
	ErrMissingToken       = errors.Wrap(interfaces.ErrUnauthorized, "missing bearer token")
	ErrMalformedToken     = errors.Wrap(interfaces.ErrUnauthorized, "malformed token")
	ErrInvalidSignature   = errors.Wrap(interfaces.ErrUnauthorized, "invalid token signature")
	ErrTokenExpired       = errors.Wrap(interfaces.ErrUnauthorized, "token expired")
	ErrTokenNotValidYet   = errors.Wrap(interfaces.ErrUnauthorized, "token not valid yet")
	ErrWrongIssuer        = errors.Wrap(interfaces.ErrUnauthorized, "token issuer mismatch")
	ErrMissingSubject     = errors.Wrap(interfaces.ErrUnauthorized, "token has no subject")
	ErrUnknownAccount     = errors.Wrap(interfaces.ErrUnauthorized, "account does not exist")
	ErrAccountDeactivated = errors.Wrap(interfaces.ErrUnauthorized, "account deactivated")
)

