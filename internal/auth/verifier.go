package auth

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/pkg/errors"

	"rollcall/pkg/interfaces"
	"rollcall/pkg/types"
)

// Claims are the token claims the REST layer issues. Older tokens carry
// the user ID in an "id" claim instead of "sub".
type Claims struct {
	jwt.StandardClaims
	ID   string `json:"id,omitempty"`
	Role string `json:"role,omitempty"`
}

// UserID returns the subject, falling back to the legacy id claim
func (c *Claims) UserID() string {
	if c.Subject != "" {
		return c.Subject
	}
	return c.ID
}

// Config holds the verifier settings
type Config struct {
	Secret string
	Issuer string        // empty accepts any issuer
	Leeway time.Duration // clock skew tolerated on exp and nbf
}

// Verifier checks HS256 bearer tokens and resolves their subject against
// the account directory. Role and display name always come from the
// directory, never from the token.
type Verifier struct {
	secret   []byte
	issuer   string
	leeway   time.Duration
	accounts interfaces.AccountStore
	parser   *jwt.Parser
	logger   *slog.Logger
	now      func() time.Time
}

// NewVerifier creates a verifier backed by accounts
func NewVerifier(cfg Config, accounts interfaces.AccountStore, logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{
		secret:   []byte(cfg.Secret),
		issuer:   cfg.Issuer,
		leeway:   cfg.Leeway,
		accounts: accounts,
		parser: &jwt.Parser{
			ValidMethods:         []string{jwt.SigningMethodHS256.Alg()},
			SkipClaimsValidation: true,
		},
		logger: logger.With("component", "auth"),
		now:    time.Now,
	}
}

// Verify implements interfaces.CredentialVerifier
func (v *Verifier) Verify(ctx context.Context, token string) (types.Identity, error) {
	claims, err := v.parse(token)
	if err != nil {
		v.logger.Info("rejected token", "error", err)
		return types.Identity{}, err
	}

	account, err := v.accounts.GetAccount(ctx, claims.UserID())
	if err != nil {
		if errors.Is(err, interfaces.ErrAccountNotFound) {
			v.logger.Info("rejected token", "user_id", claims.UserID(), "error", ErrUnknownAccount)
			return types.Identity{}, ErrUnknownAccount
		}
		return types.Identity{}, errors.Wrap(err, "look up account")
	}
	if !account.Active {
		v.logger.Info("rejected token", "user_id", account.ID, "error", ErrAccountDeactivated)
		return types.Identity{}, ErrAccountDeactivated
	}
	return account.Identity(), nil
}

func (v *Verifier) parse(raw string) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrMissingToken
	}

	claims := &Claims{}
	_, err := v.parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		var verr *jwt.ValidationError
		if errors.As(err, &verr) && verr.Errors&(jwt.ValidationErrorSignatureInvalid|jwt.ValidationErrorUnverifiable) != 0 {
			return nil, ErrInvalidSignature
		}
		return nil, ErrMalformedToken
	}

	now := v.now().Unix()
	leeway := int64(v.leeway / time.Second)
	if !claims.VerifyExpiresAt(now-leeway, false) {
		return nil, ErrTokenExpired
	}
	if !claims.VerifyNotBefore(now+leeway, false) {
		return nil, ErrTokenNotValidYet
	}
	if v.issuer != "" && !claims.VerifyIssuer(v.issuer, true) {
		return nil, ErrWrongIssuer
	}
	if !types.IsValidUserID(claims.UserID()) {
		return nil, ErrMissingSubject
	}
	return claims, nil
}
