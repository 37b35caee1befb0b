package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dgrijalva/jwt-go"

	"rollcall/pkg/interfaces"
	"rollcall/pkg/types"
)

const testSecret = "test-secret"

type staticAccounts map[string]*types.Account

func (s staticAccounts) GetAccount(_ context.Context, userID string) (*types.Account, error) {
	if a, ok := s[userID]; ok {
		return a, nil
	}
	return nil, interfaces.ErrAccountNotFound
}

func (s staticAccounts) UpsertAccount(_ context.Context, a *types.Account) error {
	s[a.ID] = a
	return nil
}

type brokenAccounts struct{}

func (brokenAccounts) GetAccount(context.Context, string) (*types.Account, error) {
	return nil, errors.New("database is locked")
}

func (brokenAccounts) UpsertAccount(context.Context, *types.Account) error { return nil }

func sign(t *testing.T, method jwt.SigningMethod, secret string, claims jwt.Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return token
}

func newTestVerifier(accounts interfaces.AccountStore) *Verifier {
	v := NewVerifier(Config{Secret: testSecret, Issuer: "rollcall", Leeway: 30 * time.Second}, accounts, nil)
	v.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	return v
}

// TestVerifier_Verify tests token validation and directory lookup
func TestVerifier_Verify(t *testing.T) {
	accounts := staticAccounts{
		"fac1": {ID: "fac1", Role: types.RoleFaculty, DisplayName: "Dr. Ada", Active: true},
		"gone": {ID: "gone", Role: types.RoleStudent, DisplayName: "Gone", Active: false},
	}
	v := newTestVerifier(accounts)
	now := int64(1_700_000_000)

	std := func(sub string) jwt.StandardClaims {
		return jwt.StandardClaims{Subject: sub, Issuer: "rollcall", ExpiresAt: now + 3600}
	}

	tests := []struct {
		name    string
		token   string
		want    string
		wantErr error
	}{
		{"valid subject", sign(t, jwt.SigningMethodHS256, testSecret, &Claims{StandardClaims: std("fac1")}), "fac1", nil},
		{"legacy id claim", sign(t, jwt.SigningMethodHS256, testSecret, &Claims{StandardClaims: jwt.StandardClaims{Issuer: "rollcall"}, ID: "fac1"}), "fac1", nil},
		{"empty token", "  ", "", ErrMissingToken},
		{"garbage", "not.a.jwt", "", ErrMalformedToken},
		{"wrong secret", sign(t, jwt.SigningMethodHS256, "other", &Claims{StandardClaims: std("fac1")}), "", ErrInvalidSignature},
		{"wrong algorithm", sign(t, jwt.SigningMethodHS512, testSecret, &Claims{StandardClaims: std("fac1")}), "", ErrInvalidSignature},
		{"expired", sign(t, jwt.SigningMethodHS256, testSecret, &Claims{StandardClaims: jwt.StandardClaims{Subject: "fac1", Issuer: "rollcall", ExpiresAt: now - 60}}), "", ErrTokenExpired},
		{"expired within leeway", sign(t, jwt.SigningMethodHS256, testSecret, &Claims{StandardClaims: jwt.StandardClaims{Subject: "fac1", Issuer: "rollcall", ExpiresAt: now - 10}}), "fac1", nil},
		{"not yet valid", sign(t, jwt.SigningMethodHS256, testSecret, &Claims{StandardClaims: jwt.StandardClaims{Subject: "fac1", Issuer: "rollcall", NotBefore: now + 600}}), "", ErrTokenNotValidYet},
		{"wrong issuer", sign(t, jwt.SigningMethodHS256, testSecret, &Claims{StandardClaims: jwt.StandardClaims{Subject: "fac1", Issuer: "elsewhere"}}), "", ErrWrongIssuer},
		{"no subject", sign(t, jwt.SigningMethodHS256, testSecret, &Claims{StandardClaims: jwt.StandardClaims{Issuer: "rollcall"}}), "", ErrMissingSubject},
		{"unknown account", sign(t, jwt.SigningMethodHS256, testSecret, &Claims{StandardClaims: std("nobody")}), "", ErrUnknownAccount},
		{"deactivated", sign(t, jwt.SigningMethodHS256, testSecret, &Claims{StandardClaims: std("gone")}), "", ErrAccountDeactivated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			identity, err := v.Verify(context.Background(), tt.token)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				if !errors.Is(err, interfaces.ErrUnauthorized) {
					t.Errorf("auth failures must wrap ErrUnauthorized, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error %v", err)
			}
			if identity.UserID != tt.want {
				t.Errorf("user = %s, want %s", identity.UserID, tt.want)
			}
		})
	}
}

// TestVerifier_RoleComesFromDirectory tests that token role claims are ignored
func TestVerifier_RoleComesFromDirectory(t *testing.T) {
	accounts := staticAccounts{
		"stu1": {ID: "stu1", Role: types.RoleStudent, DisplayName: "Sam", Active: true},
	}
	v := newTestVerifier(accounts)
	token := sign(t, jwt.SigningMethodHS256, testSecret, &Claims{
		StandardClaims: jwt.StandardClaims{Subject: "stu1", Issuer: "rollcall"},
		Role:           types.RoleAdmin,
	})

	identity, err := v.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	want := types.Identity{UserID: "stu1", Role: types.RoleStudent, DisplayName: "Sam"}
	if identity != want {
		t.Errorf("identity = %+v, want %+v", identity, want)
	}
}

// TestVerifier_DirectoryFailure tests that storage errors are not reported
// as bad credentials
func TestVerifier_DirectoryFailure(t *testing.T) {
	v := newTestVerifier(brokenAccounts{})
	token := sign(t, jwt.SigningMethodHS256, testSecret, &Claims{
		StandardClaims: jwt.StandardClaims{Subject: "fac1", Issuer: "rollcall"},
	})

	_, err := v.Verify(context.Background(), token)
	if err == nil {
		t.Fatal("expected an error")
	}
	if errors.Is(err, interfaces.ErrUnauthorized) {
		t.Errorf("storage failure must not look like an auth failure: %v", err)
	}
}
