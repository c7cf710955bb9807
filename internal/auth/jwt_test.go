package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestGenerateAndValidate(t *testing.T) {
	mgr := NewJWTManager("test-secret", time.Hour)

	token, expiresAt, err := mgr.Generate("ops@example.com")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if remaining := time.Until(expiresAt); remaining < 59*time.Minute {
		t.Errorf("expiry %v from now, want about an hour", remaining)
	}

	claims, err := mgr.Validate(token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if claims.UserID != "ops@example.com" {
		t.Errorf("user_id = %q, want ops@example.com", claims.UserID)
	}
	if claims.Role != RoleOperator {
		t.Errorf("role = %q, want %q", claims.Role, RoleOperator)
	}
	if claims.Issuer != issuer {
		t.Errorf("issuer = %q, want %q", claims.Issuer, issuer)
	}
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	token, _, err := NewJWTManager("secret-a", time.Hour).Generate("ops@example.com")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if _, err := NewJWTManager("secret-b", time.Hour).Validate(token); err == nil {
		t.Error("Validate() accepted a token signed with another secret")
	}
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	mgr := NewJWTManager("test-secret", -time.Minute)
	token, _, err := mgr.Generate("ops@example.com")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if _, err := mgr.Validate(token); err == nil {
		t.Error("Validate() accepted an expired token")
	}
}

func TestValidateRejectsWrongIssuer(t *testing.T) {
	mgr := NewJWTManager("test-secret", time.Hour)
	foreign := jwt.NewWithClaims(jwt.SigningMethodHS256, OperatorClaims{
		UserID: "ops@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			Issuer:    "someone-else",
		},
	})
	signed, err := foreign.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign foreign token: %v", err)
	}
	if _, err := mgr.Validate(signed); err == nil {
		t.Error("Validate() accepted a token from another issuer")
	}
}

func TestValidateRejectsUnsignedAlgorithm(t *testing.T) {
	mgr := NewJWTManager("test-secret", time.Hour)
	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, OperatorClaims{
		UserID: "ops@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			Issuer:    issuer,
		},
	})
	token, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none token: %v", err)
	}
	if _, err := mgr.Validate(token); err == nil {
		t.Error("Validate() accepted an alg=none token")
	}
}
