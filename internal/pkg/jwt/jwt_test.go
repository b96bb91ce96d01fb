package jwt

import (
	"errors"
	"testing"
)

const testSecret = "test-secret"

func TestTokenRoundTrip(t *testing.T) {
	token, err := GenerateAccessToken("user-1", "SH-ABC123", "OFFICER", testSecret, 15)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	claims, err := ValidateAccessToken(token, testSecret)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.UserRef != "user-1" || claims.MemberNo != "SH-ABC123" || claims.Role != "OFFICER" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestWrongSecretRejected(t *testing.T) {
	token, err := GenerateAccessToken("user-1", "", "MEMBER", testSecret, 15)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := ValidateAccessToken(token, "other-secret"); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("err = %v, want ErrTokenInvalid", err)
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	token, err := GenerateAccessToken("user-1", "", "MEMBER", testSecret, -5)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := ValidateAccessToken(token, testSecret); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("err = %v, want ErrTokenExpired", err)
	}
}

func TestGarbageRejected(t *testing.T) {
	if _, err := ValidateAccessToken("not.a.token", testSecret); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("err = %v, want ErrTokenInvalid", err)
	}
}
