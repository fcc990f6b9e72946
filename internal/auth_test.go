package internal

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestParseToken(t *testing.T) {
	if cl, ok := parseToken(signToken(t, "u1"), testSecret); !ok || cl.Subject != "u1" {
		t.Fatalf("expected valid token for u1, got %v %v", cl, ok)
	}
	if _, ok := parseToken(signToken(t, "u1"), "wrong-secret"); ok {
		t.Fatal("expected signature failure")
	}

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "u1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}})
	tok, err := expired.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, ok := parseToken(tok, testSecret); ok {
		t.Fatal("expected expired token to fail")
	}

	anonymous := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{RegisteredClaims: jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}})
	tok, err = anonymous.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, ok := parseToken(tok, testSecret); ok {
		t.Fatal("expected token without subject to fail")
	}

	none := jwt.NewWithClaims(jwt.SigningMethodNone, claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "u1"}})
	tok, err = none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, ok := parseToken(tok, testSecret); ok {
		t.Fatal("expected alg none to be rejected")
	}
}
