package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/localpros/localpros-backend/pkg/config"
	"github.com/localpros/localpros-backend/pkg/enums"
)

func testJWTConfig() config.JWTConfig {
	return config.JWTConfig{Secret: "secret", Issuer: "localpros", ExpirationMinutes: 30}
}

func TestMintAndParseAccessToken(t *testing.T) {
	cfg := testJWTConfig()
	userID := uuid.New()
	companyID := uuid.New()

	token, err := MintAccessToken(cfg, time.Now().UTC(), AccessTokenPayload{
		UserID:    userID,
		CompanyID: companyID,
		Role:      enums.PartnerRoleOwner,
	})
	if err != nil {
		t.Fatalf("mint access token: %v", err)
	}

	claims, err := ParseAccessToken(cfg, token)
	if err != nil {
		t.Fatalf("parse access token: %v", err)
	}
	if claims.UserID != userID || claims.CompanyID != companyID {
		t.Fatalf("unexpected ids %s %s", claims.UserID, claims.CompanyID)
	}
	if claims.Role != enums.PartnerRoleOwner {
		t.Fatalf("unexpected role %s", claims.Role)
	}
	if claims.Issuer != "localpros" {
		t.Fatalf("unexpected issuer %s", claims.Issuer)
	}
}

func TestParseAccessTokenRejectsExpired(t *testing.T) {
	cfg := testJWTConfig()
	token, err := MintAccessToken(cfg, time.Now().Add(-2*time.Hour), AccessTokenPayload{
		UserID:    uuid.New(),
		CompanyID: uuid.New(),
		Role:      enums.PartnerRoleMember,
	})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := ParseAccessToken(cfg, token); err == nil {
		t.Fatal("expected expired token to fail")
	}
}

func TestParseAccessTokenRejectsWrongIssuerAndSecret(t *testing.T) {
	cfg := testJWTConfig()
	token, err := MintAccessToken(cfg, time.Now(), AccessTokenPayload{
		UserID:    uuid.New(),
		CompanyID: uuid.New(),
		Role:      enums.PartnerRoleAdmin,
	})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	otherIssuer := cfg
	otherIssuer.Issuer = "someone-else"
	if _, err := ParseAccessToken(otherIssuer, token); err == nil {
		t.Fatal("expected issuer mismatch to fail")
	}

	otherSecret := cfg
	otherSecret.Secret = "nope"
	if _, err := ParseAccessToken(otherSecret, token); err == nil {
		t.Fatal("expected signature mismatch to fail")
	}
}

func TestParseAccessTokenRejectsNoneAlgorithm(t *testing.T) {
	cfg := testJWTConfig()
	claims := AccessTokenClaims{
		UserID:    uuid.New(),
		CompanyID: uuid.New(),
		Role:      enums.PartnerRoleOwner,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := ParseAccessToken(cfg, unsigned); err == nil {
		t.Fatal("expected alg=none token to fail")
	}
}

func TestMintAccessTokenValidatesPayload(t *testing.T) {
	cfg := testJWTConfig()
	_, err := MintAccessToken(cfg, time.Now(), AccessTokenPayload{UserID: uuid.New(), Role: enums.PartnerRoleOwner})
	if err == nil || !strings.Contains(err.Error(), "company id") {
		t.Fatalf("expected company id error, got %v", err)
	}
	_, err = MintAccessToken(cfg, time.Now(), AccessTokenPayload{UserID: uuid.New(), CompanyID: uuid.New(), Role: "guest"})
	if err == nil {
		t.Fatal("expected invalid role to fail")
	}
}
