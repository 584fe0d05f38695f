package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/localpros/localpros-backend/pkg/enums"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	UserID    uuid.UUID
	CompanyID uuid.UUID
	Role      enums.PartnerRole
}

// AccessTokenClaims represents the typed JWT issued to partner users.
type AccessTokenClaims struct {
	UserID    uuid.UUID         `json:"user_id"`
	CompanyID uuid.UUID         `json:"company_id"`
	Role      enums.PartnerRole `json:"role"`
	jwt.RegisteredClaims
}
