package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/covercraft/covercraft-backend/pkg/enums"
)

// Principal is the verified identity the API acts for.
type Principal struct {
	UserID uuid.UUID
	Role   enums.Role
}

func (p Principal) IsAdmin() bool {
	return p.Role == enums.RoleAdmin
}

// AccessTokenClaims is the JWT body issued by the identity service.
type AccessTokenClaims struct {
	UserID uuid.UUID  `json:"user_id"`
	Role   enums.Role `json:"role"`
	jwt.RegisteredClaims
}

func (c *AccessTokenClaims) Principal() Principal {
	return Principal{UserID: c.UserID, Role: c.Role}
}
