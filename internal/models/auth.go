package models

import "github.com/golang-jwt/jwt/v5"

// RoleOperator is the only role allowed to call admin endpoints
const RoleOperator = "operator"

// OperatorClaims are the claims of a bearer token accepted by the admin endpoints
type OperatorClaims struct {
	Role    string `json:"role"`
	Subject string `json:"sub_name,omitempty"`
	jwt.RegisteredClaims
}
