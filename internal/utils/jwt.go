package utils

import (
    "time"

    "github.com/golang-jwt/jwt/v5" // JWT library for creating signed tokens
)

// OperatorRole is the role claim carried by staff tokens.
const OperatorRole = "OPERATOR"

// AccessToken is a signed JWT together with its expiry.
type AccessToken struct {
    Token string    // the serialized JWT string
    Exp   time.Time // the UTC expiration time
}

// NewOperatorToken signs an HS256 JWT for a lot operator.  The token carries
// sub, role=OPERATOR, exp and iat claims and is what the JWTAuth middleware
// expects on the status and listing endpoints.
func NewOperatorToken(secret, subject string, ttlMin int) (AccessToken, error) {
    now := time.Now().UTC()
    exp := now.Add(time.Duration(ttlMin) * time.Minute)
    claims := jwt.MapClaims{
        "sub":  subject,
        "role": OperatorRole,
        "exp":  exp.Unix(),
        "iat":  now.Unix(),
    }
    t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
    signed, err := t.SignedString([]byte(secret))
    if err != nil {
        return AccessToken{}, err
    }
    return AccessToken{Token: signed, Exp: exp}, nil
}
