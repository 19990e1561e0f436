// Package middleware provides HTTP middleware for authentication, request
// tracing and rate limiting of the orchestrator API.
package middleware

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// JWTClaims holds the parsed claims from a validated JWT.
type JWTClaims struct {
	Subject  string
	Issuer   string
	Audience []string
	Roles    []string
	Raw      map[string]interface{}
}

// JWTValidator validates a JWT token and returns the parsed claims.
type JWTValidator interface {
	Validate(ctx context.Context, tokenString string) (*JWTClaims, error)
}

// HS256Validator validates JWTs signed with a shared HS256 secret.
type HS256Validator struct {
	secret []byte
}

var _ JWTValidator = (*HS256Validator)(nil)

// NewHS256Validator creates a validator for HS256 tokens.
func NewHS256Validator(secret string) (*HS256Validator, error) {
	if secret == "" {
		return nil, fmt.Errorf("JWT secret is required")
	}
	return &HS256Validator{secret: []byte(secret)}, nil
}

// Validate verifies a JWT signed with HS256 and extracts claims. Expired
// and not-yet-valid tokens are rejected by the parser.
func (v *HS256Validator) Validate(_ context.Context, tokenString string) (*JWTClaims, error) {
	tok, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if token.Method == nil || token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("token verification failed: %w", err)
	}

	raw, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("parse claims: unsupported claim type %T", tok.Claims)
	}

	claims := &JWTClaims{Raw: map[string]interface{}(raw)}
	if sub, ok := raw["sub"].(string); ok {
		claims.Subject = sub
	}
	if iss, ok := raw["iss"].(string); ok {
		claims.Issuer = iss
	}
	claims.Audience = stringList(raw["aud"])
	claims.Roles = stringList(raw["roles"])
	return claims, nil
}

// stringList accepts a single string or a JSON array of strings.
func stringList(v interface{}) []string {
	switch val := v.(type) {
	case string:
		return []string{val}
	case []interface{}:
		out := make([]string, 0, len(val))
		for _, a := range val {
			if s, ok := a.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
