package jwt

import "errors"

var (
	ErrMissingSigningKey = errors.New("jwt: missing signing key")
	ErrInvalidToken      = errors.New("jwt: invalid token")
	ErrExpiredToken      = errors.New("jwt: token is expired")
	ErrUnauthorized      = errors.New("jwt: unauthorized")
	ErrForbidden         = errors.New("jwt: forbidden")
)
