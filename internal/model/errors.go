package model

import "errors"

var (
	// Session related errors
	ErrNotAuthenticated  = errors.New("not authenticated")
	ErrRefreshFailed     = errors.New("token refresh failed")
	ErrPersistence       = errors.New("credential persistence failed")
	ErrRateLimited       = errors.New("too many sign-in attempts")
	ErrMalformedResponse = errors.New("malformed server response")

	// Account registry errors
	ErrAccountNotFound   = errors.New("saved account not found")
	ErrSavedTokenExpired = errors.New("saved account token expired")

	// Generic errors
	ErrInvalidInput = errors.New("invalid input")
)
