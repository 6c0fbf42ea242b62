package service

import "errors"

// Rejections returned before any job or stream exists
var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrInvalidType     = errors.New("invalid pipeline type")
	ErrMissingLocation = errors.New("location_id is required")
	ErrForbidden       = errors.New("owner or admin role required")
	ErrNotFound        = errors.New("not found")
)
