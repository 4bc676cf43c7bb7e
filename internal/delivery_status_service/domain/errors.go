package domain

import "errors"

var (
	ErrRecordNotFound  = errors.New("delivery record not found")
	ErrDuplicateRecord = errors.New("delivery record already exists for provider message id")
	ErrInvalidStatus   = errors.New("invalid delivery status")
	ErrMissingID       = errors.New("provider message id is required")
)
