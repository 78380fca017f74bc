package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the services wraps exactly one of these.
var (
	ErrNotFound        = errors.New("not found")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrInvalidState    = errors.New("invalid state")
	ErrConflict        = errors.New("conflict")
)

var (
	ErrMemberNotFound   = fmt.Errorf("member %w", ErrNotFound)
	ErrItemNotFound     = fmt.Errorf("item %w", ErrNotFound)
	ErrCartNotFound     = fmt.Errorf("cart %w", ErrNotFound)
	ErrCartLineNotFound = fmt.Errorf("cart line %w", ErrNotFound)
	ErrOrderNotFound    = fmt.Errorf("order %w", ErrNotFound)

	ErrNotOwner = fmt.Errorf("resource belongs to another member: %w", ErrUnauthorized)

	ErrInvalidQuantity = fmt.Errorf("quantity must be at least 1: %w", ErrInvalidArgument)
	ErrEmptySelection  = fmt.Errorf("nothing selected to order: %w", ErrInvalidArgument)
	ErrVersionRequired = fmt.Errorf("line version is required: %w", ErrInvalidArgument)

	ErrOrderCancelled    = fmt.Errorf("order already cancelled: %w", ErrInvalidState)
	ErrInsufficientStock = fmt.Errorf("insufficient stock: %w", ErrInvalidState)

	ErrVersionConflict = fmt.Errorf("row modified concurrently: %w", ErrConflict)
)
