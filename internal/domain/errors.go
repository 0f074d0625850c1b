package domain

import "errors"

var (
	ErrCartNotFound     = errors.New("cart not found")
	ErrEmptyCart        = errors.New("cart is empty")
	ErrProductNotFound  = errors.New("product not found")
	ErrProductSold      = errors.New("product sold out")
	ErrProductNotInCart = errors.New("product not in cart")
)

// IsDomainError reports whether err belongs to the known business error set.
// Anything else is an unexpected failure and is reported opaquely.
func IsDomainError(err error) bool {
	return errors.Is(err, ErrCartNotFound) ||
		errors.Is(err, ErrEmptyCart) ||
		errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrProductSold) ||
		errors.Is(err, ErrProductNotInCart)
}
