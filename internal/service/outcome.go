package service

import (
	"errors"

	"github.com/fjod/go_cart/order-intake/internal/domain"
	"github.com/rs/zerolog"
)

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrCartNotFound):
		return "cart_not_found"
	case errors.Is(err, domain.ErrEmptyCart):
		return "empty_cart"
	case errors.Is(err, domain.ErrProductNotFound):
		return "product_not_found"
	case errors.Is(err, domain.ErrProductSold):
		return "product_sold"
	case errors.Is(err, domain.ErrProductNotInCart):
		return "product_not_in_cart"
	default:
		return "error"
	}
}

// logResult keeps business rejections at debug; anything else is an error.
func logResult(logger zerolog.Logger, op, customer string, err error) {
	switch {
	case err == nil:
		logger.Debug().Str("op", op).Str("customer", customer).Msg("done")
	case domain.IsDomainError(err):
		logger.Debug().Err(err).Str("op", op).Str("customer", customer).Msg("rejected")
	default:
		logger.Error().Err(err).Str("op", op).Str("customer", customer).Msg("failed")
	}
}
