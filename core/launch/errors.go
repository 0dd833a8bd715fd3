package launch

import (
	"errors"
	"fmt"
)

var (
	// ErrProductNotFound is returned when the referenced product does not exist,
	// either at issuance or when it was removed before redemption.
	ErrProductNotFound = errors.New("launch: product not found")

	// ErrInvalidOrExpired covers tokens that were never issued, were already
	// redeemed, or outlived their TTL. The three cases are indistinguishable.
	ErrInvalidOrExpired = errors.New("launch: token expired, invalid, or already used")

	// ErrForbidden is the parent of every fingerprint mismatch.
	ErrForbidden = errors.New("launch: forbidden")

	ErrAgentMismatch = fmt.Errorf("%w: user agent mismatch", ErrForbidden)
	ErrIPMismatch    = fmt.Errorf("%w: client ip mismatch", ErrForbidden)
)

// Rejection reasons reported to hooks and metrics.
const (
	ReasonInvalid       = "invalid_or_expired"
	ReasonNoProduct     = "product_not_found"
	ReasonAgentMismatch = "agent_mismatch"
	ReasonIPMismatch    = "ip_mismatch"
	ReasonInternal      = "internal"
)

// Reason maps an error returned by Issue or Redeem to a short label.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidOrExpired):
		return ReasonInvalid
	case errors.Is(err, ErrProductNotFound):
		return ReasonNoProduct
	case errors.Is(err, ErrAgentMismatch):
		return ReasonAgentMismatch
	case errors.Is(err, ErrIPMismatch):
		return ReasonIPMismatch
	default:
		return ReasonInternal
	}
}
