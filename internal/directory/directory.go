// Package directory resolves the customer tier behind an account.
//
// The chain is account → customer → customer type. Detection only needs the
// tier to pick an alert threshold, so that is all this package exposes.
package directory

import (
	"context"
	"errors"
	"strings"
)

// ErrAccountNotFound is returned when the account does not exist at all.
// An account whose customer has no type is not an error; it resolves to TierPersonal.
var ErrAccountNotFound = errors.New("directory: account not found")

// Tier is the customer classification that drives alert thresholds.
type Tier string

const (
	TierPersonal  Tier = "PERSONAL"
	TierBusiness  Tier = "BUSINESS"
	TierTemporary Tier = "TEMPORARY"
)

// ParseTier normalizes a stored customer type. Unknown or empty values map to TierPersonal.
func ParseTier(s string) Tier {
	switch Tier(strings.ToUpper(strings.TrimSpace(s))) {
	case TierBusiness:
		return TierBusiness
	case TierTemporary:
		return TierTemporary
	default:
		return TierPersonal
	}
}

// Directory looks up the tier for an account.
type Directory interface {
	TierOf(ctx context.Context, accountID string) (Tier, error)
}
