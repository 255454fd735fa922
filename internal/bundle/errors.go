// internal/bundle/errors.go
package bundle

import "errors"

var (
	// ErrConfiguration: the builder is missing a collaborator or carries an invalid setting.
	ErrConfiguration = errors.New("bundle builder is misconfigured")

	ErrEmptyBundle = errors.New("bundle has no transactions")

	// ErrBundleSizeExceeded: more transactions than a bundle can hold.
	ErrBundleSizeExceeded = errors.New("bundle size exceeded")

	// ErrNoSpaceForTip: neither a tip instruction nor a tip transaction fits.
	// Callers must reduce the number of hops or transactions.
	ErrNoSpaceForTip = errors.New("no space left for tip")
)
