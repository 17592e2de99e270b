// Package authz decides which callers may trigger liquidations. The pool
// engine itself has no notion of identity beyond opaque caller IDs; a
// deployment wires the allowlist from configuration.
package authz

import "errors"

// ErrUnauthorized is returned when a caller is not on the liquidator
// allowlist.
var ErrUnauthorized = errors.New("authz: caller is not an authorized liquidator")

// Registry is a fixed allowlist of liquidator caller IDs.
type Registry struct {
	liquidators map[string]struct{}
}

// NewRegistry creates a registry from a list of authorized caller IDs.
func NewRegistry(callerIDs []string) *Registry {
	r := &Registry{liquidators: make(map[string]struct{}, len(callerIDs))}
	for _, id := range callerIDs {
		if id != "" {
			r.liquidators[id] = struct{}{}
		}
	}
	return r
}

// IsAuthorizedLiquidator reports whether caller may trigger liquidations.
func (r *Registry) IsAuthorizedLiquidator(caller string) bool {
	_, ok := r.liquidators[caller]
	return ok
}

// Authorize returns ErrUnauthorized unless caller is allowlisted.
func (r *Registry) Authorize(caller string) error {
	if !r.IsAuthorizedLiquidator(caller) {
		return ErrUnauthorized
	}
	return nil
}
