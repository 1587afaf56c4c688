package accounting

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration is the class of missing or inactive account mappings.
	ErrConfiguration = errors.New("accounting: configuration error")
	// ErrInvariant is the class of unbalanced or malformed postings.
	ErrInvariant = errors.New("accounting: invariant violation")
	// ErrMappingNotFound indicates account mapping missing.
	ErrMappingNotFound = errors.New("accounting: account mapping not found")
	// ErrAccountNotFound indicates the account id does not exist.
	ErrAccountNotFound = errors.New("accounting: account not found")
	// ErrPostingNotFound indicates no posting exists for the key.
	ErrPostingNotFound = errors.New("accounting: posting not found")
	// ErrPostingConflict indicates the posting key is already taken.
	ErrPostingConflict = errors.New("accounting: posting key conflict")
	// ErrRecordNotFound indicates a missing subsidiary ledger record.
	ErrRecordNotFound = errors.New("accounting: subsidiary ledger record not found")
)

// ConfigurationError reports an account role that could not be resolved.
type ConfigurationError struct {
	Role   AccountRole
	Scope  MappingScope
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("accounting: configuration error: role %s (%s): %s", e.Role, e.Scope, e.Reason)
}

// Is lets errors.Is match ErrConfiguration.
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// InvariantViolation reports a posting that cannot be committed.
type InvariantViolation struct {
	Reason string
	Err    error
}

func (e *InvariantViolation) Error() string {
	return "accounting: invariant violation: " + e.Reason
}

// Is lets errors.Is match ErrInvariant.
func (e *InvariantViolation) Is(target error) bool {
	return target == ErrInvariant
}

func (e *InvariantViolation) Unwrap() error {
	return e.Err
}

func invariantf(format string, args ...any) error {
	return &InvariantViolation{Reason: fmt.Sprintf(format, args...)}
}

func configErr(role AccountRole, scope MappingScope, reason string, err error) error {
	return &ConfigurationError{Role: role, Scope: scope, Reason: reason, Err: err}
}
