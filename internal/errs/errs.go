// Package errs provides the typed failure taxonomy for the onboarding run.
// Each stage of the run fails with its own error type so callers can tell
// fatal-for-the-run failures from fatal-for-one-account failures.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// ConfigurationError indicates missing or invalid invocation configuration.
// All offending fields are collected and reported together so an operator
// fixes the environment in one pass, not one variable at a time.
type ConfigurationError struct {
	Fields []string // env var names that are missing or invalid
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: missing or invalid: %s", strings.Join(e.Fields, ", "))
}

// NewConfigurationError creates a ConfigurationError.
func NewConfigurationError(fields []string) *ConfigurationError {
	return &ConfigurationError{Fields: fields}
}

// IsConfigurationError returns true if the error is a ConfigurationError.
func IsConfigurationError(err error) bool {
	var confErr *ConfigurationError
	return errors.As(err, &confErr)
}

// ServiceUnavailableError indicates the target service never reported healthy
// within the bounded poll budget. Fatal for the whole run.
type ServiceUnavailableError struct {
	URL      string // base URL that was probed
	Attempts int    // how many probes were spent
	Cause    error  // last probe error, if any
}

func (e *ServiceUnavailableError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("service at %s not healthy after %d attempts: %v", e.URL, e.Attempts, e.Cause)
	}
	return fmt.Sprintf("service at %s not healthy after %d attempts", e.URL, e.Attempts)
}

// Unwrap returns the underlying cause for errors.As/Is support.
func (e *ServiceUnavailableError) Unwrap() error {
	return e.Cause
}

// NewServiceUnavailableError creates a ServiceUnavailableError.
func NewServiceUnavailableError(url string, attempts int, cause error) *ServiceUnavailableError {
	return &ServiceUnavailableError{
		URL:      url,
		Attempts: attempts,
		Cause:    cause,
	}
}

// IsServiceUnavailableError returns true if the error is a ServiceUnavailableError.
func IsServiceUnavailableError(err error) bool {
	var unavailErr *ServiceUnavailableError
	return errors.As(err, &unavailErr)
}

// AccountProvisioningError indicates an account could not be created (or its
// stored record could not be read). Fatal for that account only; "already
// exists" responses are success and never produce this error.
type AccountProvisioningError struct {
	Login string // account login, or the secret reference when the record was unreadable
	Cause error
}

func (e *AccountProvisioningError) Error() string {
	return fmt.Sprintf("provisioning account %q failed: %v", e.Login, e.Cause)
}

// Unwrap returns the underlying cause for errors.As/Is support.
func (e *AccountProvisioningError) Unwrap() error {
	return e.Cause
}

// NewAccountProvisioningError creates an AccountProvisioningError.
func NewAccountProvisioningError(login string, cause error) *AccountProvisioningError {
	return &AccountProvisioningError{Login: login, Cause: cause}
}

// IsAccountProvisioningError returns true if the error is an AccountProvisioningError.
func IsAccountProvisioningError(err error) bool {
	var provErr *AccountProvisioningError
	return errors.As(err, &provErr)
}

// PermissionGrantError indicates the optional permission grant failed.
// Fatal for that account.
type PermissionGrantError struct {
	Login      string
	Permission string
	Cause      error
}

func (e *PermissionGrantError) Error() string {
	return fmt.Sprintf("granting %q to account %q failed: %v", e.Permission, e.Login, e.Cause)
}

// Unwrap returns the underlying cause for errors.As/Is support.
func (e *PermissionGrantError) Unwrap() error {
	return e.Cause
}

// NewPermissionGrantError creates a PermissionGrantError.
func NewPermissionGrantError(login, permission string, cause error) *PermissionGrantError {
	return &PermissionGrantError{Login: login, Permission: permission, Cause: cause}
}

// IsPermissionGrantError returns true if the error is a PermissionGrantError.
func IsPermissionGrantError(err error) bool {
	var grantErr *PermissionGrantError
	return errors.As(err, &grantErr)
}

// TokenGenerationError indicates token generation failed for an account.
// Fatal for that account.
type TokenGenerationError struct {
	Login     string
	TokenName string
	Cause     error
}

func (e *TokenGenerationError) Error() string {
	return fmt.Sprintf("generating token %q for account %q failed: %v", e.TokenName, e.Login, e.Cause)
}

// Unwrap returns the underlying cause for errors.As/Is support.
func (e *TokenGenerationError) Unwrap() error {
	return e.Cause
}

// NewTokenGenerationError creates a TokenGenerationError.
func NewTokenGenerationError(login, tokenName string, cause error) *TokenGenerationError {
	return &TokenGenerationError{Login: login, TokenName: tokenName, Cause: cause}
}

// IsTokenGenerationError returns true if the error is a TokenGenerationError.
func IsTokenGenerationError(err error) bool {
	var tokenErr *TokenGenerationError
	return errors.As(err, &tokenErr)
}

// SecretPersistenceError indicates a generated token could not be written back
// to the secret store. Fatal for that account; the token is treated as never
// generated (a re-run rotates it).
type SecretPersistenceError struct {
	SecretID string
	Cause    error
}

func (e *SecretPersistenceError) Error() string {
	return fmt.Sprintf("persisting secret %q failed: %v", e.SecretID, e.Cause)
}

// Unwrap returns the underlying cause for errors.As/Is support.
func (e *SecretPersistenceError) Unwrap() error {
	return e.Cause
}

// NewSecretPersistenceError creates a SecretPersistenceError.
func NewSecretPersistenceError(secretID string, cause error) *SecretPersistenceError {
	return &SecretPersistenceError{SecretID: secretID, Cause: cause}
}

// IsSecretPersistenceError returns true if the error is a SecretPersistenceError.
func IsSecretPersistenceError(err error) bool {
	var persistErr *SecretPersistenceError
	return errors.As(err, &persistErr)
}
