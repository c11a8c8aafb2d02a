package entities

import "errors"

var (
	// Boundary errors
	ErrUnauthorized   = errors.New("ledgerbot: unauthorized")
	ErrTenantNotFound = errors.New("ledgerbot: tenant not found")
	ErrInvalidTenant  = errors.New("ledgerbot: invalid tenant")

	// Gate errors
	ErrNotLicensed = errors.New("ledgerbot: chat is not licensed")

	// Ledger errors
	ErrNotRecording  = errors.New("ledgerbot: recording has not been started")
	ErrChatNotFound  = errors.New("ledgerbot: chat not found")
	ErrInvalidAmount = errors.New("ledgerbot: invalid amount")
	ErrInvalidKind   = errors.New("ledgerbot: invalid record type")
	ErrRateNotSet    = errors.New("ledgerbot: exchange rate not set")
	ErrUnknownRate   = errors.New("ledgerbot: unknown currency")

	// License errors
	ErrLicenseCodeNotFound = errors.New("ledgerbot: license code not found")
	ErrLicenseCodeUsed     = errors.New("ledgerbot: license code already used")
	ErrInvalidDays         = errors.New("ledgerbot: license days must be positive")

	// Runtime errors
	ErrRuntimeStart    = errors.New("ledgerbot: runtime failed to start")
	ErrRuntimeNotFound = errors.New("ledgerbot: tenant runtime is not live")
)
