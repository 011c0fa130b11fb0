// Package faults defines the coded error taxonomy shared by every component
// that crosses a process or component boundary.
//
// Codes are grouped by prefix:
//   - EXT_*   external integrations (platforms, upstream resources)
//   - VAL_*   data validation
//   - RES_*   resource existence/quota
//   - STATE_* lifecycle state machine
//   - SEC_*   security (tokens, signatures, audit)
//   - PLAT_*  publish platforms
//   - FIN_*   wallet/financial
//   - NET_*   network transport
//
// Each code carries its HTTP status, retry safety, and recovery strategy so
// retry behavior is data, not control flow scattered through callers.
package faults

import (
	"errors"
	"fmt"
)

// Category groups codes for propagation policy decisions.
type Category string

const (
	CategoryExternal   Category = "EXTERNAL"
	CategoryValidation Category = "VALIDATION"
	CategoryResource   Category = "RESOURCE"
	CategoryState      Category = "STATE"
	CategorySecurity   Category = "SECURITY"
	CategoryPlatform   Category = "PLATFORM"
	CategoryFinancial  Category = "FINANCIAL"
	CategoryNetwork    Category = "NETWORK"
)

// Recovery names the strategy a caller should apply on this fault.
type Recovery string

const (
	RecoveryRetryBackoff      Recovery = "RETRY_WITH_BACKOFF"
	RecoveryBackoffJitter     Recovery = "EXPONENTIAL_BACKOFF_WITH_JITTER"
	RecoveryReject            Recovery = "REJECT"
	RecoveryRefreshCreds      Recovery = "REFRESH_CREDENTIALS"
	RecoveryCheckPermissions  Recovery = "CHECK_PERMISSIONS"
	RecoveryClampAndWarn      Recovery = "CLAMP_AND_WARN"
	RecoveryCoerceOrReject    Recovery = "COERCE_OR_REJECT"
	RecoveryReturnExisting    Recovery = "RETURN_EXISTING"
	RecoveryRefreshAndRetry   Recovery = "REFRESH_AND_RETRY"
	RecoveryEscalate          Recovery = "ESCALATE"
	RecoveryRequestNewToken   Recovery = "REQUEST_NEW_TOKEN"
	RecoveryFreshApproval     Recovery = "REQUEST_FRESH_APPROVAL"
	RecoveryCheckRBAC         Recovery = "CHECK_RBAC"
	RecoveryHaltAndEscalate   Recovery = "HALT_AND_ESCALATE"
	RecoveryAlertAndRevise    Recovery = "ALERT_AND_REVISE"
	RecoveryRejectAndEscalate Recovery = "REJECT_AND_ESCALATE"
	RecoveryUseCachedRate     Recovery = "USE_CACHED_RATE"
)

// Spec describes one catalog entry.
type Spec struct {
	HTTPStatus int      `json:"http_status"`
	Category   Category `json:"category"`
	RetrySafe  bool     `json:"retry_safe"`
	// MaxRetries is -1 for unbounded (concurrency conflicts retried with
	// backoff until a writer wins).
	MaxRetries int      `json:"max_retries"`
	Recovery   Recovery `json:"recovery_strategy"`
}

// Catalog is the authoritative code table.
var Catalog = map[string]Spec{
	// External integration (EXT_*)
	"EXT_PLATFORM_UNAVAILABLE": {503, CategoryExternal, true, 3, RecoveryRetryBackoff},
	"EXT_RATE_LIMITED":         {429, CategoryExternal, true, 3, RecoveryBackoffJitter},
	"EXT_INVALID_PLATFORM":     {400, CategoryExternal, false, 0, RecoveryReject},
	"EXT_AUTH_FAILED":          {401, CategoryExternal, false, 0, RecoveryRefreshCreds},
	"EXT_FORBIDDEN":            {403, CategoryExternal, false, 0, RecoveryCheckPermissions},

	// Data validation (VAL_*)
	"VAL_SCHEMA_INVALID":              {422, CategoryValidation, false, 0, RecoveryReject},
	"VAL_ENGAGEMENT_FORMULA_MISMATCH": {422, CategoryValidation, false, 0, RecoveryReject},
	"VAL_NEGATIVE_ENGAGEMENT":         {422, CategoryValidation, false, 0, RecoveryClampAndWarn},
	"VAL_TIMESTAMP_INVALID":           {422, CategoryValidation, false, 0, RecoveryReject},
	"VAL_MISSING_REQUIRED_FIELD":      {422, CategoryValidation, false, 0, RecoveryReject},
	"VAL_TYPE_MISMATCH":               {422, CategoryValidation, false, 0, RecoveryCoerceOrReject},

	// Resource (RES_*)
	"RES_NOT_FOUND":       {404, CategoryResource, false, 0, RecoveryReject},
	"RES_ALREADY_EXISTS":  {409, CategoryResource, false, 0, RecoveryReturnExisting},
	"RES_QUOTA_EXCEEDED":  {429, CategoryResource, false, 0, RecoveryReject},
	"RES_RESOURCE_LOCKED": {423, CategoryResource, true, 3, RecoveryRetryBackoff},

	// Lifecycle state (STATE_*)
	"STATE_INVALID_TRANSITION": {409, CategoryState, false, 0, RecoveryReject},
	"STATE_CONFLICT":           {409, CategoryState, true, -1, RecoveryRefreshAndRetry},
	"STATE_SLA_EXCEEDED":       {504, CategoryState, false, 0, RecoveryEscalate},

	// Security (SEC_*)
	"SEC_INVALID_TOKEN":            {401, CategorySecurity, false, 0, RecoveryRequestNewToken},
	"SEC_TOKEN_EXPIRED":            {401, CategorySecurity, false, 0, RecoveryFreshApproval},
	"SEC_INSUFFICIENT_PERMISSIONS": {403, CategorySecurity, false, 0, RecoveryCheckRBAC},
	"SEC_SIGNATURE_INVALID":        {401, CategorySecurity, false, 0, RecoveryReject},
	"SEC_CHECKSUM_MISMATCH":        {422, CategorySecurity, false, 0, RecoveryReject},
	"SEC_AUDIT_TAMPER_DETECTED":    {500, CategorySecurity, false, 0, RecoveryHaltAndEscalate},

	// Publish platforms (PLAT_*)
	"PLAT_PUBLISH_FAILED":    {502, CategoryPlatform, true, 3, RecoveryRetryBackoff},
	"PLAT_DUPLICATE_CONTENT": {409, CategoryPlatform, false, 0, RecoveryReturnExisting},
	"PLAT_CONTENT_MODERATED": {451, CategoryPlatform, false, 0, RecoveryAlertAndRevise},
	"PLAT_ACCOUNT_SUSPENDED": {403, CategoryPlatform, false, 0, RecoveryHaltAndEscalate},

	// Financial (FIN_*)
	"FIN_INSUFFICIENT_BALANCE":      {402, CategoryFinancial, false, 0, RecoveryRejectAndEscalate},
	"FIN_TRANSACTION_FAILED":        {502, CategoryFinancial, true, 3, RecoveryRetryBackoff},
	"FIN_WALLET_ERROR":              {500, CategoryFinancial, true, 2, RecoveryRetryBackoff},
	"FIN_INVALID_WALLET_ADDRESS":    {400, CategoryFinancial, false, 0, RecoveryReject},
	"FIN_CURRENCY_CONVERSION_ERROR": {500, CategoryFinancial, true, 2, RecoveryUseCachedRate},

	// Network (NET_*)
	"NET_TIMEOUT":                 {504, CategoryNetwork, true, 3, RecoveryRetryBackoff},
	"NET_CONNECTION_REFUSED":      {503, CategoryNetwork, true, 3, RecoveryRetryBackoff},
	"NET_DNS_FAILURE":             {503, CategoryNetwork, true, 3, RecoveryRetryBackoff},
	"NET_TLS_CERTIFICATE_INVALID": {495, CategoryNetwork, false, 0, RecoveryReject},
}

// Fault is a coded error. The zero value is not valid; construct with New.
type Fault struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	// Field names the violated input field for validation faults.
	Field string `json:"field,omitempty"`
	cause error
}

// New creates a Fault for a cataloged code. Unknown codes panic: a miscoded
// fault is a programming error, not a runtime condition.
func New(code, message string) *Fault {
	if _, ok := Catalog[code]; !ok {
		panic(fmt.Sprintf("faults: unknown code %q", code))
	}
	return &Fault{Code: code, Message: message}
}

// Newf creates a Fault with a formatted message.
func Newf(code, format string, args ...any) *Fault {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap attaches a cause, preserved for errors.Is/As chains.
func Wrap(code, message string, cause error) *Fault {
	f := New(code, message)
	f.cause = cause
	return f
}

// WithField annotates a validation fault with the offending field.
func (f *Fault) WithField(field string) *Fault {
	f.Field = field
	return f
}

func (f *Fault) Error() string {
	return fmt.Sprintf("[%s] %s", f.Code, f.Message)
}

func (f *Fault) Unwrap() error { return f.cause }

// Is matches faults by code so sentinel comparisons work across wrapping.
func (f *Fault) Is(target error) bool {
	var other *Fault
	if errors.As(target, &other) {
		return f.Code == other.Code
	}
	return false
}

// Spec returns the catalog entry for this fault's code.
func (f *Fault) Spec() Spec { return Catalog[f.Code] }

// HTTPStatus returns the mapped status, or 500 for non-fault errors.
func HTTPStatus(err error) int {
	var f *Fault
	if errors.As(err, &f) {
		return f.Spec().HTTPStatus
	}
	return 500
}

// CodeOf extracts the fault code, or "UNKNOWN_ERROR" for plain errors.
func CodeOf(err error) string {
	var f *Fault
	if errors.As(err, &f) {
		return f.Code
	}
	return "UNKNOWN_ERROR"
}

// IsRetryable reports whether the fault's code is retry-safe. Plain errors
// are treated as non-retryable: retrying an unknown failure is how budgets
// get burned.
func IsRetryable(err error) bool {
	var f *Fault
	if errors.As(err, &f) {
		return f.Spec().RetrySafe
	}
	return false
}

// IsSecurity reports whether the fault belongs to the security category.
// Security faults are never retried and never bypassed.
func IsSecurity(err error) bool {
	var f *Fault
	if errors.As(err, &f) {
		return f.Spec().Category == CategorySecurity
	}
	return false
}

// MaxRetries returns the bounded retry count for the fault's code
// (0 for non-retryable, -1 for unbounded-with-backoff).
func MaxRetries(err error) int {
	var f *Fault
	if errors.As(err, &f) {
		return f.Spec().MaxRetries
	}
	return 0
}
