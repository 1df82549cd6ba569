package errors

import (
	"errors"
	"fmt"
)

// Domain errors
var (
	ErrObligationNotFound   = errors.New("obligation not found")
	ErrOverpayment          = errors.New("payment would exceed the face amount")
	ErrInvalidState         = errors.New("obligation is not in a state that allows this change")
	ErrNotAParticipant      = errors.New("party is not a participant of the obligation")
	ErrUnauthorized         = errors.New("caller is not allowed to perform this operation")
	ErrInsufficientBalance  = errors.New("insufficient balance on the payment rail")
	ErrSequenceConflict     = errors.New("rail sequence number conflict")
	ErrAlreadySubmitted     = errors.New("payment was already submitted to the rail")
	ErrSelfPayment          = errors.New("payment to self is not allowed")
	ErrSetupFailed          = errors.New("payment rail setup failed")
	ErrUnrecordedPayment    = errors.New("payment may have been made but was not recorded")
	ErrVerificationTimeout  = errors.New("payment verification deadline passed")
	ErrVerificationRejected = errors.New("payment was rejected by the rail")
	ErrConflict             = errors.New("obligation version conflict")
	ErrOracleUnavailable    = errors.New("settlement oracle unavailable")
	ErrPaymentInFlight      = errors.New("a payment is still awaiting verification")
	ErrReferenceNotFound    = errors.New("payment reference not found")
	ErrInvalidSignature     = errors.New("invalid settlement oracle signature")
	ErrNotSubmitted         = errors.New("payment was not submitted to the rail")
)

// Category groups error codes by how a caller is expected to react.
type Category string

const (
	CategoryValidation     Category = "validation"
	CategoryPrecondition   Category = "precondition"
	CategoryRailTransient  Category = "rail_transient"
	CategoryReconciliation Category = "reconciliation"
	CategoryVerification   Category = "verification"
	CategoryConflict       Category = "conflict"
	CategoryUnavailable    Category = "unavailable"
	CategoryNotFound       Category = "not_found"
	CategoryInternal       Category = "internal"
)

// BusinessError represents a business logic error
type BusinessError struct {
	Code     string
	Category Category
	Message  string
	// Reference is the external payment reference, set when the error concerns money that may have moved.
	Reference string
	Err       error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

// RequiresOperator reports whether the error can only be resolved by out-of-band action.
func (e *BusinessError) RequiresOperator() bool {
	return e.Category == CategoryReconciliation
}

// NewBusinessError creates a new business error
func NewBusinessError(code string, category Category, message string, err error) *BusinessError {
	return &BusinessError{
		Code:     code,
		Category: category,
		Message:  message,
		Err:      err,
	}
}

// Error codes
const (
	ErrCodeObligationNotFound   = "OBLIGATION_NOT_FOUND"
	ErrCodeOverpayment          = "OVERPAYMENT"
	ErrCodeInvalidState         = "INVALID_STATE"
	ErrCodeNotAParticipant      = "NOT_A_PARTICIPANT"
	ErrCodeUnauthorized         = "UNAUTHORIZED"
	ErrCodeInsufficientBalance  = "INSUFFICIENT_BALANCE"
	ErrCodeSequenceConflict     = "SEQUENCE_CONFLICT"
	ErrCodeAlreadySubmitted     = "ALREADY_SUBMITTED"
	ErrCodeSelfPayment          = "SELF_PAYMENT"
	ErrCodeSetupFailed          = "SETUP_FAILED"
	ErrCodeUnrecordedPayment    = "UNRECORDED_PAYMENT"
	ErrCodeVerificationTimeout  = "VERIFICATION_TIMEOUT"
	ErrCodeVerificationRejected = "VERIFICATION_REJECTED"
	ErrCodeConflict             = "VERSION_CONFLICT"
	ErrCodeOracleUnavailable    = "ORACLE_UNAVAILABLE"
	ErrCodePaymentInFlight      = "PAYMENT_IN_FLIGHT"
	ErrCodeReferenceNotFound    = "REFERENCE_NOT_FOUND"
	ErrCodeInvalidSignature     = "INVALID_SIGNATURE"
	ErrCodeDatabaseError        = "DATABASE_ERROR"
	ErrCodeCacheError           = "CACHE_ERROR"
	ErrCodeRailError            = "RAIL_ERROR"
	ErrCodeNotSubmitted         = "PAYMENT_NOT_SUBMITTED"
)

// Wrap common errors with business context
func WrapObligationNotFound(linearID string) *BusinessError {
	return NewBusinessError(
		ErrCodeObligationNotFound,
		CategoryNotFound,
		fmt.Sprintf("Obligation with ID %s not found", linearID),
		ErrObligationNotFound,
	)
}

func WrapOverpayment(paid, attempted, face string) *BusinessError {
	return NewBusinessError(
		ErrCodeOverpayment,
		CategoryValidation,
		fmt.Sprintf("Paying %s on top of %s would exceed the face amount %s", attempted, paid, face),
		ErrOverpayment,
	)
}

func WrapInvalidState(reason string) *BusinessError {
	return NewBusinessError(ErrCodeInvalidState, CategoryValidation, reason, ErrInvalidState)
}

func WrapNotAParticipant(party string) *BusinessError {
	return NewBusinessError(
		ErrCodeNotAParticipant,
		CategoryValidation,
		fmt.Sprintf("Party %s is neither the obligor nor the obligee", party),
		ErrNotAParticipant,
	)
}

func WrapUnauthorized(reason string) *BusinessError {
	return NewBusinessError(ErrCodeUnauthorized, CategoryValidation, reason, ErrUnauthorized)
}

func WrapInsufficientBalance(required, available string) *BusinessError {
	return NewBusinessError(
		ErrCodeInsufficientBalance,
		CategoryPrecondition,
		fmt.Sprintf("Balance %s does not cover the required %s", available, required),
		ErrInsufficientBalance,
	)
}

func WrapSequenceConflict(err error) *BusinessError {
	return NewBusinessError(
		ErrCodeSequenceConflict,
		CategoryRailTransient,
		"Rail rejected the reserved sequence number; restart the settlement to obtain a fresh reservation",
		errors.Join(ErrSequenceConflict, err),
	)
}

func WrapAlreadySubmitted(reference string) *BusinessError {
	e := NewBusinessError(
		ErrCodeAlreadySubmitted,
		CategoryReconciliation,
		fmt.Sprintf("Payment %s already exists on the rail; attach the reference manually to reconcile", reference),
		ErrAlreadySubmitted,
	)
	e.Reference = reference
	return e
}

func WrapSelfPayment(account string) *BusinessError {
	return NewBusinessError(
		ErrCodeSelfPayment,
		CategoryValidation,
		fmt.Sprintf("Account %s cannot pay itself", account),
		ErrSelfPayment,
	)
}

func WrapSetupFailed(err error) *BusinessError {
	return NewBusinessError(ErrCodeSetupFailed, CategoryPrecondition, "payment rail setup failed", errors.Join(ErrSetupFailed, err))
}

// WrapUnrecordedPayment marks a payment that may exist on the rail without a local record.
func WrapUnrecordedPayment(reference string, err error) *BusinessError {
	e := NewBusinessError(
		ErrCodeUnrecordedPayment,
		CategoryReconciliation,
		fmt.Sprintf("Payment %s may have been made but was not recorded; attach the reference to reconcile", reference),
		errors.Join(ErrUnrecordedPayment, err),
	)
	e.Reference = reference
	return e
}

func WrapVerificationTimeout(reference, reason string) *BusinessError {
	e := NewBusinessError(
		ErrCodeVerificationTimeout,
		CategoryVerification,
		fmt.Sprintf("Payment %s was not confirmed before its deadline: %s", reference, reason),
		ErrVerificationTimeout,
	)
	e.Reference = reference
	return e
}

func WrapVerificationRejected(reference, reason string) *BusinessError {
	e := NewBusinessError(
		ErrCodeVerificationRejected,
		CategoryVerification,
		fmt.Sprintf("Payment %s failed verification: %s", reference, reason),
		ErrVerificationRejected,
	)
	e.Reference = reference
	return e
}

func WrapConflict(linearID string, version int64) *BusinessError {
	return NewBusinessError(
		ErrCodeConflict,
		CategoryConflict,
		fmt.Sprintf("Obligation %s is no longer at version %d; refetch and retry", linearID, version),
		ErrConflict,
	)
}

func WrapOracleUnavailable(err error) *BusinessError {
	return NewBusinessError(ErrCodeOracleUnavailable, CategoryUnavailable, "settlement oracle could not be reached", errors.Join(ErrOracleUnavailable, err))
}

func WrapPaymentInFlight(reference string) *BusinessError {
	e := NewBusinessError(
		ErrCodePaymentInFlight,
		CategoryPrecondition,
		fmt.Sprintf("Payment %s has not been verified yet", reference),
		ErrPaymentInFlight,
	)
	e.Reference = reference
	return e
}

func WrapReferenceNotFound(reference string) *BusinessError {
	return NewBusinessError(
		ErrCodeReferenceNotFound,
		CategoryNotFound,
		fmt.Sprintf("Payment reference %s not found", reference),
		ErrReferenceNotFound,
	)
}

func WrapInvalidSignature(err error) *BusinessError {
	return NewBusinessError(ErrCodeInvalidSignature, CategoryValidation, "settlement result signature check failed", errors.Join(ErrInvalidSignature, err))
}

func WrapDatabaseError(err error) *BusinessError {
	return NewBusinessError(
		ErrCodeDatabaseError,
		CategoryInternal,
		"database operation failed",
		err,
	)
}

func WrapCacheError(err error) *BusinessError {
	return NewBusinessError(
		ErrCodeCacheError,
		CategoryInternal,
		"Cache operation failed",
		err,
	)
}

func WrapRailError(rail string, err error) *BusinessError {
	return NewBusinessError(ErrCodeRailError, CategoryInternal, fmt.Sprintf("%s rail call failed", rail), err)
}

// WrapNotSubmitted marks a rail failure that happened before anything was sent,
// so the settlement can be retried with a fresh reservation.
func WrapNotSubmitted(rail string, err error) *BusinessError {
	return NewBusinessError(
		ErrCodeNotSubmitted,
		CategoryRailTransient,
		fmt.Sprintf("%s payment was not submitted; retry the settlement", rail),
		errors.Join(ErrNotSubmitted, err),
	)
}

// IsReconciliation reports whether err needs manual reconciliation of an external payment.
func IsReconciliation(err error) bool {
	var be *BusinessError
	if errors.As(err, &be) {
		return be.RequiresOperator()
	}
	return false
}

// ReferenceOf returns the external payment reference carried by err, if any.
func ReferenceOf(err error) string {
	var be *BusinessError
	if errors.As(err, &be) {
		return be.Reference
	}
	return ""
}

// CategoryOf returns the category of err, defaulting to internal.
func CategoryOf(err error) Category {
	var be *BusinessError
	if errors.As(err, &be) {
		return be.Category
	}
	return CategoryInternal
}

var codeSentinels = map[string]struct {
	category Category
	sentinel error
}{
	ErrCodeObligationNotFound:   {CategoryNotFound, ErrObligationNotFound},
	ErrCodeOverpayment:          {CategoryValidation, ErrOverpayment},
	ErrCodeInvalidState:         {CategoryValidation, ErrInvalidState},
	ErrCodeNotAParticipant:      {CategoryValidation, ErrNotAParticipant},
	ErrCodeUnauthorized:         {CategoryValidation, ErrUnauthorized},
	ErrCodeInsufficientBalance:  {CategoryPrecondition, ErrInsufficientBalance},
	ErrCodeSequenceConflict:     {CategoryRailTransient, ErrSequenceConflict},
	ErrCodeAlreadySubmitted:     {CategoryReconciliation, ErrAlreadySubmitted},
	ErrCodeSelfPayment:          {CategoryValidation, ErrSelfPayment},
	ErrCodeSetupFailed:          {CategoryPrecondition, ErrSetupFailed},
	ErrCodeUnrecordedPayment:    {CategoryReconciliation, ErrUnrecordedPayment},
	ErrCodeVerificationTimeout:  {CategoryVerification, ErrVerificationTimeout},
	ErrCodeVerificationRejected: {CategoryVerification, ErrVerificationRejected},
	ErrCodeConflict:             {CategoryConflict, ErrConflict},
	ErrCodeOracleUnavailable:    {CategoryUnavailable, ErrOracleUnavailable},
	ErrCodePaymentInFlight:      {CategoryPrecondition, ErrPaymentInFlight},
	ErrCodeReferenceNotFound:    {CategoryNotFound, ErrReferenceNotFound},
	ErrCodeInvalidSignature:     {CategoryValidation, ErrInvalidSignature},
	ErrCodeNotSubmitted:         {CategoryRailTransient, ErrNotSubmitted},
}

// FromCode rebuilds a business error received over the wire so errors.Is
// keeps working across process boundaries.
func FromCode(code, message, reference string) *BusinessError {
	entry, ok := codeSentinels[code]
	if !ok {
		e := NewBusinessError(code, CategoryInternal, message, nil)
		e.Reference = reference
		return e
	}
	e := NewBusinessError(code, entry.category, message, entry.sentinel)
	e.Reference = reference
	return e
}
