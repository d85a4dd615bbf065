package ledger

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the reservation service.
var (
	ErrInvalidWindow        = errors.New("invalid window")
	ErrCrossDayWindow       = errors.New("window crosses calendar day")
	ErrPastWindow           = errors.New("window starts in the past")
	ErrInvalidPayment       = errors.New("invalid payment")
	ErrInvalidRatePlan      = errors.New("invalid rate plan")
	ErrInvalidFilter        = errors.New("invalid reservation filter")
	ErrInvalidLayout        = errors.New("invalid inventory layout")
	ErrInvalidSpotID        = errors.New("invalid spot id")
	ErrInvalidBlockID       = errors.New("invalid block id")
	ErrInvalidFloorID       = errors.New("invalid floor id")
	ErrInvalidReservationID = errors.New("invalid reservation id")
	ErrInvalidPaymentID     = errors.New("invalid payment id")
	ErrInvalidCustomerID    = errors.New("invalid customer id")
	ErrInvalidVehicleID     = errors.New("invalid vehicle id")
	ErrInvalidVehicleType   = errors.New("invalid vehicle type")
	ErrVehicleNotOwned      = errors.New("vehicle not owned by customer")
	ErrSpotUnavailable      = errors.New("spot unavailable")
	ErrWindowConflict       = errors.New("window conflict")
	ErrSpotNotFound         = errors.New("spot not found")
	ErrReservationNotFound  = errors.New("reservation not found")
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrAlreadyFinalized     = errors.New("reservation already finalized")
	ErrAlreadyPaid          = errors.New("reservation already paid")
	ErrHardDeleteDisallowed = errors.New("reservation deletion is not allowed; cancel instead")
	ErrInvalidServiceConfig = errors.New("invalid service config")
	ErrInvalidStoredValue   = errors.New("invalid stored value")
)

// ErrorClass groups errors by how callers should react to them.
type ErrorClass string

const (
	ErrorClassNone       ErrorClass = ""
	ErrorClassValidation ErrorClass = "validation"
	ErrorClassConflict   ErrorClass = "conflict"
	ErrorClassNotFound   ErrorClass = "not_found"
	ErrorClassState      ErrorClass = "state"
	ErrorClassStore      ErrorClass = "store"
	ErrorClassInternal   ErrorClass = "internal"
)

var errorClasses = []struct {
	class   ErrorClass
	members []error
}{
	{ErrorClassConflict, []error{ErrSpotUnavailable, ErrWindowConflict}},
	{ErrorClassNotFound, []error{ErrSpotNotFound, ErrReservationNotFound, ErrPaymentNotFound}},
	{ErrorClassState, []error{ErrAlreadyFinalized, ErrAlreadyPaid, ErrHardDeleteDisallowed}},
	{ErrorClassValidation, []error{
		ErrInvalidWindow, ErrCrossDayWindow, ErrPastWindow, ErrInvalidPayment, ErrInvalidRatePlan,
		ErrInvalidFilter, ErrInvalidLayout, ErrInvalidSpotID, ErrInvalidBlockID, ErrInvalidFloorID,
		ErrInvalidReservationID, ErrInvalidPaymentID, ErrInvalidCustomerID, ErrInvalidVehicleID,
		ErrInvalidVehicleType, ErrVehicleNotOwned,
	}},
}

// ClassOf classifies err. Only ErrorClassStore errors are eligible for transparent retry.
func ClassOf(err error) ErrorClass {
	if err == nil {
		return ErrorClassNone
	}
	for _, group := range errorClasses {
		for _, member := range group.members {
			if errors.Is(err, member) {
				return group.class
			}
		}
	}
	var operationError OperationError
	if errors.As(err, &operationError) && operationError.Operation() == OperationStore {
		return ErrorClassStore
	}
	return ErrorClassInternal
}

// WindowError reports a rejected window together with the spot it was requested for.
type WindowError struct {
	Err         error
	SpotID      SpotID
	Window      Window
	Conflicting ReservationID
}

// Error returns the formatted error message.
func (windowError WindowError) Error() string {
	message := fmt.Sprintf("%v: spot %s window %s", windowError.Err, windowError.SpotID.String(), windowError.Window.String())
	if windowError.Conflicting.String() != "" {
		message += " overlaps reservation " + windowError.Conflicting.String()
	}
	return message
}

// Unwrap returns the underlying sentinel.
func (windowError WindowError) Unwrap() error {
	return windowError.Err
}

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}
