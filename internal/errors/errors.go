// Package errors provides custom error types for the simulation and analytics core.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrInvalidSimulationParameters = errors.New("invalid simulation parameters")
	ErrInsufficientData            = errors.New("insufficient data")
	ErrPricingUnavailable          = errors.New("pricing unavailable")
	ErrDataUnavailable             = errors.New("data unavailable")
	ErrMismatchedSeriesLength      = errors.New("mismatched series length")
	ErrUndefined                   = errors.New("statistic undefined for input")
	ErrUnorderedBars               = errors.New("bars not strictly time-ordered")
	ErrConfigInvalid               = errors.New("invalid configuration")
	ErrJobNotFound                 = errors.New("job not found")
	ErrJobActive                   = errors.New("job has not finished")
	ErrQueueFull                   = errors.New("job queue full")
	ErrPoolStopped                 = errors.New("worker pool stopped")
	ErrVersionNotFound             = errors.New("product version not found")
)

// SimulationError describes a rejected simulation input.
type SimulationError struct {
	Param  string
	Value  float64
	Reason string
}

func (e *SimulationError) Error() string {
	return fmt.Sprintf("simulation error: %s=%g: %s", e.Param, e.Value, e.Reason)
}

func (e *SimulationError) Unwrap() error {
	return ErrInvalidSimulationParameters
}

// NewSimulationError creates a new SimulationError.
func NewSimulationError(param string, value float64, reason string) *SimulationError {
	return &SimulationError{
		Param:  param,
		Value:  value,
		Reason: reason,
	}
}

// PricingError represents a pricing request that could not produce a value.
type PricingError struct {
	ProductID string
	Reason    string
	Err       error
}

func (e *PricingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("pricing error [%s]: %s: %v", e.ProductID, e.Reason, e.Err)
	}
	return fmt.Sprintf("pricing error [%s]: %s", e.ProductID, e.Reason)
}

// Unwrap exposes both the cause and ErrPricingUnavailable to errors.Is.
func (e *PricingError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrPricingUnavailable, e.Err}
	}
	return []error{ErrPricingUnavailable}
}

// NewPricingError creates a new PricingError.
func NewPricingError(productID, reason string, err error) *PricingError {
	return &PricingError{
		ProductID: productID,
		Reason:    reason,
		Err:       err,
	}
}

// DataError represents a data-related error.
type DataError struct {
	DataType string
	Symbol   string
	Message  string
	Err      error
}

func (e *DataError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("data error [%s] %s: %s: %v", e.DataType, e.Symbol, e.Message, e.Err)
	}
	return fmt.Sprintf("data error [%s] %s: %s", e.DataType, e.Symbol, e.Message)
}

func (e *DataError) Unwrap() error {
	return e.Err
}

// NewDataError creates a new DataError.
func NewDataError(dataType, symbol, message string, err error) *DataError {
	return &DataError{
		DataType: dataType,
		Symbol:   symbol,
		Message:  message,
		Err:      err,
	}
}

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrConfigInvalid
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// JobError records why an asynchronous job ended without completing.
type JobError struct {
	JobID string
	Kind  string
	Err   error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("job error [%s] %s: %v", e.JobID, e.Kind, e.Err)
}

func (e *JobError) Unwrap() error {
	return e.Err
}

// NewJobError creates a new JobError.
func NewJobError(jobID, kind string, err error) *JobError {
	return &JobError{
		JobID: jobID,
		Kind:  kind,
		Err:   err,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
