package errors

import "fmt"

// ConfigurationError covers problems found while loading reference tables or
// interpreting options: unknown model variants, missing tables, malformed CSV
// headers, unparseable interaction expressions. These are fatal at init.
type ConfigurationError struct {
	Err error
	Msg string
}

func (e *ConfigurationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("Configuration Error. Msg: %s", e.Msg)
	}
	return fmt.Sprintf("Configuration Error. Msg: %s, Err: %s", e.Msg, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// MalformedEnvelopeError reports an 837 interchange that cannot be parsed at
// the envelope level: ISA header too short to discover separators, missing
// IEA, or an open transaction with no SE. The caller may drop the envelope
// and continue.
type MalformedEnvelopeError struct {
	Err error
	Msg string
}

func (e *MalformedEnvelopeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("malformed envelope: %s", e.Msg)
	}
	return fmt.Sprintf("malformed envelope: %s: %s", e.Msg, e.Err)
}

func (e *MalformedEnvelopeError) Unwrap() error {
	return e.Err
}

// InvalidDemographicsError reports beneficiary input that cannot be scored:
// negative age, unknown sex or dual code, ESRD fields misused. Fatal for the
// call; no partial result is produced.
type InvalidDemographicsError struct {
	Field string
	Msg   string
}

func (e *InvalidDemographicsError) Error() string {
	return fmt.Sprintf("invalid demographics: %s: %s", e.Field, e.Msg)
}

// RequestError pairs an upstream error with the HTTP status the API surface
// should respond with.
type RequestError struct {
	Err        error
	StatusCode int
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("request error (status %d): %s", e.StatusCode, e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}
