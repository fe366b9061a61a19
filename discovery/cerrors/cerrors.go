// (c) Copyright 2024 Hewlett Packard Enterprise Development LP

// Package cerrors defines the error alphabet the discovery core uses to report failures up
// through the dispatcher and control surface.
package cerrors

import (
	"fmt"
	"strconv"

	log "github.com/hpe-storage/iscsid-core/logger"
)

// DiscoveryErrorCode enumerates the failure kinds named in the error handling design.
type DiscoveryErrorCode uint32

const (
	OK                DiscoveryErrorCode = 0
	Unknown           DiscoveryErrorCode = 1
	Internal          DiscoveryErrorCode = 2
	BadAddress        DiscoveryErrorCode = 3
	StoreUnavailable  DiscoveryErrorCode = 4
	RPCFailure        DiscoveryErrorCode = 5
	Overflow          DiscoveryErrorCode = 6
	SessionBusy       DiscoveryErrorCode = 7
	Unsupported       DiscoveryErrorCode = 8
	WorkerMissing     DiscoveryErrorCode = 9
	NotFound          DiscoveryErrorCode = 10
	_maxCode          DiscoveryErrorCode = 11
)

const (
	errorMessageInvalidInputParameters = "invalid input parameters"
)

// DiscoveryError is the error type returned by every exported discovery entry point.
type DiscoveryError struct {
	Code DiscoveryErrorCode `json:"code"`
	Text string             `json:"text,omitempty"`
}

// NewDiscoveryError takes an array of objects and returns a pointer to a DiscoveryError.  The
// following input parameters, in any order, are supported:
//     DiscoveryError     - DiscoveryError object
//     error              - all other error objects
//     DiscoveryErrorCode - error code
//     string             - error text
func NewDiscoveryError(args ...interface{}) *DiscoveryError {
	var discErr *DiscoveryError
	var otherError *error
	errorCode := _maxCode
	errorMessage := ""

	for _, arg := range args {
		switch v := arg.(type) {
		case DiscoveryErrorCode:
			errorCode = v
		case string:
			errorMessage = v
		case DiscoveryError:
			e := v
			discErr = &e
		case *DiscoveryError:
			discErr = v
		case error:
			e := v
			otherError = &e
		}
	}

	err := &DiscoveryError{Code: _maxCode, Text: ""}

	if discErr != nil {
		err = discErr
	} else if otherError != nil {
		err.Text = (*otherError).Error()
	} else if errorMessage != "" {
		err.Text = errorMessage
	}

	if errorCode < _maxCode {
		err.Code = errorCode
	}

	if (err.Code == _maxCode) && (err.Text == "") {
		return &DiscoveryError{Code: Internal, Text: errorMessageInvalidInputParameters}
	}

	if err.Code == _maxCode {
		err.Code = Unknown
	}
	if err.Text == "" {
		err.Text = err.Code.String()
	}

	return err
}

// NewDiscoveryErrorf builds a DiscoveryError with a formatted message.
func NewDiscoveryErrorf(c DiscoveryErrorCode, format string, a ...interface{}) *DiscoveryError {
	return &DiscoveryError{Code: c, Text: fmt.Sprintf(format, a...)}
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("status: %d msg: %s", e.Code, e.Text)
}

// LogAndError logs the error at Error level and returns the dereferenced value, for call sites
// that want to both log and propagate in one expression.
func (e *DiscoveryError) LogAndError() DiscoveryError {
	log.Errorln(e.Error())
	return *e
}

// ErrorCode returns the status code contained in the error, or OK for a nil receiver.
func (e *DiscoveryError) ErrorCode() DiscoveryErrorCode {
	if e == nil {
		return OK
	}
	return e.Code
}

// ErrorText returns the text contained in the error, or "" for a nil receiver.
func (e *DiscoveryError) ErrorText() string {
	if e == nil {
		return ""
	}
	return e.Text
}

func (c DiscoveryErrorCode) String() string {
	switch c {
	case OK:
		return "OK"
	case Unknown:
		return "Unknown"
	case Internal:
		return "Internal"
	case BadAddress:
		return "BadAddress"
	case StoreUnavailable:
		return "StoreUnavailable"
	case RPCFailure:
		return "RPCFailure"
	case Overflow:
		return "Overflow"
	case SessionBusy:
		return "SessionBusy"
	case Unsupported:
		return "Unsupported"
	case WorkerMissing:
		return "WorkerMissing"
	case NotFound:
		return "NotFound"
	default:
		return "Code(" + strconv.FormatInt(int64(c), 10) + ")"
	}
}
