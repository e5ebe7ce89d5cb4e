// Package vmerr defines the error taxonomy of the Ember VM.
//
// Every failure the machine itself produces is a *VMError carrying a status
// code. Codes fall into three classes:
//
//   - verification/linkage (1000s): module resolution and linking failures,
//     produced while setting up an execution;
//   - invariant violations (2000s): conditions verified bytecode can never
//     reach; their appearance means a broken verifier, loader, or native,
//     and callers should quarantine the module;
//   - execution errors (4000s): outcomes a correct machine produces for some
//     programs, such as aborts, gas exhaustion, limit hits, and storage
//     misses. These are deterministic given the same inputs.
//
// Errors from the embedder's data store are not VMErrors and propagate
// unchanged.
package vmerr

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fortiblox/ember/internal/types"
)

// StatusType classifies a status code.
type StatusType uint8

const (
	// StatusTypeUnknown is the class of codes outside the defined bands.
	StatusTypeUnknown StatusType = iota

	// StatusTypeVerification covers linkage and resolution failures raised
	// while preparing an execution.
	StatusTypeVerification

	// StatusTypeInvariantViolation covers states verified code cannot reach.
	StatusTypeInvariantViolation

	// StatusTypeExecution covers deterministic runtime outcomes.
	StatusTypeExecution
)

// String returns the class name.
func (t StatusType) String() string {
	switch t {
	case StatusTypeVerification:
		return "verification"
	case StatusTypeInvariantViolation:
		return "invariant_violation"
	case StatusTypeExecution:
		return "execution"
	default:
		return "unknown"
	}
}

// StatusCode identifies a VM failure condition.
type StatusCode uint16

// Verification and linkage failures (1000s).
const (
	StatusLinkerError               StatusCode = 1000
	StatusFunctionResolutionFailure StatusCode = 1001
	StatusTypeResolutionFailure     StatusCode = 1002
)

// Invariant violations (2000s).
const (
	StatusUnknownInvariantViolation StatusCode = 2000
	StatusEmptyOperandStack         StatusCode = 2001
	StatusVerificationError         StatusCode = 2002
	StatusTypeMismatch              StatusCode = 2003
	StatusUnresolvedTypeParameter   StatusCode = 2004
	StatusMalformedConstant         StatusCode = 2005
	StatusMissingNative             StatusCode = 2006
	StatusInvalidLocal              StatusCode = 2007
	StatusValueSerialization        StatusCode = 2008
	StatusValueDeserialization      StatusCode = 2009
)

// Execution errors (4000s).
const (
	StatusOutOfGas              StatusCode = 4001
	StatusAborted               StatusCode = 4002
	StatusArithmeticError       StatusCode = 4003
	StatusVectorError           StatusCode = 4004
	StatusMissingData           StatusCode = 4005
	StatusResourceAlreadyExists StatusCode = 4006
	StatusOperandStackOverflow  StatusCode = 4007
	StatusCallStackOverflow     StatusCode = 4008
	StatusDepthLimitExceeded    StatusCode = 4009
	StatusPCOverflow            StatusCode = 4010
	StatusVariantTagMismatch    StatusCode = 4011
)

// Sub-statuses attached to StatusVectorError.
const (
	VecErrIndexOutOfBounds uint64 = 1
	VecErrPopEmpty         uint64 = 2
	VecErrUnpackMismatch   uint64 = 3
	VecErrLenLimit         uint64 = 4
)

// Type returns the class of the code.
func (c StatusCode) Type() StatusType {
	switch {
	case c >= 1000 && c < 2000:
		return StatusTypeVerification
	case c >= 2000 && c < 3000:
		return StatusTypeInvariantViolation
	case c >= 4000 && c < 5000:
		return StatusTypeExecution
	default:
		return StatusTypeUnknown
	}
}

// String returns the code's name.
func (c StatusCode) String() string {
	switch c {
	case StatusLinkerError:
		return "LINKER_ERROR"
	case StatusFunctionResolutionFailure:
		return "FUNCTION_RESOLUTION_FAILURE"
	case StatusTypeResolutionFailure:
		return "TYPE_RESOLUTION_FAILURE"
	case StatusUnknownInvariantViolation:
		return "UNKNOWN_INVARIANT_VIOLATION"
	case StatusEmptyOperandStack:
		return "EMPTY_OPERAND_STACK"
	case StatusVerificationError:
		return "VERIFICATION_ERROR"
	case StatusTypeMismatch:
		return "TYPE_MISMATCH"
	case StatusUnresolvedTypeParameter:
		return "UNRESOLVED_TYPE_PARAMETER"
	case StatusMalformedConstant:
		return "MALFORMED_CONSTANT"
	case StatusMissingNative:
		return "MISSING_NATIVE"
	case StatusInvalidLocal:
		return "INVALID_LOCAL"
	case StatusValueSerialization:
		return "VALUE_SERIALIZATION_ERROR"
	case StatusValueDeserialization:
		return "VALUE_DESERIALIZATION_ERROR"
	case StatusOutOfGas:
		return "OUT_OF_GAS"
	case StatusAborted:
		return "ABORTED"
	case StatusArithmeticError:
		return "ARITHMETIC_ERROR"
	case StatusVectorError:
		return "VECTOR_ERROR"
	case StatusMissingData:
		return "MISSING_DATA"
	case StatusResourceAlreadyExists:
		return "RESOURCE_ALREADY_EXISTS"
	case StatusOperandStackOverflow:
		return "OPERAND_STACK_OVERFLOW"
	case StatusCallStackOverflow:
		return "CALL_STACK_OVERFLOW"
	case StatusDepthLimitExceeded:
		return "DEPTH_LIMIT_EXCEEDED"
	case StatusPCOverflow:
		return "PC_OVERFLOW"
	case StatusVariantTagMismatch:
		return "VARIANT_TAG_MISMATCH"
	default:
		return fmt.Sprintf("STATUS_%d", uint16(c))
	}
}

// VMError is a machine failure: a status code, an optional sub-status (the
// abort code for StatusAborted), an optional message, and the location where
// the error surfaced. Location is set once; enrichment closer to the fault
// wins.
type VMError struct {
	code      StatusCode
	subStatus uint64
	hasSub    bool
	msg       string

	function string
	offset   uint16
	module   types.ModuleID
	located  bool
	inModule bool
}

// New creates a VMError with the given code.
func New(code StatusCode) *VMError {
	return &VMError{code: code}
}

// Newf creates a VMError with a formatted message.
func Newf(code StatusCode, format string, args ...any) *VMError {
	return &VMError{code: code, msg: fmt.Sprintf(format, args...)}
}

// WithMessage sets the message, replacing any previous one.
func (e *VMError) WithMessage(format string, args ...any) *VMError {
	e.msg = fmt.Sprintf(format, args...)
	return e
}

// WithSubStatus attaches a sub-status (abort code, vector sub-error).
func (e *VMError) WithSubStatus(sub uint64) *VMError {
	e.subStatus = sub
	e.hasSub = true
	return e
}

// At records the function and code offset where the error surfaced.
// The first recorded location is kept.
func (e *VMError) At(function string, offset uint16) *VMError {
	if e.located {
		return e
	}
	e.function = function
	e.offset = offset
	e.located = true
	return e
}

// InModule records the module the failing function belongs to.
// The first recorded module is kept.
func (e *VMError) InModule(id types.ModuleID) *VMError {
	if e.inModule {
		return e
	}
	e.module = id
	e.inModule = true
	return e
}

// Code returns the status code.
func (e *VMError) Code() StatusCode {
	return e.code
}

// StatusType returns the code's class.
func (e *VMError) StatusType() StatusType {
	return e.code.Type()
}

// SubStatus returns the sub-status if one was attached.
func (e *VMError) SubStatus() (uint64, bool) {
	return e.subStatus, e.hasSub
}

// Message returns the free-form message, which may be empty.
func (e *VMError) Message() string {
	return e.msg
}

// Located reports whether a code location was recorded.
func (e *VMError) Located() bool {
	return e.located
}

// Location returns the recorded function name and code offset.
func (e *VMError) Location() (string, uint16) {
	return e.function, e.offset
}

// Module returns the recorded module id.
func (e *VMError) Module() (types.ModuleID, bool) {
	return e.module, e.inModule
}

// Error implements the error interface.
func (e *VMError) Error() string {
	var b strings.Builder
	b.WriteString(e.code.String())
	if e.hasSub {
		fmt.Fprintf(&b, " sub-status %d", e.subStatus)
	}
	if e.msg != "" {
		b.WriteString(": ")
		b.WriteString(e.msg)
	}
	if e.located {
		fmt.Fprintf(&b, " (at %s pc %d", e.function, e.offset)
		if e.inModule {
			fmt.Fprintf(&b, " in %s", e.module.ShortString())
		}
		b.WriteString(")")
	}
	return b.String()
}

// Code extracts the status code from an error chain.
// The second return is false for non-VM errors (data store failures and
// other embedder errors).
func Code(err error) (StatusCode, bool) {
	var e *VMError
	if !errors.As(err, &e) {
		return 0, false
	}
	return e.code, true
}

// IsInvariantViolation reports whether err is a VM invariant violation.
func IsInvariantViolation(err error) bool {
	c, ok := Code(err)
	return ok && c.Type() == StatusTypeInvariantViolation
}

// AbortCode returns the user abort code when err is a program abort.
func AbortCode(err error) (uint64, bool) {
	var e *VMError
	if !errors.As(err, &e) || e.code != StatusAborted || !e.hasSub {
		return 0, false
	}
	return e.subStatus, true
}
