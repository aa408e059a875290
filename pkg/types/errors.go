package types

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode represents an XQuery error code.
type ErrorCode string

// Error codes based on the W3C XQuery/XPath error catalog and the eXist-db
// extensions used by the evaluation core.
const (
	// XPST/XQST: static errors
	ErrGrammar               ErrorCode = "XPST0003"
	ErrUndeclaredName        ErrorCode = "XPST0008"
	ErrStaticEmpty           ErrorCode = "XPST0005"
	ErrUnsupportedAxis       ErrorCode = "XPST0010"
	ErrUnknownFunction       ErrorCode = "XPST0017"
	ErrUnknownAtomicType     ErrorCode = "XPST0051"
	ErrCastTargetAbstract    ErrorCode = "XPST0080"
	ErrUnboundPrefix         ErrorCode = "XPST0081"
	ErrDuplicateFunction     ErrorCode = "XQST0034"
	ErrDuplicateParam        ErrorCode = "XQST0039"
	ErrVariableCircularity   ErrorCode = "XQST0054"
	ErrUnknownCollationDecl  ErrorCode = "XQST0076"
	ErrPositionalVarName     ErrorCode = "XQST0089"
	ErrGroupingVarNotInScope ErrorCode = "XQST0094"

	// XPTY/XQTY: type errors
	ErrType                  ErrorCode = "XPTY0004"
	ErrMixedPathResult       ErrorCode = "XPTY0018"
	ErrPathStepNotNode       ErrorCode = "XPTY0019"
	ErrContextItemNotNode    ErrorCode = "XPTY0020"
	ErrAttributeAfterContent ErrorCode = "XQTY0024"
	ErrFunctionInContent     ErrorCode = "XQTY0105"

	// XPDY/XQDY: dynamic errors
	ErrContextAbsent   ErrorCode = "XPDY0002"
	ErrTreatMismatch   ErrorCode = "XPDY0050"
	ErrDuplicateAttr   ErrorCode = "XQDY0025"
	ErrInvalidComment  ErrorCode = "XQDY0072"
	ErrInvalidNodeName ErrorCode = "XQDY0074"

	// FO*: function and operator errors
	ErrUnidentified         ErrorCode = "FOER0000"
	ErrDivisionByZero       ErrorCode = "FOAR0001"
	ErrNumericOverflow      ErrorCode = "FOAR0002"
	ErrDecimalTooLarge      ErrorCode = "FOCA0001"
	ErrInvalidLexical       ErrorCode = "FOCA0002"
	ErrIntegerTooLarge      ErrorCode = "FOCA0003"
	ErrNaNToDecimal         ErrorCode = "FOCA0005"
	ErrUnsupportedCollation ErrorCode = "FOCH0002"
	ErrNoContextDocument    ErrorCode = "FODC0001"
	ErrRetrieveResource     ErrorCode = "FODC0002"
	ErrInvalidCastValue     ErrorCode = "FORG0001"
	ErrZeroOrOne            ErrorCode = "FORG0003"
	ErrOneOrMore            ErrorCode = "FORG0004"
	ErrExactlyOne           ErrorCode = "FORG0005"
	ErrInvalidArgumentType  ErrorCode = "FORG0006"
	ErrAtomizeFunction      ErrorCode = "FOTY0013"
	ErrFunctionStringValue  ErrorCode = "FOTY0014"

	// eXist-db specific
	ErrLock             ErrorCode = "EXXQDY0100"
	ErrPermissionDenied ErrorCode = "EXXQDY0101"
	ErrTerminated       ErrorCode = "EXXQDY0102"
	ErrCallDepth        ErrorCode = "EXXQDY0103"
	ErrInternal         ErrorCode = "ERROR"
)

// ErrorKind classifies an Error into the categories of the error taxonomy.
type ErrorKind int

const (
	// KindDynamic is raised during evaluation.
	KindDynamic ErrorKind = iota
	// KindStatic is raised during static analysis.
	KindStatic
	// KindPermission is raised by the security collaborator.
	KindPermission
	// KindTerminated is raised by the watchdog. It is never recoverable.
	KindTerminated
)

func (k ErrorKind) String() string {
	switch k {
	case KindStatic:
		return "static"
	case KindPermission:
		return "permission"
	case KindTerminated:
		return "terminated"
	default:
		return "dynamic"
	}
}

// TerminationReason distinguishes the ways a query can be terminated.
type TerminationReason int

const (
	NotTerminated TerminationReason = iota
	TerminatedTimeout
	TerminatedOutputSize
	TerminatedKilled
)

func (r TerminationReason) String() string {
	switch r {
	case TerminatedTimeout:
		return "timeout"
	case TerminatedOutputSize:
		return "output-size-limit"
	case TerminatedKilled:
		return "killed"
	default:
		return "none"
	}
}

// Error represents a structured XQuery error.
type Error struct {
	Code     ErrorCode
	Kind     ErrorKind
	Reason   TerminationReason
	Message  string
	Value    string // rendered offending value, optional
	Location Location
	Err      error

	// Name overrides the QName derived from Code, as raised by fn:error.
	Name QName
	// Object is the error object passed to fn:error, if any.
	Object any
}

// NewError creates a new dynamic XQuery error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Kind:    KindDynamic,
		Message: message,
	}
}

// Errorf creates a new dynamic XQuery error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return NewError(code, fmt.Sprintf(format, args...))
}

// NewStaticError creates an error detected during static analysis.
func NewStaticError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Kind:    KindStatic,
		Message: message,
	}
}

// NewTerminated creates a terminated error for the given reason.
func NewTerminated(reason TerminationReason, message string) *Error {
	return &Error{
		Code:    ErrTerminated,
		Kind:    KindTerminated,
		Reason:  reason,
		Message: message,
	}
}

// PermissionDenied creates the error surfaced when the security collaborator
// rejects a call.
func PermissionDenied(message string) *Error {
	return &Error{
		Code:    ErrPermissionDenied,
		Kind:    KindPermission,
		Message: message,
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	if e.Location.IsSet() {
		fmt.Fprintf(&b, " [at line %d, column %d]", e.Location.Line, e.Location.Column)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Value != "" {
		b.WriteString(" Got: ")
		b.WriteString(e.Value)
	}
	return b.String()
}

// QName returns the error code as a name in the error namespace.
func (e *Error) QName() QName {
	if !e.Name.IsZero() {
		return e.Name
	}
	if strings.HasPrefix(string(e.Code), "EX") {
		return QName{Space: ExistErrorNS, Local: string(e.Code), Prefix: "exerr"}
	}
	return QName{Space: ErrorNS, Local: string(e.Code), Prefix: "err"}
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithValue attaches a rendering of the offending value.
func (e *Error) WithValue(v string) *Error {
	e.Value = v
	return e
}

// WithCause wraps another error.
func (e *Error) WithCause(err error) *Error {
	e.Err = err
	return e
}

// At sets the location if it is not already set.
func (e *Error) At(loc Location) *Error {
	if !e.Location.IsSet() {
		e.Location = loc
	}
	return e
}

// IsRecoverable reports whether query-level error handling (try/catch) may
// intercept the error.
func (e *Error) IsRecoverable() bool {
	return e.Kind != KindTerminated
}

// Locate back-fills the location of err if it has none yet. Errors that are
// not *Error are wrapped into FOER0000 so that every error leaving an
// expression carries a code and a location.
func Locate(err error, loc Location) error {
	if err == nil {
		return nil
	}
	var xe *Error
	if errors.As(err, &xe) {
		xe.At(loc)
		return err
	}
	return NewError(ErrUnidentified, err.Error()).WithCause(err).At(loc)
}

// AsError extracts the *Error from err.
func AsError(err error) (*Error, bool) {
	var xe *Error
	if errors.As(err, &xe) {
		return xe, true
	}
	return nil, false
}

// IsTerminated reports whether err was raised by the watchdog.
func IsTerminated(err error) bool {
	xe, ok := AsError(err)
	return ok && xe.Kind == KindTerminated
}

// HasCode reports whether err is an *Error with the given code.
func HasCode(err error, code ErrorCode) bool {
	xe, ok := AsError(err)
	return ok && xe.Code == code
}
