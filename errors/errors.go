package errors

import (
	"fmt"
	"strings"
	"time"
)

// Phase indicates where in the bridge the error occurred
type Phase string

const (
	PhaseMount    Phase = "mount"    // controller mount/unmount
	PhaseLoad     Phase = "load"     // guest module loading
	PhaseABI      Phase = "abi"      // guest export validation
	PhaseInput    Phase = "input"    // pointer forwarding
	PhaseMapping  Phase = "mapping"  // coordinate mapping
	PhaseChannel  Phase = "channel"  // message channel
	PhaseRuntime  Phase = "runtime"  // guest calls after load
	PhaseTeardown Phase = "teardown" // dispose and surface close
	PhaseConfig   Phase = "config"   // configuration
)

// Kind categorizes the error
type Kind string

const (
	KindLoadFailure     Kind = "load_failure"
	KindNotReady        Kind = "not_ready"
	KindChannelReset    Kind = "channel_reset"
	KindTeardownTimeout Kind = "teardown_timeout"
	KindOutOfBounds     Kind = "mapping_out_of_bounds"
	KindAlreadyLoaded   Kind = "already_loaded"
	KindDisposed        Kind = "disposed"
	KindInvalidInput    Kind = "invalid_input"
	KindMissingExport   Kind = "missing_export"
	KindTypeMismatch    Kind = "type_mismatch"
	KindTrap            Kind = "trap"
	KindInvalidData     Kind = "invalid_data"
	KindUnsupported     Kind = "unsupported"
)

// Sentinels for errors.Is. A target with an empty Phase matches any phase.
var (
	ErrLoadFailure     = &Error{Kind: KindLoadFailure}
	ErrNotReady        = &Error{Kind: KindNotReady}
	ErrChannelReset    = &Error{Kind: KindChannelReset}
	ErrTeardownTimeout = &Error{Kind: KindTeardownTimeout}
	ErrOutOfBounds     = &Error{Kind: KindOutOfBounds}
	ErrAlreadyLoaded   = &Error{Kind: KindAlreadyLoaded}
	ErrDisposed        = &Error{Kind: KindDisposed}
	ErrMissingExport   = &Error{Kind: KindMissingExport}
	ErrTypeMismatch    = &Error{Kind: KindTypeMismatch}
	ErrTrap            = &Error{Kind: KindTrap}
	ErrUnsupported     = &Error{Kind: KindUnsupported}
)

// Error is the structured error type used throughout the bridge
type Error struct {
	Value   any
	Cause   error
	Phase   Phase
	Kind    Kind
	Surface string
	Export  string
	Detail  string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Surface != "" {
		b.WriteString(" surface ")
		b.WriteString(e.Surface)
	}

	if e.Export != "" {
		b.WriteString(" export ")
		b.WriteString(e.Export)
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Phase != "" && t.Phase != e.Phase {
		return false
	}
	return e.Kind == t.Kind
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Surface sets the surface identifier
func (b *Builder) Surface(id string) *Builder {
	b.err.Surface = id
	return b
}

// Export sets the guest export name
func (b *Builder) Export(name string) *Builder {
	b.err.Export = name
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// LoadFailure creates a module initialization failure
func LoadFailure(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindLoadFailure,
		Detail: detail,
		Cause:  cause,
	}
}

// NotReady creates an error for operations attempted before readiness
func NotReady(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotReady,
		Detail: fmt.Sprintf("%s not ready", what),
	}
}

// ChannelReset creates the error delivered to waiters invalidated by a reload
func ChannelReset(epoch uint64) *Error {
	return &Error{
		Phase:  PhaseChannel,
		Kind:   KindChannelReset,
		Detail: fmt.Sprintf("channel reset at epoch %d", epoch),
		Value:  epoch,
	}
}

// TeardownTimeout records a teardown that was force-released
func TeardownTimeout(surface, stage string, after time.Duration) *Error {
	return &Error{
		Phase:   PhaseTeardown,
		Kind:    KindTeardownTimeout,
		Surface: surface,
		Detail:  fmt.Sprintf("%s not confirmed after %s; resources force-released", stage, after),
		Value:   after,
	}
}

// OutOfBounds creates a mapping error for coordinates outside the surface
func OutOfBounds(x, y, width, height float64) *Error {
	return &Error{
		Phase:  PhaseMapping,
		Kind:   KindOutOfBounds,
		Detail: fmt.Sprintf("(%.2f, %.2f) outside %gx%g", x, y, width, height),
		Value:  [2]float64{x, y},
	}
}

// AlreadyLoaded creates an error for a load attempted while loading or ready
func AlreadyLoaded(state string) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindAlreadyLoaded,
		Detail: fmt.Sprintf("module is %s", state),
	}
}

// Disposed creates an error for use after dispose
func Disposed(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindDisposed,
		Detail: fmt.Sprintf("%s disposed", what),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// MissingExport creates an error for a required guest export that is absent
func MissingExport(name string) *Error {
	return &Error{
		Phase:  PhaseABI,
		Kind:   KindMissingExport,
		Export: name,
		Detail: "required by the guest ABI",
	}
}

// TypeMismatch creates an error for a guest export with the wrong signature
func TypeMismatch(name, want, got string) *Error {
	return &Error{
		Phase:  PhaseABI,
		Kind:   KindTypeMismatch,
		Export: name,
		Detail: fmt.Sprintf("want %s, got %s", want, got),
	}
}

// Trap wraps a failure raised while executing a guest export
func Trap(phase Phase, export string, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindTrap,
		Export: export,
		Cause:  cause,
	}
}

// InvalidData creates an invalid data error
func InvalidData(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Detail: detail,
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// KindOf returns the Kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return ""
		}
		err = u.Unwrap()
	}
	return ""
}
