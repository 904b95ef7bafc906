package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in the pipeline the error occurred
type Phase string

const (
	PhaseParse     Phase = "parse"     // module, linking and relocation decoding
	PhaseTranslate Phase = "translate" // original to bindgened symbol mapping
	PhaseDiscover  Phase = "discover"  // split point discovery
	PhaseAnalyze   Phase = "analyze"   // reachability
	PhasePartition Phase = "partition" // chunk partitioning
	PhaseEmit      Phase = "emit"      // module rewriting
	PhaseValidate  Phase = "validate"  // checks on emitted modules
	PhaseConfig    Phase = "config"    // configuration
	PhaseGlue      Phase = "glue"      // loader generation
)

// Kind categorizes the error
type Kind string

const (
	KindInvalidData       Kind = "invalid_data"
	KindMissingSymbol     Kind = "missing_symbol"
	KindMissingExport     Kind = "missing_export"
	KindSignatureMismatch Kind = "signature_mismatch"
	KindNamesStripped     Kind = "names_stripped"
	KindUnsupported       Kind = "unsupported"
	KindValidation        Kind = "validation"
	KindConsumed          Kind = "consumed"
	KindInvalidInput      Kind = "invalid_input"
	KindNotFound          Kind = "not_found"
	KindCanceled          Kind = "canceled"
)

// Error is the structured error type returned by the splitter
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Target string // emission target, e.g. "main", "split 2", "chunk 0"
	Symbol string
	Detail string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Target != "" {
		b.WriteString(" in ")
		b.WriteString(e.Target)
	}

	if e.Symbol != "" {
		b.WriteString(": symbol ")
		b.WriteString(Demangle(e.Symbol))
	}

	if e.Detail != "" {
		if e.Symbol != "" {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
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
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
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

// Target sets the emission target
func (b *Builder) Target(t string) *Builder {
	b.err.Target = t
	return b
}

// Symbol sets the symbol or export name involved
func (b *Builder) Symbol(s string) *Builder {
	b.err.Symbol = s
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

// InvalidData creates an invalid data error
func InvalidData(phase Phase, detail string, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Detail: detail,
		Cause:  cause,
	}
}

// ParseFailed creates a parsing error for the named input
func ParseFailed(what string, cause error) *Error {
	return &Error{
		Phase:  PhaseParse,
		Kind:   KindInvalidData,
		Detail: fmt.Sprintf("parse %s", what),
		Cause:  cause,
	}
}

// MissingSymbol creates an error for a relocation naming a symbol index
// outside the symbol table
func MissingSymbol(index, count uint32) *Error {
	return &Error{
		Phase:  PhaseParse,
		Kind:   KindMissingSymbol,
		Detail: fmt.Sprintf("symbol index %d out of range (table has %d)", index, count),
		Value:  index,
	}
}

// MissingExport creates an error for a split import without its export
func MissingExport(importName, exportName string) *Error {
	return &Error{
		Phase:  PhaseDiscover,
		Kind:   KindMissingExport,
		Symbol: importName,
		Detail: fmt.Sprintf("no export named %q", exportName),
	}
}

// SignatureMismatch creates an error for a split import whose type differs
// from its export
func SignatureMismatch(importName, importType, exportType string) *Error {
	return &Error{
		Phase:  PhaseDiscover,
		Kind:   KindSignatureMismatch,
		Symbol: importName,
		Detail: fmt.Sprintf("import has type %s, export has type %s", importType, exportType),
	}
}

// NamesStripped creates an error for a bindgened module without function names
func NamesStripped() *Error {
	return &Error{
		Phase:  PhaseTranslate,
		Kind:   KindNamesStripped,
		Detail: "module has no function names; build with debug names or keep the name section",
	}
}

// Unsupported creates an unsupported construct error
func Unsupported(phase Phase, target, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Target: target,
		Detail: what,
	}
}

// Validation creates an error for an emitted module that failed checks
func Validation(target string, cause error) *Error {
	return &Error{
		Phase:  PhaseValidate,
		Kind:   KindValidation,
		Target: target,
		Detail: "emitted module is invalid",
		Cause:  cause,
	}
}

// Consumed creates an error for an emitter finished twice
func Consumed(target string) *Error {
	return &Error{
		Phase:  PhaseEmit,
		Kind:   KindConsumed,
		Target: target,
		Detail: "emitter already finished",
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

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// Canceled wraps a context error
func Canceled(phase Phase, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindCanceled,
		Detail: "operation canceled",
		Cause:  cause,
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

// Demangle extracts a readable path from a legacy Rust mangled symbol.
// Other names are returned unchanged.
func Demangle(name string) string {
	// Rust mangled names start with _ZN
	if !strings.HasPrefix(name, "_ZN") {
		return name
	}

	// Format: _ZN<len><name><len><name>...E
	s := name[3:]
	var parts []string

	for len(s) > 0 && s[0] != 'E' {
		lenEnd := 0
		for lenEnd < len(s) && s[lenEnd] >= '0' && s[lenEnd] <= '9' {
			lenEnd++
		}
		if lenEnd == 0 {
			break
		}

		length := 0
		for i := 0; i < lenEnd; i++ {
			length = length*10 + int(s[i]-'0')
		}
		s = s[lenEnd:]

		if length > len(s) {
			break
		}

		part := s[:length]
		s = s[length:]

		// 17 char hash suffix: 'h' followed by 16 hex digits
		if isHashSegment(part) {
			continue
		}
		parts = append(parts, part)
	}

	if len(parts) == 0 {
		return name
	}

	return strings.Join(parts, "::")
}

func isHashSegment(part string) bool {
	if len(part) != 17 || part[0] != 'h' {
		return false
	}
	for i := 1; i < 17; i++ {
		c := part[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
