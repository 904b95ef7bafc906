// Package errors provides the structured error type returned by the splitter.
//
// Errors are categorized by Phase (where in the pipeline the error
// occurred) and Kind (error category), and carry the emission target and
// symbol involved when there is one.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseEmit, errors.KindUnsupported).
//		Target("split 1").
//		Symbol("CONFIG").
//		Detail("data segment offset is not constant").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.MissingExport(importName, exportName)
//	err := errors.Validation("main", cause)
//
// Matching with the standard library compares phase and kind:
//
//	if stderrors.Is(err, &errors.Error{Phase: errors.PhaseDiscover, Kind: errors.KindMissingExport}) {
//	    ...
//	}
package errors
