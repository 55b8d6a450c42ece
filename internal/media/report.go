package media

import "time"

// Metadata holds properties measured while decoding a candidate.
type Metadata struct {
	DetectedMIME string        `json:"detected_mime,omitempty"`
	SizeBytes    int64         `json:"size_bytes"`
	Width        int           `json:"width,omitempty"`
	Height       int           `json:"height,omitempty"`
	Duration     time.Duration `json:"duration,omitempty"`
}

// Report is the outcome of evaluating one candidate.
type Report struct {
	Accepted bool     `json:"accepted"`
	Errors   []*Error `json:"errors"`
	Warnings []*Error `json:"warnings"`
	Metadata Metadata `json:"metadata"`
}

// FirstError returns the error that determines the response code, nil when
// the report is accepted.
func (r Report) FirstError() *Error {
	if len(r.Errors) == 0 {
		return nil
	}
	return r.Errors[0]
}

// HasKind reports whether any error has the given kind.
func (r Report) HasKind(kind ErrorKind) bool {
	for _, e := range r.Errors {
		if e.Kind == kind {
			return true
		}
	}
	return false
}

// Diagnostics accumulates issues across pipeline steps. It is owned by a
// single request and not safe for concurrent use.
type Diagnostics struct {
	errors   []*Error
	warnings []*Error
	metadata Metadata
}

// AddError records a blocking issue.
func (d *Diagnostics) AddError(e *Error) {
	if e != nil {
		d.errors = append(d.errors, e)
	}
}

// AddWarning records a non-blocking issue.
func (d *Diagnostics) AddWarning(e *Error) {
	if e != nil {
		d.warnings = append(d.warnings, e)
	}
}

// HasErrors reports whether any blocking issue was recorded.
func (d *Diagnostics) HasErrors() bool {
	return len(d.errors) > 0
}

// Metadata exposes measured metadata for steps to fill in.
func (d *Diagnostics) Metadata() *Metadata {
	return &d.metadata
}

// Report freezes the accumulated state into an immutable Report.
func (d *Diagnostics) Report() Report {
	errs := make([]*Error, len(d.errors))
	copy(errs, d.errors)
	warns := make([]*Error, len(d.warnings))
	copy(warns, d.warnings)
	return Report{
		Accepted: len(errs) == 0,
		Errors:   errs,
		Warnings: warns,
		Metadata: d.metadata,
	}
}
