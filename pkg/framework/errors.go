package framework

import "strings"

// AggregatedError collects errors from multiple runners.
type AggregatedError []error

// Error implements error.
func (e AggregatedError) Error() string {
	switch len(e) {
	case 0:
		return ""
	case 1:
		return e[0].Error()
	}
	msg := make([]string, len(e)+1)
	msg[0] = "multiple errors:"
	for n, err := range e {
		msg[n+1] = err.Error()
	}
	return strings.Join(msg, "\n")
}

// Add appends errors, skipping nils.
func (e *AggregatedError) Add(errs ...error) *AggregatedError {
	for _, err := range errs {
		if err != nil {
			*e = append(*e, err)
		}
	}
	return e
}

// Aggregate returns the collected error, or nil if none happened.
func (e AggregatedError) Aggregate() error {
	if len(e) == 0 {
		return nil
	}
	return e
}
