// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"errors"
	"strings"
)

type (
	// ActionableError is a failure shown to the user together with what kiln
	// was doing, which artifact it concerned and what to try next.
	//
	//	return issue.For("fetch", "zlib").
	//		Hint("check that a mirror in 'mirrors' is reachable").
	//		WithIssue(issue.FetchFailedID).
	//		Wrap(err)
	ActionableError struct {
		// Operation is the command-level step: "resolve", "install",
		// "uninstall", "load config".
		Operation string
		// Subject is the artifact name, config path or feature involved.
		Subject string
		Hints   []string
		Cause   error
		// Issue optionally points at a long-form catalog entry.
		Issue Id
	}

	// ErrorContext collects the parts of an ActionableError until the
	// cause is known.
	ErrorContext struct {
		err ActionableError
	}
)

// For starts an ErrorContext for operation on subject.
func For(operation, subject string) *ErrorContext {
	return &ErrorContext{err: ActionableError{Operation: operation, Subject: subject}}
}

// Hint appends one suggestion.
func (c *ErrorContext) Hint(hint string) *ErrorContext {
	c.err.Hints = append(c.err.Hints, hint)
	return c
}

// WithIssue links the error to a catalog entry.
func (c *ErrorContext) WithIssue(id Id) *ErrorContext {
	c.err.Issue = id
	return c
}

// Wrap finishes the error around cause. A nil cause gives a nil error.
func (c *ErrorContext) Wrap(cause error) error {
	if cause == nil {
		return nil
	}
	ae := c.err
	ae.Hints = append([]string(nil), c.err.Hints...)
	ae.Cause = cause
	return &ae
}

// Error renders "<operation> <subject>: <cause>", the same shape as the
// pipeline's own errors.
func (e *ActionableError) Error() string {
	var msg strings.Builder
	msg.WriteString(e.Operation)
	if e.Subject != "" {
		msg.WriteString(" ")
		msg.WriteString(e.Subject)
	}
	if e.Cause != nil {
		msg.WriteString(": ")
		msg.WriteString(e.Cause.Error())
	}
	return msg.String()
}

func (e *ActionableError) Unwrap() error { return e.Cause }

// Format renders Error() followed by one "hint:" line per suggestion. With
// verbose set, every wrapped cause below the first is listed too.
func (e *ActionableError) Format(verbose bool) string {
	var msg strings.Builder
	msg.WriteString(e.Error())
	for _, h := range e.Hints {
		msg.WriteString("\n  hint: ")
		msg.WriteString(h)
	}
	if verbose && e.Cause != nil {
		for err := errors.Unwrap(e.Cause); err != nil; err = errors.Unwrap(err) {
			msg.WriteString("\n  caused by: ")
			msg.WriteString(err.Error())
		}
	}
	return msg.String()
}
