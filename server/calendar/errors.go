package calendar

import (
	"errors"
	"fmt"
)

// ErrUnprocessable is returned when a calendar body parses but carries no
// event or task component.
var ErrUnprocessable = errors.New("calendar contains no VEVENT or VTODO component")

// ParseError reports malformed calendar data. Component names the component
// in which the problem was found, when known.
type ParseError struct {
	Component string
	Line      int
	Message   string
	Err       error
}

func (e *ParseError) Error() string {
	msg := e.Message
	if e.Component != "" {
		msg = fmt.Sprintf("%s: %s", e.Component, msg)
	}
	if e.Line > 0 {
		msg = fmt.Sprintf("line %d: %s", e.Line, msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("ical: %s: %v", msg, e.Err)
	}
	return "ical: " + msg
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func parseErr(component, format string, args ...any) *ParseError {
	return &ParseError{Component: component, Message: fmt.Sprintf(format, args...)}
}
