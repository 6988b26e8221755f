// Package htypes holds the primitive wire types shared by every layer
// of the stack: Result, Handle, and HosVersion.
package htypes

import "fmt"

// Result is a 32-bit Horizon OS status value: module occupies bits
// [0,9), description occupies bits [9,22). A Result of 0 always means
// success.
type Result uint32

// NewResult packs a module and description into a Result, matching
// the layout Horizon services return.
func NewResult(module, description uint32) Result {
	return Result((module & 0x1ff) | ((description & 0x1fff) << 9))
}

// Module returns the 9-bit module field.
func (r Result) Module() uint32 {
	return uint32(r) & 0x1ff
}

// Description returns the 13-bit description field.
func (r Result) Description() uint32 {
	return (uint32(r) >> 9) & 0x1fff
}

// Failed reports whether the result is non-zero.
func (r Result) Failed() bool {
	return r != 0
}

// Succeeded reports whether the result is zero.
func (r Result) Succeeded() bool {
	return r == 0
}

// Error implements the error interface so a Result can be returned
// and compared directly as a Go error.
func (r Result) Error() string {
	return r.String()
}

// String renders the result in the conventional "2MMM-DDDD (0xVVV)"
// form.
func (r Result) String() string {
	return fmt.Sprintf("2%03d-%04d (0x%x)", r.Module(), r.Description(), uint32(r))
}

// Is supports errors.Is(err, SomeResult) comparisons against a known
// Result value.
func (r Result) Is(target error) bool {
	other, ok := target.(Result)
	return ok && r == other
}

// Well-known results referenced by the service-manager bootstrap and
// by callers checking specific failure conditions.
var (
	// ResultNotFound is returned by ConnectToNamedPort while the named
	// port has not been registered yet (kernel module 1, description 7).
	ResultNotFound = NewResult(1, 7)
)

// ResultAlreadyInitialized is returned by sm's Initialize command when
// the calling process has already completed the handshake.
const ResultAlreadyInitialized Result = 0x415

