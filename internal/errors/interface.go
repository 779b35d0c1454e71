package errors

// ErrorCode names a failure class. Codes are stable strings that show up in
// status documents, events and log fields.
type ErrorCode string

func (c ErrorCode) String() string { return string(c) }

// Message returns the text registered for c, or c itself.
func (c ErrorCode) Message() string { return GetErrorMessage(c) }

// Coder is implemented by every error that carries an ErrorCode, including
// types outside this package.
type Coder interface {
	Code() ErrorCode
}

// Error is a coded error. It is immutable: WithMessage and WithData return
// copies, so one value can be handed to status readers on other goroutines.
type Error interface {
	error
	Coder
	WithMessage(msg string) Error
	WithData(data any) Error
	GetData() any
	Unwrap() error
}

// Factory builds coded errors. Callers take one with New at the call site.
type Factory interface {
	New(code ErrorCode) Error
	Wrap(code ErrorCode, err error) Error
	WithMessage(code ErrorCode, msg string) Error
	WithData(code ErrorCode, data any) Error
}
