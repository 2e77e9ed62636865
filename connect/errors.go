package connect

import "fmt"

// ConnectError is a fatal task error. The runtime stops the task when one is
// returned from Start, Poll or Stop.
type ConnectError struct {
	Msg string
	Err error
}

func NewConnectError(msg string, err error) *ConnectError {
	return &ConnectError{Msg: msg, Err: err}
}

func (e *ConnectError) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	return fmt.Sprintf("%s: %v", e.Msg, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// DataError reports a value that cannot be converted to or from its schema.
type DataError struct {
	Msg string
	Err error
}

func NewDataError(msg string, err error) *DataError {
	return &DataError{Msg: msg, Err: err}
}

func (e *DataError) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	return fmt.Sprintf("%s: %v", e.Msg, e.Err)
}

func (e *DataError) Unwrap() error { return e.Err }
