package ptpip

import (
	"errors"
	"fmt"
)

// Domain errors for the PTP/IP client.
var (
	// ErrNotConnected is returned when an operation is attempted without a link
	// and reconnection is not yet due.
	ErrNotConnected = errors.New("ptpip: not connected")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("ptpip: client closed")

	// ErrInitRejected is returned when the responder answers InitFail.
	ErrInitRejected = errors.New("ptpip: init rejected")

	// ErrProtocol is returned for malformed or unexpected packets.
	ErrProtocol = errors.New("ptpip: protocol error")

	// ErrUnsupportedType is returned when a value uses a PTP datatype the
	// codec cannot represent.
	ErrUnsupportedType = errors.New("ptpip: unsupported datatype")
)

// ResponseError is a non-OK PTP response code.
type ResponseError struct {
	Op   OpCode
	Code ResponseCode
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("ptpip: %s returned %s", e.Op, e.Code)
}

// IsResponse reports whether err is a ResponseError with the given code.
func IsResponse(err error, code ResponseCode) bool {
	var re *ResponseError
	return errors.As(err, &re) && re.Code == code
}
