package scriptipc

import (
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"
)

// ErrorKind classifies an [IpcError].
type ErrorKind int

const (
	KindTransport ErrorKind = iota + 1
	KindUnexpectedEOF
	KindIncompleteVlqSeq
	KindDecodeVlqOverflow
	KindReadVlq
	KindSerialize
	KindDeserialize
	KindSliceWrite
	KindReadUntil
	KindReadExact
	KindShortWrite
	KindBufReader
	KindPayloadTooLarge
)

var kindNames = map[ErrorKind]string{
	KindTransport:         "TransportError",
	KindUnexpectedEOF:     "UnexpectedEof",
	KindIncompleteVlqSeq:  "IncompleteVlqSeq",
	KindDecodeVlqOverflow: "DecodeVlqOverflow",
	KindReadVlq:           "ReadVlqError",
	KindSerialize:         "SerializeError",
	KindDeserialize:       "DeserializeError",
	KindSliceWrite:        "SliceWriteError",
	KindReadUntil:         "ReadUntilError",
	KindReadExact:         "ReadExactError",
	KindShortWrite:        "ShortWrite",
	KindBufReader:         "BufReaderError",
	KindPayloadTooLarge:   "PayloadTooLarge",
}

func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Sentinels for use with errors.Is. Any *IpcError of the same kind matches,
// whatever it wraps.
var (
	ErrTransport         = &IpcError{Kind: KindTransport}
	ErrUnexpectedEOF     = &IpcError{Kind: KindUnexpectedEOF}
	ErrIncompleteVlqSeq  = &IpcError{Kind: KindIncompleteVlqSeq}
	ErrDecodeVlqOverflow = &IpcError{Kind: KindDecodeVlqOverflow}
	ErrReadVlq           = &IpcError{Kind: KindReadVlq}
	ErrSerialize         = &IpcError{Kind: KindSerialize}
	ErrDeserialize       = &IpcError{Kind: KindDeserialize}
	ErrSliceWrite        = &IpcError{Kind: KindSliceWrite}
	ErrReadUntil         = &IpcError{Kind: KindReadUntil}
	ErrReadExact         = &IpcError{Kind: KindReadExact}
	ErrShortWrite        = &IpcError{Kind: KindShortWrite}
	ErrBufReader         = &IpcError{Kind: KindBufReader}
	ErrPayloadTooLarge   = &IpcError{Kind: KindPayloadTooLarge}
)

// IpcError is a transport, framing or codec failure. Protocol failures
// reported by the peer through the response error code are *ProtocolError.
type IpcError struct {
	Kind ErrorKind
	Err  error
}

func (e *IpcError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return e.Kind.String()
}

func (e *IpcError) Unwrap() error {
	return e.Err
}

// Is supports errors.Is by matching any *IpcError with the same kind.
func (e *IpcError) Is(target error) bool {
	t, ok := target.(*IpcError)
	return ok && t.Kind == e.Kind
}

func newError(kind ErrorKind, err error) *IpcError {
	return &IpcError{Kind: kind, Err: err}
}

// wrapIO tags a host error as a transport error unless it already carries a
// kind.
func wrapIO(err error) error {
	if err == nil {
		return nil
	}
	var ipcErr *IpcError
	if errors.As(err, &ipcErr) {
		return err
	}
	return newError(KindTransport, err)
}

// ErrorCode is the fixed-width error field of a response packet.
type ErrorCode uint64

const (
	// CodeOK marks a response whose payload is the serialized success value.
	CodeOK ErrorCode = 0
	// CodeDeserializeError means the server could not decode the request.
	CodeDeserializeError ErrorCode = 1
	// CodeOtherEndClosed means the peer went away before answering.
	CodeOtherEndClosed ErrorCode = 2
	// CodeHandlerError means the handler failed with a plain Go error.
	CodeHandlerError ErrorCode = 3
)

func (c ErrorCode) String() string {
	switch c {
	case CodeOK:
		return "OK"
	case CodeDeserializeError:
		return "DeserializeError"
	case CodeOtherEndClosed:
		return "OtherEndClosed"
	case CodeHandlerError:
		return "HandlerError"
	default:
		return fmt.Sprintf("ErrorCode(%d)", uint64(c))
	}
}

// ErrProtocol matches any *ProtocolError with errors.Is.
var ErrProtocol = &ProtocolError{}

// ProtocolError is a failure carried by a non-zero response error code.
// Handlers return it to choose the code; clients receive it instead of a
// decoded response.
type ProtocolError struct {
	Code    ErrorCode
	Message string
}

func (e *ProtocolError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("protocol error %d (%s)", uint64(e.Code), e.Code)
	}
	return fmt.Sprintf("protocol error %d (%s): %s", uint64(e.Code), e.Code, e.Message)
}

// Is matches ErrProtocol, or another *ProtocolError with the same code.
func (e *ProtocolError) Is(target error) bool {
	t, ok := target.(*ProtocolError)
	if !ok {
		return false
	}
	return t.Code == CodeOK || t.Code == e.Code
}

// isTransportClosed reports whether err means the other end closed the pipe.
func isTransportClosed(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, os.ErrClosed) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET)
}
