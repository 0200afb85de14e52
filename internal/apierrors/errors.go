// Package apierrors defines the stable error taxonomy shared by the HTTP
// pipeline and the MFP/MDP multiplex stack.
package apierrors

import "fmt"

// Kind is one of the stable, numbered error codes from the wire contract.
// Values are part of the external contract and must not be renumbered.
type Kind uint8

const (
	Unknown Kind = iota
	Logic
	Configure
	MethodAccess
	Protocol
	Status
	MissingRecipient
	DataType
	Pack
	Unpack
	FrameEncode
	FrameDecode
	Connection
	Send
	Receive
	Interrupt
	Abort
	Timeout
)

var kindNames = [...]string{
	"UnknownError", "LogicError", "ConfigureError", "MethodAccessError",
	"ProtocolError", "StatusError", "MissingRecipientError", "DataTypeError",
	"PackError", "UnpackError", "FrameEncodeError", "FrameDecodeError",
	"ConnectionError", "SendError", "ReceiveError", "InterruptError",
	"AbortError", "TimeoutError",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "UnknownError"
}

// subsumedBy records the taxonomy's "subsumes" edges from §6: a FrameEncode
// error also answers Is(Pack), a Send error also answers Is(Connection), etc.
var subsumedBy = map[Kind]Kind{
	FrameEncode: Pack,
	FrameDecode: Unpack,
	Send:        Connection,
	Receive:     Connection,
	Abort:       Interrupt,
	Timeout:     Interrupt,
}

// Error is the concrete error type carried through both substrates.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is supports errors.Is against both the exact kind and any kind that
// subsumes it transitively (e.g. a FrameDecodeError also matches UnpackError).
func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	if te.Message != "" {
		return false
	}
	k := e.Kind
	for {
		if k == te.Kind {
			return true
		}
		parent, ok := subsumedBy[k]
		if !ok {
			return false
		}
		k = parent
	}
}

// New builds a bare sentinel of the given kind, used as an errors.Is target:
// errors.Is(err, apierrors.New(apierrors.Timeout))
func New(kind Kind) *Error {
	return &Error{Kind: kind}
}

// Wrap builds a concrete error carrying a message and an optional cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Wrapf formats the message like fmt.Errorf.
func Wrapf(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}
