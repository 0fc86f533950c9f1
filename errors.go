package slave

import (
	"errors"
	"fmt"
)

// Transport and protocol errors. Transport errors are recovered by
// reconnecting; protocol errors abort the current connection.
var (
	ErrMalformedFrame = errors.New("slave: malformed frame")
	ErrProtocol       = errors.New("slave: protocol error")
)

// Usage errors, surfaced synchronously from the offending call.
var (
	ErrInvalidConfig = errors.New("slave: invalid master info")
)

// UnknownTableError is returned by Init when a registered table does
// not exist on the primary.
type UnknownTableError struct {
	Database string
	Table    string
}

func (e *UnknownTableError) Error() string {
	return fmt.Sprintf("slave: unknown table %s.%s", e.Database, e.Table)
}

// ServerError is an ERR packet received from the primary.
type ServerError struct {
	Code     uint16
	SQLState string
	Message  string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("slave: server error %d (%s): %s", e.Code, e.SQLState, e.Message)
}

// DecodeError reports a cell or event that could not be decoded. The
// stream continues past it; the offending event is skipped with a
// diagnostic.
type DecodeError struct {
	Kind   string // "unsupported type", "malformed field", "length overflow", "schema miss"
	Detail string
}

func (e *DecodeError) Error() string {
	return "slave: " + e.Kind + ": " + e.Detail
}

func errf(format string, args ...interface{}) error {
	return fmt.Errorf("slave: "+format, args...)
}

func errUnsupportedType(typ byte) error {
	return &DecodeError{Kind: "unsupported type", Detail: fmt.Sprintf("column type 0x%02x", typ)}
}

func errMalformedField(format string, args ...interface{}) error {
	return &DecodeError{Kind: "malformed field", Detail: fmt.Sprintf(format, args...)}
}

func errSchemaMiss(tableID uint64) error {
	return &DecodeError{Kind: "schema miss", Detail: fmt.Sprintf("no table map for table id %d", tableID)}
}
