package sdk

import (
	"fmt"
)

// AdapterInitError reports that the vendor library could not be loaded or
// that license activation was rejected. The hosting process cannot continue.
type AdapterInitError struct {
	Op   string
	Code int
	Err  error
}

func (e *AdapterInitError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("sdk %s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("sdk %s: result code %d", e.Op, e.Code)
	}
}

func (e *AdapterInitError) Unwrap() error {
	return e.Err
}

// MalformedEventError reports a callback argument that is not valid text
type MalformedEventError struct {
	Callback string
	Field    string
	Raw      []byte
}

func (e *MalformedEventError) Error() string {
	return fmt.Sprintf("sdk %s callback: field %s is not valid utf-8 (%x)", e.Callback, e.Field, e.Raw)
}
