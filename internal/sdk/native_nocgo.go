//go:build !cgo

package sdk

import (
	"errors"
)

func openNative(path string) (Library, error) {
	return nil, errors.New("vendor SDK requires a cgo-enabled build")
}
