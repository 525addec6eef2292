package sdk

import (
	"fmt"
	"os"
)

// Connection types understood by Connect
const (
	ConnTypeUSB     = 1
	ConnTypeNetwork = 2
)

// LibraryName is the file name of the vendor SDK
const LibraryName = "EasyTestSDK_x64.dll"

// Callbacks receives raw native callback arguments. Byte slices are only
// valid for the duration of the call.
type Callbacks struct {
	Connect     func(baseID, mode int, info []byte)
	Vote        func(baseID, mode int, info []byte)
	Key         func(baseID, keyID int, keySN []byte, mode int, ts float64, info []byte)
	HDParam     func(baseID, mode int, info []byte)
	KeypadParam func(baseID, keyID int, keySN []byte, mode int, info []byte)
}

// Library is the vendor SDK surface used by the adapter
type Library interface {
	License(kind int, key string) int
	SetLogOn(level int) int
	Connect(connType int, connStr string) int
	Disconnect(baseID int) int
	VoteStart(baseID, voteType int, config string) int
	VoteStop(baseID int) int
	ReadHDParam(baseID, mode int) int
	WriteHDParam(baseID, mode int, value string) int
	ReadKeypadParam(baseID, keyID int, keySN string, mode int, value string) int
	WriteKeypadParam(baseID, keyID int, keySN string, mode int, value string) int
	RegisterCallbacks(cb Callbacks)
	Close() error
}

// DefaultSearchPaths lists where the vendor library is looked up
func DefaultSearchPaths() []string {
	return []string{
		"./resources/" + LibraryName,
		"../resources/" + LibraryName,
		"../../resources/" + LibraryName,
		"./" + LibraryName,
		"../" + LibraryName,
	}
}

// Open loads the vendor library from the first existing path
func Open(paths []string) (Library, error) {
	if len(paths) == 0 {
		paths = DefaultSearchPaths()
	}

	var lastErr error
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		lib, err := openNative(p)
		if err != nil {
			lastErr = err
			continue
		}
		return lib, nil
	}

	if lastErr != nil {
		return nil, &AdapterInitError{Op: "load", Err: lastErr}
	}
	return nil, &AdapterInitError{Op: "load", Err: fmt.Errorf("%s not found in %v: %w", LibraryName, paths, os.ErrNotExist)}
}
