//go:build cgo

package sdk

/*
#cgo linux LDFLAGS: -ldl
#include <stdlib.h>
#include <string.h>
#include "easytest_shim.h"
*/
import "C"

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"
)

// the vendor SDK keeps one set of callbacks per process
var activeCallbacks atomic.Pointer[Callbacks]

type nativeLibrary struct {
	path   string
	mu     sync.Mutex
	closed bool
}

func openNative(path string) (Library, error) {
	cpath := C.CString(path)
	defer C.free(unsafe.Pointer(cpath))

	var errbuf [256]C.char
	if rc := C.et_load(cpath, &errbuf[0], C.int(len(errbuf))); rc != 0 {
		return nil, fmt.Errorf("load %s: %s", path, C.GoString(&errbuf[0]))
	}
	return &nativeLibrary{path: path}, nil
}

func (l *nativeLibrary) License(kind int, key string) int {
	ckey := C.CString(key)
	defer C.free(unsafe.Pointer(ckey))
	return int(C.et_license(C.int(kind), ckey))
}

func (l *nativeLibrary) SetLogOn(level int) int {
	return int(C.et_set_log_on(C.int(level)))
}

func (l *nativeLibrary) Connect(connType int, connStr string) int {
	cstr := C.CString(connStr)
	defer C.free(unsafe.Pointer(cstr))
	return int(C.et_connect(C.int(connType), cstr))
}

func (l *nativeLibrary) Disconnect(baseID int) int {
	return int(C.et_disconnect(C.int(baseID)))
}

func (l *nativeLibrary) VoteStart(baseID, voteType int, config string) int {
	cfg := C.CString(config)
	defer C.free(unsafe.Pointer(cfg))
	return int(C.et_vote_start(C.int(baseID), C.int(voteType), cfg))
}

func (l *nativeLibrary) VoteStop(baseID int) int {
	return int(C.et_vote_stop(C.int(baseID)))
}

func (l *nativeLibrary) ReadHDParam(baseID, mode int) int {
	return int(C.et_read_hd_param(C.int(baseID), C.int(mode)))
}

func (l *nativeLibrary) WriteHDParam(baseID, mode int, value string) int {
	cval := C.CString(value)
	defer C.free(unsafe.Pointer(cval))
	return int(C.et_write_hd_param(C.int(baseID), C.int(mode), cval))
}

func (l *nativeLibrary) ReadKeypadParam(baseID, keyID int, keySN string, mode int, value string) int {
	csn, cval := C.CString(keySN), C.CString(value)
	defer C.free(unsafe.Pointer(csn))
	defer C.free(unsafe.Pointer(cval))
	return int(C.et_read_keypad_param(C.int(baseID), C.int(keyID), csn, C.int(mode), cval))
}

func (l *nativeLibrary) WriteKeypadParam(baseID, keyID int, keySN string, mode int, value string) int {
	csn, cval := C.CString(keySN), C.CString(value)
	defer C.free(unsafe.Pointer(csn))
	defer C.free(unsafe.Pointer(cval))
	return int(C.et_write_keypad_param(C.int(baseID), C.int(keyID), csn, C.int(mode), cval))
}

func (l *nativeLibrary) RegisterCallbacks(cb Callbacks) {
	activeCallbacks.Store(&cb)
	C.et_register_callbacks()
}

func (l *nativeLibrary) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return errors.New("sdk library already closed")
	}
	l.closed = true
	activeCallbacks.Store(nil)
	C.et_unload()
	return nil
}

func cBytes(p *C.char) []byte {
	if p == nil {
		return nil
	}
	return C.GoBytes(unsafe.Pointer(p), C.int(C.strlen(p)))
}

//export goConnectCallback
func goConnectCallback(baseID, mode C.int, info *C.char) {
	if cb := activeCallbacks.Load(); cb != nil && cb.Connect != nil {
		cb.Connect(int(baseID), int(mode), cBytes(info))
	}
}

//export goVoteCallback
func goVoteCallback(baseID, mode C.int, info *C.char) {
	if cb := activeCallbacks.Load(); cb != nil && cb.Vote != nil {
		cb.Vote(int(baseID), int(mode), cBytes(info))
	}
}

//export goKeyCallback
func goKeyCallback(baseID, keyID C.int, keySN *C.char, mode C.int, ts C.float, info *C.char) {
	if cb := activeCallbacks.Load(); cb != nil && cb.Key != nil {
		cb.Key(int(baseID), int(keyID), cBytes(keySN), int(mode), float64(ts), cBytes(info))
	}
}

//export goHDParamCallback
func goHDParamCallback(baseID, mode C.int, info *C.char) {
	if cb := activeCallbacks.Load(); cb != nil && cb.HDParam != nil {
		cb.HDParam(int(baseID), int(mode), cBytes(info))
	}
}

//export goKeypadParamCallback
func goKeypadParamCallback(baseID, keyID C.int, keySN *C.char, mode C.int, info *C.char) {
	if cb := activeCallbacks.Load(); cb != nil && cb.KeypadParam != nil {
		cb.KeypadParam(int(baseID), int(keyID), cBytes(keySN), int(mode), cBytes(info))
	}
}
