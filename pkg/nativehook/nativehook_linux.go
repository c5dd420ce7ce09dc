//go:build linux && cgo

package nativehook

/*
#cgo LDFLAGS: -ldl
#include <dlfcn.h>
#include <stdlib.h>

typedef void (*gemhook_fn)(int);

static void gemhook_call(void *fn, int signum) {
	((gemhook_fn)fn)(signum);
}
*/
import "C"

import (
	"fmt"
	"unsafe"
)

// Symbol is one resolved entry point with the (int) -> void signature.
type Symbol struct {
	name string
	fn   unsafe.Pointer
}

// Call invokes the entry point with a signal number. The call is
// synchronous; any blocking happens inside the hook library.
func (s *Symbol) Call(signum int) {
	C.gemhook_call(s.fn, C.int(signum))
}

// Name returns the symbol name the entry point was resolved from.
func (s *Symbol) Name() string {
	return s.name
}

// Load maps the hook library at path and resolves both signal entry
// points by name. Either both resolve or Load fails; a partially bound
// library is never returned. The handle is deliberately never closed:
// unmapping the library while handlers reference it would be fatal.
func Load(path, interruptSymbol, continueSymbol string) (*Binding, error) {
	cpath := C.CString(path)
	defer C.free(unsafe.Pointer(cpath))

	handle := C.dlopen(cpath, C.RTLD_NOW)
	if handle == nil {
		text := dlerrorText()
		if text == "" {
			text = "unknown error"
		}
		return nil, fmt.Errorf("failed to load hook library %s: %s", path, text)
	}

	interrupt, err := resolve(handle, interruptSymbol)
	if err != nil {
		return nil, err
	}
	cont, err := resolve(handle, continueSymbol)
	if err != nil {
		return nil, err
	}
	return &Binding{Interrupt: interrupt, Continue: cont}, nil
}

func resolve(handle unsafe.Pointer, name string) (*Symbol, error) {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))

	C.dlerror()
	fn := C.dlsym(handle, cname)
	if text := dlerrorText(); text != "" {
		return nil, fmt.Errorf("failed to resolve symbol %s: %s", name, text)
	}
	if fn == nil {
		return nil, fmt.Errorf("failed to resolve symbol %s: null address", name)
	}
	return &Symbol{name: name, fn: fn}, nil
}

func dlerrorText() string {
	if msg := C.dlerror(); msg != nil {
		return C.GoString(msg)
	}
	return ""
}
