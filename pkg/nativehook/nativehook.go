// Package nativehook loads the interposition library injected into GPU
// client processes and resolves its signal entry points. The library
// handle is owned for the life of the process and never released:
// installed signal handlers keep direct references into it.
package nativehook

import "errors"

const (
	// DefaultLibraryPath is where the pod manager mounts the hook library
	// inside the container.
	DefaultLibraryPath = "/kubeshare/library/libgemhook.so.1"

	// SymbolInterrupt and SymbolContinue are the exported names of the
	// library's signal entry points. The names are part of the binary
	// contract with the hook library and must match its exports exactly.
	SymbolInterrupt = "_Z13sigintHandleri"
	SymbolContinue  = "_Z14sigcontHandleri"
)

// ErrNotSupported is returned by Load on platforms without dynamic
// library support compiled in.
var ErrNotSupported = errors.New("nativehook: dynamic loading requires linux and cgo")

// Binding holds both resolved entry points of one hook library.
// Resolution is all-or-nothing: a Binding never carries a nil symbol.
type Binding struct {
	Interrupt *Symbol
	Continue  *Symbol
}

// LoadDefault resolves the stock library at its well-known path.
func LoadDefault() (*Binding, error) {
	return Load(DefaultLibraryPath, SymbolInterrupt, SymbolContinue)
}
