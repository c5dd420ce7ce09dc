//go:build !linux || !cgo

package nativehook

// Symbol is a placeholder on platforms without dynamic loading support.
type Symbol struct{}

// Call does nothing; a Symbol cannot be obtained on this platform.
func (s *Symbol) Call(signum int) {}

// Name returns the empty string.
func (s *Symbol) Name() string { return "" }

// Load always fails on platforms without dynamic loading support.
func Load(path, interruptSymbol, continueSymbol string) (*Binding, error) {
	return nil, ErrNotSupported
}
