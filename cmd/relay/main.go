// Command relay binds the hook library's signal entry points and forwards
// interrupt and continue signals into them. It takes no flags: the library
// path and symbol names are a fixed contract with the pod manager.
package main

import (
	"github.com/gemshare/gemshare/pkg/logging"
	"github.com/gemshare/gemshare/pkg/nativehook"
	"github.com/gemshare/gemshare/pkg/relay"
)

func main() {
	logger := logging.NewLogger(logging.INFO, false)

	binding, err := nativehook.LoadDefault()
	if err != nil {
		logger.Fatal("Cannot bind hook library", map[string]interface{}{
			"library": nativehook.DefaultLibraryPath,
			"error":   err.Error(),
		})
	}

	r, err := relay.New(binding.Interrupt, binding.Continue, logger)
	if err != nil {
		logger.Fatal("Cannot create signal relay", map[string]interface{}{"error": err.Error()})
	}
	if err := r.Install(); err != nil {
		logger.Fatal("Cannot install signal relay", map[string]interface{}{"error": err.Error()})
	}

	logger.Info("Hook library bound, relaying signals", map[string]interface{}{
		"library":   nativehook.DefaultLibraryPath,
		"interrupt": binding.Interrupt.Name(),
		"continue":  binding.Continue.Name(),
	})

	// The interrupt signal belongs to the relay, so it never terminates
	// this process; whether an interrupt exits is the hook library's
	// decision. Anything else, SIGTERM included, keeps its default
	// disposition.
	select {}
}
