package main

import (
	"os"
)

// module defs - set at build time via ldflags
var (
	Version   string = "0.0.1"
	BuildDate string = "unknown"

	ServiceName string = "karta"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
