package main

import (
	"context"
	"fmt"
	"os"

	"github.com/tphakala/pcmio/cmd"
	"github.com/tphakala/pcmio/internal/buildinfo"
)

// Set at build time with -ldflags "-X main.version=... -X main.buildDate=..."
var (
	version   string
	buildDate string
)

func main() {
	build := buildinfo.NewContext(version, buildDate)

	if err := cmd.RootCommand(build).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
