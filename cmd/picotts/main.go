// Package main is the entry point for the picotts CLI.
//
// Usage:
//
//	picotts [flags] <command> [subcommand] [args]
//
// Commands:
//
//	say      - Synthesize text to a WAV file, raw PCM or stdout
//	voices   - List configured voices
//	info     - Load every voice and show what the engine reports
//	serve    - Run the HTTP/WebSocket synthesis server
//	cache    - Inspect or clear the speech cache (list, stats, clear)
//	config   - Show or create the configuration file
//	version  - Show version information
package main

import (
	"fmt"
	"os"

	"github.com/haivivi/picotts/cmd/picotts/commands"
	_ "github.com/haivivi/picotts/pkg/pico/picoapi"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
