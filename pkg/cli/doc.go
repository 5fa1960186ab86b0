// Package cli provides common helpers for the picotts command-line tool.
//
// This package includes:
//   - Output formatting (YAML, JSON, table, raw)
//   - Request file loading (YAML/JSON)
//   - Human-readable sizes, durations and counts
//   - Per-user config and cache locations
//
// Example usage:
//
//	var req SayRequest
//	if err := cli.LoadRequest(path, &req); err != nil {
//	    return err
//	}
//
//	cli.Output(result, cli.OutputOptions{
//	    Format: cli.FormatJSON,
//	    File:   outputPath,
//	})
package cli
