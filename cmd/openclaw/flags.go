package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
)

// newFlagSet creates a flag set that prints usage and exits on error.
func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	return fs
}

func parseFlags(fs *flag.FlagSet, args []string) {
	// ExitOnError handles the failure path.
	_ = fs.Parse(args)
}

// printJSON writes v as indented JSON to stdout.
func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintln(os.Stderr, "encode output:", err)
		os.Exit(1)
	}
}

// fatal prints an error and exits 1.
func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
