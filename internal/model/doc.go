// Package model defines the domain types and value objects for the
// libship CLI.
//
// This package contains pure data structures with no external dependencies:
// libraries, per-library run results, run reports, exit codes, and a custom
// error type (CLIError) that carries exit codes for proper OS process exit
// handling.
package model
