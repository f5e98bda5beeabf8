// Package model defines the domain types for the libship CLI.
//
// The types here are pure data: libraries to publish, per-library run
// results, and the report produced by a full publish run. Everything a run
// creates inside Docker is tracked via container/network labels (see
// internal/docker), so none of these types are persisted anywhere except
// the optional report file.
package model

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// RunStatus represents the outcome of one library's packaging step.
type RunStatus string

const (
	// StatusSucceeded indicates the packaging command exited zero.
	StatusSucceeded RunStatus = "succeeded"

	// StatusFailed indicates the packaging command exited non-zero or
	// could not be started at all.
	StatusFailed RunStatus = "failed"

	// StatusSkipped indicates the library was never attempted because an
	// earlier library failed and the fail-fast policy was enabled.
	StatusSkipped RunStatus = "skipped"
)

// String returns the string representation of RunStatus.
// Satisfies fmt.Stringer for CLI output and logging.
func (s RunStatus) String() string {
	return string(s)
}

// IsValid checks whether the RunStatus value is one of the predefined
// valid states.
func (s RunStatus) IsValid() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusSkipped:
		return true
	default:
		return false
	}
}

// ParseRunStatus converts a string to a RunStatus.
// Returns an error if the string does not match any valid status.
func ParseRunStatus(s string) (RunStatus, error) {
	status := RunStatus(strings.ToLower(s))
	if !status.IsValid() {
		return "", fmt.Errorf("invalid run status: %q (valid: succeeded, failed, skipped)", s)
	}
	return status, nil
}

// Library identifies one source subdirectory to publish. The directory is
// bind-mounted into the builder container at MountPath, which is also the
// working directory for the packaging command.
type Library struct {
	// Name is the subdirectory name, e.g. "sqllib".
	Name string `json:"name" yaml:"name"`

	// MountPath is the container-side path the library is mounted at,
	// derived as mount prefix + name (e.g. "/srv/src/sqllib").
	MountPath string `json:"mountPath" yaml:"mountPath"`
}

// NewLibrary derives a Library from a name and the configured mount prefix.
func NewLibrary(name, mountPrefix string) Library {
	return Library{
		Name:      name,
		MountPath: strings.TrimRight(mountPrefix, "/") + "/" + name,
	}
}

// nameRegex validates library names: alphanumeric plus hyphen/underscore,
// starting and ending with an alphanumeric character.
var nameRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]*[a-zA-Z0-9]$|^[a-zA-Z0-9]$`)

// ValidateName checks if the given name is a valid library name.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("library name must not be empty")
	}
	if !nameRegex.MatchString(name) {
		return fmt.Errorf("invalid library name %q: must contain only alphanumeric characters, hyphens and underscores, and start/end with alphanumeric", name)
	}
	return nil
}

// SplitLibraryNames turns the CLI's positional arguments into an ordered
// list of library names. Each argument is additionally whitespace-split so
// a single quoted argument ("sqllib cachelib") behaves the same as two
// separate arguments.
func SplitLibraryNames(args []string) []string {
	var names []string
	for _, arg := range args {
		names = append(names, strings.Fields(arg)...)
	}
	return names
}

// RunResult records the outcome of one library's packaging step. Results
// are kept in list order so the report mirrors the processing sequence.
type RunResult struct {
	// Library is the library this result belongs to.
	Library Library `json:"library" yaml:"library"`

	// Status is the outcome of the packaging step.
	Status RunStatus `json:"status" yaml:"status"`

	// ExitCode is the packaging command's exit code. Zero for skipped
	// libraries and for failures that happened before the command ran.
	ExitCode int `json:"exitCode" yaml:"exitCode"`

	// Duration is how long the container run took. Zero when skipped.
	Duration time.Duration `json:"duration" yaml:"duration"`

	// Error holds the failure description when Status is failed and the
	// failure was not a plain non-zero exit (e.g. the container could not
	// be created). Empty otherwise.
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Succeeded reports whether this library's packaging step succeeded.
func (r RunResult) Succeeded() bool {
	return r.Status == StatusSucceeded
}

// Artifact is a package file produced by a library build, discovered under
// the library's target/dist directory after the run completes.
type Artifact struct {
	// Library is the name of the library that produced the file.
	Library string `json:"library" yaml:"library"`

	// Path is the host filesystem path of the package file.
	Path string `json:"path" yaml:"path"`

	// Size is the file size in bytes.
	Size int64 `json:"size" yaml:"size"`
}

// RunReport is the aggregate record of one publish run: which image was
// built, which libraries ran in which order, and what they produced.
type RunReport struct {
	// RunID uniquely identifies the run. Every Docker resource created by
	// the run carries it as a label, which is what teardown keys on.
	RunID string `json:"runId" yaml:"runId"`

	// Image is the builder image reference (name:tag) built for the run.
	Image string `json:"image" yaml:"image"`

	// StartedAt / FinishedAt bound the whole run, teardown included.
	StartedAt  time.Time `json:"startedAt" yaml:"startedAt"`
	FinishedAt time.Time `json:"finishedAt" yaml:"finishedAt"`

	// Results holds one entry per library, in processing order.
	Results []RunResult `json:"results" yaml:"results"`

	// Artifacts lists package files found after the run.
	Artifacts []Artifact `json:"artifacts,omitempty" yaml:"artifacts,omitempty"`
}

// Succeeded reports whether every library succeeded. Skipped libraries
// count against the run, because a fail-fast stop means the run did not do
// everything it was asked to.
func (r *RunReport) Succeeded() bool {
	for _, res := range r.Results {
		if res.Status != StatusSucceeded {
			return false
		}
	}
	return true
}

// FailedCount returns how many libraries failed (not counting skipped).
func (r *RunReport) FailedCount() int {
	n := 0
	for _, res := range r.Results {
		if res.Status == StatusFailed {
			n++
		}
	}
	return n
}

// ExitCode defines standard CLI exit codes. These codes allow scripts and
// CI systems to programmatically determine the outcome of a command.
type ExitCode int

const (
	// ExitSuccess indicates the command completed successfully.
	ExitSuccess ExitCode = 0

	// ExitGeneralError indicates an unspecified error occurred.
	ExitGeneralError ExitCode = 1

	// ExitConfigError indicates the configuration or manifest is invalid.
	ExitConfigError ExitCode = 2

	// ExitDockerNotRunning indicates the Docker daemon is not accessible.
	ExitDockerNotRunning ExitCode = 3

	// ExitImageBuildFailed indicates the builder image could not be built.
	// No library is processed when this happens.
	ExitImageBuildFailed ExitCode = 4

	// ExitDatabaseNotReady indicates the database container did not become
	// reachable within the configured timeout.
	ExitDatabaseNotReady ExitCode = 5

	// ExitPublishFailed indicates the run completed but one or more
	// libraries failed their packaging step.
	ExitPublishFailed ExitCode = 6
)

// CLIError is a custom error type that carries an exit code, allowing the
// CLI layer to translate domain errors into process exit codes.
type CLIError struct {
	// Code is the exit code to return to the OS.
	Code ExitCode

	// Message is the human-readable error description.
	Message string

	// Err is the underlying error, if any.
	Err error
}

// Error satisfies the error interface.
func (e *CLIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *CLIError) Unwrap() error {
	return e.Err
}

// NewCLIError creates a new CLIError with the given exit code and message.
func NewCLIError(code ExitCode, message string) *CLIError {
	return &CLIError{Code: code, Message: message}
}

// WrapCLIError creates a new CLIError that wraps an existing error.
func WrapCLIError(code ExitCode, message string, err error) *CLIError {
	return &CLIError{Code: code, Message: message, Err: err}
}
