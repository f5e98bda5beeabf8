package docker

import (
	"time"
)

// Label key constants define the Docker label keys applied to every
// resource (container, network, image) a publish run creates. The labels
// are the sole persistence mechanism: teardown and leftover cleanup list
// resources by label filter instead of remembering IDs.
//
// All keys share the "libship." prefix to namespace them away from labels
// set by other tools.
const (
	// LabelPrefix is the common prefix for all libship labels.
	LabelPrefix = "libship."

	// LabelManagedBy identifies resources created by libship.
	// Key: "libship.managed-by", Value: always "libship".
	LabelManagedBy = LabelPrefix + "managed-by"

	// LabelRunID stores the UUID of the publish run that created the
	// resource. Teardown removes resources matching this label only, so
	// concurrent runs on the same host never collect each other's
	// containers.
	LabelRunID = LabelPrefix + "run-id"

	// LabelRole distinguishes the resource's function within a run.
	// Values: RoleDatabase, RoleBuilder, RoleNetwork.
	LabelRole = LabelPrefix + "role"

	// LabelLibrary stores the library name on builder containers.
	LabelLibrary = LabelPrefix + "library"

	// LabelCreatedAt stores the RFC3339 UTC timestamp of resource creation.
	LabelCreatedAt = LabelPrefix + "created-at"
)

// ManagedByValue is the constant value for the LabelManagedBy label.
const ManagedByValue = "libship"

// Role values for the LabelRole label.
const (
	RoleDatabase = "database"
	RoleBuilder  = "builder"
	RoleNetwork  = "network"
)

// RunLabels constructs the base label set for a resource belonging to a
// run. Builder containers additionally get LabelLibrary via LibraryLabels.
func RunLabels(runID, role string) map[string]string {
	return map[string]string{
		LabelManagedBy: ManagedByValue,
		LabelRunID:     runID,
		LabelRole:      role,
		LabelCreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
}

// LibraryLabels constructs the label set for a builder container running
// one library's packaging step.
func LibraryLabels(runID, library string) map[string]string {
	labels := RunLabels(runID, RoleBuilder)
	labels[LabelLibrary] = library
	return labels
}
