// Package docker wraps the Docker Engine SDK for the libship publish
// workflow.
//
// It provides the builder image build (tar context, streamed JSON build
// log), the throwaway database container, per-library builder container
// runs, and label-driven teardown. Every resource a run creates carries
// "libship." labels with the run's UUID, which is the only state libship
// keeps — teardown and the down/list commands work purely off label
// filters.
package docker
