// Package models holds the records describing a processing run.
package models

import (
	"time"

	"github.com/google/uuid"
)

// VolumeInfo describes the geometry of a processed volume
type VolumeInfo struct {
	// Width, Height and Depth are the volume size in voxels
	Width, Height, Depth int

	// Channels is the number of channels, 1 for plain stacks
	Channels int

	// VoxelSize is the physical size of each voxel
	VoxelSize struct {
		X, Y, Z float64
	}
}

// Voxels returns the number of voxels per channel.
func (v VolumeInfo) Voxels() int { return v.Width * v.Height * v.Depth }

// Stage records one step of a run
type Stage struct {
	// Name identifies the step, e.g. "dog" or "watershed"
	Name string

	// Duration is the wall time the step took
	Duration time.Duration

	// Output is where the stage result was saved, if anywhere
	Output string

	// Detail is a short human readable result summary
	Detail string
}

// RunReport collects what happened during one invocation
type RunReport struct {
	// ID uniquely identifies the run in logs and output metadata
	ID uuid.UUID

	// Command is the operation that was run: segment, tile or plot
	Command string

	Started time.Time
	Input   string
	Volume  VolumeInfo
	Stages  []Stage

	// Objects is the number of segmented objects, if any
	Objects int
}

// NewRunReport starts a report with a fresh run ID.
func NewRunReport(command, input string) *RunReport {
	return &RunReport{
		ID:      uuid.New(),
		Command: command,
		Started: time.Now(),
		Input:   input,
	}
}

// AddStage records a stage that began at start. The returned pointer is
// valid until the next call.
func (r *RunReport) AddStage(name string, start time.Time) *Stage {
	r.Stages = append(r.Stages, Stage{Name: name, Duration: time.Since(start)})
	return &r.Stages[len(r.Stages)-1]
}

// Stage returns the named stage, or nil if it was not recorded.
func (r *RunReport) Stage(name string) *Stage {
	for i := range r.Stages {
		if r.Stages[i].Name == name {
			return &r.Stages[i]
		}
	}
	return nil
}

// Total returns the summed duration of all stages.
func (r *RunReport) Total() time.Duration {
	var d time.Duration
	for _, s := range r.Stages {
		d += s.Duration
	}
	return d
}
