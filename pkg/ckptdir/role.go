package ckptdir

import "fmt"

// Role identifies the calling process and the process that coordinates a
// save. Only the coordinator mutates storage.
type Role struct {
	// Process is the index of the calling process.
	Process int

	// Primary is the index of the coordinating process.
	Primary int

	// AllPrimary makes every process its own coordinator. Use it when each
	// process writes to storage nobody else sees.
	AllPrimary bool
}

// NewRole returns the role of process in a save coordinated by primary.
func NewRole(process, primary int) Role {
	return Role{Process: process, Primary: primary}
}

// AllPrimaryRole returns a role in which process coordinates its own saves.
func AllPrimaryRole(process int) Role {
	return Role{Process: process, Primary: process, AllPrimary: true}
}

// IsCoordinator reports whether the calling process coordinates the save.
func (r Role) IsCoordinator() bool {
	return r.AllPrimary || r.Process == r.Primary
}

// String implements fmt.Stringer.
func (r Role) String() string {
	if r.AllPrimary {
		return fmt.Sprintf("process %d (all primary)", r.Process)
	}
	return fmt.Sprintf("process %d (primary %d)", r.Process, r.Primary)
}
