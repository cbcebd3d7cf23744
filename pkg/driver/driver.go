// Package driver declares the abstract deployment-driver boundary of
// spec §4.5/§6: the minimal set of operations the sorcerer calls on a
// container runtime. Concrete implementations (pkg/driver/containerd)
// are an external collaborator per spec §1 — only the interface and the
// small value types it exchanges belong to the core.
package driver

import (
	"context"

	"github.com/flecs-technologies/flecs-core/pkg/types"
)

// ContainerRef is an opaque handle a Driver hands back for a created
// container; its internal shape is driver-specific.
type ContainerRef string

// Logs is the captured output of a container.
type Logs struct {
	Stdout string
	Stderr string
}

// Inspection is the subset of live container state the sorcerer needs to
// converge an Instance's observed status.
type Inspection struct {
	IPAddress string
	Running   bool
}

// Driver is the abstract container-runtime boundary. Implementations
// talk to a concrete runtime (containerd, podman, …); the sorcerer only
// ever depends on this interface.
type Driver interface {
	// EnsureImage pulls or otherwise prepares the image a manifest
	// references.
	EnsureImage(ctx context.Context, manifest types.Manifest) error
	// CreateContainer creates (but does not start) a container for the
	// given instance, returning a reference to it.
	CreateContainer(ctx context.Context, instance types.Instance, manifest types.Manifest) (ContainerRef, error)
	StartContainer(ctx context.Context, ref ContainerRef) error
	StopContainer(ctx context.Context, ref ContainerRef) error
	RemoveContainer(ctx context.Context, ref ContainerRef) error
	ContainerLogs(ctx context.Context, ref ContainerRef) (Logs, error)
	Inspect(ctx context.Context, ref ContainerRef) (Inspection, error)
}
