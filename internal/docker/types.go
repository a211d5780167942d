package docker

import "context"

// Container is the subset of container state the control plane reads.
type Container struct {
	ID     string
	Name   string
	Image  string
	State  string
	Labels map[string]string
}

// Volume is a named engine volume.
type Volume struct {
	Name   string
	Labels map[string]string
}

// Stats is a single resource usage sample for one container.
type Stats struct {
	CPUPercent  float64
	MemoryUsage uint64
	MemoryLimit uint64
}

// Mount attaches a named volume inside a container.
type Mount struct {
	Source string
	Target string
}

// ContainerSpec describes a container to create and start.
type ContainerSpec struct {
	Name        string
	Image       string
	Env         map[string]string
	Cmd         []string
	Labels      map[string]string
	Port        int
	Network     string
	MemoryBytes int64
	NanoCPUs    int64
	Mounts      []Mount
}

// Gateway is the container engine contract the orchestration layer depends on.
type Gateway interface {
	ListContainers(ctx context.Context) ([]Container, error)
	InspectContainer(ctx context.Context, id string) (*Container, error)
	StopContainer(ctx context.Context, id string) error
	RemoveContainer(ctx context.Context, id string) error
	ContainerStats(ctx context.Context, id string) (*Stats, error)
	RemoveImage(ctx context.Context, ref string) error
	ListVolumes(ctx context.Context, labels map[string]string) ([]Volume, error)
	RemoveVolume(ctx context.Context, name string) error
	CreateAndStart(ctx context.Context, spec ContainerSpec) (string, error)
}
