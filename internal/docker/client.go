package docker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

// Client implements Gateway on the Docker Engine API. The SDK client is
// constructed on first use and reused afterwards.
type Client struct {
	host        string
	stopTimeout int

	once  sync.Once
	inner *client.Client
	err   error
}

var _ Gateway = (*Client)(nil)

// New returns a lazily connecting Client. An empty host uses the environment defaults.
func New(host string, stopTimeoutSeconds int) *Client {
	return &Client{host: host, stopTimeout: stopTimeoutSeconds}
}

func (c *Client) api() (*client.Client, error) {
	c.once.Do(func() {
		opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
		if c.host != "" {
			opts = append(opts, client.WithHost(c.host))
		}
		c.inner, c.err = client.NewClientWithOpts(opts...)
		if c.err != nil {
			c.err = fmt.Errorf("create docker client: %w", c.err)
		}
	})
	return c.inner, c.err
}

var errClosed = errors.New("docker client closed")

// Close releases resources held by the Docker client. A Client closed before
// first use never connects.
func (c *Client) Close() error {
	c.once.Do(func() { c.err = errClosed })
	if c.inner == nil {
		return nil
	}
	return c.inner.Close()
}

func wrap(op, entity, id string, err error) error {
	if client.IsErrNotFound(err) {
		return &Error{Op: op, Entity: entity, ID: id, Err: ErrNotFound}
	}
	return &Error{Op: op, Entity: entity, ID: id, Err: err}
}

// ListContainers returns every container, running or not.
func (c *Client) ListContainers(ctx context.Context) ([]Container, error) {
	cli, err := c.api()
	if err != nil {
		return nil, err
	}
	list, err := cli.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return nil, wrap("list", "containers", "", err)
	}
	out := make([]Container, 0, len(list))
	for _, s := range list {
		name := ""
		if len(s.Names) > 0 {
			name = strings.TrimPrefix(s.Names[0], "/")
		}
		out = append(out, Container{
			ID:     s.ID,
			Name:   name,
			Image:  s.Image,
			State:  string(s.State),
			Labels: s.Labels,
		})
	}
	return out, nil
}

// InspectContainer reads the configured image and labels of a container.
func (c *Client) InspectContainer(ctx context.Context, id string) (*Container, error) {
	cli, err := c.api()
	if err != nil {
		return nil, err
	}
	resp, err := cli.ContainerInspect(ctx, id)
	if err != nil {
		return nil, wrap("inspect", "container", id, err)
	}
	out := &Container{ID: resp.ID, Name: strings.TrimPrefix(resp.Name, "/")}
	if resp.Config != nil {
		out.Image = resp.Config.Image
		out.Labels = resp.Config.Labels
	}
	if resp.State != nil {
		out.State = string(resp.State.Status)
	}
	return out, nil
}

// StopContainer stops a container using the configured grace period.
func (c *Client) StopContainer(ctx context.Context, id string) error {
	cli, err := c.api()
	if err != nil {
		return err
	}
	timeout := c.stopTimeout
	if err := cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout}); err != nil {
		return wrap("stop", "container", id, err)
	}
	return nil
}

// RemoveContainer force-removes a container.
func (c *Client) RemoveContainer(ctx context.Context, id string) error {
	cli, err := c.api()
	if err != nil {
		return err
	}
	if err := cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		return wrap("remove", "container", id, err)
	}
	return nil
}

type statsPayload struct {
	CPUStats    cpuStats `json:"cpu_stats"`
	PreCPUStats cpuStats `json:"precpu_stats"`
	MemoryStats struct {
		Usage uint64            `json:"usage"`
		Limit uint64            `json:"limit"`
		Stats map[string]uint64 `json:"stats"`
	} `json:"memory_stats"`
}

type cpuStats struct {
	CPUUsage struct {
		TotalUsage  uint64   `json:"total_usage"`
		PercpuUsage []uint64 `json:"percpu_usage"`
	} `json:"cpu_usage"`
	SystemUsage uint64 `json:"system_cpu_usage"`
	OnlineCPUs  uint32 `json:"online_cpus"`
}

// ContainerStats takes one resource usage sample.
func (c *Client) ContainerStats(ctx context.Context, id string) (*Stats, error) {
	cli, err := c.api()
	if err != nil {
		return nil, err
	}
	resp, err := cli.ContainerStats(ctx, id, false)
	if err != nil {
		return nil, wrap("stats", "container", id, err)
	}
	defer resp.Body.Close()

	var payload statsPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, wrap("stats", "container", id, fmt.Errorf("decode: %w", err))
	}
	return computeStats(payload), nil
}

func computeStats(p statsPayload) *Stats {
	out := &Stats{MemoryUsage: p.MemoryStats.Usage, MemoryLimit: p.MemoryStats.Limit}
	if inactive, ok := p.MemoryStats.Stats["inactive_file"]; ok && inactive < out.MemoryUsage {
		out.MemoryUsage -= inactive
	} else if cache, ok := p.MemoryStats.Stats["cache"]; ok && cache < out.MemoryUsage {
		out.MemoryUsage -= cache
	}

	cpuDelta := float64(p.CPUStats.CPUUsage.TotalUsage) - float64(p.PreCPUStats.CPUUsage.TotalUsage)
	systemDelta := float64(p.CPUStats.SystemUsage) - float64(p.PreCPUStats.SystemUsage)
	online := float64(p.CPUStats.OnlineCPUs)
	if online == 0 {
		online = float64(len(p.CPUStats.CPUUsage.PercpuUsage))
	}
	if online == 0 {
		online = 1
	}
	if cpuDelta > 0 && systemDelta > 0 {
		out.CPUPercent = cpuDelta / systemDelta * online * 100
	}
	return out
}

// RemoveImage force-removes an image reference.
func (c *Client) RemoveImage(ctx context.Context, ref string) error {
	cli, err := c.api()
	if err != nil {
		return err
	}
	if _, err := cli.ImageRemove(ctx, ref, image.RemoveOptions{Force: true, PruneChildren: true}); err != nil {
		return wrap("remove", "image", ref, err)
	}
	return nil
}

// ListVolumes returns volumes carrying every given label.
func (c *Client) ListVolumes(ctx context.Context, labels map[string]string) ([]Volume, error) {
	cli, err := c.api()
	if err != nil {
		return nil, err
	}
	args := filters.NewArgs()
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args.Add("label", k+"="+labels[k])
	}
	resp, err := cli.VolumeList(ctx, volume.ListOptions{Filters: args})
	if err != nil {
		return nil, wrap("list", "volumes", "", err)
	}
	out := make([]Volume, 0, len(resp.Volumes))
	for _, v := range resp.Volumes {
		if v == nil {
			continue
		}
		out = append(out, Volume{Name: v.Name, Labels: v.Labels})
	}
	return out, nil
}

// RemoveVolume removes a named volume.
func (c *Client) RemoveVolume(ctx context.Context, name string) error {
	cli, err := c.api()
	if err != nil {
		return err
	}
	if err := cli.VolumeRemove(ctx, name, true); err != nil {
		return wrap("remove", "volume", name, err)
	}
	return nil
}

// CreateAndStart creates the container and starts it. A container that was
// created but failed to start is removed again.
func (c *Client) CreateAndStart(ctx context.Context, spec ContainerSpec) (string, error) {
	cli, err := c.api()
	if err != nil {
		return "", err
	}
	cfg, hostCfg, netCfg := buildConfig(spec)

	resp, err := cli.ContainerCreate(ctx, cfg, hostCfg, netCfg, nil, spec.Name)
	if err != nil {
		return "", wrap("create", "container", spec.Name, err)
	}
	if err := cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		_ = cli.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return "", wrap("start", "container", spec.Name, err)
	}
	return resp.ID, nil
}

func buildConfig(spec ContainerSpec) (*container.Config, *container.HostConfig, *network.NetworkingConfig) {
	cfg := &container.Config{
		Image:  spec.Image,
		Labels: spec.Labels,
		Cmd:    spec.Cmd,
	}
	keys := make([]string, 0, len(spec.Env))
	for k := range spec.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		cfg.Env = append(cfg.Env, fmt.Sprintf("%s=%s", k, spec.Env[k]))
	}
	if spec.Port > 0 {
		cfg.ExposedPorts = nat.PortSet{nat.Port(strconv.Itoa(spec.Port) + "/tcp"): struct{}{}}
	}

	hostCfg := &container.HostConfig{
		RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyUnlessStopped},
	}
	hostCfg.Memory = spec.MemoryBytes
	hostCfg.NanoCPUs = spec.NanoCPUs
	for _, m := range spec.Mounts {
		hostCfg.Mounts = append(hostCfg.Mounts, mount.Mount{
			Type:   mount.TypeVolume,
			Source: m.Source,
			Target: m.Target,
		})
	}

	var netCfg *network.NetworkingConfig
	if spec.Network != "" {
		netCfg = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{spec.Network: {}},
		}
	}
	return cfg, hostCfg, netCfg
}
