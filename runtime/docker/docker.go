// Package docker implements runtime.Adapter on top of the Docker Engine API.
// Each instance is one container running the game-server image, with the
// allocated host port bound to the server's listen port and administrative
// commands delivered over an in-container rcon-cli exec.
package docker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"strconv"
	"strings"
	"time"

	"github.com/ashiqtasdid/pegasus-interface-sub000/runtime"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	serverImage   = "itzg/minecraft-server"
	serverTCPPort = "25565"

	stopGracePeriod = time.Second * 15
)

type Options struct {
	Client *client.Client
	Logger *zap.Logger
}

type Client struct {
	Options
}

var _ runtime.Adapter = &Client{}

func NewClient(option Options) (*Client, error) {
	if option.Client == nil {
		return nil, fmt.Errorf("nil Client is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Client{
		Options: option,
	}, nil
}

func (c *Client) CreateInstance(ctx context.Context, spec runtime.Spec) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", err
	}

	rd, err := c.Client.ImagePull(ctx, serverImage, types.ImagePullOptions{})
	if err != nil {
		return "", extErrors.Wrap(err, "Cannot pull server image")
	}
	// the pull is not complete until the progress stream is drained
	io.Copy(ioutil.Discard, rd)
	rd.Close()

	hostBinding := nat.PortBinding{
		HostIP:   "0.0.0.0",
		HostPort: strconv.Itoa(spec.Port),
	}

	containerPort, err := nat.NewPort("tcp", serverTCPPort)
	if err != nil {
		return "", extErrors.Wrap(err, "Unable to create port")
	}

	env := []string{
		"EULA=true",
		"MAX_PLAYERS=" + strconv.Itoa(spec.MaxPlayers),
		"MODE=" + spec.Mode,
		"DIFFICULTY=" + spec.Difficulty,
	}
	if spec.MemoryMB > 0 {
		env = append(env, fmt.Sprintf("MEMORY=%dM", spec.MemoryMB))
	}
	if len(spec.Extensions) > 0 {
		env = append(env, "MODS="+strings.Join(spec.Extensions, ","))
	}

	resp, err := c.Client.ContainerCreate(ctx,
		&container.Config{
			Image: serverImage,
			Env:   env,
		},
		&container.HostConfig{
			PortBindings: nat.PortMap{containerPort: []nat.PortBinding{hostBinding}},
			Resources: container.Resources{
				Memory: int64(spec.MemoryMB) * 1024 * 1024,
			},
		},
		nil, // network config
		spec.Name,
	)
	if err != nil {
		return "", extErrors.Wrap(err, "Cannot create container")
	}

	return resp.ID, nil
}

func (c *Client) Start(ctx context.Context, ref string) error {
	if err := c.Client.ContainerStart(ctx, ref, types.ContainerStartOptions{}); err != nil {
		return c.mapError(err, "Cannot start container")
	}
	return nil
}

func (c *Client) Stop(ctx context.Context, ref string) error {
	timeout := stopGracePeriod
	if err := c.Client.ContainerStop(ctx, ref, &timeout); err != nil {
		return c.mapError(err, "Cannot stop container")
	}
	return nil
}

func (c *Client) Restart(ctx context.Context, ref string) error {
	timeout := stopGracePeriod
	if err := c.Client.ContainerRestart(ctx, ref, &timeout); err != nil {
		return c.mapError(err, "Cannot restart container")
	}
	return nil
}

func (c *Client) Remove(ctx context.Context, ref string) error {
	if err := c.Client.ContainerRemove(ctx, ref, types.ContainerRemoveOptions{
		RemoveVolumes: true,
		Force:         true,
	}); err != nil {
		return c.mapError(err, "Cannot remove container")
	}
	return nil
}

func (c *Client) IsHealthy(ctx context.Context, ref string) (bool, error) {
	inspect, err := c.Client.ContainerInspect(ctx, ref)
	if err != nil {
		return false, c.mapError(err, "Cannot inspect container")
	}
	if inspect.State == nil || !inspect.State.Running {
		return false, nil
	}
	if inspect.State.Health != nil {
		return inspect.State.Health.Status == types.Healthy, nil
	}
	return true, nil
}

func (c *Client) GetStats(ctx context.Context, ref string) (*runtime.Stats, error) {
	inspect, err := c.Client.ContainerInspect(ctx, ref)
	if err != nil {
		return nil, c.mapError(err, "Cannot inspect container")
	}

	stats := &runtime.Stats{
		OnlinePlayers: make([]string, 0),
	}

	if inspect.State != nil && inspect.State.Running {
		if startedAt, parseErr := time.Parse(time.RFC3339Nano, inspect.State.StartedAt); parseErr == nil {
			stats.Uptime = time.Since(startedAt)
		}
	}

	resp, err := c.Client.ContainerStats(ctx, ref, false)
	if err != nil {
		return nil, c.mapError(err, "Cannot get container stats")
	}
	defer resp.Body.Close()

	var v types.StatsJSON
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return nil, extErrors.Wrap(err, "Cannot decode container stats")
	}
	stats.CPUPercent = cpuPercent(&v)
	stats.MemoryBytes = v.MemoryStats.Usage

	// Player list comes from the server itself, not the engine. Probe
	// failure is not fatal: the container may still be booting.
	out, err := c.ExecuteCommand(ctx, ref, "list")
	if err == nil {
		count, names := parsePlayerList(out)
		stats.PlayerCount = count
		stats.OnlinePlayers = names
	} else {
		c.Logger.Debug("Player list probe failed",
			zap.String("ContainerID", ref),
			zap.Error(err),
		)
	}

	return stats, nil
}

func (c *Client) TailLogs(ctx context.Context, ref string, n int) ([]string, error) {
	rd, err := c.Client.ContainerLogs(ctx, ref, types.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       strconv.Itoa(n),
	})
	if err != nil {
		return nil, c.mapError(err, "Cannot get container logs")
	}
	defer rd.Close()

	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, rd); err != nil {
		return nil, extErrors.Wrap(err, "Cannot demultiplex container logs")
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return []string{}, nil
	}
	return lines, nil
}

func (c *Client) ExecuteCommand(ctx context.Context, ref string, text string) (string, error) {
	exec, err := c.Client.ContainerExecCreate(ctx, ref, types.ExecConfig{
		Cmd:          []string{"rcon-cli", text},
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return "", c.mapError(err, "Cannot create exec")
	}

	attach, err := c.Client.ContainerExecAttach(ctx, exec.ID, types.ExecStartCheck{})
	if err != nil {
		return "", extErrors.Wrap(err, "Cannot attach to exec")
	}
	defer attach.Close()

	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, attach.Reader); err != nil {
		return "", extErrors.Wrap(err, "Cannot read exec output")
	}

	inspect, err := c.Client.ContainerExecInspect(ctx, exec.ID)
	if err != nil {
		return "", extErrors.Wrap(err, "Cannot inspect exec")
	}
	output := strings.TrimSpace(buf.String())
	if inspect.ExitCode != 0 {
		return "", fmt.Errorf("command exited with status %d: %s", inspect.ExitCode, output)
	}

	return output, nil
}

func (c *Client) mapError(err error, msg string) error {
	if client.IsErrNotFound(err) {
		return runtime.ErrNotFound
	}
	return extErrors.Wrap(err, msg)
}

func cpuPercent(v *types.StatsJSON) float64 {
	cpuDelta := float64(v.CPUStats.CPUUsage.TotalUsage) - float64(v.PreCPUStats.CPUUsage.TotalUsage)
	sysDelta := float64(v.CPUStats.SystemUsage) - float64(v.PreCPUStats.SystemUsage)
	if cpuDelta <= 0 || sysDelta <= 0 {
		return 0
	}
	return cpuDelta / sysDelta * float64(len(v.CPUStats.CPUUsage.PercpuUsage)) * 100
}

// parsePlayerList extracts the player count and names from the server's
// "list" command output, e.g.
// "There are 2 of a max of 20 players online: alice, bob"
func parsePlayerList(out string) (int, []string) {
	names := make([]string, 0)
	rest, found := strings.CutPrefix(out, "There are ")
	if !found {
		return 0, names
	}
	countStr, rest, found := strings.Cut(rest, " ")
	if !found {
		return 0, names
	}
	count, err := strconv.Atoi(countStr)
	if err != nil {
		return 0, names
	}
	if _, namePart, found := strings.Cut(rest, ": "); found {
		for _, name := range strings.Split(namePart, ",") {
			if trimmed := strings.TrimSpace(name); trimmed != "" {
				names = append(names, trimmed)
			}
		}
	}
	return count, names
}
