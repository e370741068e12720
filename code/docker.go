package code

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"

	cortex "github.com/nevindra/cortex"
)

// DockerRunner executes Python code in a throwaway container: stronger
// isolation than SubprocessRunner (no host filesystem, no network) at the
// cost of container startup latency. Implements cortex.CodeRunner.
type DockerRunner struct {
	cli *client.Client
	cfg runnerConfig
}

var _ cortex.CodeRunner = (*DockerRunner)(nil)

// NewDockerRunner creates a DockerRunner talking to the local Docker
// daemon (DOCKER_HOST and friends are honored via the environment).
func NewDockerRunner(opts ...Option) (*DockerRunner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker runner: %w", err)
	}
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return &DockerRunner{cli: cli, cfg: cfg}, nil
}

// Close releases the Docker client.
func (r *DockerRunner) Close() error { return r.cli.Close() }

// Run executes the code in a fresh container and tears it down afterwards.
func (r *DockerRunner) Run(ctx context.Context, req cortex.CodeRequest) (cortex.CodeResult, error) {
	timeout := r.cfg.timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	script := preludeSource + "\n" + req.Code + "\n" + postludeSource
	workdir := r.cfg.workspace
	if workdir == "" {
		workdir = "/workspace"
	}

	created, err := r.cli.ContainerCreate(ctx,
		&container.Config{
			Image:      r.cfg.image,
			Cmd:        []string{"python3", "-c", script},
			WorkingDir: workdir,
			Env:        []string{"_CORTEX_WORKSPACE=" + workdir},
		},
		&container.HostConfig{
			NetworkMode: "none",
			Resources: container.Resources{
				Memory:   512 * 1024 * 1024,
				NanoCPUs: 1_000_000_000,
			},
		},
		nil, nil, "")
	if err != nil {
		return cortex.CodeResult{}, fmt.Errorf("docker runner: create: %w", err)
	}
	defer func() {
		_ = r.cli.ContainerRemove(context.Background(), created.ID, container.RemoveOptions{Force: true})
	}()

	if err := r.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return cortex.CodeResult{}, fmt.Errorf("docker runner: start: %w", err)
	}

	exitCode := 0
	waitCh, errCh := r.cli.ContainerWait(ctx, created.ID, container.WaitConditionNotRunning)
	select {
	case status := <-waitCh:
		exitCode = int(status.StatusCode)
	case err := <-errCh:
		if ctx.Err() != nil {
			return cortex.CodeResult{
				Error:    fmt.Sprintf("execution timed out after %s", timeout),
				ExitCode: -1,
			}, nil
		}
		return cortex.CodeResult{}, fmt.Errorf("docker runner: wait: %w", err)
	}

	logs, err := r.cli.ContainerLogs(ctx, created.ID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return cortex.CodeResult{}, fmt.Errorf("docker runner: logs: %w", err)
	}
	defer logs.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdoutBuf, &stderrBuf, logs); err != nil {
		return cortex.CodeResult{}, fmt.Errorf("docker runner: demux logs: %w", err)
	}

	result := cortex.CodeResult{ExitCode: exitCode, Logs: truncate(stderrBuf.String(), r.cfg.maxOutput)}
	for _, line := range strings.Split(stdoutBuf.String(), "\n") {
		if line == "" {
			continue
		}
		var msg protocolMessage
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			continue
		}
		if msg.Type == "result" {
			data, _ := json.Marshal(msg.Data)
			result.Output = string(data)
		}
	}
	if exitCode != 0 && result.Error == "" {
		result.Error = fmt.Sprintf("exit code %d", exitCode)
	}
	return result, nil
}

// StartSandboxContainer launches a long-lived HTTP sandbox container and
// binds its service port to 127.0.0.1:hostPort, for pairing with an
// HTTPRunner. Returns the container id; the caller stops and removes it.
func StartSandboxContainer(ctx context.Context, image, containerPort, hostPort string) (string, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return "", fmt.Errorf("sandbox container: %w", err)
	}
	defer cli.Close()

	port, err := nat.NewPort("tcp", containerPort)
	if err != nil {
		return "", fmt.Errorf("sandbox container: port: %w", err)
	}
	created, err := cli.ContainerCreate(ctx,
		&container.Config{
			Image:        image,
			ExposedPorts: nat.PortSet{port: struct{}{}},
		},
		&container.HostConfig{
			PortBindings: nat.PortMap{
				port: []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: hostPort}},
			},
		},
		nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("sandbox container: create: %w", err)
	}
	if err := cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		_ = cli.ContainerRemove(context.Background(), created.ID, container.RemoveOptions{Force: true})
		return "", fmt.Errorf("sandbox container: start: %w", err)
	}
	return created.ID, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "\n... (truncated)"
}
