package probe

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/nas-panel/telemetry-publisher/internal/config"
	"github.com/nas-panel/telemetry-publisher/internal/transform"
)

// commandTimeout bounds how long a command probe may run before it is
// killed and reported as an error (spec: "per-sample timeout, default 3s").
const commandTimeout = 3 * time.Second

// fileProbe reads a file's contents whole, grounded on custom_collector.py's
// _collect_from_file.
type fileProbe struct {
	cfg config.CustomCollectorConfig
}

func (p *fileProbe) Name() string { return p.cfg.Name }
func (p *fileProbe) Kind() string { return "file" }

func (p *fileProbe) Sample() (any, string, error) {
	data, err := os.ReadFile(p.cfg.Path)
	if err != nil {
		return nil, "", err
	}
	v, err := transform.Apply(p.cfg.Transform, string(data), p.cfg.Scale, p.cfg.Pattern)
	if err != nil {
		return nil, "", err
	}
	return v, p.cfg.Unit, nil
}

// commandProbe runs a shell command and captures stdout, grounded on
// custom_collector.py's _collect_from_command.
type commandProbe struct {
	cfg config.CustomCollectorConfig
}

func (p *commandProbe) Name() string { return p.cfg.Name }
func (p *commandProbe) Kind() string { return "command" }

func (p *commandProbe) Sample() (any, string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", p.cfg.Command)
	out, err := cmd.Output()
	if ctx.Err() == context.DeadlineExceeded {
		return nil, "", fmt.Errorf("command %q timed out after %s", p.cfg.Command, commandTimeout)
	}
	if err != nil {
		return nil, "", fmt.Errorf("command %q failed: %w", p.cfg.Command, err)
	}

	v, err := transform.Apply(p.cfg.Transform, string(out), p.cfg.Scale, p.cfg.Pattern)
	if err != nil {
		return nil, "", err
	}
	return v, p.cfg.Unit, nil
}

// envProbe reads an environment variable, grounded on
// custom_collector.py's _collect_from_env.
type envProbe struct {
	cfg config.CustomCollectorConfig
}

func (p *envProbe) Name() string { return p.cfg.Name }
func (p *envProbe) Kind() string { return "env" }

func (p *envProbe) Sample() (any, string, error) {
	value, ok := os.LookupEnv(p.cfg.EnvVar)
	if !ok {
		// _collect_from_env falls back to the configured default before
		// raising; only an unset variable with no default is an error.
		if p.cfg.Default == "" {
			return nil, "", fmt.Errorf("environment variable %q not set and no default configured", p.cfg.EnvVar)
		}
		value = p.cfg.Default
	}
	v, err := transform.Apply(p.cfg.Transform, value, p.cfg.Scale, p.cfg.Pattern)
	if err != nil {
		return nil, "", err
	}
	return v, p.cfg.Unit, nil
}

// NewCustomProbe builds the CustomProbe matching cfg.Type. config.Validate
// already rejects unrecognised types before this is ever called.
func NewCustomProbe(cfg config.CustomCollectorConfig) (CustomProbe, error) {
	switch cfg.Type {
	case "file":
		return &fileProbe{cfg: cfg}, nil
	case "command":
		return &commandProbe{cfg: cfg}, nil
	case "env":
		return &envProbe{cfg: cfg}, nil
	default:
		return nil, fmt.Errorf("unknown custom probe type %q", cfg.Type)
	}
}
