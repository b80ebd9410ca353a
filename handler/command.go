package handler

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/Zereker/framesock"
)

const defaultCommandTimeout = 10 * time.Second

// Command runs request values through a shell and answers with their output.
//
// The command runs on the event loop goroutine, so every other connection
// waits for it. Timeout bounds that wait.
type Command struct {
	Shell   string
	Timeout time.Duration
}

// NewCommand returns a Command using /bin/sh and the default timeout.
func NewCommand() *Command {
	return &Command{Shell: "sh", Timeout: defaultCommandTimeout}
}

// Run executes line with "<shell> -c" and returns its standard output.
func (c *Command) Run(line string) (string, error) {
	if strings.TrimSpace(line) == "" {
		return "", errors.New("empty command")
	}

	shell := c.Shell
	if shell == "" {
		shell = "sh"
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, shell, "-c", line)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// children of the shell may keep the output pipes open after it is killed
	cmd.WaitDelay = time.Second

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", errors.Wrapf(ctx.Err(), "command %q", line)
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", errors.Wrapf(err, "command %q: %s", line, msg)
		}
		return "", errors.Wrapf(err, "command %q", line)
	}

	return stdout.String(), nil
}

// Serve answers a cmd request with {"result": <stdout>}. A failing command is
// returned as an error and reaches the peer as an error result.
func (c *Command) Serve(req *framesock.Message) (*framesock.Message, error) {
	line, _ := req.Field("value")
	out, err := c.Run(line)
	if err != nil {
		return nil, err
	}
	return framesock.NewResultMessage(out), nil
}
