package torchrunner

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/vlmbench/llava-runner/pkg/logging"
	"github.com/vlmbench/llava-runner/pkg/sandbox"
	"github.com/vlmbench/llava-runner/pkg/tailbuffer"
)

// stderrTailSize bounds how much runner output is retained for crash
// reports.
const stderrTailSize = 2048

// healthPollInterval is the delay between health probes during startup.
const healthPollInterval = 250 * time.Millisecond

// Runner supervises the sidecar inference process and owns the Client
// talking to it.
type Runner struct {
	log    logging.Logger
	config Config
	client *Client

	box     sandbox.Sandbox
	tail    *tailbuffer.Buffer
	logPipe *io.PipeWriter
	exited  chan error
}

// Start launches the runner process and blocks until its health endpoint
// answers or the startup timeout elapses. The serverLog logger receives
// the process output line by line.
func Start(ctx context.Context, log, serverLog logging.Logger, config Config) (*Runner, error) {
	args, err := config.Args()
	if err != nil {
		return nil, err
	}
	log.Infof("Starting inference runner: %s %s", config.Python, strings.Join(args, " "))

	tail := tailbuffer.New(stderrTailSize)
	logPipe := serverLog.Writer()
	out := io.MultiWriter(logPipe, tail)
	box, err := sandbox.Create(
		ctx,
		sandbox.ConfigurationInference,
		func(command *exec.Cmd) {
			command.Cancel = func() error {
				if runtime.GOOS == "windows" {
					return command.Process.Kill()
				}
				return command.Process.Signal(os.Interrupt)
			}
			command.Stdout = logPipe
			command.Stderr = out
		},
		filepath.Dir(config.Python),
		config.Python,
		args...,
	)
	if err != nil {
		logPipe.Close()
		return nil, fmt.Errorf("unable to start inference runner: %w", err)
	}

	r := &Runner{
		log:     log,
		config:  config,
		client:  NewClient(config.BaseURL()),
		box:     box,
		tail:    tail,
		logPipe: logPipe,
		exited:  make(chan error, 1),
	}
	go func() {
		waitErr := box.Command().Wait()
		logPipe.Close()
		if tailOutput := tail.String(); tailOutput != "" {
			waitErr = fmt.Errorf("runner exit status: %w\nwith output: %s", waitErr, tailOutput)
		} else {
			waitErr = fmt.Errorf("runner exit status: %w", waitErr)
		}
		r.exited <- waitErr
		close(r.exited)
	}()

	if err := r.awaitHealthy(ctx); err != nil {
		r.Close()
		return nil, err
	}
	log.Infof("Inference runner healthy at %s", config.BaseURL())
	return r, nil
}

// Client returns the API client bound to the running process.
func (r *Runner) Client() *Client {
	return r.client
}

// Exited is closed when the runner process terminates; it yields the wait
// error, annotated with the tail of the process output.
func (r *Runner) Exited() <-chan error {
	return r.exited
}

// Close terminates the runner process and waits for it to exit.
func (r *Runner) Close() error {
	err := r.box.Close()
	<-r.exited
	return err
}

// awaitHealthy polls the health endpoint until it answers, the configured
// timeout elapses, or the process exits.
func (r *Runner) awaitHealthy(ctx context.Context) error {
	timeout := r.config.StartupTimeout
	if timeout <= 0 {
		timeout = DefaultStartupTimeout
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(healthPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case exitErr := <-r.exited:
			return fmt.Errorf("inference runner terminated during startup: %w", exitErr)
		case <-deadline.C:
			return fmt.Errorf("inference runner not healthy after %s", timeout)
		case <-ticker.C:
			if err := r.client.Health(ctx); err == nil {
				return nil
			}
		}
	}
}
