package sandbox

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"strings"
)

// ConfigurationInference is the sandbox configuration for inference runner
// processes.
const ConfigurationInference = `(version 1)

;;; Keep a default allow policy (encoding things like DYLD support and
;;; device access is quite difficult), but deny critical exploitation
;;; targets. The runner only needs to read checkpoints, bind a loopback
;;; port, and write into its working directory.
(allow default)

;;; Deny network access, except loopback for the runner's HTTP endpoint.
(deny network*)
(allow network-bind network-inbound network-outbound
    (local ip "localhost:*"))

;;; Deny access to the camera and microphone.
(deny device*)

;;; Deny access to NVRAM settings.
(deny nvram*)

;;; Deny access to system-level privileges.
(deny system*)

;;; Deny access to job creation.
(deny job-creation)

;;; Disable access to user preferences.
(deny user-preference*)

;;; Restrict file access: checkpoints and the working directory only,
;;; beyond the toolchain directories the interpreter needs.
(deny file-write*)
(deny file-read*
    (subpath "/Applications")
    (subpath "/private/etc")
    (subpath "/Library")
    (subpath "/Users")
    (subpath "/Volumes"))
(allow file-read* file-map-executable
    (subpath "/usr")
    (subpath "/System")
    (subpath "[BINDIR]"))
(allow file-write*
    (literal "/dev/null")
    (subpath "/private/var")
    (subpath "[WORKDIR]"))
(allow file-read*
    (subpath "[HOMEDIR]/.cache")
    (subpath "[WORKDIR]"))
`

// sandbox is the Darwin sandbox implementation.
type sandbox struct {
	// cancel cancels the context associated with the process.
	cancel context.CancelFunc
	// command is the sandboxed process handle.
	command *exec.Cmd
}

// Command implements Sandbox.Command.
func (s *sandbox) Command() *exec.Cmd {
	return s.command
}

// Close implements Sandbox.Close.
func (s *sandbox) Close() error {
	s.cancel()
	return nil
}

// Create creates a sandbox containing a single process that has been
// started. The ctx, name, and arg arguments correspond to their
// counterparts in os/exec.CommandContext. The configuration argument
// specifies the sandbox configuration, for which a pre-defined value
// should be used; binDir is substituted into its executable allowances.
// The modifier function allows an optional callback (which may be nil) to
// configure the command before it is started.
func Create(ctx context.Context, configuration string, modifier func(*exec.Cmd), binDir, name string, arg ...string) (Sandbox, error) {
	currentUser, err := user.Current()
	if err != nil {
		return nil, fmt.Errorf("unable to lookup user: %w", err)
	}
	currentDirectory, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("unable to determine working directory: %w", err)
	}

	// Process template arguments in the configuration. We should switch to
	// text/template if this gets any more complex.
	profile := strings.ReplaceAll(configuration, "[HOMEDIR]", currentUser.HomeDir)
	profile = strings.ReplaceAll(profile, "[WORKDIR]", currentDirectory)
	profile = strings.ReplaceAll(profile, "[BINDIR]", binDir)

	ctx, cancel := context.WithCancel(ctx)

	sandboxedArgs := make([]string, 0, len(arg)+3)
	sandboxedArgs = append(sandboxedArgs, "-p", profile, name)
	sandboxedArgs = append(sandboxedArgs, arg...)
	command := exec.CommandContext(ctx, "sandbox-exec", sandboxedArgs...)
	if modifier != nil {
		modifier(command)
	}

	if err := command.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("unable to start sandboxed process: %w", err)
	}
	return &sandbox{
		cancel:  cancel,
		command: command,
	}, nil
}
