// ABOUTME: Builds backend process commands and the privileged kill invocation
// ABOUTME: Optionally switches identity with a sudo-style command

package backend

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/2389/warden-gateway/internal/config"
)

// Launcher creates backend commands and kills backend processes.
type Launcher interface {
	// Command returns an unstarted command running the backend for username on port.
	// The command must pass secret to the backend.
	Command(username string, port int, secret string) *exec.Cmd
	// Kill terminates pid, running as username where a privilege switch is configured.
	Kill(ctx context.Context, username string, pid int) error
}

// CommandLauncher launches the configured process command, through the configured
// privilege switch when one is set.
type CommandLauncher struct {
	cfg config.BackendConfig
}

// NewCommandLauncher creates a launcher for cfg.
func NewCommandLauncher(cfg config.BackendConfig) *CommandLauncher {
	return &CommandLauncher{cfg: cfg}
}

// Command builds:
//
//	[sudo -u <user> --preserve-env=<env>] <process> -port <port> -root <root> -base <base> [extra...]
func (l *CommandLauncher) Command(username string, port int, secret string) *exec.Cmd {
	args := []string{"-port", strconv.Itoa(port)}
	if l.cfg.RootFolderTemplate != "" {
		args = append(args, "-root", expandUsername(l.cfg.RootFolderTemplate, username))
	}
	if l.cfg.BaseFolderTemplate != "" {
		args = append(args, "-base", expandUsername(l.cfg.BaseFolderTemplate, username))
	}
	args = append(args, l.cfg.AdditionalArgs...)

	name := l.cfg.ProcessCommand
	if l.cfg.SudoCommand != "" {
		args = append([]string{"-u", username, "--preserve-env=" + l.cfg.AuthTokenEnv, l.cfg.ProcessCommand}, args...)
		name = l.cfg.SudoCommand
	}

	cmd := exec.Command(name, args...)
	cmd.Env = append(os.Environ(), l.cfg.AuthTokenEnv+"="+secret)
	return cmd
}

// Kill runs [sudo -u <user>] <kill_command> <pid> and waits for it.
func (l *CommandLauncher) Kill(ctx context.Context, username string, pid int) error {
	name := l.cfg.KillCommand
	args := []string{strconv.Itoa(pid)}
	if l.cfg.SudoCommand != "" {
		args = append([]string{"-u", username, l.cfg.KillCommand}, args...)
		name = l.cfg.SudoCommand
	}

	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %v: %s", ErrProcessKill, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// expandUsername substitutes the username placeholder in a folder template.
func expandUsername(tpl, username string) string {
	return strings.NewReplacer("{username}", username, "<username>", username).Replace(tpl)
}
