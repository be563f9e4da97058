// Command sshcopy copies files to and runs commands on remote hosts,
// authenticating through the local ssh agent.
package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/google/shlex"
	"github.com/ruffel/sshwait"
	"github.com/ruffel/sshwait/engine/gossh"
	"github.com/spf13/cobra"
)

var (
	// CLI Flags.
	configAlias string
	knownHosts  string
	insecure    bool
	timeout     time.Duration
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "sshcopy",
		Short: "Copy files and run commands over SSH",
	}

	rootCmd.PersistentFlags().StringVar(&configAlias, "ssh-config-alias", "", "resolve the address from an OpenSSH config alias")
	rootCmd.PersistentFlags().StringVar(&knownHosts, "known-hosts", "", "known_hosts file for host key verification")
	rootCmd.PersistentFlags().BoolVar(&insecure, "insecure", false, "skip host key verification")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "overall operation timeout")

	putCmd := &cobra.Command{
		Use:   "put <addr> <user> <local> <remote>",
		Short: "Upload a local file via SCP",
		Args:  cobra.ExactArgs(4),
		RunE: func(_ *cobra.Command, args []string) error {
			return runPut(args[0], args[1], args[2], args[3])
		},
	}

	runCmd := &cobra.Command{
		Use:   "run <addr> <user> <command>",
		Short: "Run a command on the remote host",
		Args:  cobra.ExactArgs(3),
		RunE: func(_ *cobra.Command, args []string) error {
			return runExec(args[0], args[1], args[2])
		},
	}

	rootCmd.AddCommand(putCmd, runCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// connect dials, handshakes and authenticates a session using every
// identity the local agent offers.
func connect(ctx context.Context, addr, user string) (*sshwait.Session, error) {
	if configAlias != "" {
		entry, err := gossh.ResolveHost(configAlias, "")
		if err != nil {
			return nil, err
		}

		addr = entry.Addr()

		if entry.User != "" {
			user = entry.User
		}
	}

	engine := gossh.New(gossh.Config{
		KnownHostsPath:     knownHosts,
		InsecureSkipVerify: insecure,
	})

	session, err := sshwait.Dial(ctx, addr, engine, sshwait.WithTimeout(timeout))
	if err != nil {
		return nil, err
	}

	if err := session.Handshake(ctx); err != nil {
		return nil, err
	}

	if err := session.UserauthAgentTryAll(ctx, user); err != nil {
		return nil, err
	}

	if !session.Authenticated() {
		if last := session.LastError(); last != nil {
			return nil, fmt.Errorf("authentication failed: %w", last)
		}

		return nil, fmt.Errorf("authentication failed for %q", user)
	}

	return session, nil
}

func runPut(addr, user, localPath, remotePath string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}

	info, err := os.Stat(localPath)
	if err != nil {
		return err
	}

	session, err := connect(ctx, addr, user)
	if err != nil {
		return err
	}
	defer func() {
		_ = session.Disconnect(ctx, sshwait.DisconnectByApplication, "done", "")
	}()

	mode := info.Mode().Perm()
	if mode == 0 {
		mode = fs.FileMode(0o644)
	}

	channel, err := session.ScpSend(ctx, remotePath, mode, int64(len(data)), nil)
	if err != nil {
		return err
	}

	if err := channel.WriteAll(ctx, data); err != nil {
		_ = channel.Close(ctx)

		return err
	}

	if err := channel.Close(ctx); err != nil {
		return err
	}

	fmt.Printf("uploaded %s (%d bytes) to %s\n", localPath, len(data), remotePath)

	return nil
}

func runExec(addr, user, command string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// Validate shell syntax early, before dialing anything.
	if _, err := shlex.Split(command); err != nil {
		return fmt.Errorf("parse command: %w", err)
	}

	session, err := connect(ctx, addr, user)
	if err != nil {
		return err
	}
	defer func() {
		_ = session.Disconnect(ctx, sshwait.DisconnectByApplication, "done", "")
	}()

	channel, err := session.ChannelSession(ctx)
	if err != nil {
		return err
	}

	if err := channel.Exec(ctx, command); err != nil {
		_ = channel.Close(ctx)

		return err
	}

	output, err := channel.ReadAll(ctx)
	if err != nil {
		_ = channel.Close(ctx)

		return err
	}

	os.Stdout.Write(output)

	if err := channel.Close(ctx); err != nil {
		return err
	}

	status, err := channel.ExitStatus()
	if err != nil {
		return err
	}

	if status != 0 {
		return fmt.Errorf("remote command exited with status %d", status)
	}

	return nil
}
