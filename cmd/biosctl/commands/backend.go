package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/openfroyo/biosctl/pkg/channels"
	"github.com/openfroyo/biosctl/pkg/transports/ssh"
)

// backendOptions select how vendor tool commands are run.
type backendOptions struct {
	sshHost     string
	sshPort     int
	sshUser     string
	sshKey      string
	sshProxy    string
	sshSudo     bool
	knownHosts  string
	insecure    bool
	callTimeout time.Duration
}

func (b *backendOptions) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&b.sshHost, "ssh-host", "", "run vendor tools on this management host over SSH")
	flags.IntVar(&b.sshPort, "ssh-port", 22, "SSH port")
	flags.StringVar(&b.sshUser, "ssh-user", "root", "SSH user")
	flags.StringVar(&b.sshKey, "ssh-key", "", "SSH private key (password from BIOSCTL_SSH_PASSWORD otherwise)")
	flags.StringVar(&b.sshProxy, "ssh-proxy", "", "jump host")
	flags.BoolVar(&b.sshSudo, "ssh-sudo", false, "run remote commands with sudo")
	flags.StringVar(&b.knownHosts, "known-hosts", "", "known_hosts file (default ~/.ssh/known_hosts)")
	flags.BoolVar(&b.insecure, "insecure-host-key", false, "skip SSH host key verification")
	flags.DurationVar(&b.callTimeout, "call-timeout", 0, "timeout for a single backend call (0 uses the default)")
}

// connection is a command runner plus the resources it holds.
type connection struct {
	runner   channels.CommandRunner
	uploader channels.Uploader
	close    func()
}

// connect opens a runner. Each call returns an independent connection.
func (b *backendOptions) connect(ctx context.Context, logger zerolog.Logger) (*connection, error) {
	if b.sshHost == "" {
		return &connection{
			runner: &channels.LocalRunner{Logger: logger},
			close:  func() {},
		}, nil
	}

	cfg := ssh.DefaultConfig(b.sshHost, b.sshUser)
	cfg.Port = b.sshPort
	cfg.Sudo = b.sshSudo
	if b.sshKey != "" {
		cfg.AuthMethod = ssh.AuthMethodKey
		cfg.PrivateKeyPath = b.sshKey
	} else {
		cfg.AuthMethod = ssh.AuthMethodPassword
		cfg.Password = os.Getenv("BIOSCTL_SSH_PASSWORD")
	}
	if b.knownHosts != "" {
		cfg.KnownHostsPath = b.knownHosts
	}
	cfg.StrictHostKeyChecking = !b.insecure
	if b.sshProxy != "" {
		cfg.ProxyHost = b.sshProxy
		cfg.ProxyUser = b.sshUser
		cfg.ProxyPrivateKeyPath = b.sshKey
	}

	client, err := ssh.NewSSHClient(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", b.sshHost, err)
	}
	return &connection{
		runner:   channels.NewSSHRunner(client),
		uploader: client,
		close: func() {
			if err := client.Disconnect(); err != nil {
				logger.Debug().Err(err).Msg("SSH disconnect failed")
			}
		},
	}, nil
}
