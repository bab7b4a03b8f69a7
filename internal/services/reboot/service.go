// Package reboot restarts the host machine, escalating from a plain
// shutdown command to sudo and finally to an SSH management fallback.
package reboot

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"time"

	"github.com/Raywonder/voicelink-control/internal/models"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
)

// Service defines the interface for host restart operations.
type Service interface {
	Reboot(ctx context.Context, cfg *models.RebootConfig) (*models.RebootResult, error)
}

// CommandRunner executes a local command, for mocking.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// DefaultCommandRunner shells out via os/exec.
type DefaultCommandRunner struct{}

// Run executes the command and returns its combined output.
func (r *DefaultCommandRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// SSHClient wraps ssh.Client for mocking.
type SSHClient interface {
	NewSession() (SSHSession, error)
	Close() error
}

// SSHSession wraps ssh.Session for mocking.
type SSHSession interface {
	CombinedOutput(cmd string) ([]byte, error)
	Close() error
}

// ClientFactory creates SSH clients.
type ClientFactory interface {
	NewClient(network, addr string, config *ssh.ClientConfig) (SSHClient, error)
}

// DefaultClientFactory is the default SSH client factory.
type DefaultClientFactory struct{}

// NewClient creates a new SSH client.
func (f *DefaultClientFactory) NewClient(network, addr string, config *ssh.ClientConfig) (SSHClient, error) {
	client, err := ssh.Dial(network, addr, config)
	if err != nil {
		return nil, err
	}
	return &defaultSSHClient{client: client}, nil
}

type defaultSSHClient struct {
	client *ssh.Client
}

func (c *defaultSSHClient) NewSession() (SSHSession, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return nil, err
	}
	return &defaultSSHSession{session: session}, nil
}

func (c *defaultSSHClient) Close() error {
	return c.client.Close()
}

type defaultSSHSession struct {
	session *ssh.Session
}

func (s *defaultSSHSession) CombinedOutput(cmd string) ([]byte, error) {
	return s.session.CombinedOutput(cmd)
}

func (s *defaultSSHSession) Close() error {
	return s.session.Close()
}

// Impl implements the reboot Service interface.
type Impl struct {
	runner        CommandRunner
	clientFactory ClientFactory
	logger        zerolog.Logger
}

// New creates a new reboot service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		runner:        &DefaultCommandRunner{},
		clientFactory: &DefaultClientFactory{},
		logger:        logger,
	}
}

// NewWithClients creates a new reboot service with custom runner and SSH
// factory (for testing).
func NewWithClients(logger zerolog.Logger, runner CommandRunner, factory ClientFactory) *Impl {
	return &Impl{
		runner:        runner,
		clientFactory: factory,
		logger:        logger,
	}
}

// Reboot issues a host restart. It tries the plain shutdown command first,
// then the privileged sudo form, and finally the SSH management fallback if
// one is configured.
func (s *Impl) Reboot(ctx context.Context, cfg *models.RebootConfig) (*models.RebootResult, error) {
	result := &models.RebootResult{}

	s.logger.Info().Msg("issuing host restart")

	out, err := s.runner.Run(ctx, "shutdown", "-r", "now")
	result.Output = string(out)
	if err == nil {
		result.Method = "shutdown"
		result.CommandRun = true
		return result, nil
	}
	s.logger.Warn().Err(err).Msg("shutdown command failed, trying sudo")

	out, err = s.runner.Run(ctx, "sudo", "shutdown", "-r", "now")
	result.Output = string(out)
	if err == nil {
		result.Method = "sudo"
		result.CommandRun = true
		return result, nil
	}

	if cfg == nil {
		result.Error = fmt.Errorf("restart command failed: %w", err)
		return result, nil //nolint:nilerr // restart failures are reported in the result struct
	}

	s.logger.Warn().Err(err).Str("host", cfg.SSHHost).Msg("sudo restart failed, trying SSH fallback")
	return s.rebootOverSSH(ctx, cfg, result)
}

func (s *Impl) buildConfig(cfg *models.RebootConfig) (*ssh.ClientConfig, error) {
	key := cfg.PrivateKey
	if len(key) == 0 {
		if cfg.KeyPath == "" {
			return nil, fmt.Errorf("no private key provided")
		}
		var err error
		key, err = os.ReadFile(cfg.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key from %s: %w", cfg.KeyPath, err)
		}
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	return &ssh.ClientConfig{
		User: cfg.SSHUser,
		Auth: []ssh.AuthMethod{
			ssh.PublicKeys(signer),
		},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // management network
		Timeout:         30 * time.Second,
	}, nil
}

func (s *Impl) rebootOverSSH(ctx context.Context, cfg *models.RebootConfig, result *models.RebootResult) (*models.RebootResult, error) {
	sshConfig, err := s.buildConfig(cfg)
	if err != nil {
		result.Error = err
		return result, nil
	}

	addr := net.JoinHostPort(cfg.SSHHost, fmt.Sprintf("%d", cfg.SSHPort))

	clientChan := make(chan struct {
		client SSHClient
		err    error
	}, 1)

	go func() {
		client, err := s.clientFactory.NewClient("tcp", addr, sshConfig)
		clientChan <- struct {
			client SSHClient
			err    error
		}{client, err}
	}()

	var client SSHClient
	select {
	case <-ctx.Done():
		result.Error = ctx.Err()
		return result, nil
	case res := <-clientChan:
		if res.err != nil {
			result.Error = fmt.Errorf("failed to connect: %w", res.err)
			return result, nil
		}
		client = res.client
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		result.Error = fmt.Errorf("failed to create session: %w", err)
		return result, nil
	}
	defer session.Close()

	output, err := session.CombinedOutput("sudo shutdown -r now")
	result.Output = string(output)
	result.CommandRun = true
	result.Method = "ssh"

	if err != nil {
		// The connection often drops as the host goes down; only surface
		// context errors.
		if ctx.Err() != nil {
			result.Error = ctx.Err()
		} else {
			s.logger.Warn().Err(err).Str("output", result.Output).Msg("restart command returned error (may be expected)")
		}
	}

	return result, nil
}
