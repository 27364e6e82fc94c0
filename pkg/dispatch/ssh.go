// Copyright 2026 The Plugship Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHDialerConfig configures SSH transport to build hosts.
type SSHDialerConfig struct {
	User string
	// KeyFile is the PEM-encoded private key used for auth.
	KeyFile string
	// KnownHostsFile verifies host identities. Empty disables verification,
	// which is acceptable only for hosts on a trusted build network.
	KnownHostsFile string
}

// NewSSHDialer creates a Dialer that opens SSH sessions.
func NewSSHDialer(config SSHDialerConfig) (Dialer, error) {
	key, err := os.ReadFile(config.KeyFile)
	if err != nil {
		return nil, errors.Wrap(err, "reading ssh key")
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, errors.Wrap(err, "parsing ssh key")
	}
	clientConfig := &ssh.ClientConfig{
		User: config.User,
		Auth: []ssh.AuthMethod{ssh.PublicKeys(signer)},
	}
	if config.KnownHostsFile != "" {
		callback, err := knownhosts.New(config.KnownHostsFile)
		if err != nil {
			return nil, errors.Wrap(err, "loading known hosts")
		}
		clientConfig.HostKeyCallback = callback
	} else {
		clientConfig.HostKeyCallback = ssh.InsecureIgnoreHostKey()
	}
	return &sshDialer{config: clientConfig}, nil
}

type sshDialer struct {
	config *ssh.ClientConfig
}

func (d *sshDialer) Dial(ctx context.Context, host string) (Session, error) {
	client, err := ssh.Dial("tcp", host, d.config)
	if err != nil {
		return nil, errors.Wrapf(err, "dialing %s", host)
	}
	return &sshSession{client: client}, nil
}

// sshSession implements Session over one ssh client connection. File
// transfer rides plain exec sessions so hosts need no extra subsystem.
type sshSession struct {
	client *ssh.Client
}

func (s *sshSession) Push(ctx context.Context, remote string, mode os.FileMode, r io.Reader) error {
	sess, err := s.client.NewSession()
	if err != nil {
		return errors.Wrap(err, "opening session")
	}
	defer sess.Close()
	sess.Stdin = r
	command := fmt.Sprintf("cat > %q && chmod %o %q", remote, mode.Perm(), remote)
	return errors.Wrapf(s.runWithContext(ctx, sess, command), "pushing %s", remote)
}

func (s *sshSession) Run(ctx context.Context, command string, output io.Writer) error {
	sess, err := s.client.NewSession()
	if err != nil {
		return errors.Wrap(err, "opening session")
	}
	defer sess.Close()
	if output != nil {
		sess.Stdout = output
		sess.Stderr = output
	}
	return s.runWithContext(ctx, sess, command)
}

func (s *sshSession) Pull(ctx context.Context, remote string, w io.Writer) error {
	sess, err := s.client.NewSession()
	if err != nil {
		return errors.Wrap(err, "opening session")
	}
	defer sess.Close()
	sess.Stdout = w
	command := fmt.Sprintf("cat %q", remote)
	return errors.Wrapf(s.runWithContext(ctx, sess, command), "pulling %s", remote)
}

func (s *sshSession) Close() error {
	return s.client.Close()
}

// runWithContext bridges context cancellation onto an ssh session, which
// has no native context support.
func (s *sshSession) runWithContext(ctx context.Context, sess *ssh.Session, command string) error {
	done := make(chan error, 1)
	go func() { done <- sess.Run(command) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		sess.Signal(ssh.SIGKILL)
		sess.Close()
		return ctx.Err()
	}
}
