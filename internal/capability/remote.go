package capability

import (
	"context"
	"fmt"
	"net"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/sweeney/ups-guardian/internal/config"
)

// RemoteShutdown invokes a peer's shutdown command over a secure shell
// (spec §4.6 stage 6).
type RemoteShutdown interface {
	Shutdown(ctx context.Context, peer config.RemoteServerConfig, privateKeyPEM []byte) error
}

// SSHRemoteShutdown dials each peer directly with golang.org/x/crypto/ssh
// rather than shelling out, since spec §6 specifies this stage as invoking
// "its shutdown command over a secure shell" — a typed client lets connect
// and command timeouts be enforced independently, which an opaque `ssh`
// subprocess would not give us cleanly.
type SSHRemoteShutdown struct{}

// Shutdown connects to peer, runs its configured shutdown command, and
// disconnects. peer.Options is not read: none of the configured SSH options
// is applied to the client config or the session (DESIGN.md).
func (SSHRemoteShutdown) Shutdown(ctx context.Context, peer config.RemoteServerConfig, privateKeyPEM []byte) error {
	signer, err := ssh.ParsePrivateKey(privateKeyPEM)
	if err != nil {
		return fmt.Errorf("parsing private key for %s: %w", peer.Name, err)
	}

	clientConfig := &ssh.ClientConfig{
		User:            peer.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // peer host keys are not distributed out of band
		Timeout:         peer.ConnectTimeout.Duration,
	}

	addr := net.JoinHostPort(peer.Host, fmt.Sprintf("%d", peer.Port))
	dialer := net.Dialer{Timeout: peer.ConnectTimeout.Duration}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dialing %s (%s): %w", peer.Name, addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, clientConfig)
	if err != nil {
		conn.Close()
		return fmt.Errorf("establishing SSH session with %s: %w", peer.Name, err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("opening SSH session on %s: %w", peer.Name, err)
	}
	defer session.Close()

	done := make(chan error, 1)
	go func() {
		done <- session.Run(peer.ShutdownCommand)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("running shutdown command on %s: %w", peer.Name, err)
		}
		return nil
	case <-time.After(peer.CommandTimeout.Duration):
		return fmt.Errorf("shutdown command on %s timed out after %s", peer.Name, peer.CommandTimeout.Duration)
	case <-ctx.Done():
		return ctx.Err()
	}
}
