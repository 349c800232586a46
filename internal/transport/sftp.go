package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"path"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

const dialTimeout = 15 * time.Second

// SFTPClient is the primary client: pure Go, no runtime dependencies.
type SFTPClient struct {
	creds  CredentialSource
	conn   *ssh.Client
	client *sftp.Client
}

func NewSFTPClient(creds CredentialSource) *SFTPClient {
	return &SFTPClient{creds: creds}
}

func (c *SFTPClient) Connect(ctx context.Context) error {
	if c.client != nil {
		return nil
	}
	creds, err := c.creds()
	if err != nil {
		return &TransportError{Op: "connect", Reason: err.Error()}
	}
	defer wipe(creds.Password)

	hostKeys, err := hostKeyCallback(creds)
	if err != nil {
		return err
	}
	cfg := &ssh.ClientConfig{
		User: creds.User,
		Auth: []ssh.AuthMethod{
			ssh.Password(string(creds.Password)),
		},
		HostKeyCallback: hostKeys,
		Timeout:         dialTimeout,
	}

	addr := net.JoinHostPort(creds.Host, fmt.Sprintf("%d", creds.Port))
	dialer := net.Dialer{Timeout: dialTimeout}
	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return &TransportError{Op: "connect", Reason: err.Error()}
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, addr, cfg)
	if err != nil {
		netConn.Close()
		return &TransportError{Op: "connect", Reason: err.Error()}
	}
	c.conn = ssh.NewClient(sshConn, chans, reqs)

	client, err := sftp.NewClient(c.conn)
	if err != nil {
		c.conn.Close()
		c.conn = nil
		return &TransportError{Op: "connect", Reason: err.Error()}
	}
	c.client = client
	return nil
}

// hostKeyCallback pins the processor's host key when one is provisioned.
// Skipping verification is an explicit opt-in, never the silent default.
func hostKeyCallback(creds Credentials) (ssh.HostKeyCallback, error) {
	if len(creds.HostKey) > 0 {
		key, _, _, _, err := ssh.ParseAuthorizedKey(creds.HostKey)
		if err != nil {
			return nil, &TransportError{Op: "connect", Reason: "parse pinned host key: " + err.Error()}
		}
		return ssh.FixedHostKey(key), nil
	}
	if creds.InsecureSkipVerify {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	return nil, &TransportError{
		Op:     "connect",
		Reason: "no pinned host key; set SFTP_HOST_KEY or opt in with SFTP_INSECURE_SKIP_VERIFY",
	}
}

func (c *SFTPClient) Disconnect() error {
	if c.client != nil {
		c.client.Close()
		c.client = nil
	}
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

func (c *SFTPClient) IsConnected() bool {
	return c.client != nil
}

func (c *SFTPClient) TestConnection(ctx context.Context) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}
	defer c.Disconnect()
	if _, err := c.client.Getwd(); err != nil {
		return &TransportError{Op: "test_connection", Reason: err.Error()}
	}
	return nil
}

// Upload truncates any existing remote file of the same name, so a
// retried upload overwrites instead of duplicating.
func (c *SFTPClient) Upload(ctx context.Context, dir, name string, data []byte) error {
	if err := c.ensure(ctx, "upload"); err != nil {
		return err
	}
	f, err := c.client.Create(path.Join(dir, name))
	if err != nil {
		return &TransportError{Op: "upload", Reason: err.Error()}
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return &TransportError{Op: "upload", Reason: err.Error()}
	}
	return nil
}

func (c *SFTPClient) Download(ctx context.Context, dir, name string) ([]byte, error) {
	if err := c.ensure(ctx, "download"); err != nil {
		return nil, err
	}
	f, err := c.client.Open(path.Join(dir, name))
	if err != nil {
		return nil, &TransportError{Op: "download", Reason: err.Error()}
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, &TransportError{Op: "download", Reason: err.Error()}
	}
	return data, nil
}

func (c *SFTPClient) List(ctx context.Context, dir string) ([]string, error) {
	if err := c.ensure(ctx, "list"); err != nil {
		return nil, err
	}
	infos, err := c.client.ReadDir(dir)
	if err != nil {
		return nil, &TransportError{Op: "list", Reason: err.Error()}
	}
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		if !info.IsDir() {
			names = append(names, info.Name())
		}
	}
	return names, nil
}

func (c *SFTPClient) Exists(ctx context.Context, dir, name string) (bool, error) {
	if err := c.ensure(ctx, "exists"); err != nil {
		return false, err
	}
	_, err := c.client.Stat(path.Join(dir, name))
	if err != nil {
		return false, nil
	}
	return true, nil
}

func (c *SFTPClient) Delete(ctx context.Context, dir, name string) error {
	if err := c.ensure(ctx, "delete"); err != nil {
		return err
	}
	if err := c.client.Remove(path.Join(dir, name)); err != nil {
		return &TransportError{Op: "delete", Reason: err.Error()}
	}
	return nil
}

func (c *SFTPClient) ensure(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return &TransportError{Op: op, Reason: err.Error()}
	}
	if c.client == nil {
		return &TransportError{Op: op, Reason: "not connected"}
	}
	return nil
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
