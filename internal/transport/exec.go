package transport

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"
)

// ExecClient drives the system sftp binary in batch mode. It exists for
// environments that mandate the platform's ssh stack over an in-process
// client.
type ExecClient struct {
	creds     CredentialSource
	binary    string
	connected bool
	host      string
	port      int
	user      string
}

func NewExecClient(creds CredentialSource, binary string) *ExecClient {
	return &ExecClient{creds: creds, binary: binary}
}

// Connect resolves credentials and verifies the endpoint answers. The
// password itself is never kept; batch-mode sessions authenticate via
// the ambient ssh agent or key material.
func (c *ExecClient) Connect(ctx context.Context) error {
	creds, err := c.creds()
	if err != nil {
		return &TransportError{Op: "connect", Reason: err.Error()}
	}
	wipe(creds.Password)
	c.host = creds.Host
	c.port = creds.Port
	c.user = creds.User
	if err := c.run(ctx, "connect", "pwd"); err != nil {
		return err
	}
	c.connected = true
	return nil
}

func (c *ExecClient) Disconnect() error {
	c.connected = false
	return nil
}

func (c *ExecClient) IsConnected() bool {
	return c.connected
}

func (c *ExecClient) TestConnection(ctx context.Context) error {
	return c.run(ctx, "test_connection", "pwd")
}

func (c *ExecClient) Upload(ctx context.Context, dir, name string, data []byte) error {
	if !c.connected {
		return &TransportError{Op: "upload", Reason: "not connected"}
	}
	tmp, err := os.CreateTemp("", "ach-upload-*")
	if err != nil {
		return &TransportError{Op: "upload", Reason: err.Error()}
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return &TransportError{Op: "upload", Reason: err.Error()}
	}
	tmp.Close()
	return c.run(ctx, "upload", fmt.Sprintf("put %s %s", tmp.Name(), path.Join(dir, name)))
}

func (c *ExecClient) Download(ctx context.Context, dir, name string) ([]byte, error) {
	if !c.connected {
		return nil, &TransportError{Op: "download", Reason: "not connected"}
	}
	tmpDir, err := os.MkdirTemp("", "ach-download-*")
	if err != nil {
		return nil, &TransportError{Op: "download", Reason: err.Error()}
	}
	defer os.RemoveAll(tmpDir)
	local := filepath.Join(tmpDir, name)
	if err := c.run(ctx, "download", fmt.Sprintf("get %s %s", path.Join(dir, name), local)); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(local)
	if err != nil {
		return nil, &TransportError{Op: "download", Reason: err.Error()}
	}
	return data, nil
}

func (c *ExecClient) List(ctx context.Context, dir string) ([]string, error) {
	if !c.connected {
		return nil, &TransportError{Op: "list", Reason: "not connected"}
	}
	out, err := c.output(ctx, "list", "ls -1 "+dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "sftp>") {
			continue
		}
		names = append(names, path.Base(line))
	}
	return names, nil
}

func (c *ExecClient) Exists(ctx context.Context, dir, name string) (bool, error) {
	names, err := c.List(ctx, dir)
	if err != nil {
		return false, err
	}
	for _, n := range names {
		if n == name {
			return true, nil
		}
	}
	return false, nil
}

func (c *ExecClient) Delete(ctx context.Context, dir, name string) error {
	if !c.connected {
		return &TransportError{Op: "delete", Reason: "not connected"}
	}
	return c.run(ctx, "delete", "rm "+path.Join(dir, name))
}

func (c *ExecClient) run(ctx context.Context, op, command string) error {
	_, err := c.output(ctx, op, command)
	return err
}

func (c *ExecClient) output(ctx context.Context, op, command string) (string, error) {
	target := fmt.Sprintf("%s@%s", c.user, c.host)
	cmd := exec.CommandContext(ctx, c.binary,
		"-b", "-",
		"-P", fmt.Sprintf("%d", c.port),
		"-o", "BatchMode=yes",
		target)
	cmd.Stdin = strings.NewReader(command + "\n")
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", &TransportError{Op: op, Reason: fmt.Sprintf("%v: %s", err, strings.TrimSpace(string(out)))}
	}
	return string(out), nil
}
