package transport

import "context"

const unavailableMsg = "no transport endpoint configured: set SFTP_HOST, SFTP_USER and the vaulted password, then restart"

// UnavailableClient fails every call fast instead of silently no-opping.
type UnavailableClient struct{}

func NewUnavailableClient() *UnavailableClient {
	return &UnavailableClient{}
}

func (c *UnavailableClient) err(op string) *TransportError {
	return &TransportError{Op: op, Reason: unavailableMsg}
}

func (c *UnavailableClient) Connect(ctx context.Context) error { return c.err("connect") }
func (c *UnavailableClient) Disconnect() error                 { return nil }
func (c *UnavailableClient) IsConnected() bool                 { return false }

func (c *UnavailableClient) TestConnection(ctx context.Context) error {
	return c.err("test_connection")
}

func (c *UnavailableClient) Upload(ctx context.Context, dir, name string, data []byte) error {
	return c.err("upload")
}

func (c *UnavailableClient) Download(ctx context.Context, dir, name string) ([]byte, error) {
	return nil, c.err("download")
}

func (c *UnavailableClient) List(ctx context.Context, dir string) ([]string, error) {
	return nil, c.err("list")
}

func (c *UnavailableClient) Exists(ctx context.Context, dir, name string) (bool, error) {
	return false, c.err("exists")
}

func (c *UnavailableClient) Delete(ctx context.Context, dir, name string) error {
	return c.err("delete")
}
