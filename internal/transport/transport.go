// Package transport delivers batch files to the processor's endpoint
// and retrieves return files. One client variant is selected at startup
// from detected runtime capabilities; everything behind the Client
// interface is blocking and timeout-bounded.
package transport

import (
	"context"
	"fmt"
	"os/exec"
)

// Client variants.
type Kind string

const (
	// KindSFTP is the primary, portable pure-Go client.
	KindSFTP Kind = "sftp"
	// KindExec shells out to the system sftp binary.
	KindExec Kind = "exec"
	// KindUnavailable fails every call fast with an actionable message.
	KindUnavailable Kind = "unavailable"
)

// TransportError wraps a failed remote operation. Upload retries key off
// it; anything else bubbles through untouched.
type TransportError struct {
	Op     string
	Reason string
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %s: %s", e.Op, e.Reason)
}

// Credentials are fetched decrypted from the vault immediately before
// Connect and must not outlive the connection.
type Credentials struct {
	Host     string
	Port     int
	User     string
	Password []byte
	// HostKey is the processor's public host key in authorized_keys
	// format; when set the connection is pinned to it.
	HostKey []byte
	// InsecureSkipVerify disables host key checking entirely. Only for
	// local development against throwaway endpoints.
	InsecureSkipVerify bool
}

// CredentialSource hands out decrypted credentials on demand so no
// client retains them between connections.
type CredentialSource func() (Credentials, error)

type Client interface {
	Connect(ctx context.Context) error
	Disconnect() error
	IsConnected() bool
	TestConnection(ctx context.Context) error
	Upload(ctx context.Context, dir, name string, data []byte) error
	Download(ctx context.Context, dir, name string) ([]byte, error)
	List(ctx context.Context, dir string) ([]string, error)
	Exists(ctx context.Context, dir, name string) (bool, error)
	Delete(ctx context.Context, dir, name string) error
}

// Capabilities describe what the runtime environment offers. Detection
// runs once at startup.
type Capabilities struct {
	EndpointConfigured bool
	NativeBinary       string
	ForceNative        bool
}

func Detect(host string, forceNative bool) Capabilities {
	caps := Capabilities{
		EndpointConfigured: host != "",
		ForceNative:        forceNative,
	}
	if path, err := exec.LookPath("sftp"); err == nil {
		caps.NativeBinary = path
	}
	return caps
}

// Select is a pure function of the detected capabilities.
func Select(caps Capabilities) Kind {
	switch {
	case !caps.EndpointConfigured:
		return KindUnavailable
	case caps.ForceNative && caps.NativeBinary != "":
		return KindExec
	default:
		return KindSFTP
	}
}

// New builds the selected client variant.
func New(kind Kind, creds CredentialSource, caps Capabilities) Client {
	switch kind {
	case KindSFTP:
		return NewSFTPClient(creds)
	case KindExec:
		return NewExecClient(creds, caps.NativeBinary)
	default:
		return NewUnavailableClient()
	}
}
