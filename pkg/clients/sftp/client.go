package sftp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	sftpapi "github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

var (
	// ErrConnection indicates an authentication or network handshake failure.
	ErrConnection = errors.New("sftp connection failed")
	// ErrIO indicates a remote listing or transfer failure.
	ErrIO = errors.New("sftp transfer failed")
	// ErrNotFound indicates a missing local or remote file.
	ErrNotFound = errors.New("file not found")
)

const (
	defaultPort            = 22
	defaultConnectTimeout  = 30 * time.Second
	defaultTransferTimeout = 5 * time.Minute
)

// Config holds the connection parameters for one session.
type Config struct {
	Host                 string
	Port                 int
	User                 string
	PrivateKeyPath       string
	PrivateKeyPassphrase string
	// KnownHostsPath enables host key verification. When empty any host key is accepted.
	KnownHostsPath  string
	ConnectTimeout  time.Duration
	TransferTimeout time.Duration
}

// Client exposes the remote file operations used by the transfer workflows.
type Client interface {
	List(ctx context.Context, dir string) ([]string, error)
	Stat(ctx context.Context, remotePath string) (os.FileInfo, error)
	Download(ctx context.Context, remotePath, localPath string) (int64, error)
	Upload(ctx context.Context, localPath, remotePath string) (int64, error)
	Remove(ctx context.Context, remotePath string) error
	Close() error
}

// Session is an authenticated SSH connection and the SFTP channel derived from it.
type Session struct {
	conn            io.Closer
	client          *sftpapi.Client
	transferTimeout time.Duration

	closeOnce sync.Once
	closeErr  error
}

var _ Client = (*Session)(nil)

// Dial authenticates with the private key and opens an SFTP channel.
func Dial(ctx context.Context, cfg Config) (*Session, error) {
	if cfg.Host == "" || cfg.User == "" {
		return nil, fmt.Errorf("%w: host and user are required", ErrConnection)
	}

	signer, err := loadSigner(cfg.PrivateKeyPath, cfg.PrivateKeyPassphrase)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if cfg.KnownHostsPath != "" {
		hostKeyCallback, err = knownhosts.New(cfg.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("%w: load known hosts %s: %w", ErrConnection, cfg.KnownHostsPath, err)
		}
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	port := cfg.Port
	if port == 0 {
		port = defaultPort
	}
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(port))

	sshConfig := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	}

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dialer := net.Dialer{Timeout: timeout}
	netConn, err := dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrConnection, addr, err)
	}

	// the handshake must finish within the connect timeout as well
	_ = netConn.SetDeadline(time.Now().Add(timeout))
	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, addr, sshConfig)
	if err != nil {
		_ = netConn.Close()
		return nil, fmt.Errorf("%w: ssh handshake with %s: %w", ErrConnection, addr, err)
	}
	_ = netConn.SetDeadline(time.Time{})

	conn := ssh.NewClient(sshConn, chans, reqs)
	client, err := sftpapi.NewClient(conn)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: start sftp subsystem: %w", ErrConnection, err)
	}

	return newSession(client, conn, cfg.TransferTimeout), nil
}

func newSession(client *sftpapi.Client, conn io.Closer, transferTimeout time.Duration) *Session {
	if transferTimeout <= 0 {
		transferTimeout = defaultTransferTimeout
	}
	return &Session{
		conn:            conn,
		client:          client,
		transferTimeout: transferTimeout,
	}
}

func loadSigner(keyPath, passphrase string) (ssh.Signer, error) {
	if keyPath == "" {
		return nil, errors.New("private key path must be provided")
	}

	pemBytes, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}

	var signer ssh.Signer
	if passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(pemBytes, []byte(passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(pemBytes)
	}
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if errors.As(err, &missing) {
			return nil, errors.New("private key is encrypted and no passphrase was configured")
		}
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return signer, nil
}

// List returns the regular file names in dir, sorted.
func (s *Session) List(ctx context.Context, dir string) ([]string, error) {
	var names []string
	err := s.run(ctx, func() error {
		entries, err := s.client.ReadDir(dir)
		if err != nil {
			return fmt.Errorf("%w: list %s: %w", ErrIO, dir, err)
		}
		for _, entry := range entries {
			name := entry.Name()
			if name == "." || name == ".." || entry.IsDir() {
				continue
			}
			names = append(names, name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(names)
	return names, nil
}

// Stat returns remote file metadata.
func (s *Session) Stat(ctx context.Context, remotePath string) (os.FileInfo, error) {
	var info os.FileInfo
	err := s.run(ctx, func() error {
		var err error
		info, err = s.client.Stat(remotePath)
		if err != nil {
			return remoteError("stat", remotePath, err)
		}
		return nil
	})
	return info, err
}

// Download copies a remote file to localPath, creating local directories as needed.
func (s *Session) Download(ctx context.Context, remotePath, localPath string) (int64, error) {
	var written int64
	err := s.run(ctx, func() error {
		src, err := s.client.Open(remotePath)
		if err != nil {
			return remoteError("open", remotePath, err)
		}
		defer src.Close()

		if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
			return fmt.Errorf("%w: create local directory: %w", ErrIO, err)
		}

		dst, err := os.Create(localPath)
		if err != nil {
			return fmt.Errorf("%w: create %s: %w", ErrIO, localPath, err)
		}

		written, err = io.Copy(dst, src)
		closeErr := dst.Close()
		if err != nil {
			return fmt.Errorf("%w: copy %s: %w", ErrIO, remotePath, err)
		}
		if closeErr != nil {
			return fmt.Errorf("%w: close %s: %w", ErrIO, localPath, closeErr)
		}
		return nil
	})
	return written, err
}

// Upload copies a local file to remotePath.
func (s *Session) Upload(ctx context.Context, localPath, remotePath string) (int64, error) {
	src, err := os.Open(localPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("%w: local %s", ErrNotFound, localPath)
		}
		return 0, fmt.Errorf("%w: open %s: %w", ErrIO, localPath, err)
	}
	defer src.Close()

	var written int64
	err = s.run(ctx, func() error {
		dst, err := s.client.Create(remotePath)
		if err != nil {
			return remoteError("create", remotePath, err)
		}

		written, err = io.Copy(dst, src)
		closeErr := dst.Close()
		if err != nil {
			return fmt.Errorf("%w: copy to %s: %w", ErrIO, remotePath, err)
		}
		if closeErr != nil {
			return fmt.Errorf("%w: close %s: %w", ErrIO, remotePath, closeErr)
		}
		return nil
	})
	return written, err
}

// Remove deletes a remote file.
func (s *Session) Remove(ctx context.Context, remotePath string) error {
	return s.run(ctx, func() error {
		if err := s.client.Remove(remotePath); err != nil {
			return remoteError("remove", remotePath, err)
		}
		return nil
	})
}

// Close releases the SFTP channel and the SSH connection. It is safe to call on a
// nil session and more than once.
func (s *Session) Close() error {
	if s == nil {
		return nil
	}
	s.closeOnce.Do(func() {
		var errs []error
		if s.client != nil {
			if err := s.client.Close(); err != nil && !errors.Is(err, io.EOF) {
				errs = append(errs, err)
			}
		}
		if s.conn != nil {
			if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) && !errors.Is(err, io.EOF) {
				errs = append(errs, err)
			}
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

// run bounds op by the transfer timeout. pkg/sftp has no context support, so a
// cancelled operation tears the session down to unblock it.
func (s *Session) run(ctx context.Context, op func() error) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("%w: session is not connected", ErrIO)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.transferTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- op()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		_ = s.Close()
		<-done
		return fmt.Errorf("%w: %w", ErrIO, ctx.Err())
	}
}

func remoteError(op, remotePath string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: remote %s", ErrNotFound, remotePath)
	}
	return fmt.Errorf("%w: %s %s: %w", ErrIO, op, remotePath, err)
}
