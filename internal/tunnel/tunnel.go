// Package tunnel forwards a local TCP port to a database behind an SSH bastion.
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"

	"github.com/hull-ships/hull-sql-sub000/internal/endpoint"
)

// Config describes one forward: the bastion to log in to and the remote
// address reached through it.
type Config struct {
	SSHHost       string
	SSHPort       int
	SSHUser       string
	SSHPrivateKey string
	SSHPassword   string

	RemoteHost string
	RemotePort int

	DialTimeout     time.Duration
	HostKeyCallback ssh.HostKeyCallback
}

// FromSettings builds a forward config from connection settings.
func FromSettings(s endpoint.Settings) Config {
	return Config{
		SSHHost:       s.SSHHost,
		SSHPort:       s.SSHPort,
		SSHUser:       s.SSHUser,
		SSHPrivateKey: s.SSHPrivateKey,
		SSHPassword:   s.SSHPassword,
		RemoteHost:    s.Host,
		RemotePort:    s.Port,
	}
}

func (c Config) clientConfig() (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod
	if c.SSHPrivateKey != "" {
		signer, err := ssh.ParsePrivateKey([]byte(c.SSHPrivateKey))
		if err != nil {
			return nil, fmt.Errorf("parse ssh private key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if c.SSHPassword != "" {
		auth = append(auth, ssh.Password(c.SSHPassword))
	}
	if len(auth) == 0 {
		return nil, errors.New("ssh_private_key or ssh_password is required")
	}

	hostKey := c.HostKeyCallback
	if hostKey == nil {
		hostKey = ssh.InsecureIgnoreHostKey()
	}
	timeout := c.DialTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &ssh.ClientConfig{
		User:            c.SSHUser,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         timeout,
	}, nil
}

// Forward is one live port forward.
type Forward struct {
	LocalHost string
	LocalPort int

	client   *ssh.Client
	listener net.Listener
	remote   string
	logger   *zap.Logger
	onClose  func(*Forward)

	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// Apply points settings at the local end of the forward.
func (f *Forward) Apply(s endpoint.Settings) endpoint.Settings {
	s.Host = f.LocalHost
	s.Port = f.LocalPort
	return s
}

func (f *Forward) serve() {
	defer f.wg.Done()
	for {
		local, err := f.listener.Accept()
		if err != nil {
			return
		}
		f.wg.Add(1)
		go f.pipe(local)
	}
}

func (f *Forward) pipe(local net.Conn) {
	defer f.wg.Done()
	defer local.Close()

	remote, err := f.client.Dial("tcp", f.remote)
	if err != nil {
		f.logger.Warn("tunnel dial failed", zap.String("remote", f.remote), zap.Error(err))
		return
	}
	defer remote.Close()

	done := make(chan struct{}, 2)
	go func() {
		io.Copy(remote, local)
		done <- struct{}{}
	}()
	go func() {
		io.Copy(local, remote)
		done <- struct{}{}
	}()
	<-done
}

// Close stops accepting, closes the SSH session and waits for open pipes.
func (f *Forward) Close() error {
	f.closeOnce.Do(func() {
		lnErr := f.listener.Close()
		clientErr := f.client.Close()
		f.wg.Wait()
		if f.onClose != nil {
			f.onClose(f)
		}
		if lnErr != nil && !errors.Is(lnErr, net.ErrClosed) {
			f.closeErr = lnErr
		} else if clientErr != nil && !errors.Is(clientErr, net.ErrClosed) {
			f.closeErr = clientErr
		}
	})
	return f.closeErr
}

// Tunnel owns a port allocator and every forward opened through it.
type Tunnel struct {
	ports  *PortAllocator
	logger *zap.Logger

	mu       sync.Mutex
	forwards []*Forward
}

// New creates a tunnel drawing local ports from ports.
func New(ports *PortAllocator, logger *zap.Logger) *Tunnel {
	if ports == nil {
		ports = NewPortAllocator(0, 0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tunnel{ports: ports, logger: logger}
}

// Forward logs in to the bastion and returns once the local listener is
// accepting connections.
func (t *Tunnel) Forward(ctx context.Context, cfg Config) (*Forward, error) {
	clientCfg, err := cfg.clientConfig()
	if err != nil {
		return nil, endpoint.Wrap(endpoint.KindConfiguration, endpoint.CodeTunnelFailed, err, "invalid ssh settings")
	}
	sshPort := cfg.SSHPort
	if sshPort == 0 {
		sshPort = 22
	}
	bastion := net.JoinHostPort(cfg.SSHHost, strconv.Itoa(sshPort))

	client, err := dialContext(ctx, bastion, clientCfg)
	if err != nil {
		return nil, endpoint.Wrap(endpoint.KindConnection, endpoint.CodeTunnelFailed, err, "ssh connect to "+bastion)
	}

	ln, port, err := t.ports.Listen()
	if err != nil {
		client.Close()
		return nil, endpoint.Wrap(endpoint.KindConnection, endpoint.CodeTunnelFailed, err, "bind local port")
	}

	fwd := &Forward{
		LocalHost: "127.0.0.1",
		LocalPort: port,
		client:    client,
		listener:  ln,
		remote:    net.JoinHostPort(cfg.RemoteHost, strconv.Itoa(cfg.RemotePort)),
		logger:    t.logger,
		onClose:   t.untrack,
	}
	fwd.wg.Add(1)
	go fwd.serve()

	t.mu.Lock()
	t.forwards = append(t.forwards, fwd)
	t.mu.Unlock()

	t.logger.Info("tunnel open",
		zap.String("bastion", bastion),
		zap.String("remote", fwd.remote),
		zap.Int("local_port", port))
	return fwd, nil
}

func (t *Tunnel) untrack(f *Forward) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, open := range t.forwards {
		if open == f {
			t.forwards = append(t.forwards[:i], t.forwards[i+1:]...)
			return
		}
	}
}

// Open returns the number of forwards not yet closed.
func (t *Tunnel) Open() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.forwards)
}

// Shutdown closes every tracked forward. It may be called more than once.
func (t *Tunnel) Shutdown() error {
	t.mu.Lock()
	forwards := t.forwards
	t.forwards = nil
	t.mu.Unlock()

	var errs []error
	for _, f := range forwards {
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func dialContext(ctx context.Context, addr string, cfg *ssh.ClientConfig) (*ssh.Client, error) {
	d := net.Dialer{Timeout: cfg.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	conn.SetDeadline(time.Time{})
	return ssh.NewClient(c, chans, reqs), nil
}
