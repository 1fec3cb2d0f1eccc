package tunnel

import (
	"bufio"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/hull-ships/hull-sql-sub000/internal/endpoint"
)

// startEcho runs a TCP server that echoes every line back.
func startEcho(t *testing.T) *net.TCPAddr {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer c.Close()
				io.Copy(c, c)
			}()
		}
	}()
	return ln.Addr().(*net.TCPAddr)
}

// startBastion runs a minimal SSH server that accepts password auth and
// serves direct-tcpip channels.
func startBastion(t *testing.T, user, password string) *net.TCPAddr {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("host key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	cfg := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == user && string(pass) == password {
				return nil, nil
			}
			return nil, errors.New("denied")
		},
	}
	cfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveSSH(conn, cfg)
		}
	}()
	return ln.Addr().(*net.TCPAddr)
}

func serveSSH(conn net.Conn, cfg *ssh.ServerConfig) {
	_, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		conn.Close()
		return
	}
	go ssh.DiscardRequests(reqs)
	for newCh := range chans {
		if newCh.ChannelType() != "direct-tcpip" {
			newCh.Reject(ssh.UnknownChannelType, "unsupported")
			continue
		}
		var target struct {
			Host     string
			Port     uint32
			OrigHost string
			OrigPort uint32
		}
		if err := ssh.Unmarshal(newCh.ExtraData(), &target); err != nil {
			newCh.Reject(ssh.ConnectionFailed, err.Error())
			continue
		}
		upstream, err := net.Dial("tcp", net.JoinHostPort(target.Host, strconv.Itoa(int(target.Port))))
		if err != nil {
			newCh.Reject(ssh.ConnectionFailed, err.Error())
			continue
		}
		ch, chReqs, err := newCh.Accept()
		if err != nil {
			upstream.Close()
			continue
		}
		go ssh.DiscardRequests(chReqs)
		go func() {
			defer ch.Close()
			defer upstream.Close()
			go io.Copy(upstream, ch)
			io.Copy(ch, upstream)
		}()
	}
}

func TestForwardRoundTrip(t *testing.T) {
	echo := startEcho(t)
	bastion := startBastion(t, "jump", "pw")

	tun := New(NewPortAllocator(0, 0), nil)
	defer tun.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	fwd, err := tun.Forward(ctx, Config{
		SSHHost:     "127.0.0.1",
		SSHPort:     bastion.Port,
		SSHUser:     "jump",
		SSHPassword: "pw",
		RemoteHost:  "127.0.0.1",
		RemotePort:  echo.Port,
	})
	if err != nil {
		t.Fatalf("forward: %v", err)
	}

	conn, err := net.Dial("tcp", net.JoinHostPort(fwd.LocalHost, strconv.Itoa(fwd.LocalPort)))
	if err != nil {
		t.Fatalf("dial local end: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	if _, err := conn.Write([]byte("select 1\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if line != "select 1\n" {
		t.Errorf("got %q through tunnel", line)
	}

	settings := fwd.Apply(endpoint.Settings{Kind: "postgres", Host: "db.internal", Port: 5432})
	if settings.Host != "127.0.0.1" || settings.Port != fwd.LocalPort {
		t.Errorf("settings not rewritten: %+v", settings)
	}
}

func TestShutdownIsRepeatable(t *testing.T) {
	echo := startEcho(t)
	bastion := startBastion(t, "jump", "pw")

	tun := New(nil, nil)
	fwd, err := tun.Forward(context.Background(), Config{
		SSHHost: "127.0.0.1", SSHPort: bastion.Port, SSHUser: "jump", SSHPassword: "pw",
		RemoteHost: "127.0.0.1", RemotePort: echo.Port,
	})
	if err != nil {
		t.Fatalf("forward: %v", err)
	}

	if err := tun.Shutdown(); err != nil {
		t.Fatalf("first shutdown: %v", err)
	}
	if err := tun.Shutdown(); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}
	if err := fwd.Close(); err != nil {
		t.Errorf("close after shutdown: %v", err)
	}
	if _, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(fwd.LocalPort)), time.Second); err == nil {
		t.Error("listener still accepting after shutdown")
	}
}

func TestClosedForwardIsUntracked(t *testing.T) {
	echo := startEcho(t)
	bastion := startBastion(t, "jump", "pw")

	tun := New(nil, nil)
	defer tun.Shutdown()
	cfg := Config{
		SSHHost: "127.0.0.1", SSHPort: bastion.Port, SSHUser: "jump", SSHPassword: "pw",
		RemoteHost: "127.0.0.1", RemotePort: echo.Port,
	}

	for i := 0; i < 3; i++ {
		fwd, err := tun.Forward(context.Background(), cfg)
		if err != nil {
			t.Fatalf("forward %d: %v", i, err)
		}
		if n := tun.Open(); n != 1 {
			t.Fatalf("expected 1 open forward, got %d", n)
		}
		if err := fwd.Close(); err != nil {
			t.Fatalf("close %d: %v", i, err)
		}
		if n := tun.Open(); n != 0 {
			t.Fatalf("closed forward still tracked, %d open", n)
		}
	}
}

func TestForwardRejectedLogin(t *testing.T) {
	bastion := startBastion(t, "jump", "pw")
	tun := New(nil, nil)
	defer tun.Shutdown()

	_, err := tun.Forward(context.Background(), Config{
		SSHHost: "127.0.0.1", SSHPort: bastion.Port, SSHUser: "jump", SSHPassword: "wrong",
		RemoteHost: "127.0.0.1", RemotePort: 1,
	})
	if !endpoint.IsKind(err, endpoint.KindConnection) {
		t.Fatalf("expected ConnectionError, got %v", err)
	}
}

func TestForwardMissingCredentials(t *testing.T) {
	_, err := New(nil, nil).Forward(context.Background(), Config{SSHHost: "127.0.0.1", SSHUser: "x"})
	if !endpoint.IsKind(err, endpoint.KindConfiguration) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestPortAllocatorSkipsBusyPorts(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer busy.Close()
	busyPort := busy.Addr().(*net.TCPAddr).Port

	alloc := NewPortAllocator(busyPort, busyPort+1)
	ln, port, err := alloc.Listen()
	if err != nil {
		t.Skipf("neighbouring port unavailable: %v", err)
	}
	if port != busyPort+1 {
		t.Errorf("expected %d, got %d", busyPort+1, port)
	}
	ln.Close()

	// Cursor wraps to the busy port, skips it and lands on the free one again.
	ln, port, err = alloc.Listen()
	if err != nil {
		t.Fatalf("second listen: %v", err)
	}
	defer ln.Close()
	if port != busyPort+1 {
		t.Errorf("expected wrap-around to %d, got %d", busyPort+1, port)
	}
}

func TestPortAllocatorExhausted(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer busy.Close()
	port := busy.Addr().(*net.TCPAddr).Port

	if _, _, err := NewPortAllocator(port, port).Listen(); err == nil {
		t.Fatal("expected exhaustion error")
	}
}
