package sshutil

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

// writeKeyPair generates an ed25519 client key, writes the private half to
// disk, and returns the path plus the public half for server authorization.
func writeKeyPair(t *testing.T, dir string) (string, ssh.PublicKey) {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	block, err := ssh.MarshalPrivateKey(priv, "")
	require.NoError(t, err)

	path := filepath.Join(dir, "id_ed25519")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0o600))

	sshPub, err := ssh.NewPublicKey(pub)
	require.NoError(t, err)
	return path, sshPub
}

// testSSHServer is a minimal in-process sshd: it authenticates clients
// against one authorized key, forwards direct-tcpip channels so it can act
// as a jump host, and reports when its authenticated connections end.
type testSSHServer struct {
	t       *testing.T
	ln      net.Listener
	hostKey ssh.Signer

	mu   sync.Mutex
	live int
	idle chan struct{}
}

// startSSHServer listens on a loopback port. With authorized nil, every
// authentication attempt is rejected.
func startSSHServer(t *testing.T, authorized ssh.PublicKey) *testSSHServer {
	t.Helper()

	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	hostKey, err := ssh.NewSignerFromKey(hostPriv)
	require.NoError(t, err)

	cfg := &ssh.ServerConfig{}
	if authorized != nil {
		want := authorized.Marshal()
		cfg.PublicKeyCallback = func(_ ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if bytes.Equal(key.Marshal(), want) {
				return nil, nil
			}
			return nil, stderrors.New("unknown key")
		}
	}
	cfg.AddHostKey(hostKey)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &testSSHServer{
		t:       t,
		ln:      ln,
		hostKey: hostKey,
		idle:    make(chan struct{}, 16),
	}
	go s.serve(cfg)
	t.Cleanup(func() { ln.Close() })
	return s
}

func (s *testSSHServer) serve(cfg *ssh.ServerConfig) {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.handle(conn, cfg)
	}
}

func (s *testSSHServer) handle(conn net.Conn, cfg *ssh.ServerConfig) {
	serverConn, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		conn.Close()
		return
	}

	s.mu.Lock()
	s.live++
	s.mu.Unlock()

	go ssh.DiscardRequests(reqs)
	go func() {
		serverConn.Wait()
		s.mu.Lock()
		s.live--
		s.mu.Unlock()
		select {
		case s.idle <- struct{}{}:
		default:
		}
	}()

	for newChan := range chans {
		if newChan.ChannelType() != "direct-tcpip" {
			newChan.Reject(ssh.UnknownChannelType, "unsupported channel type")
			continue
		}
		go s.forward(newChan)
	}
}

// forward implements jump-host behavior: dial the requested address and
// pipe the channel through.
func (s *testSSHServer) forward(newChan ssh.NewChannel) {
	var msg struct {
		DestAddr string
		DestPort uint32
		OrigAddr string
		OrigPort uint32
	}
	if err := ssh.Unmarshal(newChan.ExtraData(), &msg); err != nil {
		newChan.Reject(ssh.ConnectionFailed, "bad direct-tcpip payload")
		return
	}

	dst, err := net.Dial("tcp", net.JoinHostPort(msg.DestAddr, fmt.Sprint(msg.DestPort)))
	if err != nil {
		newChan.Reject(ssh.ConnectionFailed, err.Error())
		return
	}

	ch, chReqs, err := newChan.Accept()
	if err != nil {
		dst.Close()
		return
	}
	go ssh.DiscardRequests(chReqs)
	go func() {
		io.Copy(ch, dst)
		ch.Close()
	}()
	go func() {
		io.Copy(dst, ch)
		dst.Close()
	}()
}

// hop returns this server's address as a chain hop.
func (s *testSSHServer) hop(name, keyPath string) Hop {
	host, portStr, err := net.SplitHostPort(s.ln.Addr().String())
	require.NoError(s.t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(s.t, err)
	return Hop{Name: name, Address: host, Port: port, User: "ops", KeyPath: keyPath}
}

func (s *testSSHServer) liveConns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

// waitDisconnected blocks until every authenticated connection has ended.
func (s *testSSHServer) waitDisconnected(timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if s.liveConns() == 0 {
			return true
		}
		select {
		case <-s.idle:
		case <-deadline:
			return s.liveConns() == 0
		}
	}
}

func testBuilder(t *testing.T, hostKeys ssh.HostKeyCallback) *Builder {
	t.Helper()
	auth := isolatedAuthenticator(t, nil)
	auth.HostKeys = hostKeys
	b := NewBuilder(auth)
	b.Logger = auth.Logger
	return b
}

func TestBuild_SingleHop(t *testing.T) {
	keyPath, pub := writeKeyPair(t, t.TempDir())
	srv := startSSHServer(t, pub)

	b := testBuilder(t, ssh.FixedHostKey(srv.hostKey.PublicKey()))
	desc := &HostDescriptor{
		Hop:            srv.hop("web01", keyPath),
		ConnectTimeout: 5 * time.Second,
	}

	client, err := b.Build(context.Background(), desc)
	require.NoError(t, err)
	assert.Equal(t, 1, client.HopCount())
	assert.NoError(t, client.Keepalive())

	require.NoError(t, client.Close())
	assert.True(t, srv.waitDisconnected(2*time.Second), "close should tear the connection down")
}

func TestBuild_TwoHopChain(t *testing.T) {
	keyPath, pub := writeKeyPair(t, t.TempDir())
	bastion := startSSHServer(t, pub)
	target := startSSHServer(t, pub)

	b := testBuilder(t, ssh.InsecureIgnoreHostKey())
	desc := &HostDescriptor{
		Hop:            target.hop("db01", keyPath),
		JumpChain:      []Hop{bastion.hop("bastion", keyPath)},
		ConnectTimeout: 5 * time.Second,
	}

	client, err := b.Build(context.Background(), desc)
	require.NoError(t, err)
	assert.Equal(t, 2, client.HopCount())

	require.NoError(t, client.Close())
	assert.True(t, bastion.waitDisconnected(2*time.Second))
	assert.True(t, target.waitDisconnected(2*time.Second))
}

func TestBuild_DialFailureNamesFirstHop(t *testing.T) {
	// Grab a loopback port with no listener behind it.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	b := testBuilder(t, ssh.InsecureIgnoreHostKey())
	desc := &HostDescriptor{
		Hop:            Hop{Name: "down", Address: host, Port: port, User: "ops"},
		ConnectTimeout: 2 * time.Second,
	}

	_, err = b.Build(context.Background(), desc)
	require.Error(t, err)

	var hopErr *HopError
	require.ErrorAs(t, err, &hopErr)
	assert.Equal(t, 0, hopErr.Index)
	assert.Equal(t, 1, hopErr.Total)
	assert.Equal(t, "down", hopErr.Hop.Name)
}

func TestBuild_AuthFailureAtSecondHopClosesFirst(t *testing.T) {
	keyPath, pub := writeKeyPair(t, t.TempDir())
	bastion := startSSHServer(t, pub)
	target := startSSHServer(t, nil) // rejects every authentication attempt

	b := testBuilder(t, ssh.InsecureIgnoreHostKey())
	desc := &HostDescriptor{
		Hop:            target.hop("db01", keyPath),
		JumpChain:      []Hop{bastion.hop("bastion", keyPath)},
		ConnectTimeout: 5 * time.Second,
	}

	_, err := b.Build(context.Background(), desc)
	require.Error(t, err)

	var hopErr *HopError
	require.ErrorAs(t, err, &hopErr)
	assert.Equal(t, 1, hopErr.Index, "failure must name the hop that failed")
	assert.Equal(t, 2, hopErr.Total)
	assert.Equal(t, "db01", hopErr.Hop.Name)

	var authErr *AuthError
	assert.ErrorAs(t, err, &authErr)

	assert.True(t, bastion.waitDisconnected(2*time.Second),
		"a failed chain must leave no open session to earlier hops")
}

func TestBuild_InsecureHostKeyMode(t *testing.T) {
	keyPath, pub := writeKeyPair(t, t.TempDir())
	srv := startSSHServer(t, pub)

	prev := StrictHostKeyChecking
	StrictHostKeyChecking = false
	t.Cleanup(func() { StrictHostKeyChecking = prev })

	// HostKeys nil routes through DefaultHostKeyCallback, which skips
	// verification while the strict knob is off.
	b := testBuilder(t, nil)
	desc := &HostDescriptor{
		Hop:            srv.hop("ci01", keyPath),
		ConnectTimeout: 5 * time.Second,
	}

	client, err := b.Build(context.Background(), desc)
	require.NoError(t, err)
	require.NoError(t, client.Close())
}

func TestBuild_LocalDescriptorRejected(t *testing.T) {
	b := testBuilder(t, ssh.InsecureIgnoreHostKey())
	_, err := b.Build(context.Background(), LocalDescriptor(time.Second))
	require.Error(t, err)
}
