package ssh

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"net"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"testing"

	"github.com/pkg/sftp"
	"github.com/stretchr/testify/require"
	gossh "golang.org/x/crypto/ssh"
)

const (
	testUser     = "gpu"
	testPassword = "secret"
)

// testServer is a minimal sshd: password auth, exec, signal and the sftp
// subsystem, all against the local filesystem.
type testServer struct {
	ln     net.Listener
	signer gossh.Signer

	mu    sync.Mutex
	conns []net.Conn
}

func startServer(t *testing.T) *testServer {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := gossh.NewSignerFromKey(priv)
	require.NoError(t, err)

	cfg := &gossh.ServerConfig{
		PasswordCallback: func(c gossh.ConnMetadata, pass []byte) (*gossh.Permissions, error) {
			if c.User() == testUser && string(pass) == testPassword {
				return nil, nil
			}
			return nil, errors.New("access denied")
		},
	}
	cfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := &testServer{ln: ln, signer: signer}
	go srv.serve(cfg)
	t.Cleanup(func() {
		_ = ln.Close()
		srv.dropAll()
	})

	return srv
}

func (s *testServer) addr() *net.TCPAddr {
	return s.ln.Addr().(*net.TCPAddr)
}

func (s *testServer) dropAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.conns {
		_ = c.Close()
	}
	s.conns = nil
}

func (s *testServer) serve(cfg *gossh.ServerConfig) {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()
		go handleConn(conn, cfg)
	}
}

func handleConn(conn net.Conn, cfg *gossh.ServerConfig) {
	_, chans, reqs, err := gossh.NewServerConn(conn, cfg)
	if err != nil {
		_ = conn.Close()
		return
	}
	go gossh.DiscardRequests(reqs)

	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			_ = newCh.Reject(gossh.UnknownChannelType, "unsupported channel type")
			continue
		}
		ch, requests, err := newCh.Accept()
		if err != nil {
			continue
		}
		go handleSession(ch, requests)
	}
}

func handleSession(ch gossh.Channel, requests <-chan *gossh.Request) {
	var (
		mu   sync.Mutex
		proc *os.Process
	)

	for req := range requests {
		switch req.Type {
		case "exec":
			var payload struct{ Command string }
			if err := gossh.Unmarshal(req.Payload, &payload); err != nil {
				_ = req.Reply(false, nil)
				continue
			}
			_ = req.Reply(true, nil)

			cmd := exec.Command("sh", "-c", payload.Command)
			cmd.Stdout = ch
			cmd.Stderr = ch.Stderr()
			cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
			if err := cmd.Start(); err != nil {
				sendExitStatus(ch, 127)
				_ = ch.Close()
				continue
			}
			mu.Lock()
			proc = cmd.Process
			mu.Unlock()

			go func() {
				code := 0
				if err := cmd.Wait(); err != nil {
					var exitErr *exec.ExitError
					code = 1
					if errors.As(err, &exitErr) {
						code = exitErr.ExitCode()
						if code < 0 {
							code = 143
						}
					}
				}
				sendExitStatus(ch, code)
				_ = ch.Close()
			}()
		case "subsystem":
			var payload struct{ Name string }
			if err := gossh.Unmarshal(req.Payload, &payload); err != nil || payload.Name != "sftp" {
				_ = req.Reply(false, nil)
				continue
			}
			_ = req.Reply(true, nil)

			server, err := sftp.NewServer(ch)
			if err != nil {
				_ = ch.Close()
				continue
			}
			go func() {
				_ = server.Serve()
				_ = server.Close()
			}()
		case "signal":
			var payload struct{ Signal string }
			_ = gossh.Unmarshal(req.Payload, &payload)
			sig := syscall.SIGTERM
			if payload.Signal == string(gossh.SIGKILL) {
				sig = syscall.SIGKILL
			}
			mu.Lock()
			if proc != nil {
				_ = syscall.Kill(-proc.Pid, sig)
			}
			mu.Unlock()
			_ = req.Reply(true, nil)
		default:
			_ = req.Reply(false, nil)
		}
	}
}

func sendExitStatus(ch gossh.Channel, code int) {
	_, _ = ch.SendRequest("exit-status", false, gossh.Marshal(struct{ Status uint32 }{uint32(code)}))
}
