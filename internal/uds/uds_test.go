package uds

import (
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// Sockets go under /tmp directly to stay inside the unix socket path limit.
func tempSockPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", "loopsmith-uds-*")
	if err != nil {
		t.Fatalf("create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "t.sock")
}

func startServer(t *testing.T) (*Server, *Client) {
	t.Helper()
	sock := tempSockPath(t)
	server := NewServer(sock, nil)
	client := NewClient(sock)
	client.SetTimeout(5 * time.Second)
	return server, client
}

func TestFrameRoundTrip(t *testing.T) {
	sock := tempSockPath(t)
	listener, err := net.Listen("unix", sock)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer listener.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		var req Request
		if err := ReadFrame(conn, &req); err != nil {
			t.Errorf("read frame: %v", err)
			return
		}
		if req.Command != "echo" {
			t.Errorf("command = %q, want echo", req.Command)
		}
		_ = WriteFrame(conn, OK(map[string]string{"got": req.Command}))
	}()

	conn, err := net.Dial("unix", sock)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	req, err := NewRequest("echo", map[string]int{"n": 1})
	if err != nil {
		t.Fatal(err)
	}
	if err := WriteFrame(conn, req); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	var resp Response
	if err := ReadFrame(conn, &resp); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if !resp.OK {
		t.Errorf("response not ok: %+v", resp.Error)
	}
	<-done
}

func TestServerDispatch(t *testing.T) {
	server, client := startServer(t)
	server.Handle("double", func(params json.RawMessage) *Response {
		var p struct {
			N int `json:"n"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return Errorf(ErrCodeValidation, "unmarshal: %v", err)
		}
		return OK(map[string]int{"n": p.N * 2})
	})
	if err := server.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer server.Stop()

	var out struct {
		N int `json:"n"`
	}
	if err := client.Call("double", map[string]int{"n": 21}, &out); err != nil {
		t.Fatalf("call: %v", err)
	}
	if out.N != 42 {
		t.Errorf("n = %d, want 42", out.N)
	}
}

func TestServerUnknownCommand(t *testing.T) {
	server, client := startServer(t)
	if err := server.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer server.Stop()

	err := client.Call("nope", nil, nil)
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("expected CommandError, got %v", err)
	}
	if cmdErr.Code != ErrCodeUnknownCommand {
		t.Errorf("code = %q, want %q", cmdErr.Code, ErrCodeUnknownCommand)
	}
}

func TestServerProtocolMismatch(t *testing.T) {
	server, _ := startServer(t)
	resp := server.dispatch(&Request{ProtocolVersion: 99, Command: "ping"})
	if resp.OK || resp.Error == nil || resp.Error.Code != ErrCodeProtocolMismatch {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestServerHandlerError(t *testing.T) {
	server, client := startServer(t)
	server.Handle("fail", func(json.RawMessage) *Response {
		return Errorf(ErrCodeNotFound, "no such thing")
	})
	if err := server.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer server.Stop()

	err := client.Call("fail", nil, nil)
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("expected CommandError, got %v", err)
	}
	if cmdErr.Code != ErrCodeNotFound {
		t.Errorf("code = %q, want %q", cmdErr.Code, ErrCodeNotFound)
	}
}

func TestClientNoDaemon(t *testing.T) {
	client := NewClient(tempSockPath(t))
	client.SetTimeout(time.Second)
	if err := client.Call("ping", nil, nil); err == nil {
		t.Fatal("expected connection error")
	}
}

func TestStopRemovesSocket(t *testing.T) {
	server, _ := startServer(t)
	if err := server.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := os.Stat(server.socketPath); err != nil {
		t.Fatalf("socket missing while running: %v", err)
	}
	if err := server.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if _, err := os.Stat(server.socketPath); !os.IsNotExist(err) {
		t.Errorf("socket still present after stop")
	}
}
