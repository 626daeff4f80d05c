// Package shell bridges a WebSocket connection to a PTY-backed shell
// session running inside a managed App's LXC, and streams a read-only
// live tail of the container's OS logs over the same transport.
package shell

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"sync"

	"github.com/creack/pty"
	"nhooyr.io/websocket"

	"github.com/proximityhq/proximity/internal/pct"
)

const readBufSize = 4096

// resizeMessage is sent by the client to resize the PTY.
type resizeMessage struct {
	Type string `json:"type"`
	Cols int    `json:"cols"`
	Rows int    `json:"rows"`
}

// Attach accepts a WebSocket on w/r and bridges it to an interactive shell
// inside ctid until either side closes or the shell process exits.
// originPatterns is forwarded to websocket.AcceptOptions — the caller (the
// HTTP layer) owns same-origin/auth policy.
func Attach(w http.ResponseWriter, r *http.Request, ctid int, originPatterns []string) error {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: originPatterns})
	if err != nil {
		return fmt.Errorf("accepting websocket: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx := r.Context()
	cmd := pct.SudoNsenterCmd("/usr/sbin/pct", "exec", strconv.Itoa(ctid), "--", detectShell(ctid), "-l")
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")

	ptmx, err := pty.Start(cmd)
	if err != nil {
		conn.Close(websocket.StatusInternalError, fmt.Sprintf("failed to start shell: %v", err))
		return fmt.Errorf("starting pty for container %d: %w", ctid, err)
	}
	defer ptmx.Close()
	pty.Setsize(ptmx, &pty.Winsize{Rows: 24, Cols: 80})

	var wg sync.WaitGroup
	wg.Add(2)
	go ptyToWebsocket(ctx, ptmx, conn, &wg)
	go websocketToPTY(ctx, conn, ptmx, &wg)

	cmd.Wait()
	ptmx.Close()
	conn.Close(websocket.StatusNormalClosure, "shell exited")
	wg.Wait()
	return nil
}

func detectShell(ctid int) string {
	if result, err := pct.Exec(ctid, []string{"test", "-x", "/bin/bash"}); err != nil || result.ExitCode != 0 {
		return "/bin/sh"
	}
	return "/bin/bash"
}

func ptyToWebsocket(ctx context.Context, ptmx *os.File, conn *websocket.Conn, wg *sync.WaitGroup) {
	defer wg.Done()
	buf := make([]byte, readBufSize)
	for {
		n, err := ptmx.Read(buf)
		if n > 0 {
			if writeErr := conn.Write(ctx, websocket.MessageBinary, buf[:n]); writeErr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func websocketToPTY(ctx context.Context, conn *websocket.Conn, ptmx *os.File, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			break
		}
		if msgType == websocket.MessageText {
			var resize resizeMessage
			if json.Unmarshal(data, &resize) == nil && resize.Type == "resize" {
				pty.Setsize(ptmx, &pty.Winsize{Rows: uint16(resize.Rows), Cols: uint16(resize.Cols)})
				continue
			}
		}
		if _, err := ptmx.Write(data); err != nil {
			break
		}
	}
	// Signal EOF to the shell so it exits cleanly rather than leaving the
	// PTY's child process running after the client disconnects.
	ptmx.Write([]byte{4})
}

// TailLogs accepts a WebSocket on w/r and streams a live, read-only tail of
// ctid's OS logs — journalctl on Debian-based templates, a plain file tail
// on Alpine/BusyBox, which ships no journald.
func TailLogs(w http.ResponseWriter, r *http.Request, ctid int, originPatterns []string) error {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: originPatterns})
	if err != nil {
		return fmt.Errorf("accepting websocket: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx := r.Context()
	logArgs := []string{"journalctl", "-f", "--no-pager", "-n", "100", "--output=short-iso"}
	if result, err := pct.Exec(ctid, []string{"test", "-f", "/etc/alpine-release"}); err == nil && result.ExitCode == 0 {
		logArgs = []string{"tail", "-n", "100", "-f", "/var/log/messages"}
	}

	pctArgs := append([]string{"exec", strconv.Itoa(ctid), "--"}, logArgs...)
	cmd := pct.SudoNsenterCmd("/usr/sbin/pct", pctArgs...)
	cmd.Env = append(os.Environ(), "TERM=dumb")

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		conn.Close(websocket.StatusInternalError, fmt.Sprintf("pipe: %v", err))
		return fmt.Errorf("opening log stream pipe for container %d: %w", ctid, err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		conn.Close(websocket.StatusInternalError, fmt.Sprintf("start: %v", err))
		return fmt.Errorf("starting log stream for container %d: %w", ctid, err)
	}

	go func() {
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 64*1024)
		for scanner.Scan() {
			if writeErr := conn.Write(ctx, websocket.MessageText, []byte(scanner.Text()+"\n")); writeErr != nil {
				break
			}
		}
	}()

	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				cmd.Process.Kill()
				return
			}
		}
	}()

	cmd.Wait()
	conn.Close(websocket.StatusNormalClosure, "log stream ended")
	return nil
}
