// Package broadcast implements the per-project Unix-socket fan-out of
// xbproto.Message values to connected editor clients.
package broadcast

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/xbase-dev/xbased/internal/xbproto"
)

// Root is the directory every project's broadcast socket is created under.
// A plain var (not const) so tests can redirect it into a temp directory.
var Root = "/private/tmp/xbase"

// Broadcaster owns one Unix listener socket for a project and fans every
// outgoing Message to the subset of connected clients a send targets.
type Broadcaster struct {
	root    string
	address string
	ln      net.Listener

	send       chan outgoing
	stop       chan struct{}
	sendDone   chan struct{}
	acceptDone chan struct{}

	mu          sync.Mutex
	subscribers map[xbproto.ClientID]net.Conn
}

type outgoing struct {
	id  *xbproto.ClientID // nil means fan-out to all
	msg xbproto.Message
}

// New binds the broadcast socket for root, removing any stale socket file
// first, and spawns the acceptor and sender goroutines. The returned
// Broadcaster is ready to Send immediately.
func New(root string) (*Broadcaster, error) {
	if err := os.MkdirAll(Root, 0o755); err != nil {
		return nil, fmt.Errorf("creating broadcast root: %w", err)
	}

	address := filepath.Join(Root, UniqueName(root)+".socket")
	if _, err := os.Stat(address); err == nil {
		slog.Warn("stale broadcast socket found, removing", "address", address)
		_ = os.Remove(address)
	}

	ln, err := net.Listen("unix", address)
	if err != nil {
		return nil, fmt.Errorf("binding broadcast socket %s: %w", address, err)
	}

	b := &Broadcaster{
		root:        root,
		address:     address,
		ln:          ln,
		send:        make(chan outgoing, 64),
		stop:        make(chan struct{}),
		sendDone:    make(chan struct{}),
		acceptDone:  make(chan struct{}),
		subscribers: make(map[xbproto.ClientID]net.Conn),
	}

	go b.acceptLoop(ln)
	go b.sendLoop()

	slog.Info("broadcast socket bound", "root", root, "address", address)
	return b, nil
}

// UniqueName derives the broadcast socket's base name from a project root:
// the root with its first two path ancestors stripped and the remaining
// separators replaced with underscores. A root with two or fewer path
// components (e.g. "/tmp/pA") has nothing left to strip, so every
// component is kept and joined instead.
func UniqueName(root string) string {
	clean := filepath.Clean(root)
	parts := strings.Split(strings.TrimPrefix(clean, string(filepath.Separator)), string(filepath.Separator))
	if len(parts) > 2 {
		parts = parts[2:]
	}
	return strings.Join(parts, "_")
}

// Address returns the bound Unix socket path.
func (b *Broadcaster) Address() string { return b.address }

func (b *Broadcaster) acceptLoop(ln net.Listener) {
	defer close(b.acceptDone)
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-b.stop:
				return
			default:
				slog.Warn("broadcast accept error", "err", err)
				continue
			}
		}
		go b.handleSubscriber(conn)
	}
}

// handleSubscriber reads the mandatory first line (a decimal ClientID) and
// registers conn under that id. Subsequent input from the subscriber is
// ignored.
func (b *Broadcaster) handleSubscriber(conn net.Conn) {
	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil {
		slog.Warn("broadcast subscriber closed before sending client id", "err", err)
		conn.Close()
		return
	}
	n, err := strconv.ParseInt(strings.TrimSpace(line), 10, 64)
	if err != nil {
		slog.Warn("broadcast subscriber sent invalid client id", "line", line, "err", err)
		conn.Close()
		return
	}
	id := xbproto.ClientID(n)

	b.mu.Lock()
	b.subscribers[id] = conn
	b.mu.Unlock()
	slog.Info("broadcast subscriber connected", "id", id, "address", b.address)

	// Drain and discard anything further the subscriber sends; closing
	// the connection (or the Broadcaster aborting) ends this goroutine.
	buf := make([]byte, 512)
	for {
		if _, err := reader.Read(buf); err != nil {
			b.removeSubscriber(id)
			return
		}
	}
}

func (b *Broadcaster) removeSubscriber(id xbproto.ClientID) {
	b.mu.Lock()
	conn, ok := b.subscribers[id]
	delete(b.subscribers, id)
	b.mu.Unlock()
	if ok {
		conn.Close()
	}
}

func (b *Broadcaster) sendLoop() {
	defer close(b.sendDone)
	for {
		select {
		case <-b.stop:
			return
		case out := <-b.send:
			if out.msg.Kind == xbproto.KindDisconnect && out.id != nil {
				b.removeSubscriber(*out.id)
				continue
			}
			data, err := json.Marshal(out.msg)
			if err != nil {
				slog.Error("broadcast message serialize failed, dropping", "err", err)
				continue
			}
			data = append(data, '\n')
			b.writeTo(out.id, data)
		}
	}
}

func (b *Broadcaster) writeTo(id *xbproto.ClientID, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if id == nil {
		for cid, conn := range b.subscribers {
			if _, err := conn.Write(data); err != nil {
				slog.Warn("broadcast write failed, subscriber left in table for retry", "id", cid, "err", err)
			}
		}
		return
	}
	if conn, ok := b.subscribers[*id]; ok {
		if _, err := conn.Write(data); err != nil {
			slog.Warn("broadcast write failed, subscriber left in table for retry", "id", *id, "err", err)
		}
	}
}

// Send enqueues msg for delivery. id == nil fans out to every subscriber;
// otherwise the message is unicast. A Disconnect message with a non-nil id
// removes that subscriber before anything else is routed.
func (b *Broadcaster) Send(id *xbproto.ClientID, msg xbproto.Message) {
	select {
	case b.send <- outgoing{id: id, msg: msg}:
	case <-b.stop:
	}
}

func (b *Broadcaster) SendAll(msg xbproto.Message) { b.Send(nil, msg) }
func (b *Broadcaster) SendTo(id xbproto.ClientID, msg xbproto.Message) { b.Send(&id, msg) }

// Disconnect enqueues a Disconnect message for id; the send loop then
// removes and closes that subscriber.
func (b *Broadcaster) Disconnect(id xbproto.ClientID) {
	b.Send(&id, xbproto.Disconnect())
}

func (b *Broadcaster) Info(msg string)     { b.SendAll(xbproto.NotifyInfo(msg)) }
func (b *Broadcaster) Warn(msg string)     { b.SendAll(xbproto.NotifyWarn(msg)) }
func (b *Broadcaster) ErrorMsg(msg string) { b.SendAll(xbproto.NotifyError(msg)) }
func (b *Broadcaster) LogInfo(msg string)  { b.SendAll(xbproto.LogInfo(msg)) }
func (b *Broadcaster) LogError(msg string) { b.SendAll(xbproto.LogError(msg)) }

// OpenLogger cues clients to surface their persistent log view.
func (b *Broadcaster) OpenLogger() { b.SendAll(xbproto.OpenLogger()) }

// ReloadLspServer cues sourcekit-lsp (via the editor plugin) to reload .compile.
func (b *Broadcaster) ReloadLspServer() { b.SendAll(xbproto.ReloadLspServer()) }

// SetState broadcasts a state snapshot to everyone.
func (b *Broadcaster) SetState(msg xbproto.Message) { b.SendAll(msg) }

// SetCurrentTask, UpdateCurrentTask, FinishCurrentTask, SetWatching are
// thin helpers building the corresponding Message and sending it.
func (b *Broadcaster) SetCurrentTask(kind xbproto.TaskKind, target string, status xbproto.TaskStatus) {
	b.SendAll(xbproto.NewSetCurrentTask(kind, target, status))
}

func (b *Broadcaster) UpdateCurrentTask(content string, level xbproto.Level) {
	b.SendAll(xbproto.NewUpdateCurrentTask(content, level))
}

func (b *Broadcaster) FinishCurrentTask(status xbproto.TaskStatus) {
	b.SendAll(xbproto.NewFinishCurrentTask(status))
	if status == xbproto.TaskFailed {
		b.OpenLogger()
	}
}

func (b *Broadcaster) SetWatching(watching bool, settings xbproto.BuildSettings) {
	b.SendAll(xbproto.NewSetWatching(watching, settings))
}

// Abort notifies the acceptor and sender goroutines to terminate and
// unlinks the socket file. Safe to call once; a second call is a no-op.
func (b *Broadcaster) Abort() {
	select {
	case <-b.stop:
		return
	default:
		close(b.stop)
	}
	_ = b.ln.Close()
	<-b.acceptDone
	<-b.sendDone
	b.mu.Lock()
	for id, conn := range b.subscribers {
		conn.Close()
		delete(b.subscribers, id)
	}
	b.mu.Unlock()
	if err := os.Remove(b.address); err != nil && !os.IsNotExist(err) {
		slog.Debug("failed to remove broadcast socket", "address", b.address, "err", err)
	}
}
