// Package runtime implements the per-project actor that owns a Flavor, its
// Broadcaster, and its Watchable registry, and serializes every mutation
// through a single consuming goroutine.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/xbase-dev/xbased/internal/broadcast"
	"github.com/xbase-dev/xbased/internal/fsevent"
	"github.com/xbase-dev/xbased/internal/project"
	"github.com/xbase-dev/xbased/internal/watchable"
	"github.com/xbase-dev/xbased/internal/xbaseerr"
	"github.com/xbase-dev/xbased/internal/xbproto"
)

// Simulators is the process-wide device inventory a Runtime consults for the
// Runners snapshot sent on Connect.
type Simulators interface {
	Runners() []xbproto.Runner
	Resolve(ref *xbproto.DeviceRef) (xbproto.DeviceRef, error)
}

type cmdKind int

const (
	cmdConnect cmdKind = iota
	cmdDisconnect
	cmdBuild
	cmdRun
	cmdProjectInfo
)

type command struct {
	kind  cmdKind
	id    xbproto.ClientID
	build xbproto.BuildRequest
	run   xbproto.RunRequest
	reply chan<- xbproto.ProjectInfo
}

// Runtime is a single-consumer actor: Connect, Disconnect, Build, and Run
// enqueue a command consumed by one goroutine alongside the project's
// filesystem events, so the Runtime itself takes no lock around the Flavor,
// Broadcaster, or Watchable registry.
type Runtime struct {
	root   xbproto.ProjectRoot
	flavor project.Flavor
	b      *broadcast.Broadcaster
	watch  *watchable.Registry
	sims   Simulators
	watcher *fsevent.Watcher

	clientCount int

	cmds chan command
	done chan struct{}
}

// New detects root's Flavor, binds its Broadcaster socket, and starts the
// actor's consuming goroutine and its recursive filesystem watcher. The
// returned Runtime is ready to accept Connect before this call returns.
func New(ctx context.Context, root xbproto.ProjectRoot, sims Simulators) (*Runtime, error) {
	clean := root.Clean()

	b, err := broadcast.New(string(clean))
	if err != nil {
		return nil, xbaseerr.Wrap(xbaseerr.Setup, err, "binding broadcast socket for %s", clean)
	}

	flavor, err := project.Detect(ctx, clean, b)
	if err != nil {
		b.Abort()
		kind := xbaseerr.Setup
		var xerr *xbaseerr.Error
		if errors.As(err, &xerr) {
			kind = xerr.Kind
		}
		return nil, xbaseerr.Wrap(kind, err, "detecting project at %s", clean)
	}

	w, err := fsevent.NewWatcher(string(clean), flavor.Watchignore())
	if err != nil {
		b.Abort()
		return nil, xbaseerr.Wrap(xbaseerr.Setup, err, "watching %s", clean)
	}

	r := start(clean, flavor, b, w, sims)
	slog.Info("runtime started", "root", clean, "flavor", flavor.Name(), "broadcast", b.Address())
	return r, nil
}

// start wires an already-constructed Flavor, Broadcaster, and Watcher into a
// running Runtime. Split out from New so tests can supply a fake Flavor
// without touching the filesystem detection path.
func start(root xbproto.ProjectRoot, flavor project.Flavor, b *broadcast.Broadcaster, w *fsevent.Watcher, sims Simulators) *Runtime {
	r := &Runtime{
		root:    root,
		flavor:  flavor,
		b:       b,
		watch:   watchable.NewRegistry(),
		sims:    sims,
		watcher: w,
		cmds:    make(chan command, 64),
		done:    make(chan struct{}),
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	go w.Run(watchCtx)
	go r.loop(watchCtx, cancel)
	return r
}

// Root returns the project root this Runtime owns.
func (r *Runtime) Root() xbproto.ProjectRoot { return r.root }

// Address returns the bound broadcast socket path clients subscribe to.
func (r *Runtime) Address() string { return r.b.Address() }

// Connect enqueues a new client registration.
func (r *Runtime) Connect(id xbproto.ClientID) { r.enqueue(command{kind: cmdConnect, id: id}) }

// Disconnect enqueues a client departure. Once the last connected client
// departs, the Runtime tears itself down.
func (r *Runtime) Disconnect(id xbproto.ClientID) { r.enqueue(command{kind: cmdDisconnect, id: id}) }

// Build enqueues a build request.
func (r *Runtime) Build(req xbproto.BuildRequest) { r.enqueue(command{kind: cmdBuild, build: req}) }

// Run enqueues a run request.
func (r *Runtime) Run(req xbproto.RunRequest) { r.enqueue(command{kind: cmdRun, run: req}) }

// ProjectInfo synchronously queries the current watchlist/targets snapshot
// from the loop goroutine. Returns an error if the Runtime has already torn
// down before the query is served.
func (r *Runtime) ProjectInfo(ctx context.Context) (xbproto.ProjectInfo, error) {
	reply := make(chan xbproto.ProjectInfo, 1)
	r.enqueue(command{kind: cmdProjectInfo, reply: reply})
	select {
	case info := <-reply:
		return info, nil
	case <-r.done:
		return xbproto.ProjectInfo{}, xbaseerr.New(xbaseerr.Lookup, "runtime torn down before query was served", nil)
	case <-ctx.Done():
		return xbproto.ProjectInfo{}, ctx.Err()
	}
}

// Done returns a channel closed once the Runtime's loop has exited, which
// happens only when its last client disconnects.
func (r *Runtime) Done() <-chan struct{} { return r.done }

func (r *Runtime) enqueue(c command) {
	select {
	case r.cmds <- c:
	case <-r.done:
	}
}

// loop is the Runtime's sole consumer: it drains filesystem events and
// client commands from the same goroutine, so project.Flavor,
// broadcast.Broadcaster, and watchable.Registry are never touched
// concurrently.
func (r *Runtime) loop(ctx context.Context, cancelWatcher context.CancelFunc) {
	defer close(r.done)
	defer cancelWatcher()
	defer r.b.Abort()

	events := r.watcher.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			r.handleFSEvent(ctx, ev)
		case cmd := <-r.cmds:
			if r.handle(ctx, cmd) {
				return
			}
		}
	}
}

func (r *Runtime) handle(ctx context.Context, cmd command) (exit bool) {
	switch cmd.kind {
	case cmdConnect:
		r.handleConnect(cmd.id)
	case cmdDisconnect:
		return r.handleDisconnect(cmd.id) <= 0
	case cmdBuild:
		r.handleBuild(ctx, cmd.build)
	case cmdRun:
		r.handleRun(ctx, cmd.run)
	case cmdProjectInfo:
		cmd.reply <- r.projectInfo()
	}
	return false
}

func (r *Runtime) handleConnect(id xbproto.ClientID) {
	r.clientCount++
	r.b.SendTo(id, xbproto.NotifyInfo(fmt.Sprintf("[%s] Registered", r.flavor.Name())))
	r.b.SendTo(id, xbproto.NewSetStateProjectInfo(r.projectInfo()))
	if r.sims != nil {
		r.b.SendTo(id, xbproto.NewSetStateRunners(r.sims.Runners()))
	}
}

// handleDisconnect drops one client and returns how many remain connected;
// the caller decides whether that count means teardown.
func (r *Runtime) handleDisconnect(id xbproto.ClientID) int {
	r.clientCount--
	r.b.Disconnect(id)
	return r.clientCount
}

func (r *Runtime) handleFSEvent(ctx context.Context, ev fsevent.Event) {
	changed, err := r.flavor.EnsureSetup(ctx, &ev, r.b)
	if err != nil {
		slog.Warn("runtime: ensure setup failed", "root", r.root, "err", err)
		r.b.ErrorMsg(fmt.Sprintf("setup failed: %v", err))
	} else if changed {
		r.b.SetState(xbproto.NewSetStateProjectInfo(r.projectInfo()))
	}
	r.watch.Trigger(ctx, r.flavor, ev, r.b)
}

func (r *Runtime) handleBuild(ctx context.Context, req xbproto.BuildRequest) {
	key := watchable.Key(r.root, xbproto.TaskBuild, nil, req.Settings)
	if req.Operation == xbproto.OperationStop {
		r.watch.Remove(key, r.b)
		return
	}

	w := watchable.NewBuildWatchable(req.Settings, req.Operation == xbproto.OperationWatch)
	if err := w.Trigger(ctx, r.flavor, fsevent.Event{}, r.b); err != nil {
		slog.Warn("runtime: build failed", "root", r.root, "target", req.Settings.Target, "err", err)
		r.b.ErrorMsg(fmt.Sprintf("build failed: %v", err))
		return
	}
	if req.Operation == xbproto.OperationWatch {
		r.watch.Add(key, w)
	}
}

func (r *Runtime) handleRun(ctx context.Context, req xbproto.RunRequest) {
	device := req.Device
	if r.sims != nil {
		if resolved, err := r.sims.Resolve(req.Device); err == nil {
			device = &resolved
		} else if req.Device != nil {
			slog.Warn("runtime: device resolution failed, using request as given", "root", r.root, "err", err)
		}
	}

	key := watchable.Key(r.root, xbproto.TaskRun, device, req.Settings)
	if req.Operation == xbproto.OperationStop {
		r.watch.Remove(key, r.b)
		return
	}

	w := watchable.NewRunWatchable(req.Settings, device, req.Operation == xbproto.OperationWatch)
	if err := w.Trigger(ctx, r.flavor, fsevent.Event{}, r.b); err != nil {
		slog.Warn("runtime: run failed", "root", r.root, "target", req.Settings.Target, "err", err)
		r.b.ErrorMsg(fmt.Sprintf("run failed: %v", err))
		return
	}
	if req.Operation == xbproto.OperationWatch {
		r.watch.Add(key, w)
	}
}

func (r *Runtime) projectInfo() xbproto.ProjectInfo {
	return xbproto.ProjectInfo{
		Watchlist: r.watch.Watchlist(),
		Targets:   r.flavor.Targets(),
	}
}
