// Package registry implements the process-wide mapping from project root to
// the running Runtime that owns it, so the daemon request socket can route
// an incoming Request to the right actor without knowing its internals.
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/xbase-dev/xbased/internal/runtime"
	"github.com/xbase-dev/xbased/internal/xbaseerr"
	"github.com/xbase-dev/xbased/internal/xbproto"
)

// connectGrace is how long register waits before enqueueing Connect, giving
// the client time to dial the broadcast socket whose address it was just
// handed.
const connectGrace = 100 * time.Millisecond

type entry struct {
	rt      *runtime.Runtime
	clients map[xbproto.ClientID]struct{}
}

// Registry is the process-wide root -> Runtime map.
type Registry struct {
	mu      sync.Mutex
	entries map[xbproto.ProjectRoot]*entry
	sims    runtime.Simulators
}

// New creates an empty Registry. sims is forwarded to every Runtime it
// starts, for the Runners snapshot sent on Connect.
func New(sims runtime.Simulators) *Registry {
	return &Registry{entries: make(map[xbproto.ProjectRoot]*entry), sims: sims}
}

// Register starts (or reuses) the Runtime for root, enrolls id as one of its
// clients after a short grace period, and returns the Runtime's broadcast
// socket address. Registering an id already enrolled in root is an error.
func (reg *Registry) Register(ctx context.Context, id xbproto.ClientID, root xbproto.ProjectRoot) (string, error) {
	clean := root.Clean()

	reg.mu.Lock()
	e, exists := reg.entries[clean]
	if exists {
		if _, already := e.clients[id]; already {
			reg.mu.Unlock()
			return "", xbaseerr.New(xbaseerr.Setup, fmt.Sprintf("client %d already registered for %s", id, clean), nil)
		}
		e.clients[id] = struct{}{}
		address := e.rt.Address()
		reg.mu.Unlock()
		reg.connectAfterGrace(e.rt, id)
		return address, nil
	}
	reg.mu.Unlock()

	rt, err := runtime.New(ctx, clean, reg.sims)
	if err != nil {
		return "", err
	}
	e = &entry{rt: rt, clients: map[xbproto.ClientID]struct{}{id: {}}}

	reg.mu.Lock()
	reg.entries[clean] = e
	reg.mu.Unlock()

	go reg.reapWhenDone(clean, rt)

	address := rt.Address()
	reg.connectAfterGrace(rt, id)
	return address, nil
}

func (reg *Registry) connectAfterGrace(rt *runtime.Runtime, id xbproto.ClientID) {
	go func() {
		time.Sleep(connectGrace)
		rt.Connect(id)
	}()
}

// reapWhenDone removes root's entry once its Runtime tears itself down, so a
// later Register for the same root starts fresh instead of routing into a
// dead actor.
func (reg *Registry) reapWhenDone(root xbproto.ProjectRoot, rt *runtime.Runtime) {
	<-rt.Done()
	reg.mu.Lock()
	if e, ok := reg.entries[root]; ok && e.rt == rt {
		delete(reg.entries, root)
	}
	reg.mu.Unlock()
}

// Build routes a build request to root's Runtime.
func (reg *Registry) Build(root xbproto.ProjectRoot, req xbproto.BuildRequest) error {
	rt, err := reg.lookup(root)
	if err != nil {
		return err
	}
	rt.Build(req)
	return nil
}

// Run routes a run request to root's Runtime.
func (reg *Registry) Run(root xbproto.ProjectRoot, req xbproto.RunRequest) error {
	rt, err := reg.lookup(root)
	if err != nil {
		return err
	}
	rt.Run(req)
	return nil
}

// Drop enqueues a Disconnect for id on every given root, removing id from
// each entry's client set. The Runtime itself tears down once its count
// reaches zero.
func (reg *Registry) Drop(id xbproto.ClientID, roots []xbproto.ProjectRoot) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	for _, root := range roots {
		e, ok := reg.entries[root.Clean()]
		if !ok {
			continue
		}
		delete(e.clients, id)
		e.rt.Disconnect(id)
	}
}

// ProjectInfo returns root's current watchlist/targets snapshot.
func (reg *Registry) ProjectInfo(ctx context.Context, root xbproto.ProjectRoot) (xbproto.ProjectInfo, error) {
	rt, err := reg.lookup(root)
	if err != nil {
		return xbproto.ProjectInfo{}, err
	}
	return rt.ProjectInfo(ctx)
}

func (reg *Registry) lookup(root xbproto.ProjectRoot) (*runtime.Runtime, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	e, ok := reg.entries[root.Clean()]
	if !ok {
		return nil, xbaseerr.New(xbaseerr.Lookup, fmt.Sprintf("no runtime registered for %s", root), nil)
	}
	return e.rt, nil
}
