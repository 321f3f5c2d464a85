package task

import (
	"context"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/xbase-dev/xbased/internal/xbproto"
)

// fakeBroadcaster records every UpdateCurrentTask/FinishCurrentTask call so
// tests can assert on classification without a real broadcast socket.
type fakeBroadcaster struct {
	mu       sync.Mutex
	updates  []update
	finished []xbproto.TaskStatus
}

type update struct {
	content string
	level   xbproto.Level
}

func (f *fakeBroadcaster) UpdateCurrentTask(content string, level xbproto.Level) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, update{content, level})
}

func (f *fakeBroadcaster) FinishCurrentTask(status xbproto.TaskStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished = append(f.finished, status)
}

func (f *fakeBroadcaster) snapshot() ([]update, []xbproto.TaskStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]update(nil), f.updates...), append([]xbproto.TaskStatus(nil), f.finished...)
}

func TestReporter_SuccessReportsSucceeded(t *testing.T) {
	b := &fakeBroadcaster{}
	r := New(b)

	cmd := exec.Command("sh", "-c", "echo building; echo done")
	done := r.Consume(context.Background(), cmd)

	select {
	case ok := <-done:
		if !ok {
			t.Fatalf("expected success")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reporter")
	}

	_, finished := b.snapshot()
	if len(finished) != 1 || finished[0] != xbproto.TaskSucceeded {
		t.Fatalf("expected a single Succeeded finish, got %+v", finished)
	}
}

func TestReporter_FailureReportsFailed(t *testing.T) {
	b := &fakeBroadcaster{}
	r := New(b)

	cmd := exec.Command("sh", "-c", "exit 1")
	done := r.Consume(context.Background(), cmd)

	select {
	case ok := <-done:
		if ok {
			t.Fatalf("expected failure")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reporter")
	}

	_, finished := b.snapshot()
	if len(finished) != 1 || finished[0] != xbproto.TaskFailed {
		t.Fatalf("expected a single Failed finish, got %+v", finished)
	}
}

func TestReporter_ClassifiesErrorAndWarnLines(t *testing.T) {
	b := &fakeBroadcaster{}
	r := New(b)

	cmd := exec.Command("sh", "-c", "echo 'error: thing broke'; echo 'warning: heads up'; echo plain")
	<-r.Consume(context.Background(), cmd)

	updates, _ := b.snapshot()
	levels := map[string]xbproto.Level{}
	for _, u := range updates {
		levels[u.content] = u.level
	}
	if levels["error: thing broke"] != xbproto.LevelError {
		t.Fatalf("expected error line classified Error, got %v", levels["error: thing broke"])
	}
	if levels["warning: heads up"] != xbproto.LevelWarn {
		t.Fatalf("expected warning line classified Warn, got %v", levels["warning: heads up"])
	}
	if levels["plain"] != xbproto.LevelInfo {
		t.Fatalf("expected plain line classified Info, got %v", levels["plain"])
	}
}

func TestReporter_StderrAlwaysError(t *testing.T) {
	b := &fakeBroadcaster{}
	r := New(b)

	cmd := exec.Command("sh", "-c", "echo something harmless 1>&2")
	<-r.Consume(context.Background(), cmd)

	updates, _ := b.snapshot()
	found := false
	for _, u := range updates {
		if u.content == "something harmless" {
			found = true
			if u.level != xbproto.LevelError {
				t.Fatalf("expected stderr line forced to Error, got %v", u.level)
			}
		}
	}
	if !found {
		t.Fatalf("expected stderr line to be reported")
	}
}

func TestReporter_SuppressesResolvingPackagesBanner(t *testing.T) {
	b := &fakeBroadcaster{}
	r := New(b)

	cmd := exec.Command("sh", "-c", "echo 'Resolving Packages'; echo fetched")
	<-r.Consume(context.Background(), cmd)

	updates, _ := b.snapshot()
	for _, u := range updates {
		if u.content == "Resolving Packages" {
			t.Fatalf("expected the Resolving Packages banner to be suppressed")
		}
	}
}

func TestReporter_ContextCancelKillsProcessAndReportsFailure(t *testing.T) {
	b := &fakeBroadcaster{}
	r := New(b)
	ctx, cancel := context.WithCancel(context.Background())

	cmd := exec.Command("sh", "-c", "sleep 5")
	done := r.Consume(ctx, cmd)
	cancel()

	select {
	case ok := <-done:
		if ok {
			t.Fatalf("expected cancellation to report failure")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for cancellation to take effect")
	}
}

func TestReporter_DroppedBroadcasterStopsReporting(t *testing.T) {
	b := &fakeBroadcaster{}
	r := New(b)
	r.Kill()

	cmd := exec.Command("sh", "-c", "echo hello; echo world")
	<-r.Consume(context.Background(), cmd)

	updates, finished := b.snapshot()
	if len(updates) != 0 || len(finished) != 0 {
		t.Fatalf("expected no reporting once the broadcaster reference was dropped, got updates=%+v finished=%+v", updates, finished)
	}
}
