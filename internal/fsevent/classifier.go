// Package fsevent normalizes raw fsnotify notifications into the daemon's
// debounced, ignore-filtered Event stream.
package fsevent

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Kind is the normalized event kind a Watchable reacts to.
type Kind string

const (
	KindFileCreated   Kind = "FileCreated"
	KindFileUpdated   Kind = "FileUpdated"
	KindFileRenamed   Kind = "FileRenamed"
	KindFileRemoved   Kind = "FileRemoved"
	KindFolderCreated Kind = "FolderCreated"
	KindFolderRemoved Kind = "FolderRemoved"
	KindOther         Kind = "Other"
)

// Event is one classified filesystem change.
type Event struct {
	Path     string
	FileName string
	Kind     Kind
	IsSeen   bool
}

// sentinel is the project-config file name whose changes are never marked
// "seen" (classifier rule 6): a project.yml rewrite always dispatches fresh
// even if fired back-to-back for the same path.
const sentinel = "project.yml"

// DefaultIgnores is the fixed ignore list every project carries regardless
// of flavor. Each project.Flavor.Watchignore returns it unchanged, plus any
// .xbaserc extra globs; .gitignore patterns are not read, and no flavor adds
// patterns of its own.
var DefaultIgnores = []string{
	"**/.git/**",
	"**/.*",
	"**/.compile",
	"**/build/**",
	"**/.build/**",
	"**/buildServer.json",
	"**/DerivedData/**",
	"**/Derived/**",
}

// matches reports whether path matches any of the glob patterns. Patterns
// use filepath.Match-compatible syntax extended with "**" as a path-spanning
// wildcard, matched against the path's components.
func matches(patterns []string, path string) bool {
	for _, p := range patterns {
		if globMatch(p, path) {
			return true
		}
	}
	return false
}

// globMatch implements the small subset of glob syntax DefaultIgnores uses:
// "**" matches any number of path segments (including zero), single "*"
// matches within one segment, and a leading dot-segment ("**/.*") matches
// any hidden file or directory component.
func globMatch(pattern, path string) bool {
	pattern = filepath.ToSlash(pattern)
	path = filepath.ToSlash(path)

	pSegs := strings.Split(pattern, "/")
	tSegs := strings.Split(path, "/")
	return matchSegs(pSegs, tSegs)
}

func matchSegs(pSegs, tSegs []string) bool {
	if len(pSegs) == 0 {
		return len(tSegs) == 0
	}
	if pSegs[0] == "**" {
		if len(pSegs) == 1 {
			return true
		}
		for i := 0; i <= len(tSegs); i++ {
			if matchSegs(pSegs[1:], tSegs[i:]) {
				return true
			}
		}
		return false
	}
	if len(tSegs) == 0 {
		return false
	}
	ok, err := filepath.Match(pSegs[0], tSegs[0])
	if err != nil || !ok {
		return false
	}
	return matchSegs(pSegs[1:], tSegs[1:])
}

// Clock tracks per-Runtime debounce and rename-collapse state (spec
// invariant: an Event is dispatched only after >=1ms since the previous
// dispatched event for that Runtime).
type Clock struct {
	mu       sync.Mutex
	lastSent time.Time
	lastPath string
}

// NewClock creates a debounce Clock with no prior dispatch recorded.
func NewClock() *Clock { return &Clock{} }

// Classify turns one raw fsnotify.Event into an Event, or returns ok=false
// if it should be suppressed (empty name, ignored path, an event kind other
// than create/write/rename/remove, or debounce window). now is passed in so tests can control debounce timing
// deterministically.
func Classify(raw fsnotify.Event, root string, ignore []string, clock *Clock, now time.Time) (Event, bool) {
	if raw.Name == "" {
		return Event{}, false
	}

	fileName := filepath.Base(raw.Name)

	if matches(ignore, raw.Name) {
		return Event{}, false
	}

	kind, ok := classifyKind(raw)
	if !ok {
		return Event{}, false
	}

	clock.mu.Lock()
	if !clock.lastSent.IsZero() && now.Sub(clock.lastSent) < time.Millisecond {
		clock.mu.Unlock()
		return Event{}, false
	}

	isSeen := false
	if fileName != sentinel && clock.lastPath == raw.Name {
		isSeen = true
	} else {
		clock.lastPath = raw.Name
	}
	clock.lastSent = now
	clock.mu.Unlock()

	return Event{
		Path:     raw.Name,
		FileName: fileName,
		Kind:     kind,
		IsSeen:   isSeen,
	}, true
}

func classifyKind(raw fsnotify.Event) (Kind, bool) {
	switch {
	case raw.Has(fsnotify.Create):
		// fsnotify doesn't distinguish file/folder creation on its own;
		// callers that know the path is a directory use ClassifyDir, which
		// turns this into FolderCreated.
		return KindFileCreated, true
	case raw.Has(fsnotify.Write):
		return KindFileUpdated, true
	case raw.Has(fsnotify.Rename):
		return KindFileRenamed, true
	case raw.Has(fsnotify.Remove):
		return KindFileRemoved, true
	default:
		return KindOther, false
	}
}

// ClassifyDir is Classify, but reclassifies a Create as FolderCreated and a
// Remove as FolderRemoved when the caller already knows path is (or was) a
// directory.
func ClassifyDir(raw fsnotify.Event, root string, ignore []string, clock *Clock, now time.Time, isDir bool) (Event, bool) {
	ev, ok := Classify(raw, root, ignore, clock, now)
	if !ok {
		return ev, false
	}
	if isDir {
		switch ev.Kind {
		case KindFileCreated:
			ev.Kind = KindFolderCreated
		case KindFileRemoved:
			ev.Kind = KindFolderRemoved
		}
	}
	return ev, true
}
