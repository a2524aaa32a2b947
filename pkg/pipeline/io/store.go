// Package pipelineio routes dataset reads and writes to storage backends by
// location scheme ("file:", "hdfs:", "foundry:").
package pipelineio

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

const (
	// PartFileName is the single data file written into an output location.
	PartFileName = "part-00000.txt"
	// SuccessMarker is written next to the part file once an output is complete.
	SuccessMarker = "_SUCCESS"
)

// Store is a storage backend for one location scheme.
type Store interface {
	// Read returns the bytes stored at path. A path that holds a written
	// output returns its part file.
	Read(ctx context.Context, path string) ([]byte, error)
	// Replace stores data as the only part at path, discarding whatever was
	// there before.
	Replace(ctx context.Context, path string, data []byte) error
}

// Location is a parsed "scheme:path" string.
type Location struct {
	Scheme string
	// Host is set for "scheme://host/path" forms.
	Host string
	Path string
}

func (l Location) String() string {
	if l.Host != "" {
		return l.Scheme + "://" + l.Host + l.Path
	}
	return l.Scheme + ":" + l.Path
}

// ParseLocation parses raw. A string without a scheme is a local file path.
func ParseLocation(raw string) (Location, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Location{}, fmt.Errorf("empty location")
	}
	i := strings.Index(raw, ":")
	if i <= 1 || !isScheme(raw[:i]) {
		return Location{Scheme: "file", Path: raw}, nil
	}
	loc := Location{Scheme: strings.ToLower(raw[:i]), Path: raw[i+1:]}
	if rest, ok := strings.CutPrefix(loc.Path, "//"); ok {
		host, p, found := strings.Cut(rest, "/")
		loc.Host = host
		loc.Path = "/"
		if found {
			loc.Path = "/" + p
		}
	}
	if loc.Path == "" {
		return Location{}, fmt.Errorf("location %q has no path", raw)
	}
	return loc, nil
}

func isScheme(s string) bool {
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && (r >= '0' && r <= '9' || r == '+' || r == '-' || r == '.'):
		default:
			return false
		}
	}
	return true
}

// Router dispatches locations to the store registered for their scheme.
// It is safe for concurrent use.
type Router struct {
	mu     sync.RWMutex
	stores map[string]Store
}

func NewRouter() *Router {
	return &Router{stores: make(map[string]Store)}
}

// Register binds scheme to store, replacing any previous binding.
func (r *Router) Register(scheme string, store Store) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stores[strings.ToLower(scheme)] = store
}

// Schemes lists the registered schemes in sorted order.
func (r *Router) Schemes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.stores))
	for s := range r.stores {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func (r *Router) resolve(raw string) (Store, Location, error) {
	loc, err := ParseLocation(raw)
	if err != nil {
		return nil, Location{}, err
	}
	r.mu.RLock()
	store, ok := r.stores[loc.Scheme]
	r.mu.RUnlock()
	if !ok {
		return nil, Location{}, fmt.Errorf("no store registered for scheme %q (location %s)", loc.Scheme, raw)
	}
	return store, loc, nil
}

// Read reads the location through its store.
func (r *Router) Read(ctx context.Context, location string) ([]byte, error) {
	store, loc, err := r.resolve(location)
	if err != nil {
		return nil, err
	}
	return store.Read(ctx, loc.Path)
}

// Replace overwrites the location through its store.
func (r *Router) Replace(ctx context.Context, location string, data []byte) error {
	store, loc, err := r.resolve(location)
	if err != nil {
		return err
	}
	return store.Replace(ctx, loc.Path, data)
}
