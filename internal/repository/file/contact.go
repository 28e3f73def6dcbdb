// Package file stores each contact as a JSON document in a data directory,
// one file per record (contact_<id>.json).
//
// Writes go to a temp file that is fsynced and renamed over the target, so
// a crash leaves either the old or the new document. A per-record mutex
// serialises read-modify-write cycles within the process; run a single
// orchestrator instance per directory.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/ignite/contact-orchestrator/internal/domain"
	"github.com/ignite/contact-orchestrator/internal/pkg/logger"
	"github.com/ignite/contact-orchestrator/internal/service/contact"
)

const (
	filePrefix = "contact_"
	fileSuffix = ".json"
)

// ContactRepo implements contact.Repository on the local filesystem.
type ContactRepo struct {
	dir   string
	locks sync.Map // id -> *sync.Mutex
}

// NewContactRepo opens (creating if needed) a data directory.
func NewContactRepo(dir string) (*ContactRepo, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &ContactRepo{dir: dir}, nil
}

func (r *ContactRepo) lock(id string) func() {
	m, _ := r.locks.LoadOrStore(id, &sync.Mutex{})
	mu := m.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (r *ContactRepo) path(id string) (string, bool) {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return "", false
	}
	return filepath.Join(r.dir, filePrefix+id+fileSuffix), true
}

func (r *ContactRepo) Create(ctx context.Context, c *domain.Contact) error {
	p, ok := r.path(c.ID)
	if !ok {
		return fmt.Errorf("create contact: invalid id %q", c.ID)
	}
	defer r.lock(c.ID)()

	if _, err := os.Stat(p); err == nil {
		return contact.ErrDuplicateID
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("create contact: %w", err)
	}
	return r.write(p, c)
}

func (r *ContactRepo) Get(ctx context.Context, id string) (*domain.Contact, error) {
	p, ok := r.path(id)
	if !ok {
		return nil, contact.ErrNotFound
	}
	return r.read(p)
}

func (r *ContactRepo) read(p string) (*domain.Contact, error) {
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, contact.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read contact: %w", err)
	}
	var c domain.Contact
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(p), err)
	}
	if c.ChannelStatus == nil {
		c.ChannelStatus = make(map[domain.Channel]domain.DispatchStatus)
	}
	return &c, nil
}

func (r *ContactRepo) write(p string, c *domain.Contact) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("encode contact: %w", err)
	}

	tmp, err := os.CreateTemp(r.dir, ".tmp-"+filePrefix+"*")
	if err != nil {
		return fmt.Errorf("write contact: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}
	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("write contact: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("sync contact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close contact: %w", err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("commit contact: %w", err)
	}
	// Persist the rename itself.
	if d, err := os.Open(r.dir); err == nil {
		d.Sync()
		d.Close()
	}
	return nil
}

// List returns every record, newest first. Unreadable files are logged and
// skipped so one corrupt document cannot hide the rest.
func (r *ContactRepo) List(ctx context.Context) ([]domain.Contact, error) {
	return r.scan(ctx, func(*domain.Contact) bool { return true })
}

func (r *ContactRepo) ListByChannelState(ctx context.Context, state domain.DispatchState) ([]domain.Contact, error) {
	return r.scan(ctx, func(c *domain.Contact) bool {
		for _, st := range c.ChannelStatus {
			if st.State == state {
				return true
			}
		}
		return false
	})
}

func (r *ContactRepo) scan(ctx context.Context, keep func(*domain.Contact) bool) ([]domain.Contact, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	var names []string
	for _, e := range entries {
		n := e.Name()
		if !e.IsDir() && strings.HasPrefix(n, filePrefix) && strings.HasSuffix(n, fileSuffix) {
			names = append(names, n)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))

	out := make([]domain.Contact, 0, len(names))
	for _, n := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c, err := r.read(filepath.Join(r.dir, n))
		if err != nil {
			if !errors.Is(err, contact.ErrNotFound) {
				logger.Warn("skipping unreadable contact file", "file", n, "error", err)
			}
			continue
		}
		if keep(c) {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (r *ContactRepo) UpdateChannelStatus(ctx context.Context, id string, ch domain.Channel, st domain.DispatchStatus) error {
	return r.mutate(id, func(c *domain.Contact) error {
		c.ChannelStatus[ch] = st
		return nil
	})
}

func (r *ContactRepo) TransitionChannel(ctx context.Context, id string, ch domain.Channel, from domain.DispatchState, next domain.DispatchStatus) error {
	return r.mutate(id, func(c *domain.Contact) error {
		if cur := c.Status(ch); cur.State != from {
			return &contact.StateConflictError{Channel: ch, Current: cur.State}
		}
		c.ChannelStatus[ch] = next
		return nil
	})
}

func (r *ContactRepo) mutate(id string, fn func(*domain.Contact) error) error {
	p, ok := r.path(id)
	if !ok {
		return contact.ErrNotFound
	}
	defer r.lock(id)()

	c, err := r.read(p)
	if err != nil {
		return err
	}
	if err := fn(c); err != nil {
		return err
	}
	return r.write(p, c)
}

func (r *ContactRepo) Close() error { return nil }
