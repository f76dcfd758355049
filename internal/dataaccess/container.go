package dataaccess

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// ContainerID names one sealed, write-once container file.
type ContainerID string

// ContainerMemo locates a record inside a container.
type ContainerMemo struct {
	Container ContainerID
	Offset    int64
	Length    int64
}

// ErrContainerNotFound is returned by ContainerSet.Open when id is not (or
// no longer) part of the set; ContainerReader treats it as a signal to
// reload.
var ErrContainerNotFound = errors.New("dataaccess: container not found")

// ContainerSet resolves a container id to a readable handle. Implementations
// may represent a point-in-time view that becomes stale as new containers
// are added or old ones are compacted away.
type ContainerSet interface {
	Open(id ContainerID) (io.ReaderAt, error)
}

// ReloadFunc produces a fresh ContainerSet reflecting the current state of
// the backing store, used to recover from a stale view.
type ReloadFunc func(ctx context.Context) (ContainerSet, error)

// ContainerWriter is a write-once buffer: Add appends records while the
// writer is open; Finish seals it to a named, immutable container and
// makes it available for reads. A writer must not be reused after Finish.
type ContainerWriter struct {
	dir    string
	id     ContainerID
	file   *os.File
	offset int64
	mu     sync.Mutex
	sealed bool
}

// NewContainerWriter creates a new write-once container under dir, named id.
func NewContainerWriter(dir string, id ContainerID) (*ContainerWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("dataaccess: create container dir: %w", err)
	}
	path := filepath.Join(dir, string(id)+".pack")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("dataaccess: create container %s: %w", id, err)
	}
	return &ContainerWriter{dir: dir, id: id, file: f}, nil
}

// Add buffers data as one record and returns its memo within this container.
func (w *ContainerWriter) Add(data []byte) (ContainerMemo, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sealed {
		return ContainerMemo{}, fmt.Errorf("dataaccess: container %s already sealed", w.id)
	}
	n, err := w.file.WriteAt(data, w.offset)
	if err != nil {
		return ContainerMemo{}, fmt.Errorf("dataaccess: write container %s: %w", w.id, err)
	}
	memo := ContainerMemo{Container: w.id, Offset: w.offset, Length: int64(n)}
	w.offset += int64(n)
	return memo, nil
}

// Finish seals the container: no further writes are permitted, and the
// underlying file is flushed and closed.
func (w *ContainerWriter) Finish() (ContainerID, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sealed {
		return w.id, nil
	}
	w.sealed = true
	if err := w.file.Sync(); err != nil {
		w.file.Close()
		return "", fmt.Errorf("dataaccess: sync container %s: %w", w.id, err)
	}
	if err := w.file.Close(); err != nil {
		return "", fmt.Errorf("dataaccess: close container %s: %w", w.id, err)
	}
	return w.id, nil
}

// DirContainerSet resolves containers from .pack files in a single directory.
// Nothing is captured at construction: each Open looks the file up in the
// directory as it is at that moment.
type DirContainerSet struct {
	dir string
}

// NewDirContainerSet returns a ContainerSet backed by the given directory.
func NewDirContainerSet(dir string) *DirContainerSet {
	return &DirContainerSet{dir: dir}
}

func (s *DirContainerSet) Open(id ContainerID) (io.ReaderAt, error) {
	path := filepath.Join(s.dir, string(id)+".pack")
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrContainerNotFound
		}
		return nil, fmt.Errorf("dataaccess: open container %s: %w", id, err)
	}
	return f, nil
}

// ReloadContainerSet returns a ReloadFunc that rescans dir for the current
// set of containers, used by ContainerReader when a memo's container has
// moved or been compacted out from under a stale view.
func ReloadContainerSet(dir string) ReloadFunc {
	return func(ctx context.Context) (ContainerSet, error) {
		return NewDirContainerSet(dir), nil
	}
}

// ContainerReader vectors reads against a ContainerSet, retrying once via
// reload when a memo's container is missing from the current view, so a
// concurrent repack does not fail in-flight reads.
type ContainerReader struct {
	mu     sync.Mutex
	set    ContainerSet
	reload ReloadFunc
}

// NewContainerReader builds a reader over an initial set, able to refresh
// itself via reload on a stale-view miss.
func NewContainerReader(set ContainerSet, reload ReloadFunc) *ContainerReader {
	return &ContainerReader{set: set, reload: reload}
}

// ReadRange reads each memo, grouping sequential reads per container. On a
// miss against the current set, reload is invoked once and the whole batch
// is retried against the refreshed set.
func (r *ContainerReader) ReadRange(ctx context.Context, memos []ContainerMemo) ([][]byte, error) {
	r.mu.Lock()
	set := r.set
	r.mu.Unlock()

	out, err := r.readOnce(set, memos)
	if err == nil {
		return out, nil
	}
	if !errors.Is(err, ErrContainerNotFound) {
		return nil, err
	}
	if r.reload == nil {
		return nil, err
	}

	fresh, rerr := r.reload(ctx)
	if rerr != nil {
		return nil, fmt.Errorf("dataaccess: reload container set: %w", rerr)
	}
	r.mu.Lock()
	r.set = fresh
	r.mu.Unlock()

	return r.readOnce(fresh, memos)
}

func (r *ContainerReader) readOnce(set ContainerSet, memos []ContainerMemo) ([][]byte, error) {
	handles := make(map[ContainerID]io.ReaderAt)
	defer func() {
		for _, h := range handles {
			if c, ok := h.(io.Closer); ok {
				c.Close()
			}
		}
	}()
	out := make([][]byte, len(memos))
	for i, m := range memos {
		h, ok := handles[m.Container]
		if !ok {
			var err error
			h, err = set.Open(m.Container)
			if err != nil {
				return nil, err
			}
			handles[m.Container] = h
		}
		buf := make([]byte, m.Length)
		if _, err := h.ReadAt(buf, m.Offset); err != nil && err != io.EOF {
			return nil, fmt.Errorf("dataaccess: read container %s: %w", m.Container, err)
		}
		out[i] = buf
	}
	return out, nil
}
