// Package file stores event streams as JSON files, one directory per
// aggregate type and one per aggregate id:
//
//	<dir>/<type>/<id>/0000000000.json
//	<dir>/<type>/<id>/0000000001.json
//	<dir>/<type>/<id>/HEAD
//
// HEAD holds the committed version of the stream and is replaced by a rename
// once every event file of a batch is in place. Event files above HEAD are
// leftovers of a failed batch and are never read.
//
// The store is meant for single-process use, such as CLIs and tests.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	es "github.com/terraskye/eventsourced"
)

const headFile = "HEAD"

var _ es.EventStore = (*FilesStore)(nil)

type FilesStore struct {
	baseDir    string
	serializer es.Serializer
	mu         sync.RWMutex
}

// Option configures a FilesStore.
type Option func(*FilesStore)

// WithSerializer sets the serializer for payloads and metadata.
func WithSerializer(s es.Serializer) Option {
	return func(f *FilesStore) { f.serializer = s }
}

// NewFileStore opens the store rooted at dir, creating the directory if
// needed.
func NewFileStore(dir string, opts ...Option) (*FilesStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, es.WrapEventStoreError(err)
	}
	f := &FilesStore{
		baseDir:    dir,
		serializer: es.NewJSONSerializer(nil),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

func (f *FilesStore) typeDir(typ es.AggregateType) string {
	return filepath.Join(f.baseDir, url.PathEscape(typ.String()))
}

func (f *FilesStore) streamDir(key es.StreamKey) string {
	return filepath.Join(f.typeDir(key.Type), url.PathEscape(key.ID))
}

func fileName(seq uint64) string {
	return fmt.Sprintf("%010d.json", seq)
}

// writeFile replaces path with data through a temporary file and a rename, so
// readers see either the old content or the new one.
func writeFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return nil
}

// version reads the committed version of a stream from its HEAD file.
func (f *FilesStore) version(key es.StreamKey) (es.Version, error) {
	data, err := os.ReadFile(filepath.Join(f.streamDir(key), headFile))
	if errors.Is(err, fs.ErrNotExist) {
		return es.NoVersion, nil
	}
	if err != nil {
		return es.NoVersion, err
	}
	v, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return es.NoVersion, fmt.Errorf("malformed head of %s: %w", key, err)
	}
	return es.Version(v), nil
}

func (f *FilesStore) Append(ctx context.Context, msg es.Message) error {
	stream := es.NewStream(msg.AggregateID(), msg.AggregateType(),
		es.ExpectedVersionFor(msg.Sequence()), es.VersionOf(msg.Sequence()), []es.Message{msg})
	return f.AppendStream(ctx, stream)
}

func (f *FilesStore) AppendStream(ctx context.Context, stream *es.Stream) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	key := stream.Key()
	current, err := f.version(key)
	if err != nil {
		return es.WrapEventStoreError(err)
	}
	if current != stream.Committed() {
		return &es.ConcurrencyError{Stream: key, Expected: stream.Committed(), Actual: current}
	}
	if stream.IsEmpty() {
		return nil
	}

	dir := f.streamDir(key)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return es.WrapEventStoreError(err)
	}

	var written []string
	rollback := func() {
		for _, path := range written {
			_ = os.Remove(path)
		}
		if current.IsNone() {
			_ = os.Remove(dir)
			_ = os.Remove(f.typeDir(key.Type))
		}
	}

	for msg := range stream.All() {
		// Sequences up to the committed version are already stored.
		if msg.Sequence() < current.Next() {
			continue
		}
		if err := ctx.Err(); err != nil {
			rollback()
			return err
		}
		if err := f.writeEvent(dir, msg); err != nil {
			rollback()
			return es.WrapEventStoreError(err)
		}
		written = append(written, filepath.Join(dir, fileName(msg.Sequence())))
	}

	if err := ctx.Err(); err != nil {
		rollback()
		return err
	}
	head := strconv.FormatInt(int64(stream.Version()), 10)
	if err := writeFile(filepath.Join(dir, headFile), []byte(head)); err != nil {
		rollback()
		return es.WrapEventStoreError(err)
	}
	return nil
}

func (f *FilesStore) writeEvent(dir string, msg es.Message) error {
	stored, err := es.NewStoredEvent(msg, f.serializer)
	if err != nil {
		return err
	}
	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("encode event %d: %w", stored.Sequence, err)
	}
	return writeFile(filepath.Join(dir, fileName(stored.Sequence)), data)
}

func (f *FilesStore) Load(ctx context.Context, id string, typ es.AggregateType) (*es.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	key := es.NewStreamKey(typ, id)
	if _, err := os.Stat(f.typeDir(typ)); errors.Is(err, fs.ErrNotExist) {
		return nil, &es.StreamNotFoundError{Stream: key}
	}

	version, err := f.version(key)
	if err != nil {
		return nil, es.WrapEventStoreError(err)
	}
	if version.IsNone() {
		return nil, &es.StreamNotFoundError{Stream: key, TypeKnown: true}
	}

	dir := f.streamDir(key)
	events := make([]es.StoredEvent, 0, version.Next())
	for seq := range version.Next() {
		name := fileName(seq)
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, es.WrapEventStoreError(err)
		}
		var stored es.StoredEvent
		if err := json.Unmarshal(data, &stored); err != nil {
			return nil, es.WrapEventStoreError(fmt.Errorf("cannot decode %s: %w", name, err))
		}
		events = append(events, stored)
	}

	stream, err := es.StreamFromStoredEvents(key, version, events, f.serializer)
	if err != nil {
		return nil, es.WrapEventStoreError(err)
	}
	return stream, nil
}

func (f *FilesStore) Close() error {
	return nil
}
