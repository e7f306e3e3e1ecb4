// Package recovery backs up run progress on abnormal termination and
// restores the pending frontier on the next start.
//
// A Service is an after-processing interceptor. It accumulates the resources
// processed so far and every successor found. Backup writes two disjoint sets
// into a zip archive, processed/ and found/ (found minus processed, by
// address), one JSON document per resource, and records the archive path in
// a pointer.Store. Restore reads the archive named by the pointer and returns
// the found entries as the pending frontier.
package recovery

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/webwalker/internal/clock/system"
	"github.com/JakeFAU/webwalker/internal/crawler"
	"github.com/JakeFAU/webwalker/internal/recovery/pointer"
)

// Priority keeps the recorder with the other bookkeeping after-hooks, after
// successor post-processing has named and deepened the children.
const Priority = 0

const (
	processedDir = "processed"
	foundDir     = "found"
)

var nameReplacer = strings.NewReplacer("/", "_", `\`, "_", ":", "_")

// Service records run progress and persists it on demand.
type Service struct {
	store  pointer.Store
	bus    crawler.Publisher
	dir    string
	clock  crawler.Clock
	logger *zap.Logger

	processed *resourceSet
	found     *resourceSet
}

// Option customizes a Service.
type Option func(*Service)

// WithDir sets the directory archives are written to.
func WithDir(dir string) Option {
	return func(s *Service) {
		if dir != "" {
			s.dir = dir
		}
	}
}

// WithClock sets the clock used to stamp archive names.
func WithClock(c crawler.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// DefaultDir is the archive directory under the XDG state home.
func DefaultDir() string {
	return filepath.Join(pointer.StateDir(), "backups")
}

// New returns a Service persisting its pointer in store and announcing
// restored resources on bus.
func New(store pointer.Store, bus crawler.Publisher, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("pointer store is required")
	}
	if bus == nil {
		bus = crawler.NopPublisher{}
	}
	s := &Service{
		store:     store,
		bus:       bus,
		dir:       DefaultDir(),
		clock:     system.New(),
		logger:    zap.NewNop(),
		processed: newResourceSet(),
		found:     newResourceSet(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Priority implements crawler.Interceptor.
func (s *Service) Priority() int {
	return Priority
}

// AfterProcessing records r as processed and its successors as found.
func (s *Service) AfterProcessing(_ context.Context, r *crawler.Resource, successors []*crawler.Resource) {
	s.processed.add(r.Clone())
	for _, child := range successors {
		if child != nil {
			s.found.add(child.Clone())
		}
	}
}

// Backup writes the current sets to a fresh timestamped archive and points
// the store at it. The previous archive is left in place.
func (s *Service) Backup(ctx context.Context) error {
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return fmt.Errorf("create backup dir: %w", err)
	}
	path := filepath.Join(s.dir, system.Stamp(s.clock.Now())+".zip")
	processed := s.processed.snapshot()
	found := pending(processed, s.found.snapshot())
	if err := writeArchive(path, processed, found); err != nil {
		return err
	}
	if err := s.store.Save(ctx, path); err != nil {
		return fmt.Errorf("save recovery pointer: %w", err)
	}
	s.logger.Info("recovery backup written",
		zap.String("path", path),
		zap.Int("processed", len(processed)),
		zap.Int("found", len(found)),
	)
	return nil
}

// Restore returns the pending frontier of the archive named by the pointer,
// or nothing when no pointer is stored. Every restored resource is bound to
// a single fresh reference holding rc and announced with exactly one
// RESOURCE_RECOVERED event per address.
func (s *Service) Restore(ctx context.Context, rc *crawler.RunContext) ([]*crawler.Resource, error) {
	path, err := s.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load recovery pointer: %w", err)
	}
	if path == "" {
		return nil, nil
	}
	processed, found, err := readArchive(path)
	if err != nil {
		return nil, err
	}

	ref := crawler.NewContextRef(rc)
	done := make(map[string]struct{}, len(processed))
	for _, r := range processed {
		if _, dup := done[r.URL]; dup {
			continue
		}
		r.Bind(ref)
		done[r.URL] = struct{}{}
		s.processed.add(r.Clone())
		s.bus.Publish(crawler.ResourceRecovered(r, true))
	}

	var frontier []*crawler.Resource
	queued := make(map[string]struct{}, len(found))
	for _, r := range found {
		if _, seen := done[r.URL]; seen {
			continue
		}
		if _, dup := queued[r.URL]; dup {
			continue
		}
		queued[r.URL] = struct{}{}
		r.Bind(ref)
		s.found.add(r.Clone())
		s.bus.Publish(crawler.ResourceRecovered(r, false))
		frontier = append(frontier, r)
	}
	// Subscribers must see the recovered state before the first resource is
	// processed, even on an async bus.
	if f, ok := s.bus.(flusher); ok {
		if err := f.Flush(ctx); err != nil {
			return nil, fmt.Errorf("flush recovered events: %w", err)
		}
	}

	s.logger.Info("recovery archive restored",
		zap.String("path", path),
		zap.Int("processed", len(processed)),
		zap.Int("found", len(found)),
		zap.Int("frontier", len(frontier)),
	)
	return frontier, nil
}

// pending returns the found resources whose address was never processed,
// in found order.
func pending(processed, found []*crawler.Resource) []*crawler.Resource {
	done := make(map[string]struct{}, len(processed))
	for _, r := range processed {
		done[r.URL] = struct{}{}
	}
	out := make([]*crawler.Resource, 0, len(found))
	for _, r := range found {
		if _, ok := done[r.URL]; !ok {
			out = append(out, r)
		}
	}
	return out
}

type flusher interface {
	Flush(ctx context.Context) error
}

// Clear forgets the stored pointer so the next run starts fresh.
func (s *Service) Clear(ctx context.Context) error {
	if err := s.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear recovery pointer: %w", err)
	}
	return nil
}

func writeArchive(path string, processed, found []*crawler.Resource) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".backup-*.zip")
	if err != nil {
		return fmt.Errorf("create backup archive: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	zw := zip.NewWriter(tmp)
	if err := writeEntries(zw, processedDir, processed); err != nil {
		return err
	}
	if err := writeEntries(zw, foundDir, found); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finish backup archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close backup archive: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("move backup archive: %w", err)
	}
	return nil
}

func writeEntries(zw *zip.Writer, dir string, resources []*crawler.Resource) error {
	used := make(map[string]int, len(resources))
	for _, r := range resources {
		name := entryName(r, used)
		w, err := zw.Create(dir + "/" + name)
		if err != nil {
			return fmt.Errorf("create archive entry %s/%s: %w", dir, name, err)
		}
		if err := json.NewEncoder(w).Encode(r); err != nil {
			return fmt.Errorf("encode %s: %w", r.URL, err)
		}
	}
	return nil
}

// entryName derives a unique file name from the display name, adding -N for
// repeats.
func entryName(r *crawler.Resource, used map[string]int) string {
	base := nameReplacer.Replace(strings.TrimSpace(r.Name))
	if base == "" || base == "." || base == ".." {
		base = "resource"
	}
	n := used[base]
	used[base] = n + 1
	if n == 0 {
		return base
	}
	return base + "-" + strconv.Itoa(n)
}

func readArchive(path string) (processed, found []*crawler.Resource, err error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open recovery archive %s: %w", path, err)
	}
	defer func() { _ = zr.Close() }()

	for _, f := range zr.File {
		dir, _, ok := strings.Cut(f.Name, "/")
		if !ok || (dir != processedDir && dir != foundDir) {
			continue
		}
		r, err := readEntry(f)
		if err != nil {
			return nil, nil, err
		}
		if dir == processedDir {
			processed = append(processed, r)
		} else {
			found = append(found, r)
		}
	}
	return processed, found, nil
}

// archivedEntry keeps the payload as raw JSON; its concrete type is not
// recorded in the archive.
type archivedEntry struct {
	*crawler.Resource
	Payload json.RawMessage `json:"payload,omitempty"`
}

func readEntry(f *zip.File) (*crawler.Resource, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open archive entry %s: %w", f.Name, err)
	}
	defer func() { _ = rc.Close() }()
	var r crawler.Resource
	entry := archivedEntry{Resource: &r}
	if err := json.NewDecoder(rc).Decode(&entry); err != nil {
		return nil, fmt.Errorf("decode archive entry %s: %w", f.Name, err)
	}
	if len(entry.Payload) > 0 {
		r.Payload = entry.Payload
	}
	return &r, nil
}
