package dom

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/eXist-db/exist-sub013/pkg/types"
)

// maxReaders bounds concurrent read locks on one document; a writer
// acquires all of them.
const maxReaders = 1 << 16

// DefaultLockTimeout bounds the wait for document read locks.
const DefaultLockTimeout = 5 * time.Second

// Event is the kind of a document update notification.
type Event int

const (
	DocumentAdded Event = iota
	DocumentReplaced
	DocumentRemoved
)

func (e Event) String() string {
	switch e {
	case DocumentAdded:
		return "added"
	case DocumentReplaced:
		return "replaced"
	default:
		return "removed"
	}
}

// UpdateListener is notified after a document mutation. Listeners run on
// the mutating goroutine and must not block.
type UpdateListener func(doc *Document, ev Event)

type pendingEvent struct {
	doc *Document
	ev  Event
}

// Store is an in-memory document store.
type Store struct {
	mu        sync.RWMutex
	byURI     map[string]*Document
	locks     map[*Document]*semaphore.Weighted
	listeners map[int]UpdateListener
	nextLID   int

	batchMu    sync.Mutex
	batchDepth int
	pending    []pendingEvent

	logger *slog.Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithStoreLogger sets the store logger.
func WithStoreLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// NewStore creates an empty store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		byURI:     make(map[string]*Document),
		locks:     make(map[*Document]*semaphore.Weighted),
		listeners: make(map[int]UpdateListener),
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Put stores doc under its URI, replacing any previous document. The
// replaced document is write-locked while it is swapped out.
func (s *Store) Put(ctx context.Context, doc *Document) error {
	if doc.Temporary {
		return errors.New("dom: temporary documents cannot be stored")
	}
	s.mu.Lock()
	old, replaced := s.byURI[doc.URI]
	s.mu.Unlock()
	if replaced {
		if err := s.writeLock(ctx, old); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.byURI[doc.URI] = doc
	s.locks[doc] = semaphore.NewWeighted(maxReaders)
	if replaced {
		delete(s.locks, old)
	}
	s.mu.Unlock()

	ev := DocumentAdded
	if replaced {
		ev = DocumentReplaced
	}
	s.logger.Debug("document stored", "uri", doc.URI, "docID", doc.DocID, "event", ev)
	s.notify(doc, ev)
	return nil
}

// Remove deletes the document stored under uri.
func (s *Store) Remove(ctx context.Context, uri string) error {
	s.mu.RLock()
	doc, ok := s.byURI[uri]
	s.mu.RUnlock()
	if !ok {
		return types.Errorf(types.ErrRetrieveResource, "document %s not found", uri)
	}
	if err := s.writeLock(ctx, doc); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.byURI, uri)
	delete(s.locks, doc)
	s.mu.Unlock()
	s.logger.Debug("document removed", "uri", uri)
	s.notify(doc, DocumentRemoved)
	return nil
}

func (s *Store) writeLock(ctx context.Context, doc *Document) error {
	s.mu.RLock()
	sem := s.locks[doc]
	s.mu.RUnlock()
	if sem == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, DefaultLockTimeout)
	defer cancel()
	if err := sem.Acquire(ctx, maxReaders); err != nil {
		return types.Errorf(types.ErrLock, "timed out waiting for write lock on %s", doc.URI).WithCause(err)
	}
	// The document leaves the store; pending readers keep their snapshot.
	sem.Release(maxReaders)
	return nil
}

// Document returns the document stored under uri.
func (s *Store) Document(uri string) (*Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.byURI[uri]
	return d, ok
}

// Documents returns all stored documents.
func (s *Store) Documents() *DocumentSet {
	s.mu.RLock()
	docs := make([]*Document, 0, len(s.byURI))
	for _, d := range s.byURI {
		docs = append(docs, d)
	}
	s.mu.RUnlock()
	slices.SortFunc(docs, compareDocs)
	return &DocumentSet{docs: docs}
}

// LockDocuments acquires read locks on every stored document of ds,
// waiting at most timeout. The returned function releases them. Lock
// failures are recoverable dynamic errors.
func (s *Store) LockDocuments(ctx context.Context, ds *DocumentSet, timeout time.Duration) (func(), error) {
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var held []*semaphore.Weighted
	release := func() {
		for _, sem := range held {
			sem.Release(1)
		}
	}
	for _, d := range ds.Documents() {
		s.mu.RLock()
		sem := s.locks[d]
		s.mu.RUnlock()
		if sem == nil {
			continue
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			release()
			return nil, types.Errorf(types.ErrLock, "failed to acquire read lock on %s", d.URI).WithCause(err)
		}
		held = append(held, sem)
	}
	return release, nil
}

// AddListener registers l and returns a function removing it.
func (s *Store) AddListener(l UpdateListener) (remove func()) {
	s.mu.Lock()
	id := s.nextLID
	s.nextLID++
	s.listeners[id] = l
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// BeginBatch defers notifications until the matching EndBatch.
func (s *Store) BeginBatch() {
	s.batchMu.Lock()
	s.batchDepth++
	s.batchMu.Unlock()
}

// EndBatch closes a batch and delivers the deferred notifications once the
// outermost batch ends.
func (s *Store) EndBatch() {
	s.batchMu.Lock()
	if s.batchDepth > 0 {
		s.batchDepth--
	}
	var flush []pendingEvent
	if s.batchDepth == 0 {
		flush, s.pending = s.pending, nil
	}
	s.batchMu.Unlock()
	for _, p := range flush {
		s.deliver(p.doc, p.ev)
	}
}

// InBatch reports whether a batch is open.
func (s *Store) InBatch() bool {
	s.batchMu.Lock()
	defer s.batchMu.Unlock()
	return s.batchDepth > 0
}

func (s *Store) notify(doc *Document, ev Event) {
	s.batchMu.Lock()
	if s.batchDepth > 0 {
		s.pending = append(s.pending, pendingEvent{doc, ev})
		s.batchMu.Unlock()
		return
	}
	s.batchMu.Unlock()
	s.deliver(doc, ev)
}

func (s *Store) deliver(doc *Document, ev Event) {
	s.mu.RLock()
	ls := make([]UpdateListener, 0, len(s.listeners))
	for _, l := range s.listeners {
		ls = append(ls, l)
	}
	s.mu.RUnlock()
	for _, l := range ls {
		l(doc, ev)
	}
}
