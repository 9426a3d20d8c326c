// Package stage is the transactional layer between mergeable documents and a
// repository. All reads and writes happen inside a transaction bound to a
// context.Context; writes land in a per-transaction dirty buffer and reach
// the repository only at commit, where a second conflict check against the
// store's current revision heads decides whether a flush-time merge is
// needed.
package stage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/feedvault/feedvault/domain/schema"
	"github.com/feedvault/feedvault/domain/session"
	"github.com/feedvault/feedvault/ports"
)

// sessionsKey is the repository prefix where each session records that it is
// live. Other writers use it to enumerate sibling sessions.
const sessionsKey = ".sessions"

// TransactionError reports transaction misuse: beginning a second transaction
// on a context that already carries one, or operating without any.
type TransactionError struct {
	Detail string
	// Began is the file:line where the conflicting transaction started,
	// when one exists.
	Began string
}

func (e *TransactionError) Error() string {
	if e.Began == "" {
		return "stage: " + e.Detail
	}
	return fmt.Sprintf("stage: %s (began at %s)", e.Detail, e.Began)
}

// Stage mediates between one session's documents and the repository.
// A Stage is safe for concurrent use; each goroutine holds its own
// transaction through its context.
type Stage struct {
	session *session.Session
	repo    ports.Repository
	clock   ports.Clock
	obs     ports.StageObserver
	log     zerolog.Logger

	// flushMu serializes commits so the conflict check and the write it
	// guards are atomic with respect to other local transactions.
	flushMu sync.Mutex
}

// Option configures a Stage.
type Option func(*Stage)

// WithClock overrides the wall clock, mainly for tests.
func WithClock(c ports.Clock) Option { return func(s *Stage) { s.clock = c } }

// WithLogger attaches a logger; events carry the session identifier.
func WithLogger(l zerolog.Logger) Option { return func(s *Stage) { s.log = l } }

// WithObserver attaches a stage activity observer.
func WithObserver(o ports.StageObserver) Option { return func(s *Stage) { s.obs = o } }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type nopObserver struct{}

func (nopObserver) TransactionBegun()     {}
func (nopObserver) TransactionCommitted() {}
func (nopObserver) TransactionDiscarded() {}
func (nopObserver) DocumentFlushed()      {}
func (nopObserver) MergePerformed()       {}
func (nopObserver) FlushConflict()        {}

// New builds a Stage for one session over a repository.
func New(sess *session.Session, repo ports.Repository, opts ...Option) *Stage {
	s := &Stage{
		session: sess,
		repo:    repo,
		clock:   systemClock{},
		obs:     nopObserver{},
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With().Str("session", sess.Identifier()).Logger()
	return s
}

// Session returns the session this stage writes as.
func (s *Stage) Session() *session.Session { return s.session }

// txKey scopes the context value to one Stage, so transactions on distinct
// stages nest freely.
type txKey struct{ stage *Stage }

// transaction is the per-context dirty buffer. It is confined to the
// goroutine(s) sharing the context and is not internally synchronized.
type transaction struct {
	began string
	dirty map[string]*dirtyEntry
	done  bool
}

type dirtyEntry struct {
	key  []string
	typ  *schema.Type
	data []byte
}

// Begin starts a transaction and returns the context that carries it. A
// context already carrying a live transaction for this stage cannot begin
// another; the error names where the first one began.
func (s *Stage) Begin(ctx context.Context) (context.Context, error) {
	if tx, ok := ctx.Value(txKey{s}).(*transaction); ok && !tx.done {
		return nil, &TransactionError{
			Detail: "transaction already in progress",
			Began:  tx.began,
		}
	}
	tx := &transaction{began: callerLocation(2), dirty: make(map[string]*dirtyEntry)}
	s.obs.TransactionBegun()
	s.log.Debug().Str("began", tx.began).Msg("transaction begun")
	return context.WithValue(ctx, txKey{s}, tx), nil
}

func callerLocation(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "unknown"
	}
	return fmt.Sprintf("%s:%d", file, line)
}

// tx returns the live transaction carried by the context.
func (s *Stage) tx(ctx context.Context) (*transaction, error) {
	tx, ok := ctx.Value(txKey{s}).(*transaction)
	if !ok {
		return nil, &TransactionError{Detail: "no transaction in progress"}
	}
	if tx.done {
		return nil, &TransactionError{Detail: "transaction already finished", Began: tx.began}
	}
	return tx, nil
}

// Commit flushes every dirty document to the repository and ends the
// transaction. Concurrent local commits serialize; each flushed document is
// re-checked against the store's current revision head and merged when a
// sibling got there first.
func (s *Stage) Commit(ctx context.Context) error {
	tx, err := s.tx(ctx)
	if err != nil {
		return err
	}
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	keys := make([]string, 0, len(tx.dirty))
	for k := range tx.dirty {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := s.flush(ctx, tx.dirty[k]); err != nil {
			return fmt.Errorf("stage: flush %s: %w", k, err)
		}
	}
	if len(keys) > 0 {
		if err := s.touch(ctx); err != nil {
			return fmt.Errorf("stage: mark session: %w", err)
		}
	}
	tx.done = true
	s.obs.TransactionCommitted()
	s.log.Debug().Int("documents", len(keys)).Msg("transaction committed")
	return nil
}

// Discard drops the transaction's buffered writes and ends it.
func (s *Stage) Discard(ctx context.Context) error {
	tx, err := s.tx(ctx)
	if err != nil {
		return err
	}
	tx.done = true
	s.obs.TransactionDiscarded()
	s.log.Debug().Int("documents", len(tx.dirty)).Msg("transaction discarded")
	return nil
}

// Transact runs fn inside a transaction, committing when fn returns nil and
// discarding otherwise.
func (s *Stage) Transact(ctx context.Context, fn func(ctx context.Context) error) error {
	txCtx, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(txCtx); err != nil {
		if derr := s.Discard(txCtx); derr != nil {
			s.log.Warn().Err(derr).Msg("discard after failed transaction")
		}
		return err
	}
	return s.Commit(txCtx)
}

// flush writes one buffered document, merging with whatever the store holds
// when the store's head revision is not already subsumed by the buffer.
func (s *Stage) flush(ctx context.Context, entry *dirtyEntry) error {
	exists, err := s.repo.Exists(ctx, entry.key)
	if err != nil {
		return err
	}
	if exists {
		stored, err := s.readStamp(ctx, entry.key)
		if err != nil {
			return err
		}
		buffered, err := session.ReadStamp(schema.Bytes(entry.data))
		if err != nil {
			return err
		}
		if !subsumes(buffered, stored.Revision) {
			s.obs.FlushConflict()
			merged, err := s.mergeWithStored(ctx, entry)
			if err != nil {
				return err
			}
			entry.data = merged
		}
	}
	if err := s.repo.Write(ctx, entry.key, bytes.NewReader(entry.data)); err != nil {
		return err
	}
	s.obs.DocumentFlushed()
	s.log.Debug().Str("key", strings.Join(entry.key, "/")).Msg("document flushed")
	return nil
}

// subsumes reports whether the buffered document already includes the stored
// revision: either through its ancestry, or because the same session wrote
// both and the buffer is not older.
func subsumes(buffered session.Stamp, stored session.Revision) bool {
	if stored.IsZero() {
		return true
	}
	if buffered.Bases.Contains(stored) {
		return true
	}
	rev := buffered.Revision
	return !rev.IsZero() && rev.Session == stored.Session && !rev.UpdatedAt.Before(stored.UpdatedAt)
}

// mergeWithStored fully parses both the stored and buffered copies, merges
// them, and returns the canonical serialization of the result.
func (s *Stage) mergeWithStored(ctx context.Context, entry *dirtyEntry) ([]byte, error) {
	stored, err := s.parseAt(ctx, entry.typ, entry.key)
	if err != nil {
		return nil, err
	}
	bufferedDoc, err := schema.Parse(entry.typ, schema.Bytes(entry.data))
	if err != nil {
		return nil, err
	}
	merged, err := s.session.Merge(stored, bufferedDoc.Root(), false, s.clock.Now())
	if err != nil {
		return nil, err
	}
	s.obs.MergePerformed()
	var out bytes.Buffer
	if err := schema.Write(&out, merged); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// touch records the session as live in the repository, stamped with the
// flush time.
func (s *Stage) touch(ctx context.Context) error {
	at := s.clock.Now().UTC().Format(time.RFC3339)
	key := []string{sessionsKey, s.session.Identifier()}
	return s.repo.Write(ctx, key, strings.NewReader(at))
}

// Sessions lists the identifiers of every session that has ever committed to
// the repository, this one included once it commits.
func (s *Stage) Sessions(ctx context.Context) ([]string, error) {
	ids, err := s.repo.List(ctx, []string{sessionsKey})
	if errors.Is(err, ports.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

// Read resolves the route with the given indices and returns the document,
// merged across every session's copy. The caller's own copy (buffered or
// stored) seeds the merge, so its revision wins ties. ports.ErrNotFound is
// returned when no session has a copy.
func (s *Stage) Read(ctx context.Context, r Route, indices ...string) (*schema.Element, error) {
	tx, err := s.tx(ctx)
	if err != nil {
		return nil, err
	}
	ownKey, err := r.resolve(indices, s.session.Identifier())
	if err != nil {
		return nil, err
	}

	var docs []*schema.Element
	if entry, ok := tx.dirty[joinKey(ownKey)]; ok {
		doc, err := schema.Parse(r.Type, schema.Bytes(entry.data))
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc.Root())
	} else if own, err := s.parseAt(ctx, r.Type, ownKey); err == nil {
		docs = append(docs, own)
	} else if !errors.Is(err, ports.ErrNotFound) {
		return nil, err
	}

	siblings, err := s.siblingKeys(ctx, r, indices, ownKey)
	if err != nil {
		return nil, err
	}
	for _, key := range siblings {
		doc, err := s.parseAt(ctx, r.Type, key)
		if errors.Is(err, ports.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if len(docs) == 0 {
		return nil, ports.ErrNotFound
	}

	result := docs[0]
	for _, other := range docs[1:] {
		result, err = s.session.Merge(result, other, false, s.clock.Now())
		if err != nil {
			return nil, err
		}
		s.obs.MergePerformed()
	}
	// Reading across sessions promotes the reconciled copy into the dirty
	// buffer; it reaches the store only if this transaction commits.
	if len(docs) > 1 {
		if err := s.buffer(tx, r, ownKey, result); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// siblingKeys resolves the route for every other live session that has a
// copy under the same indices.
func (s *Stage) siblingKeys(ctx context.Context, r Route, indices []string, ownKey []string) ([][]string, error) {
	ids, err := s.Sessions(ctx)
	if err != nil {
		return nil, err
	}
	var keys [][]string
	for _, id := range ids {
		if id == s.session.Identifier() {
			continue
		}
		key, err := r.resolve(indices, id)
		if err != nil {
			return nil, err
		}
		if joinKey(key) == joinKey(ownKey) {
			// Route has no {session} slot; every session shares one key.
			continue
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// Write stamps the document for this session and stores it in the dirty
// buffer at the route's fully-bound key. When the key already holds a value,
// a same-session newer edit or one whose ancestry covers the previous
// revision replaces it outright; anything else merges first.
func (s *Stage) Write(ctx context.Context, r Route, doc *schema.Element, indices ...string) error {
	tx, err := s.tx(ctx)
	if err != nil {
		return err
	}
	if r.Type != nil && doc.Type() != r.Type {
		return fmt.Errorf("stage: route expects %s, got %s", r.Type.Name(), doc.Type().Name())
	}
	key, err := r.resolve(indices, s.session.Identifier())
	if err != nil {
		return err
	}
	now := s.clock.Now()

	prev, err := s.previous(ctx, tx, doc.Type(), key)
	if err != nil {
		return err
	}
	if prev == nil {
		doc = s.session.Pull(doc, now)
		s.session.Revise(doc, now)
	} else if pullsForward(prev, doc) {
		doc = s.session.Pull(doc, now)
		s.session.Revise(doc, now)
	} else {
		doc, err = s.session.Merge(prev, doc, true, now)
		if err != nil {
			return err
		}
		s.obs.MergePerformed()
	}
	return s.buffer(tx, r, key, doc)
}

// pullsForward reports whether doc strictly supersedes prev without a merge:
// same session and not older, or prev's revision already in doc's ancestry.
func pullsForward(prev, doc *schema.Element) bool {
	prevRev := session.RevisionOf(prev)
	if prevRev.IsZero() {
		return true
	}
	docRev := session.RevisionOf(doc)
	if !docRev.IsZero() && docRev.Session == prevRev.Session && !docRev.UpdatedAt.Before(prevRev.UpdatedAt) {
		return true
	}
	return session.BasesOf(doc).Contains(prevRev)
}

// previous loads the value currently visible at key inside the transaction:
// the buffered copy when dirty, else the stored one, else nil.
func (s *Stage) previous(ctx context.Context, tx *transaction, t *schema.Type, key []string) (*schema.Element, error) {
	if entry, ok := tx.dirty[joinKey(key)]; ok {
		doc, err := schema.Parse(t, schema.Bytes(entry.data))
		if err != nil {
			return nil, err
		}
		return doc.Root(), nil
	}
	doc, err := s.parseAt(ctx, t, key)
	if errors.Is(err, ports.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// buffer serializes the document canonically into the dirty buffer.
func (s *Stage) buffer(tx *transaction, r Route, key []string, doc *schema.Element) error {
	var out bytes.Buffer
	if err := schema.Write(&out, doc); err != nil {
		return err
	}
	tx.dirty[joinKey(key)] = &dirtyEntry{key: key, typ: doc.Type(), data: out.Bytes()}
	return nil
}

// parseAt parses the stored document at key. The bytes are slurped first:
// documents crossing a transaction must not hold the repository stream open
// for the lifetime of the returned element.
func (s *Stage) parseAt(ctx context.Context, t *schema.Type, key []string) (*schema.Element, error) {
	rc, err := s.repo.Read(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	doc, err := schema.Parse(t, schema.Bytes(data))
	if err != nil {
		return nil, err
	}
	return doc.Root(), nil
}

// readStamp reads only the revision head of the stored document at key,
// consuming the stream no further than the root start tag.
func (s *Stage) readStamp(ctx context.Context, key []string) (session.Stamp, error) {
	rc, err := s.repo.Read(ctx, key)
	if err != nil {
		return session.Stamp{}, err
	}
	defer rc.Close()
	return session.ReadStamp(schema.ReaderSource(rc, 4096))
}

// list wraps Repository.List, treating absence as emptiness.
func (s *Stage) list(ctx context.Context, prefix []string) ([]string, error) {
	entries, err := s.repo.List(ctx, prefix)
	if errors.Is(err, ports.ErrNotFound) {
		return nil, nil
	}
	return entries, err
}

func joinKey(key []string) string { return strings.Join(key, "/") }
