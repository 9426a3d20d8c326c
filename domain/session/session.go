// Package session isolates concurrent writers of the same archive from one
// another. A Session identifies one writer (a device or installation); every
// mergeable document carries a Revision stamped by the session that last
// wrote it, plus the set of revisions its content is known to already
// include. The merge engine reconciles divergent copies deterministically:
// last writer wins per field, ancestry short-circuits needless work.
package session

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// XMLNS is the namespace of the revision bookkeeping attributes.
const XMLNS = "http://feedvault.io/session/"

// identifierPattern matches allowed session identifiers. Identifiers are
// embedded into repository key segments and file paths, so the alphabet
// excludes whitespace, slashes, and shell metacharacters.
var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// Session is the interned identity of one writer. Two Sessions with the same
// identifier are the same instance, so identity comparison is value
// comparison. A session identifier must never be shared by writers that can
// hold overlapping transactions on the same store.
type Session struct {
	identifier string
}

var (
	internMu sync.Mutex
	interns  = make(map[string]*Session)
)

// New returns the interned session for the identifier.
func New(identifier string) (*Session, error) {
	if !identifierPattern.MatchString(identifier) {
		return nil, fmt.Errorf("session: invalid identifier %q", identifier)
	}
	internMu.Lock()
	defer internMu.Unlock()
	if s, ok := interns[identifier]; ok {
		return s, nil
	}
	s := &Session{identifier: identifier}
	interns[identifier] = s
	return s, nil
}

// MustNew is New that panics on an invalid identifier.
func MustNew(identifier string) *Session {
	s, err := New(identifier)
	if err != nil {
		panic(err)
	}
	return s
}

// Generate interns a fresh random session identifier.
func Generate() *Session {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return MustNew(id)
}

// Identifier returns the session's stable identifier.
func (s *Session) Identifier() string { return s.identifier }

func (s *Session) String() string { return s.identifier }
