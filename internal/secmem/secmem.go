// Package secmem keeps credentials (operator passwords, GLPI session tokens)
// out of logs, JSON output and fmt verbs.
package secmem

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/breeze-rmm/glpi-register/internal/logging"
)

var log = logging.L("secmem")

const redacted = "[REDACTED]"

var errNoDecode = errors.New("secmem: cannot deserialize into SecureString")

// SecureString holds a secret with best-effort wiping. The GC may still have
// copied the bytes elsewhere; Zero only overwrites the buffer it owns.
type SecureString struct {
	mu     sync.Mutex
	data   []byte
	zeroed bool
	warned bool
}

// NewSecureString copies s into a new SecureString.
func NewSecureString(s string) *SecureString {
	return &SecureString{data: []byte(s)}
}

// Reveal returns the plaintext. Call it only where the value is put on the
// wire (basic auth, Session-Token header). Nil or wiped values yield "".
func (s *SecureString) Reveal() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.zeroed {
		if !s.warned {
			s.warned = true
			log.Warn("Reveal() called after Zero(), secret has been wiped")
		}
		return ""
	}
	return string(s.data)
}

// Empty reports whether there is no usable secret.
func (s *SecureString) Empty() bool {
	if s == nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.zeroed || len(s.data) == 0
}

// IsZeroed reports whether Zero has been called.
func (s *SecureString) IsZeroed() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.zeroed
}

// Zero overwrites the owned buffer and drops it.
func (s *SecureString) Zero() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.data)
	s.data = nil
	s.zeroed = true
}

func (s *SecureString) String() string   { return redacted }
func (s *SecureString) GoString() string { return redacted }

// Format makes every fmt verb print the redaction marker.
func (s *SecureString) Format(f fmt.State, _ rune) {
	fmt.Fprint(f, redacted)
}

func (s *SecureString) MarshalJSON() ([]byte, error) {
	return json.Marshal(redacted)
}

func (s *SecureString) MarshalText() ([]byte, error) {
	return []byte(redacted), nil
}

// UnmarshalJSON refuses input; secrets enter only through NewSecureString.
func (s *SecureString) UnmarshalJSON([]byte) error {
	return errNoDecode
}
