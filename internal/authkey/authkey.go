// Package authkey implements the API Key Store (C4): creation, verification,
// enumeration, revocation, and role/scope checks for bearer-style secret
// keys presented via the X-Api-Key header.
package authkey

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Role is the key's privilege tier. Higher-ranked roles satisfy any
// requirement a lower-ranked role would.
type Role string

const (
	RoleRead  Role = "read"
	RoleWrite Role = "write"
	RoleAdmin Role = "admin"
)

var roleRank = map[Role]int{RoleRead: 1, RoleWrite: 2, RoleAdmin: 3}

// Scope restricts a key to a subset of repos and/or distributions. A nil or
// empty field imposes no restriction.
type Scope struct {
	Repos         []string `json:"repos,omitempty"`
	Distributions []string `json:"distributions,omitempty"`
}

// Key is the persisted record for one API key, including its hashed
// secret. Never serialized to an API response directly; see View.
type Key struct {
	ID            string     `json:"id"`
	HashedSecret  string     `json:"hashedSecret"`
	Role          Role       `json:"role"`
	Description   string     `json:"description,omitempty"`
	Scope         *Scope     `json:"scope,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	LastUsed      *time.Time `json:"lastUsed,omitempty"`
}

// View is the public, hash-free projection of a Key returned by listKeys.
type View struct {
	ID          string     `json:"id"`
	Role        Role       `json:"role"`
	Description string     `json:"description,omitempty"`
	Scope       *Scope     `json:"scope,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	LastUsed    *time.Time `json:"lastUsed,omitempty"`
}

func (k Key) view() View {
	return View{ID: k.ID, Role: k.Role, Description: k.Description, Scope: k.Scope, CreatedAt: k.CreatedAt, LastUsed: k.LastUsed}
}

// Identity is what ValidateKey returns on success.
type Identity struct {
	KeyID string
	Role  Role
	Scope *Scope
}

type fileFormat struct {
	Keys []Key `json:"keys"`
}

// Store is the API Key Store. The zero value is not usable; construct with
// NewStore.
type Store struct {
	path        string
	adminSecret string

	mu   sync.Mutex
	keys []Key
}

// NewStore loads path, creating an empty key file if none exists.
// adminSecret, when non-empty, bypasses the stored-key list entirely and
// synthesizes an admin identity with id "admin".
func NewStore(path, adminSecret string) (*Store, error) {
	s := &Store{path: path, adminSecret: adminSecret}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}
	var ff fileFormat
	if err := json.Unmarshal(b, &ff); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	s.keys = ff.Keys
	return s, nil
}

func (s *Store) persistLocked() error {
	b, err := json.MarshalIndent(fileFormat{Keys: s.keys}, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// CreateKey generates a new id/secret pair, stores the hashed secret, and
// returns the plaintext secret — the only time it is ever visible.
func (s *Store) CreateKey(role Role, description string, scope *Scope) (id, secret string, err error) {
	idBytes := make([]byte, 8)
	if _, err := rand.Read(idBytes); err != nil {
		return "", "", err
	}
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", "", err
	}
	id = hex.EncodeToString(idBytes)
	secret = hex.EncodeToString(secretBytes)

	hashed, err := hashSecret(secret)
	if err != nil {
		return "", "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = append(s.keys, Key{
		ID:           id,
		HashedSecret: hashed,
		Role:         role,
		Description:  description,
		Scope:        scope,
		CreatedAt:    time.Now().UTC(),
	})
	if err := s.persistLocked(); err != nil {
		s.keys = s.keys[:len(s.keys)-1]
		return "", "", err
	}
	return id, secret, nil
}

// ValidateKey checks presented against the bootstrap admin secret first,
// then iterates stored keys, stopping at the first match. The Argon2id
// comparison runs outside the store's mutex: only the slice snapshot and
// the post-match LastUsed update are lock-scoped, so concurrent requests
// verify in parallel instead of serializing on a single CPU-bound hash
// worker.
func (s *Store) ValidateKey(presented string) (Identity, bool) {
	if s.adminSecret != "" && presented == s.adminSecret {
		return Identity{KeyID: "admin", Role: RoleAdmin}, true
	}

	s.mu.Lock()
	snapshot := make([]Key, len(s.keys))
	copy(snapshot, s.keys)
	s.mu.Unlock()

	for _, k := range snapshot {
		if verifySecret(presented, k.HashedSecret) {
			s.markUsed(k.ID)
			return Identity{KeyID: k.ID, Role: k.Role, Scope: k.Scope}, true
		}
	}
	return Identity{}, false
}

// markUsed stamps LastUsed on the key identified by id and persists,
// re-acquiring the lock only for this short read-modify-write.
func (s *Store) markUsed(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.keys {
		if s.keys[i].ID == id {
			now := time.Now().UTC()
			s.keys[i].LastUsed = &now
			_ = s.persistLocked()
			return
		}
	}
}

// DeleteKey revokes a key by id.
func (s *Store) DeleteKey(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, k := range s.keys {
		if k.ID == id {
			s.keys = append(s.keys[:i], s.keys[i+1:]...)
			return true, s.persistLocked()
		}
	}
	return false, nil
}

// ListKeys returns every stored key's public view, never the hash.
func (s *Store) ListKeys() []View {
	s.mu.Lock()
	defer s.mu.Unlock()
	views := make([]View, 0, len(s.keys))
	for _, k := range s.keys {
		views = append(views, k.view())
	}
	return views
}

// HasPermission evaluates the role hierarchy and, when a scope is set,
// membership of repo/dist within it. An empty repo or dist argument is not
// checked against the scope.
func HasPermission(identity Identity, required Role, repo, dist string) bool {
	if roleRank[identity.Role] < roleRank[required] {
		return false
	}
	if identity.Scope == nil {
		return true
	}
	if len(identity.Scope.Repos) > 0 && repo != "" && !contains(identity.Scope.Repos, repo) {
		return false
	}
	if len(identity.Scope.Distributions) > 0 && dist != "" && !contains(identity.Scope.Distributions, dist) {
		return false
	}
	return true
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
