package authkey

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
)

func TestCreateAndValidateKey(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(filepath.Join(dir, "keys.json"), "")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	id, secret, err := s.CreateKey(RoleWrite, "ci upload key", nil)
	if err != nil {
		t.Fatalf("CreateKey: %v", err)
	}
	if id == "" || secret == "" {
		t.Fatal("expected non-empty id and secret")
	}

	identity, ok := s.ValidateKey(secret)
	if !ok {
		t.Fatal("expected ValidateKey to succeed for the freshly created secret")
	}
	if identity.KeyID != id || identity.Role != RoleWrite {
		t.Errorf("unexpected identity: %+v", identity)
	}

	if _, ok := s.ValidateKey("wrong-secret"); ok {
		t.Fatal("expected ValidateKey to fail for a wrong secret")
	}
}

func TestListKeysNeverExposesHash(t *testing.T) {
	dir := t.TempDir()
	s, _ := NewStore(filepath.Join(dir, "keys.json"), "")
	s.CreateKey(RoleAdmin, "root", nil)

	views := s.ListKeys()
	if len(views) != 1 {
		t.Fatalf("expected 1 key, got %d", len(views))
	}
	if views[0].ID == "" {
		t.Error("expected a non-empty id")
	}
	// View has no HashedSecret field, so its JSON form carries no hash.
	b, err := json.Marshal(views)
	if err != nil {
		t.Fatalf("marshal views: %v", err)
	}
	if strings.Contains(string(b), "hashedSecret") || strings.Contains(string(b), "$argon2id$") {
		t.Errorf("key list exposes a hash: %s", b)
	}
}

func TestDeleteKeyThenValidateFails(t *testing.T) {
	dir := t.TempDir()
	s, _ := NewStore(filepath.Join(dir, "keys.json"), "")
	id, secret, _ := s.CreateKey(RoleRead, "", nil)

	ok, err := s.DeleteKey(id)
	if err != nil || !ok {
		t.Fatalf("DeleteKey: ok=%v err=%v", ok, err)
	}
	if _, ok := s.ValidateKey(secret); ok {
		t.Fatal("expected validation to fail after revocation")
	}
}

func TestBootstrapAdminSecret(t *testing.T) {
	dir := t.TempDir()
	s, _ := NewStore(filepath.Join(dir, "keys.json"), "bootstrap-secret")

	identity, ok := s.ValidateKey("bootstrap-secret")
	if !ok || identity.KeyID != "admin" || identity.Role != RoleAdmin {
		t.Fatalf("unexpected bootstrap identity: %+v ok=%v", identity, ok)
	}
}

func TestHasPermissionRoleHierarchy(t *testing.T) {
	admin := Identity{Role: RoleAdmin}
	write := Identity{Role: RoleWrite}
	read := Identity{Role: RoleRead}

	if !HasPermission(admin, RoleRead, "", "") || !HasPermission(admin, RoleWrite, "", "") || !HasPermission(admin, RoleAdmin, "", "") {
		t.Error("admin should satisfy every role requirement")
	}
	if HasPermission(write, RoleAdmin, "", "") {
		t.Error("write should not satisfy admin requirement")
	}
	if HasPermission(read, RoleWrite, "", "") {
		t.Error("read should not satisfy write requirement")
	}
}

func TestHasPermissionScopeRestriction(t *testing.T) {
	identity := Identity{Role: RoleWrite, Scope: &Scope{Repos: []string{"default"}}}
	if !HasPermission(identity, RoleWrite, "default", "stable") {
		t.Error("expected scoped key to be permitted for its own repo")
	}
	if HasPermission(identity, RoleWrite, "other", "stable") {
		t.Error("expected scoped key to be denied for a different repo")
	}
}
