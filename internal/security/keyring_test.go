package security

import (
	"testing"

	"github.com/zalando/go-keyring"
)

func newMockStore(t *testing.T) *KeyringStore {
	t.Helper()
	keyring.MockInit()
	return NewKeyringStore()
}

func TestKeyringStore_EnabledWithMockBackend(t *testing.T) {
	ks := newMockStore(t)
	if !ks.IsEnabled() {
		t.Fatal("expected keyring to be enabled with the mock backend")
	}
}

func TestKeyringStore_SetEnabled(t *testing.T) {
	ks := newMockStore(t)

	ks.SetEnabled(false)
	if ks.IsEnabled() {
		t.Error("SetEnabled(false) did not disable keyring")
	}
	ks.SetEnabled(true)
	if !ks.IsEnabled() {
		t.Error("SetEnabled(true) did not enable keyring")
	}
}

func TestKeyringStore_EndpointPasswordRoundTrip(t *testing.T) {
	ks := newMockStore(t)
	endpoint := "https://nas.local:5001"

	if err := ks.StoreEndpointPassword(endpoint, "admin", []byte("s3cret")); err != nil {
		t.Fatalf("StoreEndpointPassword() error = %v", err)
	}

	got, err := ks.GetEndpointPassword(endpoint, "admin")
	if err != nil {
		t.Fatalf("GetEndpointPassword() error = %v", err)
	}
	if string(got) != "s3cret" {
		t.Errorf("GetEndpointPassword() = %q, want %q", got, "s3cret")
	}

	// Entries are per user.
	other, err := ks.GetEndpointPassword(endpoint, "guest")
	if err != nil {
		t.Fatalf("GetEndpointPassword(guest) error = %v", err)
	}
	if other != nil {
		t.Errorf("GetEndpointPassword(guest) = %q, want nil", other)
	}

	if err := ks.DeleteEndpointPassword(endpoint, "admin"); err != nil {
		t.Fatalf("DeleteEndpointPassword() error = %v", err)
	}
	got, err = ks.GetEndpointPassword(endpoint, "admin")
	if err != nil {
		t.Fatalf("GetEndpointPassword() after delete error = %v", err)
	}
	if got != nil {
		t.Error("password should be nil after deletion")
	}
}

func TestKeyringStore_DeleteMissingIsNotAnError(t *testing.T) {
	ks := newMockStore(t)
	if err := ks.DeleteEndpointPassword("https://nas.local", "nobody"); err != nil {
		t.Errorf("DeleteEndpointPassword() error = %v, want nil", err)
	}
}

func TestKeyringStore_Disabled(t *testing.T) {
	ks := newMockStore(t)
	ks.SetEnabled(false)

	if err := ks.StoreEndpointPassword("https://nas.local", "admin", []byte("x")); err == nil {
		t.Error("StoreEndpointPassword() should fail when disabled")
	}
	if _, err := ks.GetEndpointPassword("https://nas.local", "admin"); err == nil {
		t.Error("GetEndpointPassword() should fail when disabled")
	}
	if err := ks.DeleteEndpointPassword("https://nas.local", "admin"); err == nil {
		t.Error("DeleteEndpointPassword() should fail when disabled")
	}
}
