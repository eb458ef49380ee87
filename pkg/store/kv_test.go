package store

import (
	"testing"

	"github.com/kabili207/flume-pay/pkg/models"
)

func TestFileKVRoundTrip(t *testing.T) {
	kv, err := NewFileKV(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileKV() error = %v", err)
	}

	if err := kv.Set("deviceId", []byte("dev-abc123")); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, err := kv.Get("deviceId")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != "dev-abc123" {
		t.Errorf("Get() = %q, want dev-abc123", got)
	}
}

func TestFileKVMissingKey(t *testing.T) {
	kv, _ := NewFileKV(t.TempDir())

	got, err := kv.Get("never-set")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != nil {
		t.Errorf("Get() = %q, want nil for missing key", got)
	}
}

func TestFileKVDelete(t *testing.T) {
	kv, _ := NewFileKV(t.TempDir())

	kv.Set("k", []byte("v"))
	if err := kv.Delete("k"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if got, _ := kv.Get("k"); got != nil {
		t.Error("value survived Delete")
	}

	// Deleting again is a no-op.
	if err := kv.Delete("k"); err != nil {
		t.Errorf("repeat Delete() error = %v", err)
	}
}

func TestProfileStoreRoundTrip(t *testing.T) {
	kv, _ := NewFileKV(t.TempDir())
	ps := NewProfiles(kv)

	if p, err := ps.Current(); err != nil || p != nil {
		t.Fatalf("Current() = %v, %v; want nil, nil before first save", p, err)
	}

	saved := &models.UserProfile{
		UserID:    "user_1748292837465",
		UserName:  "alice",
		FirstName: "Alice",
		LastName:  "Smith",
		Balance:   100000,
	}
	if err := ps.Save(saved); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := ps.Current()
	if err != nil {
		t.Fatalf("Current() error = %v", err)
	}
	if got.UserName != "alice" || got.Balance != 100000 {
		t.Errorf("Current() = %+v", got)
	}

	if err := ps.Delete(); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if p, _ := ps.Current(); p != nil {
		t.Error("profile survived Delete")
	}
}
