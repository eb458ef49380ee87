package peers

import (
	"testing"
	"time"

	"github.com/kabili207/flume-pay/pkg/models"
)

func amt(cents int64) *models.Amount {
	a := models.Amount(cents)
	return &a
}

func TestUpsertAndGet(t *testing.T) {
	reg := NewRegistry()
	reg.Upsert(models.DiscoveredPeer{
		DeviceID:       "dev-1",
		Name:           "Flume-alice",
		UserName:       "alice",
		Balance:        amt(100000),
		SignalStrength: -60,
		ProtocolMatch:  true,
	})

	p, ok := reg.Get("dev-1")
	if !ok {
		t.Fatal("expected peer for dev-1")
	}
	if p.UserName != "alice" {
		t.Errorf("UserName = %q, want alice", p.UserName)
	}
	if p.Balance == nil || *p.Balance != 100000 {
		t.Errorf("Balance = %v, want 100000", p.Balance)
	}
}

func TestUpsertMergePrefersDecodedFields(t *testing.T) {
	reg := NewRegistry()

	// First sighting: nothing decoded yet.
	reg.Upsert(models.DiscoveredPeer{
		DeviceID:       "dev-1",
		SignalStrength: -80,
	})

	p, _ := reg.Get("dev-1")
	if p.UserName != models.PlaceholderName {
		t.Fatalf("UserName = %q, want placeholder", p.UserName)
	}

	// Second sighting decodes the payload.
	reg.Upsert(models.DiscoveredPeer{
		DeviceID:       "dev-1",
		UserName:       "alice",
		FullName:       "Alice Nguyen",
		UserID:         "user_1",
		Balance:        amt(5000),
		SignalStrength: -62,
		ProtocolMatch:  true,
	})

	p, _ = reg.Get("dev-1")
	if p.UserName != "alice" || p.UserID != "user_1" || p.FullName != "Alice Nguyen" {
		t.Errorf("decoded fields not merged: %+v", p)
	}
	if p.SignalStrength != -62 {
		t.Errorf("SignalStrength = %d, want -62", p.SignalStrength)
	}
	if !p.ProtocolMatch {
		t.Error("ProtocolMatch should be true after merge")
	}

	// Later placeholder sighting must not clobber decoded fields.
	reg.Upsert(models.DiscoveredPeer{
		DeviceID:       "dev-1",
		UserName:       models.PlaceholderName,
		SignalStrength: -70,
	})
	p, _ = reg.Get("dev-1")
	if p.UserName != "alice" {
		t.Errorf("UserName = %q after placeholder sighting, want alice", p.UserName)
	}
	if p.SignalStrength != -70 {
		t.Errorf("SignalStrength = %d, want latest -70", p.SignalStrength)
	}
}

func TestDedupByUserName(t *testing.T) {
	reg := NewRegistry()

	reg.Upsert(models.DiscoveredPeer{DeviceID: "dev-1", UserName: "alice", ProtocolMatch: true, SignalStrength: -60})
	// Same identity under a different radio handle.
	reg.Upsert(models.DiscoveredPeer{DeviceID: "dev-2", UserName: "alice", ProtocolMatch: true, SignalStrength: -40})

	if reg.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 after duplicate sighting", reg.Len())
	}

	list := reg.List()
	if list[0].SignalStrength != -40 {
		t.Errorf("SignalStrength = %d, want latest -40", list[0].SignalStrength)
	}
}

func TestDedupAfterPlaceholderUpgrade(t *testing.T) {
	reg := NewRegistry()

	// alice is already tracked, decoded from dev-1.
	reg.Upsert(models.DiscoveredPeer{DeviceID: "dev-1", UserName: "alice", UserID: "user_1", ProtocolMatch: true, SignalStrength: -60})

	// dev-2's first frame is corrupt: recorded as a placeholder diagnostic.
	reg.Upsert(models.DiscoveredPeer{DeviceID: "dev-2", UserName: models.PlaceholderName, SignalStrength: -50})
	if reg.Len() != 2 {
		t.Fatalf("Len() = %d, want 2 before the identity resolves", reg.Len())
	}

	// A later frame from dev-2 decodes: it is alice again. The placeholder
	// entry must collapse into the existing one, not upgrade in place.
	reg.Upsert(models.DiscoveredPeer{DeviceID: "dev-2", UserName: "alice", UserID: "user_1", ProtocolMatch: true, SignalStrength: -45})

	if reg.Len() != 1 {
		t.Fatalf("Len() = %d, want exactly 1 entry for alice", reg.Len())
	}

	list := reg.List()
	if list[0].UserName != "alice" || !list[0].ProtocolMatch {
		t.Errorf("surviving entry = %+v, want decoded alice", list[0])
	}
	if list[0].SignalStrength != -45 {
		t.Errorf("SignalStrength = %d, want latest -45", list[0].SignalStrength)
	}
}

func TestPlaceholderEntriesAreNotDeduped(t *testing.T) {
	reg := NewRegistry()

	reg.Upsert(models.DiscoveredPeer{DeviceID: "dev-1", UserName: models.PlaceholderName})
	reg.Upsert(models.DiscoveredPeer{DeviceID: "dev-2", UserName: models.PlaceholderName})

	if reg.Len() != 2 {
		t.Errorf("Len() = %d, want 2 distinct placeholder devices", reg.Len())
	}
}

func TestListOrdering(t *testing.T) {
	reg := NewRegistry()

	reg.Upsert(models.DiscoveredPeer{DeviceID: "tv", Name: "Smart TV", SignalStrength: -30})
	reg.Upsert(models.DiscoveredPeer{DeviceID: "dev-1", UserName: "alice", ProtocolMatch: true, SignalStrength: -70})
	reg.Upsert(models.DiscoveredPeer{DeviceID: "dev-2", UserName: "bob", ProtocolMatch: true, SignalStrength: -50})

	list := reg.List()
	if len(list) != 3 {
		t.Fatalf("List() returned %d entries, want 3", len(list))
	}

	// Matching peers first, strongest signal first within the group.
	if list[0].UserName != "bob" || list[1].UserName != "alice" {
		t.Errorf("order = [%s %s %s], want [bob alice Unknown]",
			list[0].UserName, list[1].UserName, list[2].UserName)
	}
	if list[2].ProtocolMatch {
		t.Error("non-matching device should sort last despite strongest signal")
	}
}

func TestClear(t *testing.T) {
	reg := NewRegistry()
	reg.Upsert(models.DiscoveredPeer{DeviceID: "dev-1", UserName: "alice"})
	reg.Clear()

	if reg.Len() != 0 {
		t.Errorf("Len() = %d after Clear, want 0", reg.Len())
	}
	if _, ok := reg.Get("dev-1"); ok {
		t.Error("Get should miss after Clear")
	}
}

func TestOnChangeNotification(t *testing.T) {
	reg := NewRegistry()
	calls := 0
	reg.SetOnChange(func() { calls++ })

	reg.Upsert(models.DiscoveredPeer{DeviceID: "dev-1", LastSeen: time.Now()})
	reg.Upsert(models.DiscoveredPeer{DeviceID: "dev-1", LastSeen: time.Now()})
	reg.Clear()

	if calls != 3 {
		t.Errorf("onChange calls = %d, want 3", calls)
	}
}
