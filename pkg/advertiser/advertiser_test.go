package advertiser

import (
	"errors"
	"testing"
	"time"

	"github.com/kabili207/flume-pay/pkg/models"
	"github.com/kabili207/flume-pay/pkg/radio"
)

func testProfile() *models.UserProfile {
	return &models.UserProfile{
		UserID:   "user_1",
		UserName: "alice",
		Balance:  100000,
	}
}

func TestStartWithoutProfile(t *testing.T) {
	a := New(Options{Radio: radio.NewLoopback("dev-a")})

	if err := a.Start(nil); !errors.Is(err, ErrProfileUnavailable) {
		t.Errorf("Start(nil) error = %v, want ErrProfileUnavailable", err)
	}
	if err := a.Start(&models.UserProfile{UserID: "user_1"}); !errors.Is(err, ErrProfileUnavailable) {
		t.Errorf("Start(no username) error = %v, want ErrProfileUnavailable", err)
	}
	if a.State() != StateIdle {
		t.Errorf("State() = %v, want idle", a.State())
	}
}

func TestStartWithRadioOff(t *testing.T) {
	lb := radio.NewLoopback("dev-a")
	lb.SetState(radio.StatePoweredOff)
	a := New(Options{Radio: lb})

	if err := a.Start(testProfile()); !errors.Is(err, radio.ErrUnavailable) {
		t.Errorf("Start() error = %v, want radio.ErrUnavailable", err)
	}
}

func TestStartStopLifecycle(t *testing.T) {
	lb := radio.NewLoopback("dev-a")
	a := New(Options{Radio: lb})

	if err := a.Start(testProfile()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if a.State() != StateAdvertising {
		t.Fatalf("State() = %v, want advertising", a.State())
	}

	// A second Start during a live session is rejected.
	if err := a.Start(testProfile()); !errors.Is(err, ErrAlreadyAdvertising) {
		t.Errorf("second Start() error = %v, want ErrAlreadyAdvertising", err)
	}

	a.Stop()
	if a.State() != StateIdle {
		t.Errorf("State() after Stop = %v, want idle", a.State())
	}
}

func TestStopIdempotent(t *testing.T) {
	a := New(Options{Radio: radio.NewLoopback("dev-a")})

	// Stop on an idle advertiser is a no-op.
	a.Stop()
	a.Stop()
	if a.State() != StateIdle {
		t.Errorf("State() = %v, want idle", a.State())
	}

	if err := a.Start(testProfile()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	a.Stop()
	a.Stop()
	if a.State() != StateIdle {
		t.Errorf("State() = %v, want idle", a.State())
	}
}

func TestCountdownExpiry(t *testing.T) {
	lb := radio.NewLoopback("dev-a")
	a := New(Options{
		Radio:           lb,
		Duration:        30 * time.Millisecond,
		RefreshInterval: time.Hour, // no refresh during this test
	})

	if err := a.Start(testProfile()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	select {
	case <-a.Expired():
	case <-time.After(2 * time.Second):
		t.Fatal("expiry notification never arrived")
	}

	if a.State() != StateIdle {
		t.Errorf("State() after expiry = %v, want idle", a.State())
	}
}

func TestStopBeforeExpirySuppressesNotification(t *testing.T) {
	a := New(Options{
		Radio:           radio.NewLoopback("dev-a"),
		Duration:        50 * time.Millisecond,
		RefreshInterval: time.Hour,
	})

	if err := a.Start(testProfile()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	a.Stop()

	select {
	case <-a.Expired():
		t.Error("expiry notification after explicit Stop")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestRefreshDoesNotResetCountdown(t *testing.T) {
	a := New(Options{
		Radio:           radio.NewLoopback("dev-a"),
		Duration:        80 * time.Millisecond,
		RefreshInterval: 20 * time.Millisecond,
	})

	if err := a.Start(testProfile()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// Several refresh ticks fit inside the duration; the session must still
	// expire on the original deadline.
	start := time.Now()
	select {
	case <-a.Expired():
	case <-time.After(2 * time.Second):
		t.Fatal("session never expired")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("expiry took %v, countdown appears to have been reset", elapsed)
	}
}

func TestRestartAfterExpiry(t *testing.T) {
	a := New(Options{
		Radio:           radio.NewLoopback("dev-a"),
		Duration:        20 * time.Millisecond,
		RefreshInterval: time.Hour,
	})

	if err := a.Start(testProfile()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	<-a.Expired()

	if err := a.Start(testProfile()); err != nil {
		t.Fatalf("Start() after expiry error = %v", err)
	}
	defer a.Stop()
	if a.State() != StateAdvertising {
		t.Errorf("State() = %v, want advertising", a.State())
	}
}
