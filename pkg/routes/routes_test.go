package routes

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kabili207/flume-pay/pkg/advertiser"
	"github.com/kabili207/flume-pay/pkg/codec"
	"github.com/kabili207/flume-pay/pkg/config"
	"github.com/kabili207/flume-pay/pkg/models"
	"github.com/kabili207/flume-pay/pkg/radio"
	"github.com/kabili207/flume-pay/pkg/scanner"
	"github.com/kabili207/flume-pay/pkg/store"
	"github.com/kabili207/flume-pay/pkg/transfer"
)

type testEnv struct {
	router   *APIRouter
	handler  http.Handler
	loopback *radio.Loopback
	profiles store.ProfileStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	kv, err := store.NewFileKV(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileKV() error = %v", err)
	}
	profiles := store.NewProfiles(kv)
	storage := store.Stores{Profiles: profiles}

	lb := radio.NewLoopback("local-device")
	adv := advertiser.New(advertiser.Options{Radio: lb, Duration: time.Minute})
	sc := scanner.New(scanner.Options{Radio: lb, Duration: time.Minute})
	rec := transfer.New(transfer.Options{Store: profiles})

	cfg := config.Configuration{}
	cfg.Radio.AdvertiseDuration = time.Minute
	cfg.Radio.ScanDuration = time.Minute

	ar := New(Options{
		Config:     cfg,
		Storage:    storage,
		Advertiser: adv,
		Scanner:    sc,
		Reconciler: rec,
		Radio:      lb,
	})
	return &testEnv{router: ar, handler: ar.Handler(), loopback: lb, profiles: profiles}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshaling request: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) signup(t *testing.T, username string) models.UserProfile {
	t.Helper()
	rec := e.do(t, "POST", "/api/signup", SignupRequest{
		UserName:  username,
		FirstName: "Alice",
		LastName:  "Smith",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup status = %d, body %s", rec.Code, rec.Body.String())
	}
	var p models.UserProfile
	if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil {
		t.Fatalf("decoding signup response: %v", err)
	}
	return p
}

func TestSignupAndProfileLifecycle(t *testing.T) {
	env := newTestEnv(t)

	// No profile yet.
	if rec := env.do(t, "GET", "/api/profile", nil); rec.Code != http.StatusNotFound {
		t.Errorf("GET profile status = %d, want 404", rec.Code)
	}

	p := env.signup(t, "alice")
	if p.UserID == "" || p.Balance != 100000 {
		t.Errorf("profile = %+v, want minted user ID and $1000 balance", p)
	}

	if rec := env.do(t, "GET", "/api/profile", nil); rec.Code != http.StatusOK {
		t.Errorf("GET profile status = %d, want 200", rec.Code)
	}

	// Second signup on the same device is rejected.
	if rec := env.do(t, "POST", "/api/signup", SignupRequest{UserName: "bob"}); rec.Code != http.StatusConflict {
		t.Errorf("second signup status = %d, want 409", rec.Code)
	}

	// Sign out.
	if rec := env.do(t, "DELETE", "/api/profile", nil); rec.Code != http.StatusOK {
		t.Errorf("DELETE profile status = %d, want 200", rec.Code)
	}
	if rec := env.do(t, "GET", "/api/profile", nil); rec.Code != http.StatusNotFound {
		t.Errorf("GET profile after delete status = %d, want 404", rec.Code)
	}
}

func TestSignupRejectsBadUserName(t *testing.T) {
	env := newTestEnv(t)

	for _, name := range []string{"", "ab", "way_too_long_username", "bad name!"} {
		rec := env.do(t, "POST", "/api/signup", SignupRequest{UserName: name})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("signup(%q) status = %d, want 400", name, rec.Code)
		}
	}
}

func TestBalanceEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.signup(t, "alice")

	rec := env.do(t, "GET", "/api/balance", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET balance status = %d", rec.Code)
	}
	var resp BalanceResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Balance != 100000 || resp.Display != "$1000.00" || resp.Source != "local" {
		t.Errorf("balance = %+v", resp)
	}
}

func TestReceiveSession(t *testing.T) {
	env := newTestEnv(t)

	// Receiving requires a profile.
	if rec := env.do(t, "POST", "/api/receive/start", nil); rec.Code != http.StatusNotFound {
		t.Errorf("receive without profile status = %d, want 404", rec.Code)
	}

	env.signup(t, "alice")

	if rec := env.do(t, "POST", "/api/receive/start", nil); rec.Code != http.StatusOK {
		t.Fatalf("receive start status = %d, body %s", rec.Code, rec.Body.String())
	}
	if rec := env.do(t, "POST", "/api/receive/start", nil); rec.Code != http.StatusConflict {
		t.Errorf("double receive start status = %d, want 409", rec.Code)
	}
	if rec := env.do(t, "POST", "/api/receive/stop", nil); rec.Code != http.StatusOK {
		t.Errorf("receive stop status = %d, want 200", rec.Code)
	}
}

func TestReceiveWithRadioOff(t *testing.T) {
	env := newTestEnv(t)
	env.signup(t, "alice")
	env.loopback.SetState(radio.StatePoweredOff)

	if rec := env.do(t, "POST", "/api/receive/start", nil); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("receive start status = %d, want 503", rec.Code)
	}
	if rec := env.do(t, "POST", "/api/send/start", nil); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("send start status = %d, want 503", rec.Code)
	}
}

// deliverPeer injects an advertisement and waits for the scanner to apply it.
func deliverPeer(t *testing.T, env *testEnv, profile *models.UserProfile, deviceID string, rssi int) {
	t.Helper()
	payload, err := codec.Encode(profile)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	env.loopback.Deliver(radio.Event{
		DeviceID:         deviceID,
		Name:             codec.NamePrefix + profile.UserName,
		RSSI:             rssi,
		ManufacturerData: payload,
	})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := env.router.scanner.Registry().Get(deviceID); ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("peer never appeared in registry")
}

func TestSendSessionAndPeers(t *testing.T) {
	env := newTestEnv(t)
	env.signup(t, "alice")

	if rec := env.do(t, "POST", "/api/send/start", nil); rec.Code != http.StatusOK {
		t.Fatalf("send start status = %d", rec.Code)
	}
	defer env.do(t, "POST", "/api/send/stop", nil)

	deliverPeer(t, env, &models.UserProfile{
		UserID:   "user_2",
		UserName: "bob",
		Balance:  5000,
	}, "dev-bob", -48)

	rec := env.do(t, "GET", "/api/peers", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET peers status = %d", rec.Code)
	}
	var resp PeersResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if len(resp.Peers) != 1 || resp.Peers[0].UserName != "bob" || !resp.Peers[0].ProtocolMatch {
		t.Errorf("peers = %+v", resp.Peers)
	}
	if resp.State != "scanning" {
		t.Errorf("state = %q, want scanning", resp.State)
	}
}

func TestTransferEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	env.signup(t, "alice")

	if rec := env.do(t, "POST", "/api/send/start", nil); rec.Code != http.StatusOK {
		t.Fatalf("send start status = %d", rec.Code)
	}
	defer env.do(t, "POST", "/api/send/stop", nil)

	deliverPeer(t, env, &models.UserProfile{UserID: "user_2", UserName: "bob"}, "dev-bob", -48)

	rec := env.do(t, "POST", "/api/transfer", TransferRequest{UserName: "bob", Amount: "12.34"})
	if rec.Code != http.StatusOK {
		t.Fatalf("transfer status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp TransferResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Balance != 100000-1234 {
		t.Errorf("balance after transfer = %v, want 98766", resp.Balance)
	}
	if resp.Transfer.ToUserName != "bob" || resp.Transfer.Amount != 1234 {
		t.Errorf("transfer = %+v", resp.Transfer)
	}

	// The new balance is durable.
	p, err := env.profiles.Current()
	if err != nil || p.Balance != 98766 {
		t.Errorf("stored balance = %v, %v", p, err)
	}
}

func TestTransferErrorMapping(t *testing.T) {
	env := newTestEnv(t)
	env.signup(t, "alice")

	if rec := env.do(t, "POST", "/api/send/start", nil); rec.Code != http.StatusOK {
		t.Fatalf("send start status = %d", rec.Code)
	}
	defer env.do(t, "POST", "/api/send/stop", nil)

	deliverPeer(t, env, &models.UserProfile{UserID: "user_2", UserName: "bob"}, "dev-bob", -48)

	cases := []struct {
		name string
		req  TransferRequest
		want int
	}{
		{"unknown peer", TransferRequest{UserName: "mallory", Amount: "1.00"}, http.StatusNotFound},
		{"bad amount", TransferRequest{UserName: "bob", Amount: "abc"}, http.StatusBadRequest},
		{"negative amount", TransferRequest{UserName: "bob", Amount: "-5"}, http.StatusBadRequest},
		{"insufficient funds", TransferRequest{UserName: "bob", Amount: "2000.00"}, http.StatusPaymentRequired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.do(t, "POST", "/api/transfer", tc.req)
			if rec.Code != tc.want {
				t.Errorf("status = %d, want %d, body %s", rec.Code, tc.want, rec.Body.String())
			}
		})
	}
}

func TestStatusEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "GET", "/api/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET status = %d", rec.Code)
	}
	var resp StatusResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Radio != "powered_on" || resp.Advertiser != "idle" || resp.Scanner != "idle" {
		t.Errorf("status = %+v", resp)
	}
	if resp.HasProfile {
		t.Error("HasProfile = true before signup")
	}
}
