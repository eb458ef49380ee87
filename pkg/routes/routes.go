// Package routes exposes the device's HTTP API: profile lifecycle,
// receive/send radio sessions, the discovered-peer list and transfers.
package routes

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/kabili207/flume-pay/pkg/advertiser"
	"github.com/kabili207/flume-pay/pkg/config"
	"github.com/kabili207/flume-pay/pkg/ident"
	"github.com/kabili207/flume-pay/pkg/models"
	"github.com/kabili207/flume-pay/pkg/nessie"
	"github.com/kabili207/flume-pay/pkg/radio"
	"github.com/kabili207/flume-pay/pkg/scanner"
	"github.com/kabili207/flume-pay/pkg/store"
	"github.com/kabili207/flume-pay/pkg/transfer"
)

// initialBalance is granted to new profiles when no banking sandbox backs
// the account.
const initialBalance = models.Amount(100000)

type APIRouter struct {
	config       config.Configuration
	storage      store.Stores
	advertiser   *advertiser.Advertiser
	scanner      *scanner.Scanner
	reconciler   *transfer.Reconciler
	sandbox      *nessie.Client
	radio        radio.Radio
	PeerNotifier *PeerNotifier
}

type Options struct {
	Config     config.Configuration
	Storage    store.Stores
	Advertiser *advertiser.Advertiser
	Scanner    *scanner.Scanner
	Reconciler *transfer.Reconciler
	Sandbox    *nessie.Client // nil when the remote ledger is disabled
	Radio      radio.Radio
}

func New(opts Options) *APIRouter {
	ar := &APIRouter{
		config:       opts.Config,
		storage:      opts.Storage,
		advertiser:   opts.Advertiser,
		scanner:      opts.Scanner,
		reconciler:   opts.Reconciler,
		sandbox:      opts.Sandbox,
		radio:        opts.Radio,
		PeerNotifier: NewPeerNotifier(),
	}
	// Registry changes fan out to the SSE subscribers.
	ar.scanner.Registry().SetOnChange(ar.PeerNotifier.Notify)
	return ar
}

// Handler builds the HTTP routing table.
func (ar *APIRouter) Handler() http.Handler {
	myRouter := mux.NewRouter().StrictSlash(true)

	myRouter.HandleFunc("/api/profile", ar.getProfile).Methods("GET")
	myRouter.HandleFunc("/api/profile", ar.deleteProfile).Methods("DELETE")
	myRouter.HandleFunc("/api/signup", ar.signup).Methods("POST")
	myRouter.HandleFunc("/api/balance", ar.getBalance).Methods("GET")
	myRouter.HandleFunc("/api/receive/start", ar.startReceive).Methods("POST")
	myRouter.HandleFunc("/api/receive/stop", ar.stopReceive).Methods("POST")
	myRouter.HandleFunc("/api/send/start", ar.startSend).Methods("POST")
	myRouter.HandleFunc("/api/send/stop", ar.stopSend).Methods("POST")
	myRouter.HandleFunc("/api/peers", ar.getPeers).Methods("GET")
	myRouter.HandleFunc("/api/peers/events", ar.peersSSE).Methods("GET")
	myRouter.HandleFunc("/api/transfer", ar.createTransfer).Methods("POST")
	myRouter.HandleFunc("/api/status", ar.getStatus).Methods("GET")

	myRouter.Use(handlers.ProxyHeaders)
	myRouter.Use(RequestLogger)
	h := handlers.RecoveryHandler()
	return h(myRouter)
}

// Initialize starts serving the API on listenAddr. Blocks.
func (ar *APIRouter) Initialize(listenAddr string) error {
	return http.ListenAndServe(listenAddr, ar.Handler())
}

func RequestLogger(h http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		slog.Info("endpoint hit", "method", r.Method, "path", r.URL.Path, "remote_host", r.RemoteAddr, "user_agent", r.UserAgent())
		h.ServeHTTP(w, r)
	}
	return http.HandlerFunc(fn)
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, ErrorResponse{Error: msg})
}

// currentProfile loads the stored profile, writing the error response when
// none exists.
func (ar *APIRouter) currentProfile(w http.ResponseWriter) *models.UserProfile {
	profile, err := ar.storage.Profiles.Current()
	if err != nil {
		slog.Error("error loading profile", "error", err)
		respondError(w, http.StatusInternalServerError, "profile unavailable")
		return nil
	}
	if profile == nil {
		respondError(w, http.StatusNotFound, "no profile on this device")
		return nil
	}
	return profile
}

func (ar *APIRouter) getProfile(w http.ResponseWriter, r *http.Request) {
	profile := ar.currentProfile(w)
	if profile == nil {
		return
	}
	respondJSON(w, http.StatusOK, profile)
}

type SignupRequest struct {
	UserName  string `json:"username"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

func (ar *APIRouter) signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !models.ValidUserName(req.UserName) {
		respondError(w, http.StatusBadRequest, "username must be 3-15 letters, digits or underscores")
		return
	}

	existing, err := ar.storage.Profiles.Current()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "profile unavailable")
		return
	}
	if existing != nil {
		respondError(w, http.StatusConflict, "a profile already exists on this device")
		return
	}

	profile := &models.UserProfile{
		UserID:    ident.NewUserID(),
		UserName:  req.UserName,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Balance:   initialBalance,
		CreatedAt: time.Now().UTC(),
	}

	if ar.sandbox != nil {
		cust, err := ar.sandbox.CreateCustomer(r.Context(), req.FirstName, req.LastName)
		if err != nil {
			slog.Error("error creating sandbox customer", "error", err)
			respondError(w, http.StatusBadGateway, "banking sandbox unavailable")
			return
		}
		acct, err := ar.sandbox.CreateAccount(r.Context(), cust.ID, "Checking")
		if err != nil {
			slog.Error("error creating sandbox account", "error", err)
			respondError(w, http.StatusBadGateway, "banking sandbox unavailable")
			return
		}
		profile.AccountID = acct.ID
		if amt, err := models.AmountFromDollars(acct.Balance); err == nil {
			profile.Balance = amt
		}
	}

	if ar.storage.Roster != nil {
		err := ar.storage.Roster.Register(profile)
		if errors.Is(err, store.ErrUserNameTaken) {
			respondError(w, http.StatusConflict, "username is already registered")
			return
		}
		if err != nil {
			slog.Error("error registering username", "error", err, "username", req.UserName)
			respondError(w, http.StatusInternalServerError, "registration failed")
			return
		}
	}

	if err := ar.storage.Profiles.Save(profile); err != nil {
		slog.Error("error saving profile", "error", err)
		respondError(w, http.StatusInternalServerError, "saving profile failed")
		return
	}

	slog.Info("profile created", "user_id", profile.UserID, "username", profile.UserName)
	respondJSON(w, http.StatusCreated, profile)
}

func (ar *APIRouter) deleteProfile(w http.ResponseWriter, r *http.Request) {
	profile := ar.currentProfile(w)
	if profile == nil {
		return
	}

	// Sign-out tears down any running radio session first.
	ar.advertiser.Stop()
	ar.scanner.Stop()

	if ar.storage.Roster != nil {
		if err := ar.storage.Roster.Remove(profile.UserID); err != nil {
			slog.Warn("error removing roster entry", "error", err, "user_id", profile.UserID)
		}
	}
	if err := ar.storage.Profiles.Delete(); err != nil {
		slog.Error("error deleting profile", "error", err)
		respondError(w, http.StatusInternalServerError, "deleting profile failed")
		return
	}

	slog.Info("profile removed", "user_id", profile.UserID)
	respondJSON(w, http.StatusOK, map[string]any{"success": true})
}

type BalanceResponse struct {
	Balance models.Amount `json:"balance"`
	Display string        `json:"display"`
	Source  string        `json:"source"`
}

func (ar *APIRouter) getBalance(w http.ResponseWriter, r *http.Request) {
	profile := ar.currentProfile(w)
	if profile == nil {
		return
	}

	source := "local"
	remote := r.URL.Query().Get("remote")
	if (remote == "1" || remote == "true") && ar.sandbox != nil && profile.AccountID != "" {
		amt, err := ar.sandbox.GetAccountBalance(r.Context(), profile.AccountID)
		if err != nil {
			slog.Error("error fetching remote balance", "error", err)
			respondError(w, http.StatusBadGateway, "banking sandbox unavailable")
			return
		}
		profile.Balance = amt
		source = "remote"
		if err := ar.storage.Profiles.Save(profile); err != nil {
			slog.Warn("error persisting refreshed balance", "error", err)
		}
		if ar.storage.Roster != nil {
			if err := ar.storage.Roster.UpdateBalance(profile.UserID, amt); err != nil {
				slog.Warn("error updating roster balance", "error", err)
			}
		}
	}

	respondJSON(w, http.StatusOK, BalanceResponse{
		Balance: profile.Balance,
		Display: "$" + profile.Balance.String(),
		Source:  source,
	})
}

type SessionResponse struct {
	State           string `json:"state"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`
}

func (ar *APIRouter) startReceive(w http.ResponseWriter, r *http.Request) {
	profile := ar.currentProfile(w)
	if profile == nil {
		return
	}

	err := ar.advertiser.Start(profile)
	switch {
	case errors.Is(err, radio.ErrUnavailable):
		respondError(w, http.StatusServiceUnavailable, "radio is unavailable")
		return
	case errors.Is(err, advertiser.ErrAlreadyAdvertising):
		respondError(w, http.StatusConflict, "already receiving")
		return
	case err != nil:
		slog.Error("error starting advertisement", "error", err)
		respondError(w, http.StatusInternalServerError, "starting receive session failed")
		return
	}

	respondJSON(w, http.StatusOK, SessionResponse{
		State:           ar.advertiser.State().String(),
		DurationSeconds: int(ar.config.Radio.AdvertiseDuration.Seconds()),
	})
}

func (ar *APIRouter) stopReceive(w http.ResponseWriter, r *http.Request) {
	ar.advertiser.Stop()
	respondJSON(w, http.StatusOK, SessionResponse{State: ar.advertiser.State().String()})
}

func (ar *APIRouter) startSend(w http.ResponseWriter, r *http.Request) {
	err := ar.scanner.Start()
	switch {
	case errors.Is(err, radio.ErrUnavailable):
		respondError(w, http.StatusServiceUnavailable, "radio is unavailable")
		return
	case errors.Is(err, scanner.ErrAlreadyScanning):
		respondError(w, http.StatusConflict, "already scanning")
		return
	case err != nil:
		slog.Error("error starting scan", "error", err)
		respondError(w, http.StatusInternalServerError, "starting send session failed")
		return
	}

	respondJSON(w, http.StatusOK, SessionResponse{
		State:           ar.scanner.State().String(),
		DurationSeconds: int(ar.config.Radio.ScanDuration.Seconds()),
	})
}

func (ar *APIRouter) stopSend(w http.ResponseWriter, r *http.Request) {
	ar.scanner.Stop()
	respondJSON(w, http.StatusOK, SessionResponse{State: ar.scanner.State().String()})
}

type PeerResponse struct {
	DeviceID       string         `json:"device_id"`
	Name           string         `json:"name,omitempty"`
	UserName       string         `json:"username"`
	FullName       string         `json:"full_name,omitempty"`
	UserID         string         `json:"user_id,omitempty"`
	Balance        *models.Amount `json:"balance,omitempty"`
	SignalStrength int            `json:"signal_strength"`
	ProtocolMatch  bool           `json:"protocol_match"`
	LastSeen       string         `json:"last_seen"`
}

type PeersResponse struct {
	Peers []PeerResponse `json:"peers"`
	State string         `json:"state"`
}

func (ar *APIRouter) peerList() []PeerResponse {
	list := ar.scanner.Registry().List()
	peers := make([]PeerResponse, len(list))
	for i, p := range list {
		peers[i] = PeerResponse{
			DeviceID:       p.DeviceID,
			Name:           p.Name,
			UserName:       p.UserName,
			FullName:       p.FullName,
			UserID:         p.UserID,
			Balance:        p.Balance,
			SignalStrength: p.SignalStrength,
			ProtocolMatch:  p.ProtocolMatch,
			LastSeen:       p.LastSeen.Format("2006-01-02 15:04:05"),
		}
	}
	return peers
}

func (ar *APIRouter) getPeers(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, PeersResponse{
		Peers: ar.peerList(),
		State: ar.scanner.State().String(),
	})
}

type TransferRequest struct {
	DeviceID string `json:"device_id,omitempty"`
	UserName string `json:"username,omitempty"`
	Amount   string `json:"amount"`
}

type TransferResponse struct {
	Transfer *models.Transfer `json:"transfer"`
	Balance  models.Amount    `json:"balance"`
}

func (ar *APIRouter) createTransfer(w http.ResponseWriter, r *http.Request) {
	profile := ar.currentProfile(w)
	if profile == nil {
		return
	}

	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	amount, err := models.ParseAmount(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "amount must be a positive decimal like 12.34")
		return
	}

	peer := ar.resolvePeer(req)
	if peer == nil {
		respondError(w, http.StatusNotFound, "peer not found in the current scan results")
		return
	}

	tr, err := ar.reconciler.Execute(r.Context(), profile, peer, amount)
	switch {
	case errors.Is(err, transfer.ErrInvalidAmount):
		respondError(w, http.StatusBadRequest, "amount must be a positive decimal like 12.34")
		return
	case errors.Is(err, transfer.ErrUnresolvedPeer):
		respondError(w, http.StatusBadRequest, "selected peer cannot receive payments")
		return
	case errors.Is(err, transfer.ErrInsufficientFunds):
		respondError(w, http.StatusPaymentRequired, "insufficient funds")
		return
	case errors.Is(err, transfer.ErrBusy):
		respondError(w, http.StatusConflict, "another transfer is already in progress")
		return
	case errors.Is(err, transfer.ErrRemoteLedger):
		respondError(w, http.StatusBadGateway, "remote ledger rejected the transfer")
		return
	case err != nil:
		slog.Error("error executing transfer", "error", err)
		respondError(w, http.StatusInternalServerError, "transfer failed")
		return
	}

	if ar.storage.Roster != nil {
		if err := ar.storage.Roster.UpdateBalance(profile.UserID, profile.Balance); err != nil {
			slog.Warn("error updating roster balance", "error", err, "user_id", profile.UserID)
		}
	}

	respondJSON(w, http.StatusOK, TransferResponse{Transfer: tr, Balance: profile.Balance})
}

// resolvePeer finds the transfer target in the scan results, by device ID
// when given, otherwise by username.
func (ar *APIRouter) resolvePeer(req TransferRequest) *models.DiscoveredPeer {
	reg := ar.scanner.Registry()
	if req.DeviceID != "" {
		if p, ok := reg.Get(req.DeviceID); ok {
			return &p
		}
		return nil
	}
	if req.UserName == "" {
		return nil
	}
	for _, p := range reg.List() {
		if p.UserName == req.UserName {
			return &p
		}
	}
	return nil
}

type StatusResponse struct {
	Radio      string `json:"radio"`
	Advertiser string `json:"advertiser"`
	Scanner    string `json:"scanner"`
	Peers      int    `json:"peers"`
	Matching   int    `json:"matching_peers"`
	HasProfile bool   `json:"has_profile"`
}

func (ar *APIRouter) getStatus(w http.ResponseWriter, r *http.Request) {
	profile, err := ar.storage.Profiles.Current()
	if err != nil {
		slog.Error("error loading profile", "error", err)
	}

	respondJSON(w, http.StatusOK, StatusResponse{
		Radio:      ar.radio.State().String(),
		Advertiser: ar.advertiser.State().String(),
		Scanner:    ar.scanner.State().String(),
		Peers:      ar.scanner.Registry().Len(),
		Matching:   ar.scanner.Registry().MatchingLen(),
		HasProfile: profile != nil,
	})
}
