// Package transfer reconciles a balance movement once a peer has been
// selected: validate funds, apply the mutation to the stored profile, and
// in the remote-ledger variant confirm against the banking sandbox first.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kabili207/flume-pay/pkg/models"
)

var (
	ErrInvalidAmount     = errors.New("amount must be a positive decimal")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrUnresolvedPeer    = errors.New("selected peer has no resolvable identity")
	ErrBusy              = errors.New("a transfer for this profile is already in flight")
	ErrRemoteLedger      = errors.New("remote ledger rejected the transfer")
)

// ProfileStore loads and persists the sender profile.
type ProfileStore interface {
	// Current returns the stored profile, or nil when none exists.
	Current() (*models.UserProfile, error)
	Save(profile *models.UserProfile) error
}

// Ledger is the optional remote ledger (banking sandbox). When configured,
// a transfer is only committed locally after the ledger confirms it.
type Ledger interface {
	CreateTransfer(ctx context.Context, payerID, payeeID string, amount models.Amount, description string) error
}

// Options configure a Reconciler.
type Options struct {
	Store  ProfileStore
	Ledger Ledger // nil for the local-only variant
}

// Reconciler applies balance transfers. Each call moves money, so callers
// must guard against duplicate submission of one logical action; the
// reconciler itself only rejects concurrent calls for the same sender.
type Reconciler struct {
	store  ProfileStore
	ledger Ledger
	log    *slog.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
}

func New(opts Options) *Reconciler {
	return &Reconciler{
		store:    opts.Store,
		ledger:   opts.Ledger,
		log:      slog.With("component", "reconciler"),
		inFlight: make(map[string]struct{}),
	}
}

// Execute validates and applies one transfer from sender to the selected
// peer. On any error the sender's stored balance is unchanged.
func (r *Reconciler) Execute(ctx context.Context, sender *models.UserProfile, peer *models.DiscoveredPeer, amount models.Amount) (*models.Transfer, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if !peer.HasIdentity() {
		return nil, ErrUnresolvedPeer
	}

	// Balance mutation is a read-modify-write across an asynchronous
	// storage round-trip; a second concurrent call would lose an update.
	if !r.acquire(sender.UserID) {
		return nil, ErrBusy
	}
	defer r.release(sender.UserID)

	// The caller's copy may predate a transfer that committed while this
	// request was being prepared; the stored balance is authoritative.
	stored, err := r.store.Current()
	if err != nil {
		return nil, fmt.Errorf("loading sender profile: %w", err)
	}
	if stored != nil && stored.UserID == sender.UserID {
		sender.Balance = stored.Balance
	}

	if amount > sender.Balance {
		return nil, fmt.Errorf("%w: balance %s, requested %s",
			ErrInsufficientFunds, sender.Balance, amount)
	}

	// Remote confirmation comes first: the local balance must never move
	// without the ledger agreeing, so a remote failure needs no rollback.
	if r.ledger != nil {
		err := r.ledger.CreateTransfer(ctx, sender.UserID, peer.UserID, amount,
			fmt.Sprintf("Flume payment to @%s", peer.UserName))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRemoteLedger, err)
		}
	}

	sender.Balance -= amount
	if err := r.store.Save(sender); err != nil {
		sender.Balance += amount
		return nil, fmt.Errorf("persisting sender profile: %w", err)
	}

	tr := &models.Transfer{
		FromUserID: sender.UserID,
		ToUserID:   peer.UserID,
		ToUserName: peer.UserName,
		Amount:     amount,
		Timestamp:  time.Now(),
	}

	r.log.Info("transfer completed",
		"from", tr.FromUserID,
		"to_username", tr.ToUserName,
		"amount", amount.String(),
		"new_balance", sender.Balance.String())
	return tr, nil
}

func (r *Reconciler) acquire(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.inFlight[userID]; busy {
		return false
	}
	r.inFlight[userID] = struct{}{}
	return true
}

func (r *Reconciler) release(userID string) {
	r.mu.Lock()
	delete(r.inFlight, userID)
	r.mu.Unlock()
}
