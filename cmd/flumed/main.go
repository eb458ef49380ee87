package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MatusOllah/slogcolor"
	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"

	"github.com/kabili207/flume-pay/pkg/advertiser"
	"github.com/kabili207/flume-pay/pkg/config"
	"github.com/kabili207/flume-pay/pkg/hooks"
	"github.com/kabili207/flume-pay/pkg/ident"
	"github.com/kabili207/flume-pay/pkg/models"
	"github.com/kabili207/flume-pay/pkg/nessie"
	"github.com/kabili207/flume-pay/pkg/radio"
	"github.com/kabili207/flume-pay/pkg/routes"
	"github.com/kabili207/flume-pay/pkg/scanner"
	"github.com/kabili207/flume-pay/pkg/store"
	"github.com/kabili207/flume-pay/pkg/transfer"
)

const deviceIDKey = "deviceId"

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	slog.SetDefault(slog.New(slogcolor.NewHandler(os.Stderr, slogcolor.DefaultOptions)))

	if err := run(*configPath); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	kv, err := store.NewFileKV(cfg.DataDir)
	if err != nil {
		return err
	}

	deviceID, err := loadDeviceID(kv)
	if err != nil {
		return err
	}
	slog.Info("starting flumed", "device_id", deviceID, "listen", cfg.ListenAddr)

	var broker *mochi.Server
	if cfg.Radio.EmbeddedBroker {
		broker, err = startBroker(cfg.Radio.BrokerAddr)
		if err != nil {
			return err
		}
		defer broker.Close()
	}

	var rad radio.Radio
	switch cfg.Radio.Driver {
	case "mqtt":
		mq, err := radio.NewMQTT(cfg.Radio.BrokerURL, deviceID)
		if err != nil {
			return fmt.Errorf("connecting radio bridge: %w", err)
		}
		defer mq.Close()
		rad = mq
	case "loopback":
		rad = radio.NewLoopback(deviceID)
	default:
		return fmt.Errorf("unknown radio driver %q", cfg.Radio.Driver)
	}

	storage := store.Stores{Profiles: store.NewProfiles(kv)}
	if dsn := cfg.DatabaseDSN(); dsn != "" {
		db, err := store.ConnectPostgres(dsn, cfg.Database.MigrationsDir)
		if err != nil {
			return err
		}
		defer db.Close()
		storage.Roster = store.NewRoster(db)
	}

	var sandbox *nessie.Client
	var ledger transfer.Ledger
	if cfg.Sandbox.Enabled {
		sandbox = nessie.NewClient(cfg.Sandbox.BaseURL, cfg.Sandbox.APIKey)
		defer sandbox.Close()
		ledger = &sandboxLedger{
			client:   sandbox,
			profiles: storage.Profiles,
			roster:   storage.Roster,
		}
	}

	adv := advertiser.New(advertiser.Options{
		Radio:           rad,
		Duration:        cfg.Radio.AdvertiseDuration,
		RefreshInterval: cfg.Radio.RefreshInterval,
	})
	sc := scanner.New(scanner.Options{
		Radio:    rad,
		Duration: cfg.Radio.ScanDuration,
	})
	rec := transfer.New(transfer.Options{
		Store:  storage.Profiles,
		Ledger: ledger,
	})

	go func() {
		for range adv.Expired() {
			slog.Info("receive session expired")
		}
	}()

	router := routes.New(routes.Options{
		Config:     cfg,
		Storage:    storage,
		Advertiser: adv,
		Scanner:    sc,
		Reconciler: rec,
		Sandbox:    sandbox,
		Radio:      rad,
	})

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router.Handler(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	adv.Stop()
	sc.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// loadDeviceID returns the persistent device identifier, minting one on
// first run.
func loadDeviceID(kv *store.FileKV) (string, error) {
	data, err := kv.Get(deviceIDKey)
	if err != nil {
		return "", err
	}
	if len(data) > 0 {
		return string(data), nil
	}
	id := ident.NewDeviceID()
	if err := kv.Set(deviceIDKey, []byte(id)); err != nil {
		return "", err
	}
	return id, nil
}

// startBroker runs an in-process MQTT broker so a handful of devices can
// bridge advertisements without external infrastructure.
func startBroker(addr string) (*mochi.Server, error) {
	server := mochi.New(&mochi.Options{})
	if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
		return nil, err
	}
	if err := server.AddHook(new(hooks.AdvHook), &hooks.AdvHookOptions{Server: server}); err != nil {
		return nil, err
	}

	tcp := listeners.NewTCP(listeners.Config{ID: "flume-broker", Address: addr})
	if err := server.AddListener(tcp); err != nil {
		return nil, err
	}

	go func() {
		if err := server.Serve(); err != nil {
			slog.Error("embedded broker stopped", "error", err)
		}
	}()

	slog.Info("embedded MQTT broker listening", "addr", addr)
	return server, nil
}

// sandboxLedger adapts the banking sandbox to the reconciler's Ledger
// interface, resolving user IDs to sandbox account IDs.
type sandboxLedger struct {
	client   *nessie.Client
	profiles store.ProfileStore
	roster   store.RosterStore
}

func (l *sandboxLedger) CreateTransfer(ctx context.Context, payerID, payeeID string, amount models.Amount, description string) error {
	payer, err := l.profiles.Current()
	if err != nil {
		return err
	}
	if payer == nil || payer.AccountID == "" {
		return errors.New("local profile has no sandbox account")
	}

	if l.roster == nil {
		return errors.New("no roster configured to resolve the payee account")
	}
	payee, err := l.roster.GetByUserID(payeeID)
	if err != nil {
		return err
	}
	if payee == nil || payee.AccountID == "" {
		return fmt.Errorf("payee %s has no sandbox account", payeeID)
	}

	return l.client.CreateTransfer(ctx, payer.AccountID, payee.AccountID, amount, description)
}
