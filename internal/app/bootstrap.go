package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"trailing_go/internal/engine"
	"trailing_go/internal/event"
	"trailing_go/internal/infra"
	"trailing_go/internal/infra/storage"
	"trailing_go/internal/paper"
)

// snapshotRetention is how many state snapshots are kept on disk.
const snapshotRetention = 5

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config    *infra.Config
	Metrics   *infra.Metrics
	Records   *storage.RecordStore
	Snapshots *storage.SnapshotStore
	Wallets   *paper.Wallets
	Venue     *paper.Venue
	Claims    *paper.ClaimLedger
	Engine    *engine.Engine
	Sequencer *engine.Sequencer
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{Metrics: infra.GlobalMetrics}
}

// Initialize loads the config, installs the logger and builds every component.
func (b *Bootstrap) Initialize(ctx context.Context, configPath string) error {
	slog.Info("🚀 Bootstrapping trailing engine...")

	// 1. Load Config
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err // Let main handle the error
	}

	// 2. Setup Logger
	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)

	return b.Build(ctx, cfg)
}

// Build wires storage, the paper venue, the engine and the sequencer from cfg,
// restoring the latest snapshot when one exists.
func (b *Bootstrap) Build(ctx context.Context, cfg *infra.Config) error {
	b.Config = cfg
	event.Warmup()

	// 3. Initialize Storage (DB)
	records, err := storage.NewRecordStore(cfg.Storage.DBPath)
	if err != nil {
		return err
	}
	b.Records = records

	snapshots, err := storage.NewSnapshotStore(cfg.Storage.SnapshotPath, snapshotRetention)
	if err != nil {
		records.Close()
		return err
	}
	b.Snapshots = snapshots
	slog.Info("✅ Storage initialized",
		slog.String("records", cfg.Storage.DBPath),
		slog.String("snapshots", cfg.Storage.SnapshotPath))

	// 4. Paper venue
	b.Wallets = paper.NewWallets()
	b.Venue = paper.NewVenue(b.Wallets, cfg.Paper.VenueAccount, cfg.Engine.CustodyAccount)
	b.Claims = paper.NewClaimLedger()
	for _, m := range cfg.Paper.Markets {
		if err := b.Venue.ListMarket(m.Market, m.Tick, m.Price); err != nil {
			return fmt.Errorf("list market %s/%s: %w", m.Currency0, m.Currency1, err)
		}
	}

	// 5. Engine
	eng, err := engine.New(engine.Deps{
		Swap:           b.Venue,
		Oracle:         b.Venue,
		Claims:         b.Claims,
		Custody:        paper.NewVault(b.Wallets, cfg.Engine.CustodyAccount),
		CustodyAccount: cfg.Engine.CustodyAccount,
		Sink:           records,
		Metrics:        b.Metrics,
	})
	if err != nil {
		return err
	}
	b.Engine = eng

	b.Sequencer = engine.NewSequencer(eng, engine.SequencerConfig{
		InboxSize: cfg.Engine.InboxSize,
		MaxSeqGap: cfg.Engine.MaxSeqGap,
		DumpPath:  cfg.Engine.DumpPath,
		OnCommit:  b.saveSnapshot,
		Metrics:   b.Metrics,
	})

	// 6. Restore or seed state
	if err := b.restore(); err != nil {
		return err
	}
	if err := b.initializeMarkets(ctx); err != nil {
		return err
	}
	return b.saveSnapshot(ctx, b.Sequencer.NextSeq())
}

func (b *Bootstrap) restore() error {
	snap, err := b.Snapshots.Latest()
	if errors.Is(err, storage.ErrNoSnapshot) {
		for _, f := range b.Config.Paper.Funding {
			if err := b.Wallets.Credit(f.Account, f.Asset, f.Amount); err != nil {
				return fmt.Errorf("fund %s: %w", f.Account, err)
			}
		}
		b.Wallets.Commit()
		slog.Info("✅ Paper wallets funded", slog.Int("entries", len(b.Config.Paper.Funding)))
		return nil
	}
	if err != nil {
		return err
	}

	if err := b.Venue.LoadPools(snap.Pools); err != nil {
		return err
	}
	b.Wallets.Load(snap.Wallets)
	b.Claims.Load(snap.Claims)
	if err := b.Engine.Restore(snap.Engine); err != nil {
		return err
	}
	b.Sequencer.SetNextSeq(snap.NextSeq)

	slog.Info("✅ State restored",
		slog.Uint64("version", snap.Version),
		slog.Uint64("next_seq", snap.NextSeq),
		slog.Int("orders", len(snap.Engine.Orders)),
		slog.Time("saved_at", snap.SavedAt))
	return nil
}

// initializeMarkets registers configured markets the engine does not know yet.
func (b *Bootstrap) initializeMarkets(ctx context.Context) error {
	for _, p := range b.Venue.Pools() {
		if _, ok := b.Engine.Market(p.Market.ID()); ok {
			continue
		}
		if err := b.Engine.InitializeMarket(ctx, p.Market, p.Tick); err != nil {
			return err
		}
		slog.Info("✅ Market initialized",
			slog.String("market", string(p.Market.ID())),
			slog.String("pair", string(p.Market.Currency0)+"/"+string(p.Market.Currency1)),
			slog.Int("tick", int(p.Tick)))
	}
	return nil
}

// saveSnapshot is the sequencer commit hook.
func (b *Bootstrap) saveSnapshot(_ context.Context, nextSeq uint64) error {
	return b.Snapshots.Save(storage.Snapshot{
		NextSeq: nextSeq,
		Engine:  b.Engine.State(),
		Wallets: b.Wallets.Entries(),
		Claims:  b.Claims.Entries(),
		Pools:   b.Venue.Pools(),
	})
}

// Close releases storage handles.
func (b *Bootstrap) Close() error {
	var errs []error
	if b.Snapshots != nil {
		errs = append(errs, b.Snapshots.Close())
	}
	if b.Records != nil {
		errs = append(errs, b.Records.Close())
	}
	return errors.Join(errs...)
}
