package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"collateral-watch/internal/alerting"
	"collateral-watch/internal/asset"
	"collateral-watch/internal/chain"
	"collateral-watch/internal/config"
	"collateral-watch/internal/metrics"
	"collateral-watch/internal/oracle"
	"collateral-watch/internal/rates"
	"collateral-watch/internal/scheduler"
	"collateral-watch/internal/service"
	"collateral-watch/internal/status"
	"collateral-watch/internal/storage"
)

var hundred = decimal.New(100, 0)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newChainClient() *chain.Client {
	return chain.NewClient(chain.Options{
		RPCURL:  a.Config.Ethereum.RPCURL,
		Timeout: a.Config.Ethereum.RequestTimeout,
	}, a.Logger)
}

// buildTokens admits every configured asset and collateral. Construction
// validates each token's decimals on-chain, so it needs a live RPC endpoint.
func (a *App) buildTokens(ctx context.Context, caller chain.Caller) ([]asset.Token, error) {
	tokens := make([]asset.Token, 0, len(a.Config.Assets)+len(a.Config.Collateral))

	for _, cfg := range a.Config.Assets {
		spec, err := a.assetSpec(cfg)
		if err != nil {
			return nil, err
		}

		if cfg.PriceFeed == "" {
			return nil, fmt.Errorf("asset %s: price_feed required", cfg.Symbol)
		}
		adapter := a.feedAdapter(cfg.Symbol+"/uoa", cfg.PriceFeed, cfg.PegFallback, a.Config.FeedMaxAge(cfg), caller)

		tok, err := asset.NewAsset(ctx, spec, adapter, caller, a.Logger)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, tok)
	}

	for _, cfg := range a.Config.Collateral {
		spec, err := a.assetSpec(cfg.AssetConfig)
		if err != nil {
			return nil, err
		}

		colSpec := asset.CollateralSpec{
			Spec:         spec,
			TargetName:   cfg.TargetName,
			PegTolerance: decimal.NewFromFloat(a.Config.PegTolerance(cfg)).Div(hundred),
		}

		refSource, err := a.refSource(cfg, caller)
		if err != nil {
			return nil, err
		}

		maxAge := a.Config.FeedMaxAge(cfg.AssetConfig)
		targetPerRef := a.pegAdapter(cfg.Symbol+"/target-ref", cfg.TargetPerRefFeed, maxAge, caller)
		pricePerTarget := a.pegAdapter(cfg.Symbol+"/uoa-target", cfg.PricePerTargetFeed, maxAge, caller)

		machine := status.NewMachine(status.Policy{GraceWindow: a.Config.GraceWindow(cfg)}, a.Logger)

		col, err := asset.NewCollateral(ctx, colSpec, refSource, targetPerRef, pricePerTarget, machine, caller, a.Logger)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, col)
	}

	return tokens, nil
}

func (a *App) assetSpec(cfg config.AssetConfig) (asset.Spec, error) {
	if !common.IsHexAddress(cfg.ERC20) {
		return asset.Spec{}, fmt.Errorf("asset %s: invalid erc20 address %q", cfg.Symbol, cfg.ERC20)
	}

	spec := asset.Spec{
		Symbol:         cfg.Symbol,
		ERC20:          common.HexToAddress(cfg.ERC20),
		Decimals:       cfg.Decimals,
		MaxTradeVolume: decimal.NewFromFloat(cfg.MaxTradeVolume),
	}

	if cfg.Reward != nil {
		var holder *common.Address
		if cfg.Reward.WithHolder {
			account, err := a.holderAccount()
			if err != nil {
				return asset.Spec{}, fmt.Errorf("asset %s: %w", cfg.Symbol, err)
			}
			holder = &account
		}

		plan, err := asset.NewClaimPlan(
			common.HexToAddress(cfg.Reward.Token),
			common.HexToAddress(cfg.Reward.Target),
			cfg.Reward.Method,
			holder,
		)
		if err != nil {
			return asset.Spec{}, fmt.Errorf("asset %s: %w", cfg.Symbol, err)
		}
		spec.Claim = plan
	}

	return spec, nil
}

func (a *App) refSource(cfg config.CollateralConfig, caller chain.Caller) (rates.RefPerTokSource, error) {
	switch cfg.RefPerTokSource {
	case "erc4626":
		vault := cfg.Vault
		if vault == "" {
			vault = cfg.ERC20
		}
		if !common.IsHexAddress(vault) {
			return nil, fmt.Errorf("collateral %s: invalid vault address %q", cfg.Symbol, vault)
		}
		return rates.NewERC4626Source(common.HexToAddress(vault), caller, a.Logger), nil
	default:
		return rates.ConstantSource{Value: decimal.New(1, 0)}, nil
	}
}

// feedAdapter builds a pricing adapter over a Chainlink feed with an optional
// configured peg fallback.
func (a *App) feedAdapter(name, feedAddr string, pegFallback float64, maxAge time.Duration, caller chain.Caller) *oracle.Adapter {
	feed := oracle.NewChainlinkFeed(common.HexToAddress(feedAddr), caller, a.Logger)
	opts := oracle.AdapterOptions{MaxAge: maxAge}
	if pegFallback > 0 {
		opts.Peg = decimal.NewFromFloat(pegFallback)
	}
	return oracle.NewAdapter(name, feed, opts, a.Logger)
}

// pegAdapter builds an adapter for a ratio link that defaults to an exact
// peg of 1 when no upstream feed is configured.
func (a *App) pegAdapter(name, feedAddr string, maxAge time.Duration, caller chain.Caller) *oracle.Adapter {
	if feedAddr == "" {
		return oracle.NewAdapter(name, oracle.ConstantFeed{Value: decimal.New(1, 0)}, oracle.AdapterOptions{}, a.Logger)
	}
	feed := oracle.NewChainlinkFeed(common.HexToAddress(feedAddr), caller, a.Logger)
	return oracle.NewAdapter(name, feed, oracle.AdapterOptions{MaxAge: maxAge, Peg: decimal.New(1, 0)}, a.Logger)
}

func (a *App) holderAccount() (common.Address, error) {
	if !common.IsHexAddress(a.Config.App.HolderAccount) {
		return common.Address{}, fmt.Errorf("app.holder_account %q is not a valid address", a.Config.App.HolderAccount)
	}
	return common.HexToAddress(a.Config.App.HolderAccount), nil
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// Run executes the long-running monitoring service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	client := a.newChainClient()
	defer client.Close()

	tokens, err := a.buildTokens(ctx, client)
	if err != nil {
		return err
	}
	if len(tokens) == 0 {
		return errors.New("no assets or collateral configured")
	}

	registry := metrics.NewRegistry()
	if a.Config.Metrics.Enabled {
		server := metrics.NewServer(a.Config.Metrics.ListenAddr, registry, a.Logger)
		go func() {
			if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.Logger.Error().Err(err).Msg("metrics server terminated")
			}
		}()
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	var snapshotStore storage.SnapshotStore
	var eventStore storage.StatusEventStore
	if store != nil {
		snapshotStore = store
		eventStore = store
	}

	monitor := service.New(a.Config, sched, tokens, snapshotStore, eventStore, a.newNotifier(), registry, client, a.Logger)

	a.Logger.Info().Int("tokens", len(tokens)).Msg("starting collateral monitor")
	err = monitor.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("monitor terminated with error")
		return err
	}

	a.Logger.Info().Msg("collateral monitor stopped")
	return nil
}

// ExportOptions hold parameters for exporting historical snapshots.
type ExportOptions struct {
	Symbol    string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit  int
	Events bool
}

// SimulateOptions configure the offline transition simulation.
type SimulateOptions struct {
	RefPerToks    []decimal.Decimal
	TargetPerRefs []decimal.Decimal
	StepInterval  time.Duration
}
