package main

import (
	"log"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"

	"github.com/crucible-fi/crucible/params"
	"github.com/crucible-fi/crucible/pkg/api"
	"github.com/crucible-fi/crucible/pkg/core/engine"
	"github.com/crucible-fi/crucible/pkg/core/ledger"
	"github.com/crucible-fi/crucible/pkg/core/registry"
	"github.com/crucible-fi/crucible/pkg/oracle"
	"github.com/crucible-fi/crucible/pkg/token"
	"github.com/crucible-fi/crucible/pkg/util"
)

// Devnet identities. Production deployments wire real token contracts and
// feed adapters here instead of in-process banks and settable feeds.
var (
	engineAddr = common.HexToAddress("0xEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEE")
	assetWETH  = common.HexToAddress("0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA")
	assetWBTC  = common.HexToAddress("0xBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB")
	dscAddr    = common.HexToAddress("0xDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDD")
)

func main() {
	cfg := params.LoadFromEnv("")

	logger, err := util.NewLogger()
	if cfg.Node.LogFile != "" {
		logger, err = util.NewLoggerWithFile(cfg.Node.LogFile)
	}
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	// ---- Ledger (pebble-backed) ----
	store, err := ledger.NewStore(cfg.Node.DBPath)
	if err != nil {
		sugar.Fatalw("open_ledger_store", "path", cfg.Node.DBPath, "err", err)
	}
	led := ledger.NewLedger(store)
	defer led.Close()

	// ---- Price feeds ----
	clock := util.RealClock{}
	feedWETH := oracle.NewSettableFeed("ETH / USD", clock)
	feedWBTC := oracle.NewSettableFeed("BTC / USD", clock)
	// Devnet bootstrap prices; operators push updates over time.
	feedWETH.Set(new(big.Int).Mul(big.NewInt(2000), big.NewInt(1e8)))
	feedWBTC.Set(new(big.Int).Mul(big.NewInt(30000), big.NewInt(1e8)))

	reg, err := registry.New(
		[]common.Address{assetWETH, assetWBTC},
		[]*oracle.Guard{
			oracle.NewGuard(feedWETH, params.StalenessTimeout, clock),
			oracle.NewGuard(feedWBTC, params.StalenessTimeout, clock),
		},
		dscAddr,
	)
	if err != nil {
		sugar.Fatalw("build_registry", "err", err)
	}

	// ---- Tokens ----
	weth := token.NewBank("WETH", engineAddr)
	wbtc := token.NewBank("WBTC", engineAddr)
	dsc := token.NewBank("DSC", engineAddr)

	// ---- Engine + API ----
	eng, err := engine.New(engine.Config{
		Address:   engineAddr,
		Registry:  reg,
		Ledger:    led,
		DebtToken: dsc,
		Collateral: map[common.Address]token.Token{
			assetWETH: weth,
			assetWBTC: wbtc,
		},
		Logger: logger,
	})
	if err != nil {
		sugar.Fatalw("build_engine", "err", err)
	}

	server := api.NewServer(eng)
	eng.SetEmitter(server.Hub())

	go func() {
		if err := server.Start(cfg.Node.ListenAddr); err != nil {
			sugar.Fatalw("api_server", "err", err)
		}
	}()

	sugar.Infow("engine_started",
		"listen", cfg.Node.ListenAddr,
		"db", cfg.Node.DBPath,
		"collateral_assets", len(reg.Assets()))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	sugar.Infow("shutting_down")
}
