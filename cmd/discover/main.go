// Command discover runs one discovery pass: load a StructureConfig, walk
// the address graph breadth-first, and write the resulting DiscoveryOutput
// artifact to disk.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/contractgraph/discovery/internal/analyzer"
	"github.com/contractgraph/discovery/internal/cache"
	"github.com/contractgraph/discovery/internal/chain"
	"github.com/contractgraph/discovery/internal/discovery"
	"github.com/contractgraph/discovery/internal/handlers"
	"github.com/contractgraph/discovery/internal/materialize"
	"github.com/contractgraph/discovery/internal/models"
	"github.com/contractgraph/discovery/internal/proxy"
	"github.com/contractgraph/discovery/internal/sourcecode"
	"github.com/contractgraph/discovery/internal/template"
	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Exit codes.
const (
	exitOK          = 0
	exitConfigError = 1
	exitInfraError  = 2
	exitCapExceeded = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	if err := godotenv.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "no .env file found or error loading it: %v\n", err)
	}

	var (
		configPath   = flag.String("config", "", "path to the project's structure.json config")
		templateDir  = flag.String("templates", "templates", "path to the template bundle root directory")
		outputPath   = flag.String("output", "", "path to write the DiscoveryOutput artifact (defaults to stdout)")
		rpcURL       = flag.String("rpc-url", os.Getenv("RPC_URL"), "JSON-RPC endpoint (or RPC_URL env var)")
		pinnedBlock  = flag.Uint64("block", 0, "block number to pin the run to (0 = latest)")
		concurrency  = flag.Int("concurrency", 0, "override the config's concurrency (0 = use config/default)")
		strictMode   = flag.Bool("strict", false, "exit 3 if maxAddresses is reached during the run")
		etherscanURL = flag.String("etherscan-url", "https://api.etherscan.io/v2/api", "block explorer API base URL")
		etherscanKey = flag.String("etherscan-key", os.Getenv("ETHERSCAN_API_KEY"), "block explorer API key (or ETHERSCAN_API_KEY env var)")
		redisURL     = flag.String("redis-url", os.Getenv("REDIS_URL"), "optional shared Redis cache/lock backend (or REDIS_URL env var)")
		dynamoTable  = flag.String("dynamo-table", os.Getenv("DYNAMO_TABLE"), "optional DynamoDB table for the persistent cache layer (or DYNAMO_TABLE env var)")
		verbose      = flag.Bool("v", false, "debug-level logging")
	)
	flag.Parse()

	log := newLogger(*verbose)

	if *configPath == "" {
		log.Error().Msg("-config is required")
		return exitConfigError
	}
	if *rpcURL == "" {
		log.Error().Msg("-rpc-url (or RPC_URL) is required")
		return exitConfigError
	}

	config, err := loadConfig(*configPath)
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
		return exitConfigError
	}

	templates, err := template.Load(*templateDir)
	if err != nil {
		log.Error().Err(err).Msg("failed to load template bundles")
		return exitConfigError
	}

	if *concurrency > 0 {
		config.Concurrency = *concurrency
	}

	started := time.Now()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	provider := chain.WithRetry(
		chain.NewJSONRPCProvider(*rpcURL, config.EffectiveConcurrency(), *pinnedBlock, log),
		chain.DefaultRetryConfig(),
		log,
	)

	c, redisConn := buildCache(*redisURL, *dynamoTable, log)
	sourceService := sourcecode.NewEtherscanService(*etherscanURL, *etherscanKey, c, redisConn, log)
	proxyDetector := proxy.NewDetector(provider)
	addrAnalyzer := analyzer.New(proxyDetector, sourceService, templates, config, log,
		analyzer.WithSignatureResolver(handlers.NewSignatureResolver(c)))

	progress := models.NewProgressTracker(log)
	engine := discovery.New(addrAnalyzer, log,
		discovery.WithConcurrency(config.EffectiveConcurrency()),
		discovery.WithProgress(progress),
	)

	results, err := engine.Discover(ctx, provider, config)
	if err != nil {
		var de *models.DiscoveryError
		if errors.As(err, &de) && de.Kind == models.ProviderError {
			log.Error().Err(err).Msg("discovery aborted: provider error")
			return exitInfraError
		}
		log.Error().Err(err).Msg("discovery aborted")
		return exitInfraError
	}

	out := os.Stdout
	if *outputPath != "" {
		f, err := os.Create(*outputPath)
		if err != nil {
			log.Error().Err(err).Msg("failed to open output file")
			return exitInfraError
		}
		defer f.Close()
		out = f
	}
	if err := materialize.Write(out, config.Name, config.Chain, results); err != nil {
		log.Error().Err(err).Msg("failed to write output artifact")
		return exitInfraError
	}

	log.Info().
		Int("entries", len(results)).
		Str("elapsed", humanize.RelTime(started, time.Now(), "", "")).
		Msg("discovery run complete")

	if *strictMode && engine.CapExceeded() {
		log.Warn().Msg("maxAddresses reached during run, strict mode exiting 3")
		return exitCapExceeded
	}
	return exitOK
}

func loadConfig(path string) (*models.StructureConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := &models.StructureConfig{}
	if err := json.Unmarshal(template.StripJSONC(raw), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// buildCache wires the layered cache sourcecode.Service uses: an always-on
// in-process Ristretto layer, a shared Redis layer when -redis-url is set,
// and a persistent DynamoDB layer when -dynamo-table is set. The Redis
// connector also backs EtherscanService's distributed fetch lock.
func buildCache(redisURL, dynamoTable string, log zerolog.Logger) (*cache.Cache, *cache.RedisConnector) {
	layers := []cache.Connector{}
	if ristretto, err := cache.NewRistrettoConnector(); err == nil {
		layers = append(layers, ristretto)
	} else {
		log.Warn().Err(err).Msg("failed to start in-process cache layer")
	}

	var redisConn *cache.RedisConnector
	if redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			log.Warn().Err(err).Msg("invalid redis-url, continuing without shared cache")
		} else {
			redisConn = cache.NewRedisConnector(redis.NewClient(opts))
			layers = append(layers, redisConn)
		}
	}

	if dynamoTable != "" {
		sess, err := session.NewSession()
		if err != nil {
			log.Warn().Err(err).Msg("aws session failed, continuing without persistent cache")
		} else {
			layers = append(layers, cache.NewDynamoConnector(sess, dynamoTable))
		}
	}
	return cache.NewCache(log, layers...), redisConn
}

func newLogger(verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).
		With().Timestamp().Logger()
}
