package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"google.golang.org/grpc"

	"github.com/Belphemur/Sublynk/internal/aggregator"
	"github.com/Belphemur/Sublynk/internal/api"
	"github.com/Belphemur/Sublynk/internal/browser"
	"github.com/Belphemur/Sublynk/internal/cache"
	"github.com/Belphemur/Sublynk/internal/client"
	"github.com/Belphemur/Sublynk/internal/config"
	"github.com/Belphemur/Sublynk/internal/download"
	grpcserver "github.com/Belphemur/Sublynk/internal/grpc"
	"github.com/Belphemur/Sublynk/internal/metrics"
	"github.com/Belphemur/Sublynk/internal/models"
	"github.com/Belphemur/Sublynk/internal/normalize"
	"github.com/Belphemur/Sublynk/internal/providers"
	"github.com/Belphemur/Sublynk/internal/providers/addic7ed"
	"github.com/Belphemur/Sublynk/internal/providers/bsplayer"
	"github.com/Belphemur/Sublynk/internal/providers/opensubtitles"
	"github.com/Belphemur/Sublynk/internal/providers/podnapisi"
	"github.com/Belphemur/Sublynk/internal/providers/subdb"
	"github.com/Belphemur/Sublynk/internal/providers/tvsubtitles"
	"github.com/Belphemur/Sublynk/internal/providers/yify"
)

const defaultProviderTTL = 5 * time.Minute

// caches opens cache groups and closes them all on shutdown.
type caches struct {
	cfg    *config.Config
	opened []cache.Cache
}

// open creates a cache group on the named backend. A failure is logged and
// the group runs uncached.
func (c *caches) open(group, provider string, ttl time.Duration) cache.Cache {
	logger := config.GetLogger()
	if provider == "" {
		provider = c.cfg.Cache.Provider
	}
	instance, err := cache.New(provider, cache.ProviderConfig{
		Size:          c.cfg.Cache.Size,
		TTL:           ttl,
		Logger:        cache.ZerologLogger{Log: logger},
		RedisAddress:  c.cfg.Cache.RedisAddress,
		RedisPassword: c.cfg.Cache.RedisPassword,
		RedisDB:       c.cfg.Cache.RedisDB,
		Group:         group,
	})
	if err != nil {
		logger.Error().Err(err).Str("group", group).Str("provider", provider).Msg("Failed to create cache, running without it")
		return nil
	}
	c.opened = append(c.opened, instance)
	return instance
}

func (c *caches) close() {
	logger := config.GetLogger()
	for _, instance := range c.opened {
		if err := instance.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close cache")
		}
	}
}

func providerTTL(field string, pc config.ProviderConfig) time.Duration {
	return config.ParseDuration(field, pc.CacheTTL, defaultProviderTTL)
}

func main() {
	cfg := config.GetConfig()
	logger := config.GetLogger()

	logger.Info().
		Str("proxy_connection_string", cfg.ProxyConnectionString).
		Int("server_port", cfg.Server.Port).
		Str("server_address", cfg.Server.Address).
		Bool("grpc_enabled", cfg.GRPC.Enabled).
		Bool("browser_enabled", cfg.Browser.Enabled).
		Str("cache_provider", cfg.Cache.Provider).
		Msg("Application started with configuration")

	if cfg.Sentry.DSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.Sentry.DSN,
			Environment:      cfg.Sentry.Environment,
			AttachStacktrace: true,
		}); err != nil {
			logger.Error().Err(err).Msg("Failed to initialise Sentry")
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	cs := &caches{cfg: cfg}
	defer cs.close()

	launcher := browser.NewChrome(browser.OptionsFromConfig(cfg))
	removed := normalize.NewRemovedIDs()
	normalizer := normalize.New(removed)
	registry := providers.NewRegistry()
	deps := api.Deps{Normalizer: normalizer, Removed: removed}
	var searcher grpcserver.Searcher

	pc := cfg.Providers
	tvHosts := tvsubtitles.Hosts(pc.TVSubtitles.BaseURL)

	if pc.OpenSubtitles.Enabled {
		c := client.New(client.OptionsFromConfig(cfg, string(models.SourceOpenSubtitles), opensubtitles.Hosts...))
		files := cs.open("opensubtitles_files", "", config.ParseDuration("cache.ttl", cfg.Cache.TTL, 10*time.Minute))
		p := opensubtitles.New(c, files, opensubtitles.Options{
			BaseURL:  pc.OpenSubtitles.BaseURL,
			APIKey:   pc.OpenSubtitles.APIKey,
			Username: pc.OpenSubtitles.Username,
			Password: pc.OpenSubtitles.Password,
		})
		registry.Register(p)
		deps.OpenSubtitles = p
		searcher = p

		var external []string
		for _, hosts := range [][]string{opensubtitles.Hosts, tvHosts, podnapisi.Hosts, addic7ed.Hosts, yify.Hosts, bsplayer.Hosts, subdb.Hosts} {
			external = append(external, hosts...)
		}
		deps.External = download.NewExternal(
			client.New(client.OptionsFromConfig(cfg, "external", external...)),
			models.SourceOpenSubtitles,
			external,
		)
	}

	if pc.TVSubtitles.Enabled {
		c := client.New(client.OptionsFromConfig(cfg, string(models.SourceTVSubtitles), tvHosts...))
		feedTTL := config.ParseDuration("feed_cache.ttl", cfg.FeedCache.TTL, 7*24*time.Hour)
		p := tvsubtitles.New(c, launcher, cs.open("tvsubtitles_feeds", cfg.FeedCache.Provider, 0), tvsubtitles.Options{
			BaseURL: pc.TVSubtitles.BaseURL,
			FeedTTL: feedTTL,
		})
		registry.Register(p)
		deps.TVSubtitles = p
	}

	if pc.Podnapisi.Enabled {
		ttl := providerTTL("providers.podnapisi.cache_ttl", pc.Podnapisi)
		c := client.New(client.OptionsFromConfig(cfg, string(models.SourcePodnapisi), podnapisi.Hosts...))
		p := podnapisi.New(c, cs.open("podnapisi_search", "", ttl), podnapisi.Options{
			BaseURL:   pc.Podnapisi.BaseURL,
			Username:  pc.Podnapisi.Username,
			Password:  pc.Podnapisi.Password,
			SearchTTL: ttl,
		})
		registry.Register(p)
		deps.Podnapisi = p
	}

	if pc.Addic7ed.Enabled {
		ttl := providerTTL("providers.addic7ed.cache_ttl", pc.Addic7ed.ProviderConfig)
		if pc.Addic7ed.CacheTTLMs > 0 {
			ttl = time.Duration(pc.Addic7ed.CacheTTLMs) * time.Millisecond
		}
		c := client.New(client.OptionsFromConfig(cfg, string(models.SourceAddic7ed), addic7ed.Hosts...))
		p := addic7ed.New(c, launcher, cs.open("addic7ed_search", "", ttl), addic7ed.Options{
			BaseURL:    pc.Addic7ed.BaseURL,
			Username:   pc.Addic7ed.Username,
			Password:   pc.Addic7ed.Password,
			UseBrowser: pc.Addic7ed.UseBrowser,
			SearchTTL:  ttl,
			TempDir:    cfg.Download.TempDir,
		})
		registry.Register(p)
		deps.Addic7ed = p
	}

	if pc.YIFY.Enabled {
		ttl := providerTTL("providers.yify.cache_ttl", pc.YIFY)
		c := client.New(client.OptionsFromConfig(cfg, string(models.SourceYIFY), yify.Hosts...))
		p := yify.New(c, launcher, cs.open("yify_search", "", ttl), yify.Options{
			BaseURL:    pc.YIFY.BaseURL,
			UseBrowser: cfg.Browser.Enabled,
			SearchTTL:  ttl,
		})
		registry.Register(p)
		deps.YIFY = p
	}

	if pc.BSPlayer.Enabled {
		c := client.New(client.OptionsFromConfig(cfg, string(models.SourceBSPlayer), bsplayer.Hosts...))
		registry.Register(bsplayer.New(c, bsplayer.Options{BaseURL: pc.BSPlayer.BaseURL}))
	}

	if pc.SubDB.Enabled {
		c := client.New(client.OptionsFromConfig(cfg, string(models.SourceSubDB), subdb.Hosts...))
		registry.Register(subdb.New(c, subdb.Options{BaseURL: pc.SubDB.BaseURL}))
	}

	logger.Info().Interface("sources", registry.Sources()).Msg("Providers registered")

	agg := aggregator.New(registry, normalizer, cs.open("aggregate_feeds", cfg.FeedCache.Provider, 0), aggregator.ConfigFromConfig(cfg))
	deps.Aggregator = agg
	deps.Proxy = download.New(registry, nil, download.Options{TempDir: cfg.Download.TempDir})

	apiServer := api.NewHTTPServer(cfg.Server.Address, cfg.Server.Port, api.New(deps).Handler())

	// Start Prometheus metrics HTTP server
	if cfg.Metrics.Enabled {
		metricsServer := metrics.NewHTTPServer(cfg.Server.Address, cfg.Metrics.Port)
		go func() {
			logger.Info().Str("address", metricsServer.Addr).Msg("Starting Prometheus metrics HTTP server")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Fatal().Err(err).Msg("Failed to serve metrics")
			}
		}()
		defer func() {
			if err := metricsServer.Shutdown(context.Background()); err != nil {
				logger.Error().Err(err).Msg("Failed to shutdown metrics server")
			}
		}()
	}

	var grpcServer *grpc.Server
	if cfg.GRPC.Enabled {
		grpcServer = grpcserver.NewGRPCServer(grpcserver.Deps{
			Searcher:   searcher,
			Aggregator: agg,
			Normalizer: normalizer,
		})
		address := fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.GRPC.Port)
		listener, err := net.Listen("tcp", address)
		if err != nil {
			logger.Fatal().Err(err).Str("address", address).Msg("Failed to create gRPC listener")
		}
		go func() {
			logger.Info().Str("address", address).Msg("Starting gRPC server")
			if err := grpcServer.Serve(listener); err != nil {
				logger.Error().Err(err).Msg("Failed to serve gRPC")
			}
		}()
	}

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		if grpcServer != nil {
			grpcServer.GracefulStop()
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := apiServer.Shutdown(ctx); err != nil {
			logger.Error().Err(err).Msg("Failed to shutdown API server")
		}
	}()

	logger.Info().Str("address", apiServer.Addr).Msg("Starting API HTTP server")
	if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("Failed to serve API")
	}

	logger.Info().Msg("Server stopped gracefully")
}
