// Package app wires the transcription services from configuration. Both the
// HTTP server and the CLI build on it.
package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/snarg/juicer/internal/api"
	"github.com/snarg/juicer/internal/audio"
	"github.com/snarg/juicer/internal/cache"
	"github.com/snarg/juicer/internal/config"
	"github.com/snarg/juicer/internal/credentials"
	"github.com/snarg/juicer/internal/database"
	"github.com/snarg/juicer/internal/events"
	"github.com/snarg/juicer/internal/health"
	"github.com/snarg/juicer/internal/history"
	"github.com/snarg/juicer/internal/ingest"
	"github.com/snarg/juicer/internal/localmodel"
	"github.com/snarg/juicer/internal/metrics"
	"github.com/snarg/juicer/internal/mqttclient"
	"github.com/snarg/juicer/internal/notify"
	"github.com/snarg/juicer/internal/pipeline"
	"github.com/snarg/juicer/internal/progress"
	"github.com/snarg/juicer/internal/queue"
	"github.com/snarg/juicer/internal/storage"
	"github.com/snarg/juicer/internal/transcribe"
)

const eventRingSize = 256

// App holds every long-lived service. DB, MQTT and Watcher are nil when not
// configured.
type App struct {
	Config      *config.Config
	Store       storage.Store
	DB          *database.DB
	MQTT        *mqttclient.Client
	Events      *events.Bus
	Notifier    notify.Notifier
	Providers   transcribe.Registry
	Credentials *credentials.Registry
	Health      *health.Monitor
	Cache       *cache.Cache
	History     history.Recorder
	Local       *localmodel.Manager
	Tracker     *progress.Tracker
	Pipeline    *pipeline.Orchestrator
	Queue       *queue.Queue
	Watcher     *ingest.FileWatcher

	pruner     *cache.Pruner
	background []storage.BackgroundService
	closeStore func() error
	started    bool
	log        zerolog.Logger
}

// New connects storage and the optional database and broker, then builds
// the services on top. Nothing runs in the background until Start.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	a := &App{Config: cfg, log: log}

	store, bg, closeStore, err := storage.New(cfg.Store, log.With().Str("component", "store").Logger())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.Store, a.background, a.closeStore = store, bg, closeStore

	if cfg.DatabaseURL != "" {
		dbLog := log.With().Str("component", "database").Logger()
		db, err := database.Connect(ctx, database.Options{
			URL:            cfg.DatabaseURL,
			MaxConns:       cfg.Database.MaxConns,
			MinConns:       cfg.Database.MinConns,
			MaxConnIdle:    cfg.Database.MaxConnIdle,
			ConnectTimeout: cfg.Database.ConnectTimeout,
		}, dbLog)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect database: %w", err)
		}
		a.DB = db
		if err := db.Migrate(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("migrate database: %w", err)
		}
		a.History = history.NewPostgresHistory(db, log.With().Str("component", "history").Logger())
	} else {
		a.History = history.NewStoreHistory(store)
	}

	a.Events = events.NewBus(eventRingSize)
	notifiers := notify.Multi{notify.NewLog(log), notify.NewBus(a.Events)}
	if cfg.MQTT.BrokerURL != "" {
		client, err := mqttclient.Connect(mqttclient.Options{
			BrokerURL: cfg.MQTT.BrokerURL,
			ClientID:  cfg.MQTT.ClientID,
			Username:  cfg.MQTT.Username,
			Password:  cfg.MQTT.Password,
			Log:       log.With().Str("component", "mqtt").Logger(),
		})
		if err != nil {
			// Notifications over MQTT are optional; keep serving without them.
			log.Warn().Err(err).Str("broker", cfg.MQTT.BrokerURL).Msg("mqtt connect failed, broker notifications disabled")
		} else {
			a.MQTT = client
			notifiers = append(notifiers, notify.NewMQTT(client, cfg.MQTT.Topic, log))
		}
	}
	a.Notifier = notifiers

	pc := cfg.Providers
	a.Providers = transcribe.NewRegistry(
		providerOptions(pc, pc.OpenAI),
		providerOptions(pc, pc.Groq),
		providerOptions(pc, pc.HuggingFace),
	)

	selected, err := transcribe.ParseProviderID(pc.Default)
	if err != nil {
		log.Warn().Str("provider", pc.Default).Msg("unknown default provider, using groq")
		selected = transcribe.Groq
	}
	a.Credentials = credentials.New(ctx, credentials.Options{
		Keys: map[transcribe.ProviderID]string{
			transcribe.OpenAI:      pc.OpenAI.APIKey,
			transcribe.Groq:        pc.Groq.APIKey,
			transcribe.HuggingFace: pc.HuggingFace.APIKey,
		},
		Selected:  selected,
		Providers: a.Providers,
		Store:     store,
		Log:       log,
	})

	a.Health = health.NewMonitor(health.Options{
		Providers:   a.Providers,
		Credentials: a.Credentials,
		Interval:    cfg.Health.Interval,
		Timeout:     cfg.Health.Timeout,
		Events:      a.Events,
		Notifier:    a.Notifier,
		Log:         log,
	})

	a.Cache = cache.New(cache.Options{
		Store:    store,
		MaxItems: cfg.Cache.MaxItems,
		MaxAge:   cfg.Cache.MaxAge,
		Log:      log,
	})
	a.pruner = cache.NewPruner(a.Cache, cfg.Cache.PruneInterval, log)

	normalizer := audio.NewNormalizer(audio.NormalizerOptions{
		FFmpegPath: cfg.Pipeline.FFmpegPath,
		Log:        log.With().Str("component", "normalizer").Logger(),
	})
	ffmpeg := normalizer.Available()
	if !ffmpeg {
		log.Warn().Str("ffmpeg", cfg.Pipeline.FFmpegPath).Msg("ffmpeg not found, audio is sent as uploaded")
	}

	localOpts := localmodel.Options{
		Fs:          afero.NewOsFs(),
		Dir:         cfg.Local.Dir,
		WhisperPath: cfg.Local.WhisperCPPPath,
		Threads:     cfg.Local.Threads,
		Language:    pc.Language,
		Events:      a.Events,
		Log:         log,
	}
	if ffmpeg {
		localOpts.Converter = normalizer
	}
	a.Local = localmodel.NewManager(localOpts)

	a.Tracker = progress.NewTracker(a.Events)
	pipeOpts := pipeline.Options{
		Providers:   a.Providers,
		Credentials: a.Credentials,
		Health:      a.Health,
		Cache:       a.Cache,
		History:     a.History,
		Local:       a.Local,
		Tracker:     a.Tracker,
		Notifier:    a.Notifier,
		Retry:       retryOverrides(pc),
		ChunkBytes:  cfg.Pipeline.ChunkBytes,
		MaxJobBytes: cfg.Pipeline.MaxJobBytes,
		Normalize:   cfg.Pipeline.Normalize && ffmpeg,
		Offline:     cfg.Pipeline.OfflineMode,
		Log:         log,
	}
	if ffmpeg {
		pipeOpts.Normalizer = normalizer
	}
	a.Pipeline = pipeline.New(pipeOpts)

	a.Queue = queue.New(queue.Options{
		Runner:    a.Pipeline,
		Retention: cfg.Queue.Retention,
		Events:    a.Events,
		Notifier:  a.Notifier,
		Log:       log,
	})

	if cfg.WatchDir != "" {
		a.Watcher = ingest.NewFileWatcher(ingest.Options{
			Dir:      cfg.WatchDir,
			Queue:    a.Queue,
			Backfill: cfg.WatchBackfill,
			MaxBytes: cfg.Pipeline.MaxJobBytes,
			Log:      log,
		})
	}
	return a, nil
}

// Start launches the background loops: store reconciliation, health
// checks, cache pruning, the queue and the watch folder. In offline mode the
// configured local model variant is loaded in the background.
func (a *App) Start(ctx context.Context) error {
	for _, svc := range a.background {
		svc.Start()
	}
	a.Health.Start(ctx)
	a.pruner.Start()
	a.Queue.Start()
	a.started = true

	if a.Watcher != nil {
		if err := a.Watcher.Start(ctx); err != nil {
			return fmt.Errorf("start watcher: %w", err)
		}
	}

	if a.Config.Pipeline.OfflineMode {
		go func() {
			if err := a.Local.Initialize(ctx, a.Config.Local.Variant); err != nil {
				a.log.Error().Err(err).Str("variant", a.Config.Local.Variant).Msg("local model initialization failed")
			}
		}()
	}
	return nil
}

// Deps exposes the services to the HTTP router.
func (a *App) Deps() api.Deps {
	d := api.Deps{
		Providers:   a.Providers,
		Queue:       a.Queue,
		Progress:    a.Tracker,
		Credentials: a.Credentials,
		Health:      a.Health,
		Cache:       a.Cache,
		History:     a.History,
		Model:       a.Local,
		Offline:     a.Pipeline,
		Events:      a.Events,
	}
	if a.DB != nil {
		d.DB = a.DB
	}
	if a.MQTT != nil {
		d.MQTT = a.MQTT
	}
	if a.Watcher != nil {
		d.Watcher = a.Watcher
	}
	return d
}

// Collector reports live queue, stream and pool gauges to Prometheus.
func (a *App) Collector() *metrics.Collector {
	var pool *pgxpool.Pool
	if a.DB != nil {
		pool = a.DB.Pool
	}
	return metrics.NewCollector(pool, liveStats{queue: a.Queue, bus: a.Events})
}

// Close stops whatever Start launched, then releases connections. It is
// safe on a partially built App.
func (a *App) Close() {
	if a.Watcher != nil {
		a.Watcher.Stop()
	}
	if a.started {
		a.Queue.Stop()
		a.pruner.Stop()
		a.Health.Stop()
		for _, svc := range a.background {
			svc.Stop()
		}
	}
	if a.MQTT != nil {
		a.MQTT.Close()
	}
	if a.DB != nil {
		a.DB.Close()
	}
	if a.closeStore != nil {
		if err := a.closeStore(); err != nil {
			a.log.Warn().Err(err).Msg("closing store")
		}
	}
}

type liveStats struct {
	queue *queue.Queue
	bus   *events.Bus
}

func (s liveStats) QueueDepth() (int, int) { return s.queue.QueueDepth() }
func (s liveStats) SubscriberCount() int   { return s.bus.SubscriberCount() }

func providerOptions(pc config.ProvidersConfig, p config.ProviderConfig) transcribe.Options {
	return transcribe.Options{
		BaseURL:     p.BaseURL,
		Model:       p.Model,
		Language:    pc.Language,
		Temperature: pc.Temperature,
		Timeout:     pc.Timeout,
	}
}

// retryOverrides applies the configured retry tuning on top of each
// provider's defaults.
func retryOverrides(pc config.ProvidersConfig) map[transcribe.ProviderID]transcribe.RetryPolicy {
	out := make(map[transcribe.ProviderID]transcribe.RetryPolicy)
	for id, p := range map[transcribe.ProviderID]config.ProviderConfig{
		transcribe.OpenAI:      pc.OpenAI,
		transcribe.Groq:        pc.Groq,
		transcribe.HuggingFace: pc.HuggingFace,
	} {
		policy := transcribe.DefaultRetryPolicy(id)
		if p.MaxRetries > 0 {
			policy.MaxRetries = p.MaxRetries
		}
		if p.RetryDelay > 0 {
			policy.BaseDelay = p.RetryDelay
		}
		if pc.RetryMax > 0 {
			policy.MaxDelay = pc.RetryMax
		}
		out[id] = policy
	}
	return out
}
