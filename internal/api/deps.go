package api

import (
	"context"

	"github.com/snarg/juicer/internal/cache"
	"github.com/snarg/juicer/internal/credentials"
	"github.com/snarg/juicer/internal/events"
	"github.com/snarg/juicer/internal/health"
	"github.com/snarg/juicer/internal/history"
	"github.com/snarg/juicer/internal/ingest"
	"github.com/snarg/juicer/internal/localmodel"
	"github.com/snarg/juicer/internal/progress"
	"github.com/snarg/juicer/internal/queue"
	"github.com/snarg/juicer/internal/transcribe"
)

// The interfaces below are the slices of each service the handlers use.

type Queue interface {
	Enqueue(sub *transcribe.Submission) (queue.Item, error)
	Cancel(id string) error
	Clear() int
	Retry(id string) (queue.Item, error)
	Items() []queue.Item
	Get(id string) (queue.Item, error)
	Stats() queue.Stats
}

type Progress interface {
	Snapshot() progress.Snapshot
}

type Credentials interface {
	List() []credentials.Credential
	Get(id transcribe.ProviderID) (credentials.Credential, bool)
	Set(id transcribe.ProviderID, key string) error
	Selected() transcribe.ProviderID
	Select(ctx context.Context, id transcribe.ProviderID) error
	Validate(ctx context.Context, id transcribe.ProviderID) error
}

type Health interface {
	Snapshot() []health.ServiceHealth
	Get(id transcribe.ProviderID) health.ServiceHealth
	CheckHealth(ctx context.Context, ids ...transcribe.ProviderID)
	PreferredService() transcribe.ProviderID
}

type Cache interface {
	Stats(ctx context.Context) (cache.Stats, error)
	Prune(ctx context.Context) (int, error)
	Clear(ctx context.Context) (int, error)
}

type Model interface {
	Status() localmodel.Status
	Models() []localmodel.ModelInfo
	Initialize(ctx context.Context, variant string) error
	Delete(variant string) error
	CheckSupport() bool
}

type OfflineSwitch interface {
	Offline() bool
	SetOffline(v bool)
}

// LiveEvents is implemented by *events.Bus.
type LiveEvents interface {
	Subscribe(filter events.Filter) (<-chan events.Event, func())
	ReplaySince(lastEventID string, filter events.Filter) []events.Event
}

// Pinger is implemented by *database.DB.
type Pinger interface {
	HealthCheck(ctx context.Context) error
}

// Connection is implemented by *mqttclient.Client.
type Connection interface {
	IsConnected() bool
}

// Watcher is implemented by *ingest.FileWatcher.
type Watcher interface {
	Status() ingest.Status
}

// Deps wires the services into the router. Nil optional services drop
// their routes or health checks.
type Deps struct {
	Providers   transcribe.Registry
	Queue       Queue
	Progress    Progress
	Credentials Credentials
	Health      Health
	Cache       Cache
	History     history.Recorder
	Model       Model // optional
	Offline     OfflineSwitch
	Events      LiveEvents
	DB          Pinger     // optional
	MQTT        Connection // optional
	Watcher     Watcher    // optional
}
