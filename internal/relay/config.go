// Package relay assembles the msgrelay process from its components.
package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/autopeer-io/msgrelay/internal/pkg/lock"
	"github.com/autopeer-io/msgrelay/internal/relay/core/service"
	"github.com/autopeer-io/msgrelay/internal/relay/delivery"
	"github.com/autopeer-io/msgrelay/internal/relay/executor"
	"github.com/autopeer-io/msgrelay/internal/relay/localstore"
	"github.com/autopeer-io/msgrelay/internal/relay/notifier"
	"github.com/autopeer-io/msgrelay/internal/relay/postgres"
	pushmqtt "github.com/autopeer-io/msgrelay/internal/relay/push/mqtt"
	"github.com/autopeer-io/msgrelay/internal/relay/queue"
	"github.com/autopeer-io/msgrelay/internal/relay/server"
	"github.com/autopeer-io/msgrelay/internal/relay/storage"
	"github.com/autopeer-io/msgrelay/pkg/log"
	pkgmqtt "github.com/autopeer-io/msgrelay/pkg/mqtt"
	"github.com/autopeer-io/msgrelay/pkg/mqtt/topic"
	"github.com/autopeer-io/msgrelay/pkg/options"
)

type Config struct {
	PostgresOptions   *options.PostgresOptions
	MqttOptions       *options.MqttOptions
	S3Options         *options.S3Options
	HttpOptions       *options.HttpOptions
	GrpcOptions       *options.GrpcOptions
	LocalStoreOptions *options.LocalStoreOptions
	QueueOptions      *options.QueueOptions
	DeliveryOptions   *options.DeliveryOptions
	ExecutorOptions   *options.ExecutorOptions
	InboundOptions    *options.InboundOptions

	// LockFile keeps a second relay on this host from starting.
	LockFile string
}

// NewRelay connects every adapter and wires the core. Everything opened here
// is released by Relay.Run, or by NewRelay itself on failure.
func (cfg *Config) NewRelay(ctx context.Context) (_ *Relay, err error) {
	r := &Relay{cfg: cfg, startedAt: time.Now()}
	defer func() {
		if err != nil {
			r.close(context.Background())
		}
	}()

	r.lock = lock.NewFileLock(cfg.LockFile)
	if err := r.lock.TryLock(); err != nil {
		return nil, fmt.Errorf("another relay may be running: %w", err)
	}

	// 1. Cloud datastore
	r.pool, err = postgres.Open(ctx, cfg.PostgresOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if cfg.PostgresOptions.Migrate {
		if err := postgres.Migrate(ctx, r.pool, cfg.PostgresOptions.NotifyChannel); err != nil {
			return nil, fmt.Errorf("failed to migrate schema: %w", err)
		}
	}
	store := postgres.NewStore(r.pool)

	var svcOpts []service.Option

	// 2. Attachments
	if cfg.S3Options.Enabled {
		media, err := storage.NewMinIOStore(cfg.S3Options)
		if err != nil {
			return nil, err
		}
		if err := media.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		svcOpts = append(svcOpts, service.WithMediaStore(media))
	}

	// 3. Broker: outbound push channel, inbound notices, presence
	if cfg.MqttOptions.Enabled {
		if err := r.startMQTT(ctx); err != nil {
			return nil, err
		}
		if cfg.InboundOptions.Notify {
			svcOpts = append(svcOpts, service.WithInboundNotifier(r.notifier))
		}
	}

	// 4. Local chat database
	if cfg.InboundOptions.Enabled {
		r.local, err = localstore.Open(cfg.LocalStoreOptions)
		if err != nil {
			return nil, err
		}
		svcOpts = append(svcOpts, service.WithLocalStore(r.local))

		if cfg.InboundOptions.Watch {
			if r.watcher, err = localstore.NewWatcher(cfg.LocalStoreOptions.Path); err != nil {
				return nil, err
			}
		}
	}

	// 5. Core: executor -> queue -> service <- delivery
	exec, err := executor.New(cfg.ExecutorOptions)
	if err != nil {
		return nil, err
	}
	baseDelay := cfg.QueueOptions.BaseDelay
	if baseDelay == 0 {
		baseDelay = queue.NoBackoff
	}
	r.queue = queue.New(exec, queue.Config{
		MaxAttempts: cfg.QueueOptions.MaxAttempts,
		BaseDelay:   baseDelay,
	})
	r.service = service.New(store, r.queue, service.Config{
		SpoolDir:          cfg.ExecutorOptions.SpoolDir,
		BatchSize:         cfg.LocalStoreOptions.BatchSize,
		MaxAttachmentSize: cfg.InboundOptions.MaxAttachmentSize,
	}, svcOpts...)

	r.delivery = delivery.NewManager(
		r.subscriber(store),
		delivery.SourceFunc(store.OutboundMessages().QueryPending),
		delivery.Config{
			PollInterval: cfg.DeliveryOptions.PollInterval,
			PageSize:     cfg.DeliveryOptions.PageSize,
		},
	)

	// 6. Diagnostic listeners
	r.servers = server.NewManager(&server.Config{
		HttpOptions: cfg.HttpOptions,
		GrpcOptions: cfg.GrpcOptions,
	}, r.Status)

	return r, nil
}

// startMQTT starts the broker client. The will marks this relay offline when
// the connection drops without a DISCONNECT.
func (r *Relay) startMQTT(ctx context.Context) error {
	opts := r.cfg.MqttOptions
	topics := topic.NewTopicBuilder(opts.TopicRoot)

	clientCfg := opts.ToClientConfig()
	clientCfg.WillTopic = topics.Status(opts.RelayID)
	clientCfg.WillPayload = notifier.PresencePayload(opts.RelayID, false, time.Now())
	clientCfg.WillQoS = 1
	clientCfg.WillRetain = true

	client, err := pkgmqtt.NewClient(clientCfg)
	if err != nil {
		return fmt.Errorf("failed to init mqtt client: %w", err)
	}
	if err := client.Start(ctx); err != nil {
		return fmt.Errorf("failed to start mqtt client: %w", err)
	}

	r.mqtt = client
	r.topics = topics
	r.notifier = notifier.NewMQTTNotifier(client, topics, opts.RelayID)
	return nil
}

func (r *Relay) subscriber(store *postgres.Store) delivery.Subscriber {
	if r.cfg.DeliveryOptions.PushChannel == options.PushChannelMqtt && r.mqtt != nil {
		t := r.topics.Outbound(r.cfg.MqttOptions.RelayID)
		log.Info("Push channel: MQTT", "topic", t)
		r.pushChannel = options.PushChannelMqtt
		return pushmqtt.NewSubscriber(r.mqtt, t, store.OutboundMessages(), r.cfg.MqttOptions.ConnectTimeout)
	}

	if r.cfg.DeliveryOptions.PushChannel == options.PushChannelMqtt {
		log.Warn("MQTT push channel requested but --mqtt.enabled is false, using postgres")
	}
	r.pushChannel = options.PushChannelPostgres
	log.Info("Push channel: PostgreSQL LISTEN", "channel", r.cfg.PostgresOptions.NotifyChannel)
	return postgres.NewListener(r.pool, r.cfg.PostgresOptions.NotifyChannel, store.OutboundMessages())
}
