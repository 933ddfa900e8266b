package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/autopeer-io/msgrelay/internal/pkg/lock"
	"github.com/autopeer-io/msgrelay/internal/relay/core/model"
	"github.com/autopeer-io/msgrelay/internal/relay/core/service"
	"github.com/autopeer-io/msgrelay/internal/relay/delivery"
	"github.com/autopeer-io/msgrelay/internal/relay/executor"
	"github.com/autopeer-io/msgrelay/internal/relay/localstore"
	"github.com/autopeer-io/msgrelay/internal/relay/notifier"
	"github.com/autopeer-io/msgrelay/internal/relay/queue"
	"github.com/autopeer-io/msgrelay/internal/relay/server"
	"github.com/autopeer-io/msgrelay/pkg/log"
	pkgmqtt "github.com/autopeer-io/msgrelay/pkg/mqtt"
	"github.com/autopeer-io/msgrelay/pkg/mqtt/topic"
)

const (
	// shutdownTimeout bounds the wait for the in-flight command and for the
	// final status writes.
	shutdownTimeout = 30 * time.Second

	preflightTimeout = 15 * time.Second
)

// Relay is the running msgrelay process.
type Relay struct {
	cfg       *Config
	startedAt time.Time

	lock     *lock.FileLock
	pool     *pgxpool.Pool
	mqtt     pkgmqtt.Client
	topics   *topic.TopicBuilder
	notifier *notifier.MQTTNotifier
	local    *localstore.Store
	watcher  *localstore.Watcher

	queue       *queue.Queue
	service     *service.Service
	delivery    *delivery.Manager
	pushChannel string
	servers     *server.Manager
}

// Run blocks until ctx ends or a listener fails, then shuts down in order:
// stop discovering work, cancel queued commands, let the in-flight one finish,
// record final statuses, close connections.
func (r *Relay) Run(ctx context.Context) error {
	log.Info("Starting msgrelay", "relay", r.cfg.MqttOptions.RelayID, "push", r.pushChannel)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := r.servers.Start(runCtx); err != nil {
			errCh <- err
		}
	}()

	if err := r.preflight(runCtx); err != nil {
		cancel()
		wg.Wait()
		r.close(context.Background())
		return err
	}

	if r.mqtt != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.announce(runCtx)
		}()
	}

	if err := r.delivery.Initialize(runCtx, r.service.HandleOutbound); err != nil {
		cancel()
		wg.Wait()
		r.close(context.Background())
		return fmt.Errorf("failed to start delivery: %w", err)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		r.service.RunRetry(runCtx, r.cfg.DeliveryOptions.RetryInterval)
	}()

	if r.local != nil {
		var nudge <-chan struct{}
		if r.watcher != nil {
			nudge = r.watcher.Changes()
			wg.Add(1)
			go func() {
				defer wg.Done()
				r.watcher.Run(runCtx)
			}()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.service.RunInbound(runCtx, r.cfg.InboundOptions.PollInterval, nudge)
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("Shutdown signal received")
	case runErr = <-errCh:
		log.Error(runErr, "Server failed, shutting down")
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()

	if err := r.delivery.Shutdown(shutdownCtx); err != nil {
		log.Error(err, "Delivery shutdown incomplete")
	}
	cancel()
	wg.Wait()
	r.close(shutdownCtx)

	log.Info("msgrelay stopped")
	return runErr
}

// preflight runs a trivial script through the queue so that a missing
// automation permission fails the start instead of every message.
func (r *Relay) preflight(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, preflightTimeout)
	defer cancel()

	h := r.queue.EnqueueImmediate(executor.PingScript, queue.WithLabel("preflight"), queue.WithMaxAttempts(1))
	if _, err := h.Wait(ctx); err != nil {
		return fmt.Errorf("automation preflight failed (is Messages running and automation allowed?): %w", err)
	}
	return nil
}

// announce publishes the retained online presence once the broker is reachable.
func (r *Relay) announce(ctx context.Context) {
	if err := r.mqtt.AwaitConnection(ctx); err != nil {
		return
	}
	if err := r.notifier.PublishPresence(ctx, true); err != nil {
		log.Warn("Presence not published", "err", err.Error())
	}
}

// close releases everything in dependency order. Goroutines reading the
// local store must have returned. It is safe on a partly built Relay.
func (r *Relay) close(ctx context.Context) {
	if r.queue != nil {
		r.queue.Close("shutdown")
		if err := r.queue.WaitIdle(ctx); err != nil {
			log.Warn("In-flight command still running at shutdown", "err", err.Error())
		}
	}
	if r.service != nil {
		if err := r.service.Drain(ctx); err != nil {
			log.Warn("Outbound statuses not recorded before shutdown", "active", r.service.Active())
		}
	}

	if r.mqtt != nil {
		pubCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := r.notifier.PublishPresence(pubCtx, false); err != nil {
			log.Debug("Offline presence not published", "err", err.Error())
		}
		cancel()
		r.mqtt.Disconnect(ctx)
		r.mqtt = nil
	}
	if r.pool != nil {
		r.pool.Close()
		r.pool = nil
	}
	if r.watcher != nil {
		_ = r.watcher.Close()
	}
	if r.local != nil {
		if err := r.local.Close(); err != nil {
			log.Error(err, "Failed to close chat database")
		}
		r.local = nil
	}
	if r.lock != nil {
		if err := r.lock.Unlock(); err != nil {
			log.Error(err, "Failed to release lock")
		}
	}
}

// Status is served by the diagnostic listeners.
func (r *Relay) Status() model.RelayStatus {
	h := r.delivery.HealthStatus()
	return model.RelayStatus{
		RelayID:           r.cfg.MqttOptions.RelayID,
		Mode:              string(h.Mode),
		Ready:             h.Ready(),
		PushChannel:       r.pushChannel,
		LastPollTimestamp: h.LastPollTimestamp,
		PollInterval:      h.PollInterval,
		QueueDepth:        r.queue.Depth(),
		ActiveMessages:    r.service.Active(),
		DeferredMessages:  r.service.Deferred(),
		StartedAt:         r.startedAt,
	}
}
