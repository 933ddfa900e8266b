package app

import (
	"fmt"

	genericapiserver "k8s.io/apiserver/pkg/server"
	"k8s.io/klog/v2"

	"github.com/autopeer-io/msgrelay/cmd/msgrelay/app/options"
	"github.com/autopeer-io/msgrelay/pkg/app"
	"github.com/autopeer-io/msgrelay/pkg/log"
)

const (
	commandName = "msgrelay"
	commandDesc = `msgrelay relays messages between the local Messages application and a
PostgreSQL datastore. Outbound messages are discovered through a push channel
(LISTEN/NOTIFY or MQTT) with a polling fallback and sent one at a time through
AppleScript automation. Received messages are copied from the local chat
database into the datastore.`
)

func NewApp() *app.App {
	opts := options.NewRelayOptions()
	application := app.NewApp(
		commandName,
		"Launch the msgrelay message relay",
		app.WithDescription(commandDesc),
		app.WithOptions(opts),
		app.WithDefaultValidArgs(),
		app.WithRunFunc(run(opts)),
		app.WithSubCommands(newStatusCommand()),
	)
	return application
}

func run(opts *options.RelayOptions) app.RunFunc {
	return func() error {
		log.Init(opts.Log)
		klog.SetLogger(log.Logr())
		defer func() { _ = log.Sync() }()

		ctx := genericapiserver.SetupSignalContext()

		cfg, err := opts.Config()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		relay, err := cfg.NewRelay(ctx)
		if err != nil {
			return fmt.Errorf("failed to create relay: %w", err)
		}

		return relay.Run(ctx)
	}
}
