package options

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	cliflag "k8s.io/component-base/cli/flag"

	"github.com/autopeer-io/msgrelay/internal/relay"
	"github.com/autopeer-io/msgrelay/pkg/app"
	"github.com/autopeer-io/msgrelay/pkg/log"
	"github.com/autopeer-io/msgrelay/pkg/options"
)

// RelayOptions aggregates every option set of the msgrelay binary.
type RelayOptions struct {
	PostgresOptions   *options.PostgresOptions   `json:"postgres" mapstructure:"postgres"`
	MqttOptions       *options.MqttOptions       `json:"mqtt" mapstructure:"mqtt"`
	S3Options         *options.S3Options         `json:"s3" mapstructure:"s3"`
	HttpOptions       *options.HttpOptions       `json:"http" mapstructure:"http"`
	GrpcOptions       *options.GrpcOptions       `json:"grpc" mapstructure:"grpc"`
	LocalStoreOptions *options.LocalStoreOptions `json:"local" mapstructure:"local"`
	QueueOptions      *options.QueueOptions      `json:"queue" mapstructure:"queue"`
	DeliveryOptions   *options.DeliveryOptions   `json:"delivery" mapstructure:"delivery"`
	ExecutorOptions   *options.ExecutorOptions   `json:"executor" mapstructure:"executor"`
	InboundOptions    *options.InboundOptions    `json:"inbound" mapstructure:"inbound"`
	Log               *log.Options               `json:"log" mapstructure:"log"`

	LockFile string `json:"lock-file" mapstructure:"lock-file"`
}

var _ app.NamedFlagSetOptions = (*RelayOptions)(nil)

func NewRelayOptions() *RelayOptions {
	return &RelayOptions{
		PostgresOptions:   options.NewPostgresOptions(),
		MqttOptions:       options.NewMqttOptions(),
		S3Options:         options.NewS3Options(),
		HttpOptions:       options.NewHttpOptions(),
		GrpcOptions:       options.NewGrpcOptions(),
		LocalStoreOptions: options.NewLocalStoreOptions(),
		QueueOptions:      options.NewQueueOptions(),
		DeliveryOptions:   options.NewDeliveryOptions(),
		ExecutorOptions:   options.NewExecutorOptions(),
		InboundOptions:    options.NewInboundOptions(),
		Log:               log.NewOptions(),
		LockFile:          filepath.Join(os.TempDir(), "msgrelay.lock"),
	}
}

func (o *RelayOptions) Flags() cliflag.NamedFlagSets {
	fss := cliflag.NamedFlagSets{}
	o.addRelayFlags(fss.FlagSet("relay"))
	o.PostgresOptions.AddFlags(fss.FlagSet("postgres"))
	o.DeliveryOptions.AddFlags(fss.FlagSet("delivery"))
	o.QueueOptions.AddFlags(fss.FlagSet("queue"))
	o.ExecutorOptions.AddFlags(fss.FlagSet("executor"))
	o.InboundOptions.AddFlags(fss.FlagSet("inbound"))
	o.LocalStoreOptions.AddFlags(fss.FlagSet("local"))
	o.MqttOptions.AddFlags(fss.FlagSet("mqtt"))
	o.S3Options.AddFlags(fss.FlagSet("s3"))
	o.HttpOptions.AddFlags(fss.FlagSet("http"))
	o.GrpcOptions.AddFlags(fss.FlagSet("grpc"))
	o.Log.AddFlags(fss.FlagSet("log"))
	return fss
}

func (o *RelayOptions) addRelayFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.LockFile, "lock-file", o.LockFile, "File locked while the relay runs. A second relay using the same file refuses to start.")
}

func (o *RelayOptions) Complete() error {
	return o.MqttOptions.Complete()
}

func (o *RelayOptions) Validate() error {
	errs := []error{}
	errs = append(errs, o.PostgresOptions.Validate()...)
	errs = append(errs, o.MqttOptions.Validate()...)
	errs = append(errs, o.S3Options.Validate()...)
	errs = append(errs, o.HttpOptions.Validate()...)
	errs = append(errs, o.GrpcOptions.Validate()...)
	errs = append(errs, o.LocalStoreOptions.Validate()...)
	errs = append(errs, o.QueueOptions.Validate()...)
	errs = append(errs, o.DeliveryOptions.Validate()...)
	errs = append(errs, o.ExecutorOptions.Validate()...)
	errs = append(errs, o.InboundOptions.Validate()...)
	errs = append(errs, o.Log.Validate()...)

	if o.LockFile == "" {
		errs = append(errs, errors.New("--lock-file is required"))
	}
	if o.DeliveryOptions.PushChannel == options.PushChannelMqtt && !o.MqttOptions.Enabled {
		errs = append(errs, errors.New("--delivery.push-channel=mqtt requires --mqtt.enabled"))
	}
	if o.InboundOptions.Enabled && o.InboundOptions.Notify && !o.MqttOptions.Enabled {
		errs = append(errs, errors.New("--inbound.notify requires --mqtt.enabled"))
	}

	return utilerrors.NewAggregate(errs)
}

func (o *RelayOptions) Config() (*relay.Config, error) {
	return &relay.Config{
		PostgresOptions:   o.PostgresOptions,
		MqttOptions:       o.MqttOptions,
		S3Options:         o.S3Options,
		HttpOptions:       o.HttpOptions,
		GrpcOptions:       o.GrpcOptions,
		LocalStoreOptions: o.LocalStoreOptions,
		QueueOptions:      o.QueueOptions,
		DeliveryOptions:   o.DeliveryOptions,
		ExecutorOptions:   o.ExecutorOptions,
		InboundOptions:    o.InboundOptions,
		LockFile:          o.LockFile,
	}, nil
}
