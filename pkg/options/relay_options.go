package options

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/pflag"
)

var (
	_ IOptions = (*QueueOptions)(nil)
	_ IOptions = (*DeliveryOptions)(nil)
	_ IOptions = (*ExecutorOptions)(nil)
	_ IOptions = (*InboundOptions)(nil)
)

// QueueOptions configures retry behavior of the command queue.
type QueueOptions struct {
	// MaxAttempts counts total executions, including the first one.
	MaxAttempts int `json:"max-attempts" mapstructure:"max-attempts"`

	// BaseDelay is doubled after every failed attempt.
	BaseDelay time.Duration `json:"base-delay" mapstructure:"base-delay"`
}

func NewQueueOptions() *QueueOptions {
	return &QueueOptions{
		MaxAttempts: 4,
		BaseDelay:   time.Second,
	}
}

func (o *QueueOptions) Validate() []error {
	var errs []error
	if o.MaxAttempts < 1 {
		errs = append(errs, errors.New("--queue.max-attempts must be at least 1"))
	}
	if o.BaseDelay < 0 {
		errs = append(errs, errors.New("--queue.base-delay must not be negative"))
	}
	return errs
}

func (o *QueueOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.IntVar(&o.MaxAttempts, "queue.max-attempts", o.MaxAttempts, "Total execution attempts per command before it fails.")
	fs.DurationVar(&o.BaseDelay, "queue.base-delay", o.BaseDelay, "Initial retry delay, doubled after every failed attempt.")
}

const (
	PushChannelPostgres = "postgres"
	PushChannelMqtt     = "mqtt"
)

// DeliveryOptions configures how new outbound work is discovered.
type DeliveryOptions struct {
	// PushChannel selects the push subscription: "postgres" (LISTEN/NOTIFY) or "mqtt".
	PushChannel string `json:"push-channel" mapstructure:"push-channel"`

	// PollInterval is the cadence of the pull query while push is unavailable.
	PollInterval time.Duration `json:"poll-interval" mapstructure:"poll-interval"`

	// PageSize caps the rows fetched by one pull query.
	PageSize int `json:"page-size" mapstructure:"page-size"`

	// RetryInterval is how often messages whose claim failed are tried again.
	RetryInterval time.Duration `json:"retry-interval" mapstructure:"retry-interval"`
}

func NewDeliveryOptions() *DeliveryOptions {
	return &DeliveryOptions{
		PushChannel:   PushChannelPostgres,
		PollInterval:  5 * time.Second,
		PageSize:      500,
		RetryInterval: 30 * time.Second,
	}
}

func (o *DeliveryOptions) Validate() []error {
	var errs []error
	switch o.PushChannel {
	case PushChannelPostgres, PushChannelMqtt:
	default:
		errs = append(errs, fmt.Errorf("--delivery.push-channel must be %q or %q, got %q", PushChannelPostgres, PushChannelMqtt, o.PushChannel))
	}
	if o.PollInterval < 100*time.Millisecond {
		errs = append(errs, errors.New("--delivery.poll-interval must be at least 100ms"))
	}
	if o.PageSize < 1 {
		errs = append(errs, errors.New("--delivery.page-size must be positive"))
	}
	if o.RetryInterval < time.Second {
		errs = append(errs, errors.New("--delivery.retry-interval must be at least 1s"))
	}
	return errs
}

func (o *DeliveryOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.PushChannel, "delivery.push-channel", o.PushChannel, "Push subscription used for new outbound messages: postgres or mqtt.")
	fs.DurationVar(&o.PollInterval, "delivery.poll-interval", o.PollInterval, "Pull query interval while the push channel is down.")
	fs.IntVar(&o.PageSize, "delivery.page-size", o.PageSize, "Maximum rows fetched by one pull query. A poll cycle pages until the backlog is read.")
	fs.DurationVar(&o.RetryInterval, "delivery.retry-interval", o.RetryInterval, "Interval for retrying messages whose claim failed on a database error.")
}

// ExecutorOptions configures the AppleScript automation executor.
type ExecutorOptions struct {
	// Osascript is the interpreter binary.
	Osascript string `json:"osascript" mapstructure:"osascript"`

	// TemplateDir overrides the embedded script catalog. It must contain a catalog.yaml.
	TemplateDir string `json:"template-dir" mapstructure:"template-dir"`

	// Timeout bounds a single script run.
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`

	// SpoolDir receives attachments downloaded before they are sent.
	SpoolDir string `json:"spool-dir" mapstructure:"spool-dir"`
}

func NewExecutorOptions() *ExecutorOptions {
	return &ExecutorOptions{
		Osascript: "/usr/bin/osascript",
		Timeout:   30 * time.Second,
		SpoolDir:  filepath.Join(os.TempDir(), "msgrelay", "spool"),
	}
}

func (o *ExecutorOptions) Validate() []error {
	var errs []error
	if o.Osascript == "" {
		errs = append(errs, errors.New("--executor.osascript is required"))
	}
	if o.Timeout <= 0 {
		errs = append(errs, errors.New("--executor.timeout must be positive"))
	}
	if o.SpoolDir == "" {
		errs = append(errs, errors.New("--executor.spool-dir is required"))
	}
	return errs
}

func (o *ExecutorOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Osascript, "executor.osascript", o.Osascript, "Path of the AppleScript interpreter.")
	fs.StringVar(&o.TemplateDir, "executor.template-dir", o.TemplateDir, "Directory with catalog.yaml and script templates (defaults to the built-in catalog).")
	fs.DurationVar(&o.Timeout, "executor.timeout", o.Timeout, "Maximum duration of a single script run.")
	fs.StringVar(&o.SpoolDir, "executor.spool-dir", o.SpoolDir, "Directory for attachments staged before sending.")
}

// InboundOptions configures the local-to-cloud sync loop.
type InboundOptions struct {
	Enabled bool `json:"enabled" mapstructure:"enabled"`

	// PollInterval is the sync cadence. File system events trigger earlier passes.
	PollInterval time.Duration `json:"poll-interval" mapstructure:"poll-interval"`

	// Watch enables file system notifications on the chat database directory.
	Watch bool `json:"watch" mapstructure:"watch"`

	// MaxAttachmentSize skips larger attachments, in bytes.
	MaxAttachmentSize int64 `json:"max-attachment-size" mapstructure:"max-attachment-size"`

	// Notify publishes an MQTT notice for every synced message. Requires --mqtt.enabled.
	Notify bool `json:"notify" mapstructure:"notify"`
}

func NewInboundOptions() *InboundOptions {
	return &InboundOptions{
		Enabled:           true,
		PollInterval:      10 * time.Second,
		Watch:             true,
		MaxAttachmentSize: 100 << 20,
		Notify:            false,
	}
}

func (o *InboundOptions) Validate() []error {
	if !o.Enabled {
		return nil
	}
	var errs []error
	if o.PollInterval < time.Second {
		errs = append(errs, errors.New("--inbound.poll-interval must be at least 1s"))
	}
	if o.MaxAttachmentSize <= 0 {
		errs = append(errs, errors.New("--inbound.max-attachment-size must be positive"))
	}
	return errs
}

func (o *InboundOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.BoolVar(&o.Enabled, "inbound.enabled", o.Enabled, "Sync messages received locally into the cloud datastore.")
	fs.DurationVar(&o.PollInterval, "inbound.poll-interval", o.PollInterval, "Interval between inbound sync passes.")
	fs.BoolVar(&o.Watch, "inbound.watch", o.Watch, "Trigger a sync pass when the local chat database changes.")
	fs.Int64Var(&o.MaxAttachmentSize, "inbound.max-attachment-size", o.MaxAttachmentSize, "Attachments larger than this many bytes are not uploaded.")
	fs.BoolVar(&o.Notify, "inbound.notify", o.Notify, "Publish an MQTT notice for every synced message.")
}
