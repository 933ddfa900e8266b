package options

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/autopeer-io/msgrelay/pkg/mqtt"
)

var _ IOptions = (*MqttOptions)(nil)

// MqttOptions configures the broker connection used for the MQTT push channel
// and for inbound notifications.
type MqttOptions struct {
	// Enabled connects to the broker at startup. Required when the delivery
	// push channel is "mqtt" or inbound notifications are on.
	Enabled bool `json:"enabled" mapstructure:"enabled"`

	Broker   string `json:"broker" mapstructure:"broker"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
	ClientID string `json:"client-id" mapstructure:"client-id"`

	// Client behavior
	KeepAlive      time.Duration `json:"keep-alive" mapstructure:"keep-alive"`
	ConnectTimeout time.Duration `json:"connect-timeout" mapstructure:"connect-timeout"`
	ReconnectDelay time.Duration `json:"reconnect-delay" mapstructure:"reconnect-delay"`
	SessionExpiry  uint32        `json:"session-expiry" mapstructure:"session-expiry"`
	CleanStart     bool          `json:"clean-start" mapstructure:"clean-start"`

	// InsecureSkipVerify controls whether a client verifies the server's certificate chain and host name.
	// This should be used only for testing.
	InsecureSkipVerify bool `json:"insecure-skip-verify" mapstructure:"insecure-skip-verify"`

	// TopicRoot prefixes every topic: {TopicRoot}/{segment}/{RelayID}.
	TopicRoot string `json:"topic-root" mapstructure:"topic-root"`

	// RelayID names this relay in topic paths. Defaults to the hostname.
	RelayID string `json:"relay-id" mapstructure:"relay-id"`
}

// NewMqttOptions creates a new MqttOptions with default values.
func NewMqttOptions() *MqttOptions {
	return &MqttOptions{
		Enabled:        false,
		Broker:         "tls://localhost:8883",
		KeepAlive:      60 * time.Second,
		ConnectTimeout: 5 * time.Second,
		ReconnectDelay: 3 * time.Second,
		SessionExpiry:  300,
		CleanStart:     false,
		TopicRoot:      "msgrelay/v1",
	}
}

// Complete fills identifiers that depend on the host.
func (o *MqttOptions) Complete() error {
	if o.RelayID == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("resolve relay id: %w", err)
		}
		o.RelayID = hostname
	}
	if o.ClientID == "" {
		o.ClientID = "msgrelay-" + o.RelayID
	}
	return nil
}

// Validate is used to parse and validate the parameters entered by the user at
// the command line when the program starts.
func (o *MqttOptions) Validate() []error {
	if o == nil || !o.Enabled {
		return nil
	}

	errs := []error{}

	if o.Broker == "" {
		errs = append(errs, errors.New("--mqtt.broker is required when mqtt is enabled"))
	} else if _, err := url.Parse(o.Broker); err != nil {
		errs = append(errs, fmt.Errorf("--mqtt.broker: %w", err))
	}
	if o.TopicRoot == "" {
		errs = append(errs, errors.New("--mqtt.topic-root must not be empty"))
	}
	if o.KeepAlive < time.Second {
		errs = append(errs, errors.New("--mqtt.keep-alive must be at least 1s"))
	}
	if o.ReconnectDelay < 0 {
		errs = append(errs, errors.New("--mqtt.reconnect-delay must not be negative"))
	}

	return errs
}

// AddFlags adds flags for MqttOptions to the specified FlagSet.
func (o *MqttOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.BoolVar(&o.Enabled, "mqtt.enabled", o.Enabled, "Connect to the MQTT broker.")
	fs.StringVar(&o.Broker, "mqtt.broker", o.Broker, "The URL of the MQTT broker.")
	fs.StringVar(&o.Username, "mqtt.username", o.Username, "The username for MQTT authentication.")
	fs.StringVar(&o.Password, "mqtt.password", o.Password, "The password for MQTT authentication.")
	fs.StringVar(&o.ClientID, "mqtt.client-id", o.ClientID, "Explicit Client ID (defaults to msgrelay-<relay-id>).")

	fs.DurationVar(&o.KeepAlive, "mqtt.keep-alive", o.KeepAlive, "MQTT Keep Alive interval.")
	fs.DurationVar(&o.ConnectTimeout, "mqtt.connect-timeout", o.ConnectTimeout, "Timeout for establishing MQTT connection.")
	fs.DurationVar(&o.ReconnectDelay, "mqtt.reconnect-delay", o.ReconnectDelay, "Pause between broker reconnection attempts.")
	fs.Uint32Var(&o.SessionExpiry, "mqtt.session-expiry", o.SessionExpiry, "MQTT Session Expiry Interval in seconds.")
	fs.BoolVar(&o.CleanStart, "mqtt.clean-start", o.CleanStart, "Start a clean MQTT session on the first connection.")
	fs.BoolVar(&o.InsecureSkipVerify, "mqtt.insecure-skip-verify", o.InsecureSkipVerify, "If true, skips the TLS certificate verification.")

	fs.StringVar(&o.TopicRoot, "mqtt.topic-root", o.TopicRoot, "Prefix for every relay topic.")
	fs.StringVar(&o.RelayID, "mqtt.relay-id", o.RelayID, "Identifier of this relay in topic names (defaults to the hostname).")
}

func (o *MqttOptions) ToClientConfig() *mqtt.ClientConfig {
	return &mqtt.ClientConfig{
		BrokerURL:          o.Broker,
		Username:           o.Username,
		Password:           o.Password,
		ClientID:           o.ClientID,
		KeepAlive:          uint16(o.KeepAlive.Seconds()),
		SessionExpiry:      o.SessionExpiry,
		ConnectTimeout:     o.ConnectTimeout,
		ReconnectDelay:     o.ReconnectDelay,
		CleanStart:         o.CleanStart,
		InsecureSkipVerify: o.InsecureSkipVerify,
	}
}
