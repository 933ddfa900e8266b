package options

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*HttpOptions)(nil)

// DefaultHttpAddr is where a relay serves /healthz, /readyz, /status and
// /metrics unless told otherwise. The status subcommand dials it too.
const DefaultHttpAddr = "127.0.0.1:9464"

// HttpOptions configures the relay's diagnostic listener.
type HttpOptions struct {
	// Network is "tcp", "tcp4" or "tcp6".
	Network string `json:"network" mapstructure:"network"`

	Addr string `json:"addr" mapstructure:"addr"`

	// Timeout bounds reads and writes of one diagnostic request.
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`

	// ShutdownTimeout bounds the wait for open requests when the relay stops.
	ShutdownTimeout time.Duration `json:"shutdown-timeout" mapstructure:"shutdown-timeout"`
}

func NewHttpOptions() *HttpOptions {
	return &HttpOptions{
		Network:         "tcp",
		Addr:            DefaultHttpAddr,
		Timeout:         10 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
}

// StatusURL is the address of the /status document served at Addr.
func (o *HttpOptions) StatusURL() string {
	return StatusURL(o.Addr)
}

// StatusURL builds the /status URL for a relay listening on addr.
func StatusURL(addr string) string {
	return "http://" + addr + "/status"
}

func (o *HttpOptions) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	switch o.Network {
	case "tcp", "tcp4", "tcp6":
	default:
		errs = append(errs, fmt.Errorf("--http.network must be tcp, tcp4 or tcp6, got %q", o.Network))
	}
	if err := ValidateAddress(o.Addr); err != nil {
		errs = append(errs, err)
	}
	if o.Timeout <= 0 {
		errs = append(errs, errors.New("--http.timeout must be positive"))
	}
	if o.ShutdownTimeout < 0 {
		errs = append(errs, errors.New("--http.shutdown-timeout must not be negative"))
	}
	return errs
}

func (o *HttpOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Network, "http.network", o.Network, "Network of the diagnostic listener: tcp, tcp4 or tcp6.")
	fs.StringVar(&o.Addr, "http.addr", o.Addr, "Bind address for /healthz, /readyz, /status and /metrics.")
	fs.DurationVar(&o.Timeout, "http.timeout", o.Timeout, "Read and write timeout of one diagnostic request.")
	fs.DurationVar(&o.ShutdownTimeout, "http.shutdown-timeout", o.ShutdownTimeout, "How long open diagnostic requests may run once the relay stops.")
}
