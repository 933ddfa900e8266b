package options

import (
	"errors"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*GrpcOptions)(nil)

// GrpcOptions configures the gRPC health service.
type GrpcOptions struct {
	// Enabled turns the gRPC health listener on.
	Enabled bool `json:"enabled" mapstructure:"enabled"`

	// Network with server network.
	Network string `json:"network" mapstructure:"network"`

	// Address with server address.
	Addr string `json:"addr" mapstructure:"addr"`

	// Timeout with server timeout. Used by grpc client side.
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
}

// NewGrpcOptions creates a GrpcOptions object with default parameters.
func NewGrpcOptions() *GrpcOptions {
	return &GrpcOptions{
		Enabled: true,
		Network: "tcp",
		Addr:    "127.0.0.1:9465",
		Timeout: 5 * time.Second,
	}
}

// Validate is used to parse and validate the parameters entered by the user at
// the command line when the program starts.
func (o *GrpcOptions) Validate() []error {
	if o == nil || !o.Enabled {
		return nil
	}

	var errs []error

	if err := ValidateAddress(o.Addr); err != nil {
		errs = append(errs, err)
	}
	if o.Timeout <= 0 {
		errs = append(errs, errors.New("--grpc.timeout must be positive"))
	}

	return errs
}

// AddFlags adds flags related to the gRPC health service to the specified FlagSet.
func (o *GrpcOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.BoolVar(&o.Enabled, "grpc.enabled", o.Enabled, "Serve the standard gRPC health service.")
	fs.StringVar(&o.Network, "grpc.network", o.Network, "Specify the network for the gRPC server.")
	fs.StringVar(&o.Addr, "grpc.addr", o.Addr, "Specify the gRPC server bind address and port.")
	fs.DurationVar(&o.Timeout, "grpc.timeout", o.Timeout, "Default deadline for gRPC health calls made by the status command.")
}
