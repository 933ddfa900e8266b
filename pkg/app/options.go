package app

import (
	cliflag "k8s.io/component-base/cli/flag"
)

// CliOptions abstracts configuration options for reading parameters from the
// command line.
type CliOptions interface {
	// Complete fills in defaults that depend on other options.
	Complete() error

	// Validate returns every problem found, aggregated.
	Validate() error
}

// NamedFlagSetOptions is a CliOptions whose flags are grouped into named
// sections for help output.
type NamedFlagSetOptions interface {
	CliOptions

	Flags() cliflag.NamedFlagSets
}
