package options

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"
)

var _ IOptions = (*LocalStoreOptions)(nil)

// LocalStoreOptions locates the messaging application's on-disk database.
type LocalStoreOptions struct {
	// Path is the chat database file. It is opened read-only.
	Path string `json:"path" mapstructure:"path"`

	// AttachmentsRoot replaces a leading "~" in attachment paths stored in the database.
	AttachmentsRoot string `json:"attachments-root" mapstructure:"attachments-root"`

	// BatchSize caps the number of rows read per inbound sync pass.
	BatchSize int `json:"batch-size" mapstructure:"batch-size"`
}

// NewLocalStoreOptions creates a LocalStoreOptions object with default parameters.
func NewLocalStoreOptions() *LocalStoreOptions {
	home, _ := os.UserHomeDir()
	return &LocalStoreOptions{
		Path:            filepath.Join(home, "Library", "Messages", "chat.db"),
		AttachmentsRoot: home,
		BatchSize:       200,
	}
}

// Validate is used to parse and validate the parameters entered by the user at
// the command line when the program starts.
func (o *LocalStoreOptions) Validate() []error {
	var errs []error

	if o.Path == "" {
		errs = append(errs, errors.New("--local.path is required"))
	}
	if o.BatchSize <= 0 {
		errs = append(errs, errors.New("--local.batch-size must be positive"))
	}

	return errs
}

// AddFlags adds flags for LocalStoreOptions to the specified FlagSet.
func (o *LocalStoreOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Path, "local.path", o.Path, "Path of the local chat database.")
	fs.StringVar(&o.AttachmentsRoot, "local.attachments-root", o.AttachmentsRoot, "Directory substituted for '~' in stored attachment paths.")
	fs.IntVar(&o.BatchSize, "local.batch-size", o.BatchSize, "Maximum rows read per inbound sync pass.")
}
