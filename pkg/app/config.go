package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const configFlagName = "config"

// addConfigFlag registers --config on fs. The value is resolved when the
// command runs.
func addConfigFlag(name string, fs *pflag.FlagSet) *string {
	cfgFile := new(string)
	fs.StringVarP(cfgFile, configFlagName, "c", "",
		fmt.Sprintf("Read configuration from the specified file. Without it, %[1]s.yaml is searched in ., $HOME/.%[1]s and /etc/%[1]s.", name))
	return cfgFile
}

// loadConfig merges the config file, the environment and fs into v. Values
// set on the command line win over environment variables, which win over
// the config file.
func loadConfig(v *viper.Viper, name, cfgFile string, fs *pflag.FlagSet) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName(name)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, "."+name))
		}
		v.AddConfigPath(filepath.Join("/etc", name))
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read configuration file: %w", err)
		}
	}

	// MSGRELAY_POSTGRES_URL overrides postgres.url.
	v.SetEnvPrefix(strings.ToUpper(strings.ReplaceAll(name, "-", "_")))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	return v.BindPFlags(fs)
}
