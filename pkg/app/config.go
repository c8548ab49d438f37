package app

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes the environment variable of every flag:
// --model.base-url is read from HOMEPEER_MODEL_BASE_URL.
const EnvPrefix = "HOMEPEER"

const (
	flagConfig  = "config"
	flagEnvFile = "env-file"
)

type configSource struct {
	name    string
	file    string
	envFile string
}

func newConfigSource(name string) *configSource {
	return &configSource{name: name, envFile: ".env"}
}

func (c *configSource) addFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&c.file, flagConfig, "c", c.file, "Read options from this file (yaml, json or toml).")
	fs.StringVar(&c.envFile, flagEnvFile, c.envFile, "Load environment variables from this file when it exists.")
}

// load merges the env file, environment, config file and flags into opts.
func (c *configSource) load(flags *pflag.FlagSet, opts any) error {
	if c.envFile != "" {
		// Variables already set in the environment win over the file.
		if err := godotenv.Load(c.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load env file %s: %w", c.envFile, err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(flags); err != nil {
		return err
	}

	if c.file != "" {
		v.SetConfigFile(c.file)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", c.file, err)
		}
	}

	if err := v.Unmarshal(opts); err != nil {
		return fmt.Errorf("decode options for %s: %w", c.name, err)
	}
	return nil
}
