// Package config loads an Options struct (see the root package's
// options.go) from environment variables via viper, for embedding hosts
// that want externalized configuration instead of constructing Options
// programmatically.
//
// Grounded on github.com/kartikbazzad/bunbase/pkg/config's Load(prefix,
// target): a generic prefix-scoped environment-variable loader built on
// viper rather than viper's own file-watching config.Load
// (github.com/spf13/viper's AutomaticEnv doesn't play well with
// Unmarshal when no config file is present, per that file's own comment),
// kept unchanged here since DBX's embedding story is identical to
// bunbase's.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// DefaultPrefix is the environment variable prefix DBX options are read
// under when no explicit prefix is supplied (e.g. DBX_COMPACTIONWORKERS=4).
const DefaultPrefix = "DBX_"

// Load populates target (a pointer to a struct with mapstructure/yaml
// tags) from environment variables carrying the given prefix, plus an
// optional .env file in the working directory. Fields not present in
// the environment keep target's existing (zero or caller-set) values.
func Load(prefix string, target interface{}) error {
	v := viper.New()

	v.SetConfigFile(".env")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Optional file; a malformed .env surfaces at Unmarshal time
			// instead of failing Load outright.
		}
	}

	prefixUpper := strings.ToUpper(prefix)
	for _, envStr := range os.Environ() {
		pair := strings.SplitN(envStr, "=", 2)
		if len(pair) != 2 {
			continue
		}
		key, value := pair[0], pair[1]
		if !strings.HasPrefix(key, prefixUpper) {
			continue
		}
		propKey := strings.TrimPrefix(key, prefixUpper)
		propKey = strings.ToLower(strings.ReplaceAll(propKey, "_", "."))
		propKey = strings.TrimPrefix(propKey, ".")
		v.Set(propKey, value)
	}

	if err := v.Unmarshal(target); err != nil {
		return fmt.Errorf("decode dbx config: %w", err)
	}
	return nil
}
