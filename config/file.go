package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

var (
	errConfigFileFailedToLoad = errors.New("failed to load config file")
)

// LoadFile reads a yaml config file and flattens it into a map keyed by flag
// names.  Nested sections are joined with dashes, so that
//
//	upstream:
//	  port: 3001
//
// and
//
//	upstream-port: 3001
//
// are equivalent.
func LoadFile(path string) (map[string]string, error) {
	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("%w: %s: %w",
			errConfigFileFailedToLoad, path, err,
		)
	}

	keys := k.Keys()
	res := make(map[string]string, len(keys))
	for _, key := range keys {
		flag := strings.ReplaceAll(strings.ToLower(key), ".", "-")
		flag = strings.ReplaceAll(flag, "_", "-")
		res[flag] = k.String(key)
	}

	return res, nil
}
