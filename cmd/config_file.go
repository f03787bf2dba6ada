package main

import (
	"github.com/mediadash/edge/config"

	"github.com/urfave/cli/v2"
)

// configFile feeds values from the optional yaml file into flags that were set
// neither on the command line nor via the environment.
type configFile struct {
	path   string
	values map[string]string
	loaded bool
}

func (f *configFile) load() error {
	if f.loaded || f.path == "" {
		return nil
	}

	values, err := config.LoadFile(f.path)
	if err != nil {
		return err
	}

	f.values = values
	f.loaded = true
	return nil
}

func (f *configFile) apply(clictx *cli.Context, flags []cli.Flag) error {
	if err := f.load(); err != nil {
		return err
	}

	for _, flag := range flags {
		name := flag.Names()[0]
		value, ok := f.values[name]
		if !ok || clictx.IsSet(name) {
			continue
		}
		if err := clictx.Set(name, value); err != nil {
			return err
		}
	}

	return nil
}
