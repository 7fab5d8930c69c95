package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog/log"
	flag "github.com/spf13/pflag"
)

func newFlagSet() *flag.FlagSet {
	f := flag.NewFlagSet("config", flag.ContinueOnError)
	f.Usage = func() {
		fmt.Println(f.FlagUsages())
		os.Exit(0)
	}

	f.StringSlice("config", []string{"config.yaml"}, "path to one or more config files (will be merged in order)")
	f.String("port", "8080", "port to host the admin server on")
	f.Bool("version", false, "show current version of the build")
	f.String("log-level", "info", "log level: trace, debug, info, warn or error")
	f.String("log-file", "", "also write logs to this file")
	f.Bool("development", false, "human readable console logs")
	f.Int("partitions", 1, "default number of partitions per query")
	f.Int("buffer", 100, "channel buffer of every operator stage")
	f.String("state-dir", "", "keep join tables in badger under this directory instead of memory")
	f.String("output-dir", "", "publish results to files under this directory instead of kafka")
	return f
}

// initConfig parses args and loads, in order, every config file and then
// the flags that were set explicitly.
func initConfig(ko *koanf.Koanf, args []string) error {
	f := newFlagSet()
	if err := f.Parse(args); err != nil {
		return fmt.Errorf("error loading flags: %w", err)
	}

	configs, _ := f.GetStringSlice("config")
	for _, path := range configs {
		parser, err := parserFor(path)
		if err != nil {
			return err
		}
		log.Debug().Msgf("Reading config from %s", path)
		if err := ko.Load(file.Provider(path), parser); err != nil {
			return fmt.Errorf("error reading config %s: %w", path, err)
		}
	}

	if err := ko.Load(posflag.Provider(f, ".", ko), nil); err != nil {
		return fmt.Errorf("error reading flag config: %w", err)
	}
	return nil
}

func parserFor(path string) (koanf.Parser, error) {
	switch path[strings.LastIndex(path, ".")+1:] {
	case "yaml", "yml":
		return yaml.Parser(), nil
	case "json":
		return json.Parser(), nil
	}
	return nil, fmt.Errorf("unsupported file extension: %s", path)
}
