package config

import (
	"fmt"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// PrioritySet is the parsed source-priority file. Priorities are data,
// not code: operators rank sources here and the service reloads the file
// without a restart.
type PrioritySet struct {
	// DefaultPriority ranks any source absent from Sources.
	DefaultPriority int `koanf:"default_priority"`

	// Sources maps source names to their rank. Higher wins.
	Sources map[string]int `koanf:"sources"`
}

// LoadPriorities reads and parses a priorities YAML file.
func LoadPriorities(path string) (*PrioritySet, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("%w: priorities file: %v", ErrLoadConfig, err)
	}

	ps := &PrioritySet{Sources: map[string]int{}}
	if err := k.UnmarshalWithConf("", ps, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: priorities file: %v", ErrLoadConfig, err)
	}
	return ps, nil
}

// WatchPriorities re-reads the file whenever it changes and hands the
// parsed set to apply. A file that fails to load keeps the last good set:
// onError is told, apply is not called. The returned stop function ends
// the watch.
func WatchPriorities(path string, apply func(*PrioritySet), onError func(error)) (func(), error) {
	f := file.Provider(path)
	if err := f.Watch(func(_ interface{}, err error) {
		if err != nil {
			onError(err)
			return
		}
		ps, err := LoadPriorities(path)
		if err != nil {
			onError(err)
			return
		}
		apply(ps)
	}); err != nil {
		return nil, fmt.Errorf("%w: watch priorities file: %v", ErrLoadConfig, err)
	}
	return func() { _ = f.Unwatch() }, nil
}
