package config

import (
	"errors"
	"log"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/smallbiznis/featuregate/internal/access"
)

// GatesHolder serves the current gate table. The table is replaced
// atomically on file reload so in-flight requests always see a coherent
// snapshot.
type GatesHolder struct {
	current atomic.Value // holds access.Table
}

func NewGatesHolder(cfg Config) (*GatesHolder, error) {
	v := viper.New()

	if path := strings.TrimSpace(cfg.GatesPath); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("gates")
		v.SetConfigType("yml")
		v.AddConfigPath("/var/lib/featuregate/config")
		v.AddConfigPath("/etc/featuregate")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("FEATUREGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	gates := access.DefaultGates()
	if err := v.ReadInConfig(); err != nil {
		// An explicit path must exist and parse; only the search-path
		// fallback is allowed to be absent.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || strings.TrimSpace(cfg.GatesPath) != "" {
			return nil, err
		}
	} else {
		loaded, err := unmarshalGates(v)
		if err != nil {
			return nil, err
		}
		gates = loaded
	}

	holder := &GatesHolder{}
	holder.current.Store(access.NewTable(gates))

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := unmarshalGates(v)
		if err != nil {
			log.Printf("[gates-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(access.NewTable(updated))
		log.Printf("[gates-config] reloaded %d gates from %s", len(updated), filepath.Base(e.Name))
	})

	return holder, nil
}

func (h *GatesHolder) Get() access.Table {
	return h.current.Load().(access.Table)
}

func unmarshalGates(v *viper.Viper) ([]access.Gate, error) {
	var gates []access.Gate
	if err := v.UnmarshalKey("gates", &gates); err != nil {
		return nil, err
	}
	if len(gates) == 0 {
		return nil, errors.New("gates cannot be empty")
	}
	for _, g := range gates {
		if g.Key == "" {
			return nil, errors.New("gate key cannot be empty")
		}
		switch g.Kind {
		case access.GateEntitlement:
			if g.ModuleKey == "" {
				return nil, errors.New("entitlement gate requires a module key")
			}
		case access.GateRBAC, access.GateAlwaysOn:
		default:
			return nil, errors.New("unknown gate kind: " + string(g.Kind))
		}
	}
	return gates, nil
}
