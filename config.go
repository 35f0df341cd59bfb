package ledger

import (
	"context"
	"os"
	"time"

	"github.com/bitmark-inc/logger"
	"github.com/chain/txvm/errors"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/PhoenixWild29/secureai-ledger/policy"
)

// Duration lets YAML configs use Go duration strings ("500ms", "5s").
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	err := value.Decode(&s)
	if err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return errors.Wrapf(err, "parsing duration %q", s)
	}
	*d = Duration(dur)
	return nil
}

func (d Duration) D() time.Duration { return time.Duration(d) }

// Config collects the validator's settings. The daemon fills it from
// flags and an optional YAML file; tests build it directly.
type Config struct {
	Listen        string    `yaml:"listen"`
	DBBackend     string    `yaml:"db_backend"`
	DBPath        string    `yaml:"db"`
	ProgramID     string    `yaml:"program_id"`
	Policy        string    `yaml:"policy"`
	SlotInterval  Duration  `yaml:"slot_interval"`
	FinalityDepth uint64    `yaml:"finality_depth"`
	FaucetCap     uint64    `yaml:"faucet_cap"`
	IdentityPath  string    `yaml:"identity"`
	Logging       LogConfig `yaml:"logging"`

	// Tracer overrides the program-log destination. Leave nil to send
	// program logs to the rotating log file.
	Tracer Tracer `yaml:"-"`
}

// LogConfig configures the rotating log file.
type LogConfig struct {
	Directory string            `yaml:"directory"`
	File      string            `yaml:"file"`
	Size      int               `yaml:"size"`
	Count     int               `yaml:"count"`
	Console   bool              `yaml:"console"`
	Levels    map[string]string `yaml:"levels"`
}

// DefaultConfig returns the devnet defaults.
func DefaultConfig() *Config {
	return &Config{
		Listen:        ":2423",
		DBBackend:     "sqlite3",
		DBPath:        "ledger.db",
		ProgramID:     DefaultProgramID(),
		Policy:        "open",
		SlotInterval:  Duration(time.Second),
		FinalityDepth: 32,
		FaucetCap:     10000000000,
		Logging: LogConfig{
			Directory: "log",
			File:      "ledgerd.log",
			Size:      1048576,
			Count:     10,
			Console:   true,
			Levels:    map[string]string{logger.DefaultTag: "info"},
		},
	}
}

// LoadConfig reads a YAML config file over the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	bits, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config file %s", path)
	}
	err = yaml.Unmarshal(bits, cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing config file %s", path)
	}
	return cfg, nil
}

// InitLogging starts the rotating-file logger per c. Call once, before
// GetValidator.
func (c *Config) InitLogging() error {
	err := os.MkdirAll(c.Logging.Directory, 0700)
	if err != nil {
		return errors.Wrapf(err, "creating log directory %s", c.Logging.Directory)
	}
	return logger.Initialise(logger.Configuration{
		Directory: c.Logging.Directory,
		File:      c.Logging.File,
		Size:      c.Logging.Size,
		Count:     c.Logging.Count,
		Console:   c.Logging.Console,
		Levels:    c.Logging.Levels,
	})
}

// WatchConfig runs as a goroutine. It watches the config file and swaps
// the validator's access policy when the file changes. Other settings
// require a restart.
func WatchConfig(ctx context.Context, path string, v *Validator) {
	log := logger.New("config-watch")
	defer log.Info("exiting")

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Errorf("creating watcher: %s", err)
		return
	}
	defer watcher.Close()

	err = watcher.Add(path)
	if err != nil {
		log.Errorf("watching %s: %s", path, err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := LoadConfig(path)
			if err != nil {
				log.Errorf("reloading %s: %s", path, err)
				continue
			}
			pol, err := policy.Parse(cfg.Policy)
			if err != nil {
				log.Errorf("parsing policy %q: %s", cfg.Policy, err)
				continue
			}
			v.SetPolicy(pol)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Errorf("watch error: %s", err)
		}
	}
}
