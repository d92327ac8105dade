// Package config loads filesync configuration.
//
// Configuration comes from a single file named by the --config flag or
// the FILESYNC_CONFIG environment variable. There is no search path: with
// neither set, [Default] applies. Files ending in .yaml or .yml are YAML;
// .json and .jsonc are JSON with comments and trailing commas allowed.
// Command-line flags override file values.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"filesync/internal/protocol"
)

// EnvVar names the environment variable consulted by Load.
const EnvVar = "FILESYNC_CONFIG"

type Config struct {
	Server ServerConfig `yaml:"server" json:"server"`
	Client ClientConfig `yaml:"client" json:"client"`
	Log    LogConfig    `yaml:"log" json:"log"`
}

type ServerConfig struct {
	// Listen is the TCP address the server binds.
	Listen string `yaml:"listen" json:"listen"`

	// Root is the directory whose files are served.
	Root string `yaml:"root" json:"root"`

	// ChunkSize is the payload write size in bytes.
	ChunkSize int `yaml:"chunk_size" json:"chunk_size"`

	// ReadTimeout bounds how long the server waits for the request line.
	ReadTimeout Duration `yaml:"read_timeout" json:"read_timeout"`

	// WriteTimeout bounds each payload chunk write.
	WriteTimeout Duration `yaml:"write_timeout" json:"write_timeout"`
}

type ClientConfig struct {
	// Server is the default server address; a missing port means 12345.
	Server string `yaml:"server" json:"server"`

	// Dir is the directory local files are read from and written to.
	Dir string `yaml:"dir" json:"dir"`

	DialTimeout Duration `yaml:"dial_timeout" json:"dial_timeout"`

	// IOTimeout bounds each read or write on the connection.
	IOTimeout Duration `yaml:"io_timeout" json:"io_timeout"`
}

type LogConfig struct {
	Debug bool `yaml:"debug" json:"debug"`
	JSON  bool `yaml:"json" json:"json"`
}

// Duration is a time.Duration written as text ("30s", "2m").
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:       ":" + strconv.Itoa(protocol.DefaultPort),
			Root:         ".",
			ChunkSize:    protocol.DefaultChunkSize,
			ReadTimeout:  Duration(30 * time.Second),
			WriteTimeout: Duration(30 * time.Second),
		},
		Client: ClientConfig{
			Server:      "127.0.0.1",
			Dir:         ".",
			DialTimeout: Duration(10 * time.Second),
			IOTimeout:   Duration(30 * time.Second),
		},
	}
}

// Load reads the file named by FILESYNC_CONFIG, or returns Default when
// the variable is unset.
func Load() (*Config, error) {
	path := os.Getenv(EnvVar)
	if path == "" {
		return Default(), nil
	}
	return LoadFile(path)
}

// LoadFile reads path over the defaults and validates the result.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	case ".json", ".jsonc":
		decoder := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("config %s: unsupported extension %q (want .yaml, .yml, .json or .jsonc)", path, filepath.Ext(path))
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Server.Listen == "" {
		errs = append(errs, errors.New("server.listen is empty"))
	} else if _, _, err := net.SplitHostPort(c.Server.Listen); err != nil {
		errs = append(errs, fmt.Errorf("server.listen: %w", err))
	}
	if c.Server.Root == "" {
		errs = append(errs, errors.New("server.root is empty"))
	}
	if c.Server.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("server.chunk_size must be positive, got %d", c.Server.ChunkSize))
	}
	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 {
		errs = append(errs, errors.New("server timeouts must not be negative"))
	}
	if c.Client.Server == "" {
		errs = append(errs, errors.New("client.server is empty"))
	}
	if c.Client.Dir == "" {
		errs = append(errs, errors.New("client.dir is empty"))
	}
	if c.Client.DialTimeout < 0 || c.Client.IOTimeout < 0 {
		errs = append(errs, errors.New("client timeouts must not be negative"))
	}
	return errors.Join(errs...)
}

// ServerAddress adds the default port to addr when it has none.
func ServerAddress(addr string) string {
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	host := strings.TrimSuffix(strings.TrimPrefix(addr, "["), "]")
	return net.JoinHostPort(host, strconv.Itoa(protocol.DefaultPort))
}
