package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/rspd/rspd/pkg/logflags"
)

const (
	configDir       string = ".rspd"
	configDirHidden string = "rspd"
	configFile      string = "config.yml"
)

const (
	// DefaultPort is the TCP port the server listens on when none is
	// configured.
	DefaultPort = 1234
	// DefaultMaxThreadIDs bounds the thread ids accepted in a vCont packet.
	DefaultMaxThreadIDs = 64
)

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// Port is the TCP port the server listens on.
	Port int `yaml:"port,omitempty"`
	// Arch is the register layout reported to the client, amd64 or 386.
	Arch string `yaml:"arch,omitempty"`
	// MaxThreadIDs is the maximum number of thread ids in a vCont packet.
	MaxThreadIDs int `yaml:"max-thread-ids,omitempty"`
	// MaxTransmitAttempts bounds how many times a reply is retransmitted
	// before the session is dropped. Zero retransmits forever.
	MaxTransmitAttempts int `yaml:"max-transmit-attempts,omitempty"`
	// HandshakeTimeout bounds the wait for the first '+' of a client.
	// Zero waits forever.
	HandshakeTimeout time.Duration `yaml:"handshake-timeout,omitempty"`
	// Snapshot is the snapshot served when none is given on the command
	// line.
	Snapshot string `yaml:"snapshot,omitempty"`
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	c := &Config{}
	c.fillDefaults()
	return c
}

func (c *Config) fillDefaults() {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Arch == "" {
		c.Arch = hostArch()
	}
	if c.MaxThreadIDs == 0 {
		c.MaxThreadIDs = DefaultMaxThreadIDs
	}
}

func hostArch() string {
	if runtime.GOARCH == "386" {
		return "386"
	}
	return "amd64"
}

// Validate returns an error if a value of c is out of range.
func (c *Config) Validate() error {
	switch {
	case c.Port < 0 || c.Port > 0xffff:
		return fmt.Errorf("port %d out of range", c.Port)
	case c.MaxThreadIDs < 0:
		return fmt.Errorf("max-thread-ids must not be negative")
	case c.MaxTransmitAttempts < 0:
		return fmt.Errorf("max-transmit-attempts must not be negative")
	case c.HandshakeTimeout < 0:
		return fmt.Errorf("handshake-timeout must not be negative")
	}
	switch c.Arch {
	case "amd64", "386":
	default:
		return fmt.Errorf("unknown architecture %q", c.Arch)
	}
	return nil
}

// LoadConfig attempts to populate a Config object from the config.yml file.
// Problems are reported on stderr and the defaults are returned.
func LoadConfig() *Config {
	err := createConfigPath()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Could not create config directory: %v.\n", err)
		return Default()
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to get config file path: %v.\n", err)
		return Default()
	}

	if _, err := os.Stat(fullConfigFile); os.IsNotExist(err) {
		f, err := createDefaultConfig(fullConfigFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating default config file: %v\n", err)
			return Default()
		}
		f.Close()
	}

	c, err := LoadConfigFile(fullConfigFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v.\n", err)
		return Default()
	}
	return c
}

// LoadConfigFile reads the configuration stored at path. Unset options
// take their default value.
func LoadConfigFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("unable to read config data: %v", err)
	}

	var c Config
	if err := yaml.UnmarshalStrict(data, &c); err != nil {
		return nil, fmt.Errorf("unable to decode config file %s: %v", path, err)
	}
	c.fillDefaults()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %v", path, err)
	}
	if logflags.Config() {
		logflags.ConfigLogger().Debugf("loaded %s: %+v", path, c)
	}
	return &c, nil
}

// SaveConfig will marshal and save the config struct
// to disk.
func SaveConfig(conf *Config) error {
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(*conf)
	if err != nil {
		return err
	}

	f, err := os.Create(fullConfigFile)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(out)
	return err
}

func createDefaultConfig(path string) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("unable to create config file: %v", err)
	}
	err = writeDefaultConfig(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("unable to write default configuration: %v", err)
	}
	logflags.ConfigLogger().Debugf("created default configuration %s", path)
	return f, nil
}

func writeDefaultConfig(f *os.File) error {
	_, err := f.WriteString(
		`# Configuration file for the rspd debug server.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# TCP port the server listens on.
# port: 1234

# Register layout reported to the debugger, amd64 or 386. Defaults to the
# architecture of the host.
# arch: amd64

# Maximum number of thread ids accepted in a vCont packet.
# max-thread-ids: 64

# Number of times a reply is sent before giving up on a client that does
# not acknowledge it. 0 retries forever.
# max-transmit-attempts: 0

# How long to wait for a client to start the session after connecting,
# for example 10s. 0 waits forever.
# handshake-timeout: 0s

# Snapshot served when rspd serve is run without --snapshot.
# snapshot: /path/to/snapshot.yml
`)
	return err
}

// createConfigPath creates the directory structure at which all config files are saved.
func createConfigPath() error {
	path, err := GetConfigFilePath("")
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0700)
}

// GetConfigFilePath gets the full path to the given config file name.
// The configuration lives in $XDG_CONFIG_HOME/rspd if XDG_CONFIG_HOME is
// set and in ~/.rspd otherwise.
func GetConfigFilePath(file string) (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, configDirHidden, file), nil
	}
	userHomeDir, err := os.UserHomeDir()
	if err != nil {
		userHomeDir = "."
	}
	return filepath.Join(userHomeDir, configDir, file), nil
}
