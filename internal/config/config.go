// Package config loads the hearth process configuration.
//
// Values come from, in increasing priority: built-in defaults, a YAML file
// (hearth.yaml in the working directory or /etc/hearth, or the file passed
// with --config), and HEARTH_* environment variables. Nested keys map to
// environment names with dots replaced by underscores, so vm.stop_timeout is
// HEARTH_VM_STOP_TIMEOUT.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"golang.org/x/crypto/ssh"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "HEARTH"

// Config is the root configuration.
type Config struct {
	Storage  StorageConfig  `mapstructure:"storage" yaml:"storage"`
	Libvirt  LibvirtConfig  `mapstructure:"libvirt" yaml:"libvirt"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Host     HostConfig     `mapstructure:"host" yaml:"host"`
	Cloud    CloudConfig    `mapstructure:"cloud" yaml:"cloud"`
	VM       VMConfig       `mapstructure:"vm" yaml:"vm"`
	Tools    ToolsConfig    `mapstructure:"tools" yaml:"tools"`
	Worker   WorkerConfig   `mapstructure:"worker" yaml:"worker"`
	Console  ConsoleConfig  `mapstructure:"console" yaml:"console"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`

	// ServiceKey is an optional public key injected into every VM after the
	// user's key.
	ServiceKey string `mapstructure:"service_key" yaml:"service_key,omitempty"`
}

// StorageConfig locates VM workspaces and captured images.
type StorageConfig struct {
	Root string `mapstructure:"root" yaml:"root"`
}

// LibvirtConfig is the hypervisor connection.
type LibvirtConfig struct {
	Socket  string        `mapstructure:"socket" yaml:"socket"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// DatabaseConfig is the SQLite record store.
type DatabaseConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// HostConfig identifies this hypervisor host.
type HostConfig struct {
	Name string `mapstructure:"name" yaml:"name"`
}

// CloudConfig is advertised to guests through boot meta-data.
type CloudConfig struct {
	Name   string `mapstructure:"name" yaml:"name"`
	Zone   string `mapstructure:"zone" yaml:"zone"`
	Region string `mapstructure:"region" yaml:"region"`
}

// VMConfig tunes the lifecycle orchestrator.
type VMConfig struct {
	// CleanupOnFailure rolls back failed builds. When false the record is
	// kept in FAILED with its workspace for inspection.
	CleanupOnFailure bool          `mapstructure:"cleanup_on_failure" yaml:"cleanup_on_failure"`
	StopTimeout      time.Duration `mapstructure:"stop_timeout" yaml:"stop_timeout"`
}

// ToolsConfig names the disk tools and bounds each invocation.
type ToolsConfig struct {
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
	QemuImg      string        `mapstructure:"qemu_img" yaml:"qemu_img"`
	VirtSysprep  string        `mapstructure:"virt_sysprep" yaml:"virt_sysprep"`
	VirtSparsify string        `mapstructure:"virt_sparsify" yaml:"virt_sparsify"`
}

// WorkerConfig sizes the background job pool.
type WorkerConfig struct {
	PoolSize int `mapstructure:"pool_size" yaml:"pool_size"`
}

// ConsoleConfig is where remote consoles listen.
type ConsoleConfig struct {
	Listen string `mapstructure:"listen" yaml:"listen"`
}

// LogConfig selects the log level and format (text or json).
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("storage.root", "/var/lib/hearth")

	v.SetDefault("libvirt.socket", "/var/run/libvirt/libvirt-sock")
	v.SetDefault("libvirt.timeout", "5s")

	v.SetDefault("database.path", "/var/lib/hearth/hearth.db")

	v.SetDefault("host.name", "")

	v.SetDefault("cloud.name", "hearth")
	v.SetDefault("cloud.zone", "")
	v.SetDefault("cloud.region", "")

	v.SetDefault("vm.cleanup_on_failure", true)
	v.SetDefault("vm.stop_timeout", "240s")

	v.SetDefault("tools.timeout", "30m")
	v.SetDefault("tools.qemu_img", "qemu-img")
	v.SetDefault("tools.virt_sysprep", "virt-sysprep")
	v.SetDefault("tools.virt_sparsify", "virt-sparsify")

	v.SetDefault("worker.pool_size", 8)

	v.SetDefault("service_key", "")

	v.SetDefault("console.listen", "0.0.0.0")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads the configuration. An empty path searches for hearth.yaml in
// the working directory and /etc/hearth and tolerates its absence; an
// explicit path must exist. The result is not validated.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("hearth")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/hearth")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if cfg.Host.Name == "" {
		if name, err := os.Hostname(); err == nil {
			cfg.Host.Name = name
		}
	}
	return &cfg, nil
}

// Validate checks every field and reports all problems at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Storage.Root == "" {
		add("storage.root is required")
	} else if !filepath.IsAbs(c.Storage.Root) {
		add("storage.root must be an absolute path, got %q", c.Storage.Root)
	}

	if c.Libvirt.Socket == "" {
		add("libvirt.socket is required")
	}
	if c.Libvirt.Timeout <= 0 {
		add("libvirt.timeout must be > 0, got %s", c.Libvirt.Timeout)
	}

	if c.Database.Path == "" {
		add("database.path is required")
	}

	if c.Host.Name == "" {
		add("host.name is required")
	}
	if c.Cloud.Name == "" {
		add("cloud.name is required")
	}

	if c.VM.StopTimeout <= 0 {
		add("vm.stop_timeout must be > 0, got %s", c.VM.StopTimeout)
	}

	if c.Tools.Timeout <= 0 {
		add("tools.timeout must be > 0, got %s", c.Tools.Timeout)
	}
	for _, tool := range []struct{ key, val string }{
		{"tools.qemu_img", c.Tools.QemuImg},
		{"tools.virt_sysprep", c.Tools.VirtSysprep},
		{"tools.virt_sparsify", c.Tools.VirtSparsify},
	} {
		if tool.val == "" {
			add("%s is required", tool.key)
		}
	}

	if c.Worker.PoolSize <= 0 {
		add("worker.pool_size must be > 0, got %d", c.Worker.PoolSize)
	}

	if c.ServiceKey != "" {
		if _, _, _, _, err := ssh.ParseAuthorizedKey([]byte(c.ServiceKey)); err != nil {
			add("service_key is not a valid SSH public key: %v", err)
		}
	}

	if addr, err := netip.ParseAddr(c.Console.Listen); err != nil {
		add("console.listen must be an IP address, got %q", c.Console.Listen)
	} else if addr.Zone() != "" {
		add("console.listen must not carry a zone, got %q", c.Console.Listen)
	}

	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		add("log.level: %v", err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		add("log.format must be text or json, got %q", c.Log.Format)
	}

	return errors.Join(errs...)
}

// YAML renders the effective configuration.
func (c *Config) YAML() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}
