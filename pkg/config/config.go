package config

import (
	"fmt"
	"io/ioutil"
	"os"
	"os/user"
	"path"

	"gopkg.in/yaml.v2"
)

const (
	configDir  string = ".dlv"
	configFile string = "solib.yml"
)

// ProbePoint associates the name of a dynamic linker probe with the action
// the engine takes when it is hit.
type ProbePoint struct {
	Name   string `yaml:"name"`
	Action string `yaml:"action"`
}

// NamingConvention describes one way the dynamic linker may name its
// probes. Prefix is prepended to every ProbePoint name, Optional lists the
// (unprefixed) names that may be missing under this convention.
type NamingConvention struct {
	Prefix   string   `yaml:"prefix"`
	Optional []string `yaml:"optional,omitempty"`
}

// ProbeProtocol is the contract between the debugger and a family of
// runtime linkers that expose SDT probes.
type ProbeProtocol struct {
	// Provider is the SDT provider name the probes are registered under.
	Provider string `yaml:"provider"`
	// Conventions are tried in order, each one as a whole.
	Conventions []NamingConvention `yaml:"conventions"`
	Points      []ProbePoint       `yaml:"points"`
	// MinArgs is the number of arguments a probe with an action other than
	// ignore must carry.
	MinArgs int `yaml:"min-args"`
}

// PathAlias declares two paths of the system loader as equivalent, the
// first is the name the debugger uses, the second the name the dynamic
// linker reports.
type PathAlias struct {
	Debugger string `yaml:"debugger"`
	Inferior string `yaml:"inferior"`
}

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// Probes configures the probes based dynamic linker interface.
	Probes ProbeProtocol `yaml:"probes"`
	// DisableProbes forces the use of the breakpoint based interface.
	DisableProbes bool `yaml:"disable-probes"`

	// BreakNames lists the functions the dynamic linker calls after the
	// link map changes, in order of preference.
	BreakNames []string `yaml:"break-names"`
	// ResolverNames are symbol names (prefixes) in the dynamic linker that
	// belong to the lazy binding resolver.
	ResolverNames []string `yaml:"resolver-names"`
	// MainAliases are link map names that designate the main program.
	MainAliases []string `yaml:"main-aliases"`
	// LoaderAliases are equivalent paths for the system loader.
	LoaderAliases []PathAlias `yaml:"loader-aliases"`

	// MaxLibraries bounds the number of link map entries read in one walk.
	MaxLibraries int `yaml:"max-libraries"`
	// MaxNameLength bounds the length of a library name read from the target.
	MaxNameLength int `yaml:"max-name-length"`

	// Sysroot is prepended to absolute library names.
	Sysroot string `yaml:"sysroot"`
	// SearchPath lists directories searched for libraries whose name is
	// not found as is.
	SearchPath []string `yaml:"solib-search-path"`

	// ObjectCacheSize is the number of object files kept open.
	ObjectCacheSize int `yaml:"object-cache-size"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Probes: ProbeProtocol{
			Provider: "rtld",
			Conventions: []NamingConvention{
				{Prefix: ""},
				{Prefix: "rtld_", Optional: []string{"map_failed"}},
			},
			Points: []ProbePoint{
				{"init_start", "ignore"},
				{"init_complete", "full-reload"},
				{"map_start", "ignore"},
				{"map_failed", "ignore"},
				{"reloc_complete", "incremental-update"},
				{"unmap_start", "ignore"},
				{"unmap_complete", "full-reload"},
			},
			MinArgs: 2,
		},
		BreakNames: []string{
			"r_debug_state",
			"_r_debug_state",
			"_dl_debug_state",
			"rtld_db_dlactivity",
			"__dl_rtld_db_dlactivity",
			"_rtld_debug_state",
		},
		ResolverNames: []string{"_dl_runtime_resolve", "_dl_runtime_profile", "_dl_fixup"},
		MainAliases:   []string{"main_$main"},
		LoaderAliases: []PathAlias{
			{"/usr/lib/ld.so.1", "/lib/ld.so.1"},
			{"/usr/lib/amd64/ld.so.1", "/lib/amd64/ld.so.1"},
			{"/usr/lib/sparcv9/ld.so.1", "/lib/sparcv9/ld.so.1"},
		},
		MaxLibraries:    1000000,
		MaxNameLength:   511,
		ObjectCacheSize: 64,
	}
}

// Validate checks that c is usable, filling in defaults for zero values.
func (c *Config) Validate() error {
	def := Default()
	if c.Probes.Provider == "" {
		c.Probes = def.Probes
	}
	if len(c.Probes.Conventions) == 0 {
		c.Probes.Conventions = []NamingConvention{{Prefix: ""}}
	}
	seen := map[string]bool{}
	for _, pt := range c.Probes.Points {
		if pt.Name == "" {
			return fmt.Errorf("probe point without a name")
		}
		if seen[pt.Name] {
			return fmt.Errorf("probe point %q listed twice", pt.Name)
		}
		seen[pt.Name] = true
		switch pt.Action {
		case "ignore", "full-reload", "incremental-update", "interface-failed":
		default:
			return fmt.Errorf("unknown action %q for probe point %q", pt.Action, pt.Name)
		}
	}
	if c.BreakNames == nil {
		c.BreakNames = def.BreakNames
	}
	if c.ResolverNames == nil {
		c.ResolverNames = def.ResolverNames
	}
	if c.MainAliases == nil {
		c.MainAliases = def.MainAliases
	}
	if c.LoaderAliases == nil {
		c.LoaderAliases = def.LoaderAliases
	}
	if c.MaxLibraries <= 0 {
		c.MaxLibraries = def.MaxLibraries
	}
	if c.MaxNameLength <= 0 {
		c.MaxNameLength = def.MaxNameLength
	}
	if c.ObjectCacheSize <= 0 {
		c.ObjectCacheSize = def.ObjectCacheSize
	}
	return nil
}

// LoadConfig attempts to populate a Config object from the solib.yml file.
func LoadConfig() *Config {
	err := createConfigPath()
	if err != nil {
		fmt.Printf("Could not create config directory: %v.", err)
		return Default()
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		fmt.Printf("Unable to get config file path: %v.", err)
		return Default()
	}

	f, err := os.Open(fullConfigFile)
	if err != nil {
		f, err = createDefaultConfig(fullConfigFile)
		if err != nil {
			fmt.Printf("Error creating default config file: %v", err)
			return Default()
		}
	}
	defer func() {
		err := f.Close()
		if err != nil {
			fmt.Printf("Closing config file failed: %v.", err)
		}
	}()

	c, err := decode(f)
	if err != nil {
		fmt.Printf("Unable to decode config file: %v.", err)
		return Default()
	}
	return c
}

// LoadConfigFile reads the configuration stored at path.
func LoadConfigFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return decode(f)
}

func decode(f *os.File) (*Config, error) {
	data, err := ioutil.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("unable to read config data: %w", err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
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
		return nil, fmt.Errorf("unable to write default configuration: %v", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		return nil, err
	}
	return f, nil
}

func writeDefaultConfig(f *os.File) error {
	_, err := f.WriteString(
		`# Configuration file for the shared library engine of the delve debugger.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Uncomment to never use the probes based dynamic linker interface.
# disable-probes: true

# Directory prepended to absolute library names reported by the dynamic linker.
# sysroot: /path/to/sysroot

# Directories searched for libraries that can not be found under their own name.
# solib-search-path: ["/usr/lib/debug"]

# Maximum length of a library name read from the target.
# max-name-length: 511

# Number of object files kept open.
# object-cache-size: 64
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
func GetConfigFilePath(file string) (string, error) {
	userHomeDir := "."
	usr, err := user.Current()
	if err == nil {
		userHomeDir = usr.HomeDir
	}
	return path.Join(userHomeDir, configDir, file), nil
}
