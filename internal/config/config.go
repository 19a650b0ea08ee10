package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. AUDIOCOMMENTS_ACTIVE_CONFIG.
const EnvPrefix = "AUDIOCOMMENTS"

type GlobalsConfig struct {
	Output GlobalOutputConfig `mapstructure:"output" yaml:"output"`
}

type GlobalOutputConfig struct {
	RecordingsDirectory string `mapstructure:"recordings_directory" yaml:"recordings_directory"`
}

type RootConfig struct {
	ActiveConfig string                    `mapstructure:"active_config" yaml:"active_config"`
	Globals      *GlobalsConfig            `mapstructure:"globals,omitempty" yaml:"globals,omitempty"`
	Audio        *AudioConfig              `mapstructure:"audio,omitempty" yaml:"audio,omitempty"`
	Configs      map[string]*ConfigProfile `mapstructure:"configs" yaml:"configs"`
}

type Config struct {
	Audio   AudioConfig   `mapstructure:"audio" yaml:"audio"`
	Output  OutputConfig  `mapstructure:"output" yaml:"output"`
	Session SessionConfig `mapstructure:"session" yaml:"session"`

	// Profile is the name of the profile this config was resolved from
	Profile string `mapstructure:"-" yaml:"-"`

	// Internal field to track inheritance information for info command
	Inheritance *InheritanceInfo `mapstructure:"-" yaml:"-"`
}

type ConfigProfile struct {
	Audio   AudioConfig   `mapstructure:"audio" yaml:"audio"`
	Output  OutputConfig  `mapstructure:"output" yaml:"output"`
	Session SessionConfig `mapstructure:"session" yaml:"session"`
}

type InheritanceInfo struct {
	Audio struct {
		SampleRate  string // "inherited" or "profile-specific"
		Channels    string
		Backend     string
		InputFormat string
		InputDevice string
		Player      string
	}
	Output struct {
		Directory string
		Format    string
	}
	Session struct {
		TickRate string
	}
}

type AudioConfig struct {
	SampleRate  int    `mapstructure:"sample_rate" yaml:"sample_rate"`
	Channels    int    `mapstructure:"channels" yaml:"channels"`
	Backend     string `mapstructure:"backend" yaml:"backend"`           // "ffmpeg", "auto"
	Command     string `mapstructure:"command" yaml:"command,omitempty"` // capture binary, defaults to ffmpeg
	InputFormat string `mapstructure:"input_format" yaml:"input_format"` // ffmpeg -f value: pulse, alsa, avfoundation...
	InputDevice string `mapstructure:"input_device" yaml:"input_device"` // ffmpeg -i value
	Player      string `mapstructure:"player" yaml:"player"`             // "auto", "aplay", "paplay", "ffplay"
}

type OutputConfig struct {
	Directory string `mapstructure:"directory" yaml:"directory"`
	Format    string `mapstructure:"format" yaml:"format"`
}

type SessionConfig struct {
	TickRate int `mapstructure:"tick_rate" yaml:"tick_rate"` // samples per second while recording or playing
}

var defaultConfig = Config{
	Audio: AudioConfig{
		SampleRate:  44100,
		Channels:    1,
		Backend:     "auto",
		Command:     "ffmpeg",
		InputFormat: "pulse",
		InputDevice: "default",
		Player:      "auto",
	},
	Output: OutputConfig{
		Directory: "~/Audio/Comments",
		Format:    "wav",
	},
	Session: SessionConfig{
		TickRate: 60,
	},
}

// Default returns the built-in configuration used when no config file exists.
func Default() *Config {
	cfg := defaultConfig
	cfg.Profile = "default"
	cfg.Output.Directory = expandPath(cfg.Output.Directory)
	return &cfg
}

// DefaultConfigPath returns $HOME/.config/audiocomments.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "audiocomments.yaml"
	}
	return filepath.Join(home, ".config", "audiocomments.yaml")
}

func LoadWithProfile(configFile, profile string) (*Config, error) {
	if configFile == "" {
		if profile != "" && profile != "default" {
			return nil, fmt.Errorf("configuration profile '%s' requires a config file, use --config flag", profile)
		}
		return Default(), nil
	}

	// Validate configuration format first
	rootConfig, err := ValidateConfigurationFormat(configFile)
	if err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	// Determine which config to use
	configName := profile
	if configName == "" {
		configName = rootConfig.ActiveConfig
	}
	if configName == "" {
		configName = "default"
	}

	selectedProfile, exists := rootConfig.Configs[configName]
	if !exists {
		if configName != "default" {
			return nil, fmt.Errorf("configuration profile '%s' not found", configName)
		}
		selectedProfile = &ConfigProfile{}
	}

	// Base layers: built-in defaults, global audio settings, then the default profile
	base := defaultConfig
	if rootConfig.Audio != nil {
		base = *mergeConfigs(&base, &Config{Audio: *rootConfig.Audio})
	}
	if configName != "default" {
		if defaultProfile, exists := rootConfig.Configs["default"]; exists {
			base = *mergeConfigs(&base, convertProfileToConfig(defaultProfile))
		}
	}

	selectedConfig := mergeConfigs(&base, convertProfileToConfig(selectedProfile))

	// Global recordings directory takes priority over profile-specific directory
	if rootConfig.Globals != nil && rootConfig.Globals.Output.RecordingsDirectory != "" {
		selectedConfig.Output.Directory = rootConfig.Globals.Output.RecordingsDirectory
	}

	selectedConfig.Output.Directory = expandPath(selectedConfig.Output.Directory)
	selectedConfig.Profile = configName

	if err := Validate(selectedConfig); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return selectedConfig, nil
}

// UpdateActiveConfig updates the active_config field in the config file
func UpdateActiveConfig(configFile, newActiveConfig string) error {
	if configFile == "" {
		return fmt.Errorf("no config file specified")
	}

	v := viper.New()
	v.SetConfigFile(configFile)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	root, err := unmarshalRoot(v)
	if err != nil {
		return err
	}
	if _, ok := root.Configs[newActiveConfig]; !ok && newActiveConfig != "default" {
		return fmt.Errorf("configuration profile '%s' not found", newActiveConfig)
	}

	v.Set("active_config", newActiveConfig)

	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("error writing config file %s: %w", configFile, err)
	}

	return nil
}

// ProfileNames lists the profiles defined in configFile.
func ProfileNames(configFile string) ([]string, error) {
	rootConfig, err := ValidateConfigurationFormat(configFile)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(rootConfig.Configs))
	for name := range rootConfig.Configs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func convertProfileToConfig(profile *ConfigProfile) *Config {
	if profile == nil {
		return &Config{}
	}
	return &Config{
		Audio:   profile.Audio,
		Output:  profile.Output,
		Session: profile.Session,
	}
}

// mergeConfigs overlays every non-zero profile field on base and records
// which fields came from where.
func mergeConfigs(base, profile *Config) *Config {
	result := &Config{Inheritance: &InheritanceInfo{}}

	if base != nil {
		result.Audio = base.Audio
		result.Output = base.Output
		result.Session = base.Session

		result.Inheritance.Audio.SampleRate = "inherited"
		result.Inheritance.Audio.Channels = "inherited"
		result.Inheritance.Audio.Backend = "inherited"
		result.Inheritance.Audio.InputFormat = "inherited"
		result.Inheritance.Audio.InputDevice = "inherited"
		result.Inheritance.Audio.Player = "inherited"
		result.Inheritance.Output.Directory = "inherited"
		result.Inheritance.Output.Format = "inherited"
		result.Inheritance.Session.TickRate = "inherited"
	}

	if profile == nil {
		return result
	}

	if profile.Audio.SampleRate != 0 {
		result.Audio.SampleRate = profile.Audio.SampleRate
		result.Inheritance.Audio.SampleRate = "profile-specific"
	}
	if profile.Audio.Channels != 0 {
		result.Audio.Channels = profile.Audio.Channels
		result.Inheritance.Audio.Channels = "profile-specific"
	}
	if profile.Audio.Backend != "" {
		result.Audio.Backend = profile.Audio.Backend
		result.Inheritance.Audio.Backend = "profile-specific"
	}
	if profile.Audio.Command != "" {
		result.Audio.Command = profile.Audio.Command
	}
	if profile.Audio.InputFormat != "" {
		result.Audio.InputFormat = profile.Audio.InputFormat
		result.Inheritance.Audio.InputFormat = "profile-specific"
	}
	if profile.Audio.InputDevice != "" {
		result.Audio.InputDevice = profile.Audio.InputDevice
		result.Inheritance.Audio.InputDevice = "profile-specific"
	}
	if profile.Audio.Player != "" {
		result.Audio.Player = profile.Audio.Player
		result.Inheritance.Audio.Player = "profile-specific"
	}

	if profile.Output.Directory != "" {
		result.Output.Directory = profile.Output.Directory
		result.Inheritance.Output.Directory = "profile-specific"
	}
	if profile.Output.Format != "" {
		result.Output.Format = profile.Output.Format
		result.Inheritance.Output.Format = "profile-specific"
	}

	if profile.Session.TickRate != 0 {
		result.Session.TickRate = profile.Session.TickRate
		result.Inheritance.Session.TickRate = "profile-specific"
	}

	return result
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

var (
	validBackends = []string{"ffmpeg", "auto"}
	validPlayers  = []string{"auto", "aplay", "paplay", "ffplay"}
	validFormats  = []string{"wav"}
)

// Validate checks a resolved configuration.
func Validate(config *Config) error {
	if config.Audio.SampleRate < 8000 || config.Audio.SampleRate > 192000 {
		return fmt.Errorf("audio.sample_rate must be between 8000 and 192000, got: %d", config.Audio.SampleRate)
	}
	if config.Audio.Channels != 1 && config.Audio.Channels != 2 {
		return fmt.Errorf("audio.channels must be 1 or 2, got: %d", config.Audio.Channels)
	}
	if !oneOf(strings.ToLower(config.Audio.Backend), validBackends) {
		return fmt.Errorf("audio.backend must be one of %s, got: %s", strings.Join(validBackends, ", "), config.Audio.Backend)
	}
	if !oneOf(strings.ToLower(config.Audio.Player), validPlayers) {
		return fmt.Errorf("audio.player must be one of %s, got: %s", strings.Join(validPlayers, ", "), config.Audio.Player)
	}
	if strings.TrimSpace(config.Audio.InputFormat) == "" {
		return fmt.Errorf("audio.input_format is required")
	}
	if strings.TrimSpace(config.Audio.InputDevice) == "" {
		return fmt.Errorf("audio.input_device is required")
	}
	if strings.TrimSpace(config.Output.Directory) == "" {
		return fmt.Errorf("output.directory is required")
	}
	if !oneOf(strings.ToLower(config.Output.Format), validFormats) {
		return fmt.Errorf("output.format must be one of %s, got: %s", strings.Join(validFormats, ", "), config.Output.Format)
	}
	if config.Session.TickRate < 1 || config.Session.TickRate > 240 {
		return fmt.Errorf("session.tick_rate must be between 1 and 240, got: %d", config.Session.TickRate)
	}
	return nil
}

func oneOf(value string, allowed []string) bool {
	for _, a := range allowed {
		if value == a {
			return true
		}
	}
	return false
}

// ValidateConfigurationFormat validates the configuration file format and returns parsed config
func ValidateConfigurationFormat(configFile string) (*RootConfig, error) {
	v := viper.New()
	v.SetConfigFile(configFile)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("active_config"); err != nil {
		return nil, fmt.Errorf("error binding environment: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	rootConfig, err := unmarshalRoot(v)
	if err != nil {
		return nil, err
	}

	for name, profile := range rootConfig.Configs {
		if profile == nil {
			return nil, fmt.Errorf("invalid config '%s': profile is empty", name)
		}
		if err := validateProfile(profile); err != nil {
			return nil, fmt.Errorf("invalid config '%s': %w", name, err)
		}
	}

	if rootConfig.ActiveConfig != "" && rootConfig.ActiveConfig != "default" {
		if _, ok := rootConfig.Configs[rootConfig.ActiveConfig]; !ok {
			return nil, fmt.Errorf("active_config '%s' is not defined in configs", rootConfig.ActiveConfig)
		}
	}

	return rootConfig, nil
}

func unmarshalRoot(v *viper.Viper) (*RootConfig, error) {
	var rootConfig RootConfig
	if err := v.Unmarshal(&rootConfig); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return &rootConfig, nil
}

// validateProfile rejects explicit values that can never be valid. Zero
// values are allowed because they inherit.
func validateProfile(profile *ConfigProfile) error {
	a := profile.Audio
	if a.SampleRate < 0 {
		return fmt.Errorf("audio.sample_rate must be >= 0, got: %d", a.SampleRate)
	}
	if a.Channels < 0 || a.Channels > 2 {
		return fmt.Errorf("audio.channels must be 1 or 2, got: %d", a.Channels)
	}
	if a.Backend != "" && !oneOf(strings.ToLower(a.Backend), validBackends) {
		return fmt.Errorf("audio.backend must be one of %s, got: %s", strings.Join(validBackends, ", "), a.Backend)
	}
	if a.Player != "" && !oneOf(strings.ToLower(a.Player), validPlayers) {
		return fmt.Errorf("audio.player must be one of %s, got: %s", strings.Join(validPlayers, ", "), a.Player)
	}
	if profile.Output.Format != "" && !oneOf(strings.ToLower(profile.Output.Format), validFormats) {
		return fmt.Errorf("output.format must be one of %s, got: %s", strings.Join(validFormats, ", "), profile.Output.Format)
	}
	if profile.Session.TickRate < 0 {
		return fmt.Errorf("session.tick_rate must be >= 0, got: %d", profile.Session.TickRate)
	}
	return nil
}
