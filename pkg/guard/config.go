package guard

import (
	"flag"

	"github.com/spf13/viper"
)

type Config struct {
	RulesFile        string `mapstructure:"rules_file"`
	APIListenAddr    string `mapstructure:"api_listen_address"`
	WatchRules       bool   `mapstructure:"watch_rules"`
	ConsoleLog       bool   `mapstructure:"console_log"`
	ManagementPasswd string `mapstructure:"management_password"`
	ConfigFile       string `mapstructure:"config_file"`
}

func DefaultConfig() *Config {
	return &Config{
		RulesFile:     "restrictions.yaml",
		APIListenAddr: ":7779",
		WatchRules:    true,
		ConsoleLog:    false,
		ConfigFile:    "tunnelguard.yaml",
	}
}

// LoadConfig loads configuration from file, environment, and flags, in
// that order of precedence.
func LoadConfig(parseFlags bool) (*Config, error) {
	cfg := DefaultConfig()

	viper.SetConfigName(cfg.ConfigFile)
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/etc/tunnelguard/")
	viper.AddConfigPath("$HOME/.tunnelguard")
	viper.SetEnvPrefix("TUNNELGUARD")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		// No config file is fine, defaults plus env plus flags apply.
	}

	if parseFlags {
		flag.StringVar(&cfg.ConfigFile, "config", cfg.ConfigFile, "Path to the configuration file")
		flag.StringVar(&cfg.RulesFile, "rules", cfg.RulesFile, "Path to the restrictions file")
		flag.StringVar(&cfg.APIListenAddr, "api-listen", cfg.APIListenAddr, "Admin API listen address")
		flag.BoolVar(&cfg.WatchRules, "watch", cfg.WatchRules, "Reload the restrictions file when it changes")
		flag.BoolVar(&cfg.ConsoleLog, "console-log", cfg.ConsoleLog, "Mirror log events to stdout")
		flag.StringVar(&cfg.ManagementPasswd, "management-password", cfg.ManagementPasswd, "Password for the management socket")
		flag.Parse()
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
