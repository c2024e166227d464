package config

import (
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Settings is the process configuration, constructed once at startup and
// passed by reference into the server, agents and clients. There is no
// package-level settings state.
type Settings struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`

	DefaultAgent    string   `mapstructure:"default_agent"`
	DefaultModel    string   `mapstructure:"default_model"`
	AvailableModels []string `mapstructure:"available_models"`

	OpenAIAPIKey string `mapstructure:"openai_api_key"`

	// AnalysisEndpoint is the external expert-analysis SSE API.
	AnalysisEndpoint string        `mapstructure:"analysis_endpoint"`
	AnalysisTimeout  time.Duration `mapstructure:"analysis_timeout"`

	// SearchBaseURL is the vector-similarity search API.
	SearchBaseURL string        `mapstructure:"search_base_url"`
	SearchLimit   int           `mapstructure:"search_limit"`
	SearchTimeout time.Duration `mapstructure:"search_timeout"`

	// CheckpointDSN is the sqlite path for conversation checkpoints; empty
	// selects the in-memory store.
	CheckpointDSN string `mapstructure:"checkpoint_dsn"`

	// PersonasPath points at the YAML file defining expert personas.
	PersonasPath string `mapstructure:"personas_path"`

	LogLevel string `mapstructure:"log_level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8080)
	v.SetDefault("default_agent", "stylist")
	v.SetDefault("default_model", "gpt-4o-mini")
	v.SetDefault("available_models", []string{"gpt-4o-mini", "gpt-4o"})
	// Empty defaults keep env-only keys visible to Unmarshal.
	v.SetDefault("openai_api_key", "")
	v.SetDefault("analysis_endpoint", "")
	v.SetDefault("search_base_url", "")
	v.SetDefault("checkpoint_dsn", "")
	v.SetDefault("analysis_timeout", 60*time.Second)
	v.SetDefault("search_limit", 1)
	v.SetDefault("search_timeout", 10*time.Second)
	v.SetDefault("personas_path", "experts.yaml")
	v.SetDefault("log_level", "info")
}

// Load reads settings from the environment (STYLEMUSE_ prefix) and an
// optional config file.
func Load(configFile string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("stylemuse")
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", configFile)
		}
	}

	s := &Settings{}
	if err := v.Unmarshal(s); err != nil {
		return nil, errors.Wrap(err, "unmarshal settings")
	}
	return s, nil
}

// ValidModel reports whether the requested model is in the configured set.
// An empty request selects the default.
func (s *Settings) ValidModel(model string) bool {
	if model == "" {
		return true
	}
	for _, m := range s.AvailableModels {
		if m == model {
			return true
		}
	}
	return false
}
