package config

// SlackConfig holds resolved Slack notification settings.
type SlackConfig struct {
	Enabled  bool
	TokenEnv string // env var holding the bot token (default: "SLACK_BOT_TOKEN")
	Channel  string
}

// SystemConfig groups resolved system-wide infrastructure settings: the
// environment knobs plus anything carried over from
// orchestrator.yaml's "system" block.
type SystemConfig struct {
	// AdminPasswordEnv names the env var holding the admin HTTP API password
	// (default: "ADMIN_PASSWORD" — the var name, not the secret itself).
	AdminPasswordEnv string

	// RAGIngestDir is the watch-directory root for pkg/ingestion
	// (env: RAG_INGEST_DIR).
	RAGIngestDir string

	// BrainDir is the root for sovereign files and filed documents
	// (env: BRAIN_DIR).
	BrainDir string

	// NightShiftStart/NightShiftEnd bound the ingestion deferral window,
	// "HH:MM" in Timezone (env: NIGHT_SHIFT_START / NIGHT_SHIFT_END).
	NightShiftStart string
	NightShiftEnd   string

	// Timezone interprets Schedule/Window/NightShift wall-clock values
	// (env: AGENT_TIMEZONE, default "UTC").
	Timezone string

	// RouterBase / GatewayBase are the HTTP base URLs LLM providers resolve
	// against when they don't set their own BaseURL (env: ROUTER_BASE,
	// GATEWAY_BASE).
	RouterBase  string
	GatewayBase string

	AllowedWSOrigins []string
	Slack            *SlackConfig
	Retention        *RetentionConfig
}

// SystemYAMLConfig is the "system" block of orchestrator.yaml.
type SystemYAMLConfig struct {
	AllowedWSOrigins []string         `yaml:"allowed_ws_origins"`
	Slack            *SlackYAMLConfig `yaml:"slack"`
	Retention        *RetentionConfig `yaml:"retention"`
}

// SlackYAMLConfig holds Slack notification settings from YAML.
type SlackYAMLConfig struct {
	Enabled  *bool  `yaml:"enabled,omitempty"`
	TokenEnv string `yaml:"token_env,omitempty"`
	Channel  string `yaml:"channel,omitempty"`
}

// resolveSystemConfig merges orchestrator.yaml's system block with the
// process environment, applying built-in defaults for anything unset.
func resolveSystemConfig(sys *SystemYAMLConfig, env envLookup) *SystemConfig {
	cfg := &SystemConfig{
		AdminPasswordEnv: "ADMIN_PASSWORD",
		RAGIngestDir:     env.getOr("RAG_INGEST_DIR", "./ingest"),
		BrainDir:         env.getOr("BRAIN_DIR", "./brain"),
		NightShiftStart:  env.getOr("NIGHT_SHIFT_START", "23:00"),
		NightShiftEnd:    env.getOr("NIGHT_SHIFT_END", "06:00"),
		Timezone:         env.getOr("AGENT_TIMEZONE", "UTC"),
		RouterBase:       env.get("ROUTER_BASE"),
		GatewayBase:      env.get("GATEWAY_BASE"),
		Slack:            &SlackConfig{Enabled: false, TokenEnv: "SLACK_BOT_TOKEN"},
		Retention:        DefaultRetentionConfig(),
	}

	if sys == nil {
		return cfg
	}
	cfg.AllowedWSOrigins = sys.AllowedWSOrigins
	if sys.Retention != nil {
		cfg.Retention = sys.Retention
	}
	if sys.Slack != nil {
		if sys.Slack.Enabled != nil {
			cfg.Slack.Enabled = *sys.Slack.Enabled
		}
		if sys.Slack.TokenEnv != "" {
			cfg.Slack.TokenEnv = sys.Slack.TokenEnv
		}
		if sys.Slack.Channel != "" {
			cfg.Slack.Channel = sys.Slack.Channel
		}
	}
	return cfg
}

// envLookup is a thin seam over os.LookupEnv so tests can inject a fake
// environment without mutating process state.
type envLookup func(string) (string, bool)

func (e envLookup) get(name string) string {
	v, _ := e(name)
	return v
}

func (e envLookup) getOr(name, fallback string) string {
	if v, ok := e(name); ok && v != "" {
		return v
	}
	return fallback
}
