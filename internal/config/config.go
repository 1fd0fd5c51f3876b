// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// GatewayConfig is the process-level configuration (§6): carrier credentials,
// model API key, persistence URL, default VAD overrides, listener bind
// address, log level.
type GatewayConfig struct {
	Host     string `mapstructure:"host" validate:"required"`
	Port     int    `mapstructure:"port" validate:"required"`
	LogLevel string `mapstructure:"log_level" validate:"required"`
	LogFile  string `mapstructure:"log_file"`

	CarrierPath           string `mapstructure:"carrier_path" validate:"required"`
	TwilioAccountSID      string `mapstructure:"twilio_account_sid"`
	TwilioAuthToken       string `mapstructure:"twilio_auth_token"`
	TwilioDialoutNumber   string `mapstructure:"twilio_dialout_number"`
	TwilioCallbackBaseURL string `mapstructure:"twilio_callback_base_url"`

	VonageApplicationID   string `mapstructure:"vonage_application_id"`
	VonagePrivateKey      string `mapstructure:"vonage_private_key"`
	VonageDialoutNumber   string `mapstructure:"vonage_dialout_number"`
	VonageCallbackBaseURL string `mapstructure:"vonage_callback_base_url"`

	SIPTrunkAddr string `mapstructure:"sip_trunk_addr"`
	SIPLocalHost string `mapstructure:"sip_local_host"`
	SIPLocalPort int    `mapstructure:"sip_local_port"`
	SIPFromUser  string `mapstructure:"sip_from_user"`

	ModelAPIKey string `mapstructure:"model_api_key" validate:"required"`
	ModelWSURL  string `mapstructure:"model_ws_url" validate:"required"`

	PostgresConfig PostgresConfig `mapstructure:"postgres" validate:"required"`

	DefaultVADStartSensitivity string `mapstructure:"default_vad_start_sensitivity"`
	DefaultVADEndSensitivity   string `mapstructure:"default_vad_end_sensitivity"`
	DefaultVADSilenceMs        int    `mapstructure:"default_vad_silence_ms"`
	DefaultVADPrefixPaddingMs  int    `mapstructure:"default_vad_prefix_padding_ms"`

	SessionHandoverBudgetMs int `mapstructure:"session_handover_budget_ms"`
	SetupTimeoutSeconds     int `mapstructure:"setup_timeout_seconds"`

	// RoutingSnapshotURL, when set, enables a background poller that keeps
	// the in-memory routing table synced from a collaborator HTTP service
	// rather than relying solely on whatever was loaded at startup.
	RoutingSnapshotURL          string `mapstructure:"routing_snapshot_url"`
	RoutingSnapshotIntervalSecs int    `mapstructure:"routing_snapshot_interval_secs"`
}

// PostgresConfig mirrors a common nested connector config shape.
type PostgresConfig struct {
	Host                string `mapstructure:"host"`
	Port                int    `mapstructure:"port"`
	DBName              string `mapstructure:"db_name"`
	User                string `mapstructure:"auth__user"`
	Password            string `mapstructure:"auth__password"`
	MaxOpenConnections  int    `mapstructure:"max_open_connection"`
	MaxIdealConnections int    `mapstructure:"max_ideal_connection"`
	SSLMode             string `mapstructure:"ssl_mode"`
}

// Init reads configuration from a dotenv-style file (path taken from
// ENV_PATH) plus process environment, the same layered-config pattern
// integration-api config loader uses.
func Init() (*viper.Viper, error) {
	v := viper.NewWithOptions(viper.KeyDelimiter("__"))

	v.AddConfigPath(".")
	v.SetConfigName(".env")
	if path := os.Getenv("ENV_PATH"); path != "" {
		v.SetConfigFile(path)
	}
	v.SetConfigType("env")
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil && !os.IsNotExist(err) {
		// Missing config file is fine; environment variables still apply.
		_ = err
	}
	return v, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("HOST", "0.0.0.0")
	v.SetDefault("PORT", 8080)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FILE", "")
	v.SetDefault("CARRIER_PATH", "/twilio")

	v.SetDefault("VONAGE_APPLICATION_ID", "")
	v.SetDefault("VONAGE_PRIVATE_KEY", "")
	v.SetDefault("VONAGE_DIALOUT_NUMBER", "")
	v.SetDefault("VONAGE_CALLBACK_BASE_URL", "")

	v.SetDefault("SIP_TRUNK_ADDR", "")
	v.SetDefault("SIP_LOCAL_HOST", "0.0.0.0")
	v.SetDefault("SIP_LOCAL_PORT", 5060)
	v.SetDefault("SIP_FROM_USER", "")

	v.SetDefault("POSTGRES__HOST", "localhost")
	v.SetDefault("POSTGRES__PORT", 5432)
	v.SetDefault("POSTGRES__DB_NAME", "voicegateway")
	v.SetDefault("POSTGRES__AUTH__USER", "voicegateway")
	v.SetDefault("POSTGRES__AUTH__PASSWORD", "")
	v.SetDefault("POSTGRES__MAX_OPEN_CONNECTION", 10)
	v.SetDefault("POSTGRES__MAX_IDEAL_CONNECTION", 10)
	v.SetDefault("POSTGRES__SSL_MODE", "disable")

	v.SetDefault("DEFAULT_VAD_START_SENSITIVITY", "med")
	v.SetDefault("DEFAULT_VAD_END_SENSITIVITY", "med")
	v.SetDefault("DEFAULT_VAD_SILENCE_MS", 500)
	v.SetDefault("DEFAULT_VAD_PREFIX_PADDING_MS", 100)

	v.SetDefault("SESSION_HANDOVER_BUDGET_MS", 400)
	v.SetDefault("SETUP_TIMEOUT_SECONDS", 8)

	v.SetDefault("ROUTING_SNAPSHOT_URL", "")
	v.SetDefault("ROUTING_SNAPSHOT_INTERVAL_SECS", 30)
}

// Get unmarshals and validates the gateway configuration. A missing
// required field is a startup failure (process exits non-zero per §6).
func Get(v *viper.Viper) (*GatewayConfig, error) {
	var cfg GatewayConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal gateway config: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validate gateway config: %w", err)
	}
	return &cfg, nil
}
