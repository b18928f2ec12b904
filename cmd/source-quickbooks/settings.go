package main

import (
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Settings are the process level options shared by every command
type Settings struct {
	LogLevel      string
	LogFormat     string
	MetricsAddr   string
	EnableTracing bool
	Timeout       time.Duration
}

func bindSettings(v *viper.Viper, flags *pflag.FlagSet) {
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("log-format", "airbyte", "Log encoding: airbyte, json or console")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	flags.Bool("enable-tracing", false, "Export OpenTelemetry spans to stderr")
	flags.Duration("timeout", 0, "Abort the command after this duration (0 disables)")

	v.SetEnvPrefix("QBO")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	_ = v.BindPFlags(flags)
}

func loadSettings(v *viper.Viper) Settings {
	return Settings{
		LogLevel:      v.GetString("log-level"),
		LogFormat:     v.GetString("log-format"),
		MetricsAddr:   v.GetString("metrics-addr"),
		EnableTracing: v.GetBool("enable-tracing"),
		Timeout:       v.GetDuration("timeout"),
	}
}
