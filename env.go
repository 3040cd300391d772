// FILE: env.go
// Package main – Environment helpers.
//
// Small helpers to read environment variables with sane defaults. Secrets
// (API credentials, webhook URL) are read exclusively through these; every
// other knob lives in the YAML config (see config.go).

package main

import (
	"os"
	"strings"
)

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "y", "yes":
		return true
	case "0", "false", "n", "no":
		return false
	default:
		return def
	}
}
