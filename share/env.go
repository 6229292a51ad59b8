package mxshare

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvString returns the trimmed value of the first non-blank env var in keys;
// otherwise it returns fallback.
func EnvString(fallback string, keys ...string) string {
	for _, key := range keys {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
	}
	return fallback
}

// EnvInt parses an integer env value; when unset or blank, it returns fallback.
func EnvInt(fallback int, keys ...string) (int, error) {
	raw := EnvString("", keys...)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

// EnvBool parses a boolean env value; when unset or blank, it returns fallback.
func EnvBool(fallback bool, keys ...string) (bool, error) {
	raw := EnvString("", keys...)
	if raw == "" {
		return fallback, nil
	}
	return strconv.ParseBool(raw)
}

// EnvDuration parses a time.Duration env value; when unset or blank, it returns fallback.
func EnvDuration(fallback time.Duration, keys ...string) (time.Duration, error) {
	raw := EnvString("", keys...)
	if raw == "" {
		return fallback, nil
	}
	return time.ParseDuration(raw)
}
