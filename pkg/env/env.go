// Package env reads the handful of variables needed before config.Load runs,
// such as the bootstrap log format.
package env

import (
	"os"
	"strconv"
	"strings"
)

// Prefix namespaces every variable the services read.
const Prefix = "ORDERFLOW"

// Key returns the prefixed variable name, e.g. Key("LOG_FORMAT") is
// ORDERFLOW_LOG_FORMAT.
func Key(name string) string {
	return Prefix + "_" + strings.ToUpper(strings.TrimPrefix(name, Prefix+"_"))
}

// Get returns the trimmed value of the prefixed variable or fallback.
func Get(name, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(Key(name))); val != "" {
		return val
	}
	return fallback
}

// Bool parses the prefixed variable with strconv.ParseBool. Unset or
// unparseable values yield fallback.
func Bool(name string, fallback bool) bool {
	raw := Get(name, "")
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return v
}
