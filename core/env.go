package core

import (
	"os"
	"strconv"
)

// envInt reads name from the environment, falling back to def if unset or
// unparsable.
func envInt(name string, def int) int {
	v, ok := os.LookupEnv(name)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// envString reads name from the environment, falling back to def if unset.
func envString(name, def string) string {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return def
	}
	return v
}

// envBool reads name from the environment, falling back to def if unset
// or unparsable. Accepts the same forms as strconv.ParseBool.
func envBool(name string, def bool) bool {
	v, ok := os.LookupEnv(name)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
