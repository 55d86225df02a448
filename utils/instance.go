package utils

import (
	"os"

	"github.com/google/uuid"
)

// InstanceIdentity resolves the identifier used to tag every local write.
// It is computed once per process: configured id, then $HOSTNAME, then the
// kernel hostname, and finally a random UUID.
func InstanceIdentity(configured string) string {
	return resolveIdentity(configured, os.Getenv, os.Hostname, uuid.NewString)
}

func resolveIdentity(configured string, getenv func(string) string,
	hostname func() (string, error), generate func() string,
) string {
	if configured != "" {
		return configured
	}
	if h := getenv("HOSTNAME"); h != "" {
		return h
	}
	if h, err := hostname(); err == nil && h != "" {
		return h
	}
	return generate()
}
