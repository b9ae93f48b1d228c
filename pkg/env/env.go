package env

import "os"

// Get returns the value of the given environment variable or a fallback.
func Get(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

// InstanceID identifies the running worker replica in logs and lock owners.
func InstanceID() string {
	return Get("WORKER_ID", "worker-0")
}
