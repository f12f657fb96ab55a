package instance

import (
	"fmt"
	"os"
)

// GetID returns the worker instance identifier used for job and cron locks.
// It falls back to hostname-pid so two processes on one host never share an id.
func GetID() string {
	if id := os.Getenv("ORDERFLOW_WORKER_ID"); id != "" {
		return id
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
