package instance

import (
	"fmt"
	"os"

	"github.com/angelmondragon/contentcms/pkg/env"
)

// GetID returns the worker identifier recorded on leased pipeline jobs.
func GetID() string {
	if id := env.Get("CMS_WORKER_ID", ""); id != "" {
		return id
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
