package instance

import (
	"os"

	"github.com/angelmondragon/afm-storefront/pkg/env"
)

// GetID identifies the running process in logs: AFM_INSTANCE_ID, then the
// platform's DYNO, then the hostname.
func GetID() string {
	if id := env.First("AFM_INSTANCE_ID", "DYNO"); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "local"
}
