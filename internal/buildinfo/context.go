// Package buildinfo holds build-time metadata injected with -ldflags. It is
// kept apart from user configuration.
package buildinfo

import (
	"fmt"

	"github.com/google/uuid"
)

// UnknownValue is reported for metadata that was not set at build time
const UnknownValue = "unknown"

// Context contains build-time metadata that is not user-configurable
type Context struct {
	version    string
	buildDate  string
	instanceID string
}

// NewContext creates a Context. Each process gets a fresh instance ID so
// Sentry events and /healthz output from one run can be correlated.
func NewContext(version, buildDate string) *Context {
	return &Context{
		version:    version,
		buildDate:  buildDate,
		instanceID: uuid.NewString(),
	}
}

// Version returns the Git version tag
func (c *Context) Version() string {
	if c == nil || c.version == "" {
		return UnknownValue
	}
	return c.version
}

// BuildDate returns the time the binary was built
func (c *Context) BuildDate() string {
	if c == nil || c.buildDate == "" {
		return UnknownValue
	}
	return c.buildDate
}

// InstanceID returns the per-process identifier
func (c *Context) InstanceID() string {
	if c == nil || c.instanceID == "" {
		return UnknownValue
	}
	return c.instanceID
}

// Release is the Sentry release name, "pcmio@<version>"
func (c *Context) Release() string {
	return "pcmio@" + c.Version()
}

func (c *Context) String() string {
	return fmt.Sprintf("pcmio %s (built %s)", c.Version(), c.BuildDate())
}
