package backend

import (
	"fmt"
)

// ConfigurationError reports a configuration an engine cannot honor:
// unsupported block size, storage layout, halo transforms, or malformed
// options. Detected eagerly at create/setup, never degraded silently.
type ConfigurationError struct {
	Engine string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: unsupported configuration: %s", e.Engine, e.Reason)
}

// AssemblyError reports an engine-side failure from a bulk insert,
// assemble, or solve-infrastructure call, carrying the engine's own code
// and description
type AssemblyError struct {
	Engine string
	Op     string
	Code   int
	Desc   string
}

func (e *AssemblyError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s: %s failed: error %d: %s", e.Engine, e.Op, e.Code, e.Desc)
	}
	return fmt.Sprintf("%s: %s failed: %s", e.Engine, e.Op, e.Desc)
}

// ResourceError reports a process-level runtime failure, such as device
// initialization
type ResourceError struct {
	Component string
	Err       error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("%s: resource initialization failed: %v", e.Component, e.Err)
}

func (e *ResourceError) Unwrap() error {
	return e.Err
}
