// Package solver carries the per-equation solve state an application keeps
// across time steps: a reference-counted engine runtime and named handles
// owning one backend matrix/solver pair each, with setup/solve counters,
// iteration statistics, and wall-time accumulators.
package solver

import (
	"fmt"
	"sync"

	"github.com/notargets/gocca"
	"github.com/notargets/gosles/backend"
	"github.com/notargets/gosles/backend/device"
	"github.com/notargets/gosles/backend/ij"
)

// Runtime is the process-wide engine lifecycle, shared by every handle.
// The first handle initializes the engine (and creates the OCCA device
// when device properties are set); the last handle to be destroyed tears
// it down again. There is no global instance; the caller owns the Runtime
// and passes it to each New.
type Runtime struct {
	mu sync.Mutex

	// deviceProps is an OCCA properties JSON like
	// {"mode": "CUDA", "device_id": 0}; empty selects the host IJ engine
	deviceProps string

	engine backend.Engine
	dev    *gocca.OCCADevice
	refs   int
}

// NewRuntime prepares a runtime. Nothing is initialized until the first
// handle registers.
func NewRuntime(deviceProps string) *Runtime {
	return &Runtime{deviceProps: deviceProps}
}

func (rt *Runtime) initLocked() error {
	if rt.engine != nil {
		return nil
	}
	if rt.deviceProps == "" {
		rt.engine = ij.New()
		return nil
	}
	dev, err := gocca.NewDevice(rt.deviceProps)
	if err != nil {
		return &backend.ResourceError{
			Component: "solver runtime",
			Err:       fmt.Errorf("creating device from %s: %w", rt.deviceProps, err),
		}
	}
	rt.dev = dev
	rt.engine = device.New(dev)
	return nil
}

// retain registers a handle, initializing the engine on the first call
func (rt *Runtime) retain() (backend.Engine, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if err := rt.initLocked(); err != nil {
		return nil, err
	}
	rt.refs++
	return rt.engine, nil
}

// release drops a handle registration; the last release finalizes the
// engine and frees the device
func (rt *Runtime) release() {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.refs == 0 {
		panic("solver: runtime released more times than retained")
	}
	rt.refs--
	if rt.refs == 0 {
		if rt.dev != nil {
			rt.dev.Free()
			rt.dev = nil
		}
		rt.engine = nil
	}
}

// Engine exposes the active engine so the caller can drive assembly
// sessions against it. It is nil before the first handle registers and
// after the last one is destroyed.
func (rt *Runtime) Engine() backend.Engine {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.engine
}
