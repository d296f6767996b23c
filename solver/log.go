package solver

import (
	"fmt"
	"io"
)

// LogKind selects which summary Log renders
type LogKind int

const (
	// LogSetup describes the binding: engine, storage format, value
	// width, effective configuration
	LogSetup LogKind = iota
	// LogPerformance reports the counters and timers accumulated so far
	LogPerformance
)

// Log writes a text summary of the handle to w
func (h *Handle) Log(w io.Writer, kind LogKind) {
	switch kind {
	case LogSetup:
		config := "(engine defaults)"
		switch {
		case h.configured && h.resolved != "":
			config = h.resolved
		case !h.configured && h.config != "":
			config = h.config
		case !h.configured && h.configFile != "":
			config = "file: " + h.configFile
		}
		width := "-"
		if h.width != 0 {
			width = h.width.String()
		}
		fmt.Fprintf(w, "\n%s:\n", h.name)
		fmt.Fprintf(w, "  Engine:                    %s\n", h.engine.Name())
		fmt.Fprintf(w, "  Storage format:            %s\n", h.engine.Format())
		fmt.Fprintf(w, "  Value width:               %s\n", width)
		fmt.Fprintf(w, "  Configuration:             %s\n", config)

	case LogPerformance:
		mean := 0
		if h.nSolves > 0 {
			mean = h.totalIter / h.nSolves
		}
		fmt.Fprintf(w, "\n%s performance:\n", h.name)
		fmt.Fprintf(w, "  Number of setups:          %d\n", h.nSetups)
		fmt.Fprintf(w, "  Number of solves:          %d\n", h.nSolves)
		fmt.Fprintf(w, "  Iterations min/max/mean:   %d / %d / %d\n",
			h.minIter, h.maxIter, mean)
		fmt.Fprintf(w, "  Total setup time:          %.3f s\n", h.setupTime.Seconds())
		fmt.Fprintf(w, "  Total solve time:          %.3f s\n", h.solveTime.Seconds())
	}
}
