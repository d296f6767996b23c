package device

import (
	"fmt"
	"strings"

	"github.com/notargets/gocca"
	"github.com/notargets/gosles/backend"
)

// Launch shape shared by every kernel. The strided loops handle any row
// count; partial reductions produce nblocks sums finished on the host.
const (
	nblocks   = 64
	blocksize = 64
)

// generatePreamble bakes the value width and the matrix dimensions into
// the kernel source as typedefs and defines, so the same OKL body
// compiles for float32 and float64 storage
func generatePreamble(vt backend.ValueType, nRows, nCols int) string {
	var sb strings.Builder

	floatTypeStr := "double"
	floatSuffix := ""
	if vt == backend.Float32 {
		floatTypeStr = "float"
		floatSuffix = "f"
	}

	sb.WriteString(fmt.Sprintf("typedef %s real_t;\n", floatTypeStr))
	sb.WriteString("typedef int int_t;\n")
	sb.WriteString(fmt.Sprintf("#define REAL_ZERO 0.0%s\n", floatSuffix))
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("#define N_ROWS %d\n", nRows))
	sb.WriteString(fmt.Sprintf("#define N_COLS %d\n", nCols))
	sb.WriteString(fmt.Sprintf("#define NBLOCKS %d\n", nblocks))
	sb.WriteString(fmt.Sprintf("#define BLOCKSIZE %d\n", blocksize))
	sb.WriteString("\n")

	return sb.String()
}

// kernelSources maps kernel name to its OKL body. Vector kernels run over
// the owned rows; SpMV reads the ghost-extended input vector.
var kernelSources = map[string]string{
	"csrSpMV": `
@kernel void csrSpMV(const int_t *rowPtr, const int_t *colInd,
                     const real_t *vals, const real_t *x, real_t *y) {
	for (int b = 0; b < NBLOCKS; ++b; @outer) {
		for (int t = 0; t < BLOCKSIZE; ++t; @inner) {
			for (int i = b * BLOCKSIZE + t; i < N_ROWS; i += NBLOCKS * BLOCKSIZE) {
				real_t sum = REAL_ZERO;
				for (int_t k = rowPtr[i]; k < rowPtr[i + 1]; ++k) {
					sum += vals[k] * x[colInd[k]];
				}
				y[i] = sum;
			}
		}
	}
}`,

	"axpy": `
@kernel void axpy(const real_t alpha, const real_t *x, real_t *y) {
	for (int b = 0; b < NBLOCKS; ++b; @outer) {
		for (int t = 0; t < BLOCKSIZE; ++t; @inner) {
			for (int i = b * BLOCKSIZE + t; i < N_ROWS; i += NBLOCKS * BLOCKSIZE) {
				y[i] += alpha * x[i];
			}
		}
	}
}`,

	"xpay": `
@kernel void xpay(const real_t beta, const real_t *x, real_t *y) {
	for (int b = 0; b < NBLOCKS; ++b; @outer) {
		for (int t = 0; t < BLOCKSIZE; ++t; @inner) {
			for (int i = b * BLOCKSIZE + t; i < N_ROWS; i += NBLOCKS * BLOCKSIZE) {
				y[i] = x[i] + beta * y[i];
			}
		}
	}
}`,

	"assign": `
@kernel void assign(const real_t *x, real_t *y) {
	for (int b = 0; b < NBLOCKS; ++b; @outer) {
		for (int t = 0; t < BLOCKSIZE; ++t; @inner) {
			for (int i = b * BLOCKSIZE + t; i < N_ROWS; i += NBLOCKS * BLOCKSIZE) {
				y[i] = x[i];
			}
		}
	}
}`,

	"pointwiseMul": `
@kernel void pointwiseMul(const real_t *x, const real_t *y, real_t *z) {
	for (int b = 0; b < NBLOCKS; ++b; @outer) {
		for (int t = 0; t < BLOCKSIZE; ++t; @inner) {
			for (int i = b * BLOCKSIZE + t; i < N_ROWS; i += NBLOCKS * BLOCKSIZE) {
				z[i] = x[i] * y[i];
			}
		}
	}
}`,

	"diagExtract": `
@kernel void diagExtract(const int_t *rowPtr, const int_t *colInd,
                         const real_t *vals, real_t *d) {
	for (int b = 0; b < NBLOCKS; ++b; @outer) {
		for (int t = 0; t < BLOCKSIZE; ++t; @inner) {
			for (int i = b * BLOCKSIZE + t; i < N_ROWS; i += NBLOCKS * BLOCKSIZE) {
				real_t diag = REAL_ZERO;
				for (int_t k = rowPtr[i]; k < rowPtr[i + 1]; ++k) {
					if (colInd[k] == i) {
						diag = vals[k];
					}
				}
				d[i] = diag;
			}
		}
	}
}`,

	"dotPartial": `
@kernel void dotPartial(const real_t *x, const real_t *y, real_t *partial) {
	for (int b = 0; b < NBLOCKS; ++b; @outer) {
		for (int t = 0; t < 1; ++t; @inner) {
			real_t sum = REAL_ZERO;
			for (int i = b; i < N_ROWS; i += NBLOCKS) {
				sum += x[i] * y[i];
			}
			partial[b] = sum;
		}
	}
}`,
}

// buildKernels compiles every kernel against one preamble. OCCA does not
// give OpenMP builds a default -O3 flag, so it is passed explicitly
// there.
func buildKernels(device *gocca.OCCADevice, preamble string) (map[string]*gocca.OCCAKernel, error) {
	kernels := make(map[string]*gocca.OCCAKernel, len(kernelSources))
	for name, source := range kernelSources {
		fullSource := preamble + "\n" + source

		var kernel *gocca.OCCAKernel
		var err error
		if device.Mode() == "OpenMP" {
			props := gocca.JsonParse(`{"compiler_flags": "-O3"}`)
			kernel, err = device.BuildKernelFromString(fullSource, name, props)
			props.Free()
		} else {
			kernel, err = device.BuildKernelFromString(fullSource, name, nil)
		}
		if err != nil {
			freeKernels(kernels)
			return nil, &backend.ResourceError{
				Component: engineName,
				Err:       fmt.Errorf("building kernel %s: %w", name, err),
			}
		}
		kernels[name] = kernel
	}
	return kernels, nil
}

func freeKernels(kernels map[string]*gocca.OCCAKernel) {
	for _, k := range kernels {
		k.Free()
	}
}
