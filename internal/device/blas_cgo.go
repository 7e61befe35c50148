//go:build cgo

package device

// Registers the netlib BLAS implementation so the convolution kernels run
// their sgemm on system BLAS (Accelerate on macOS, OpenBLAS on Linux) when
// CGO is available. Without cgo the pure-Go gonum implementation is used.

import (
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/blas/blas32"
	"gonum.org/v1/netlib/blas/netlib"
)

func init() {
	blas32.Use(netlib.Implementation{})
	log.Debug().Msg("⚡ CGO/BLAS Acceleration Enabled (netlib)")
}
