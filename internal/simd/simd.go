package simd

// VecAdd performs dst += src for float32 vectors
func VecAdd(dst, src []float32) {
	// Unrolled loop for better pipelining
	i := 0
	for ; i <= len(dst)-4; i += 4 {
		dst[i] += src[i]
		dst[i+1] += src[i+1]
		dst[i+2] += src[i+2]
		dst[i+3] += src[i+3]
	}
	// Handle remainder
	for ; i < len(dst); i++ {
		dst[i] += src[i]
	}
}

// AddScalar performs dst[i] += val for every element
func AddScalar(dst []float32, val float32) {
	i := 0
	for ; i <= len(dst)-4; i += 4 {
		dst[i] += val
		dst[i+1] += val
		dst[i+2] += val
		dst[i+3] += val
	}
	for ; i < len(dst); i++ {
		dst[i] += val
	}
}

// Scale performs dst[i] *= val for every element
func Scale(dst []float32, val float32) {
	i := 0
	for ; i <= len(dst)-4; i += 4 {
		dst[i] *= val
		dst[i+1] *= val
		dst[i+2] *= val
		dst[i+3] *= val
	}
	for ; i < len(dst); i++ {
		dst[i] *= val
	}
}

// ReLU applies x < 0 ? alpha*x : x in place. alpha is the negative-slope
// coefficient; zero gives the standard clamp to >= 0.
func ReLU(dst []float32, alpha float32) {
	for i, v := range dst {
		if v < 0 {
			dst[i] = alpha * v
		}
	}
}
