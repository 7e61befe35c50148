package simd

import (
	"testing"
)

func TestVecAdd(t *testing.T) {
	dst := []float32{1, 2, 3, 4, 5}
	src := []float32{10, 20, 30, 40, 50}
	expected := []float32{11, 22, 33, 44, 55}

	VecAdd(dst, src)

	for i, v := range dst {
		if v != expected[i] {
			t.Errorf("VecAdd(%d) = %f, want %f", i, v, expected[i])
		}
	}
}

func TestAddScalar(t *testing.T) {
	dst := []float32{1, 2, 3, 4, 5, 6}
	expected := []float32{3.5, 4.5, 5.5, 6.5, 7.5, 8.5}

	AddScalar(dst, 2.5)

	for i, v := range dst {
		if v != expected[i] {
			t.Errorf("AddScalar(%d) = %f, want %f", i, v, expected[i])
		}
	}
}

func TestScale(t *testing.T) {
	dst := []float32{1, -2, 3, -4, 5}
	expected := []float32{2, -4, 6, -8, 10}

	Scale(dst, 2)

	for i, v := range dst {
		if v != expected[i] {
			t.Errorf("Scale(%d) = %f, want %f", i, v, expected[i])
		}
	}
}

func TestReLU(t *testing.T) {
	t.Run("Clamp", func(t *testing.T) {
		dst := []float32{-2, -0.5, 0, 0.5, 2}
		expected := []float32{0, 0, 0, 0.5, 2}

		ReLU(dst, 0)

		for i, v := range dst {
			if v != expected[i] {
				t.Errorf("ReLU(%d) = %f, want %f", i, v, expected[i])
			}
		}
	})

	t.Run("NegativeSlope", func(t *testing.T) {
		dst := []float32{-2, -1, 0, 1}
		expected := []float32{-0.2, -0.1, 0, 1}

		ReLU(dst, 0.1)

		for i, v := range dst {
			if v != expected[i] {
				t.Errorf("ReLU(%d) = %f, want %f", i, v, expected[i])
			}
		}
	})
}

// Benchmarks

func BenchmarkVecAdd(b *testing.B) {
	size := 128
	v1 := make([]float32, size)
	v2 := make([]float32, size)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		VecAdd(v1, v2)
	}
}

func BenchmarkReLU(b *testing.B) {
	size := 128
	v := make([]float32, size)
	for i := range v {
		v[i] = float32(i%5) - 2
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ReLU(v, 0)
	}
}
