package device

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLayoutStrides(t *testing.T) {
	cases := []struct {
		name string
		tag  Layout
		dims []int
		want []int
	}{
		{"nchw", NCHW, []int{2, 3, 4, 5}, []int{60, 20, 5, 1}},
		{"nhwc", NHWC, []int{2, 3, 4, 5}, []int{60, 1, 15, 3}},
		{"oihw", OIHW, []int{8, 3, 2, 2}, []int{12, 4, 2, 1}},
		{"ihwo", IHWO, []int{8, 3, 2, 2}, []int{1, 32, 16, 8}},
		{"x", X, []int{7}, []int{1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, err := NewMemDesc(tc.dims, F32, tc.tag)
			require.NoError(t, err)
			require.Equal(t, tc.want, d.Strides())
		})
	}
}

func TestMemDescEqual(t *testing.T) {
	nhwc, err := NewMemDesc([]int{1, 3, 8, 8}, F32, NHWC)
	require.NoError(t, err)
	nchw, err := NewMemDesc([]int{1, 3, 8, 8}, F32, NCHW)
	require.NoError(t, err)

	t.Run("SameLayout", func(t *testing.T) {
		require.True(t, nhwc.Equal(nhwc))
	})

	t.Run("DifferentLayout", func(t *testing.T) {
		require.False(t, nhwc.Equal(nchw))
		require.False(t, nchw.Equal(nhwc))
	})

	t.Run("DifferentType", func(t *testing.T) {
		other := nhwc
		other.Type = F64
		require.False(t, nhwc.Equal(other))
	})

	t.Run("DifferentDims", func(t *testing.T) {
		other, err := NewMemDesc([]int{1, 3, 8, 9}, F32, NHWC)
		require.NoError(t, err)
		require.False(t, nhwc.Equal(other))
	})

	// With a single channel the channel stride never influences
	// addressing, so channel-first and channel-last coincide.
	t.Run("DegenerateShapesCoincide", func(t *testing.T) {
		a, err := NewMemDesc([]int{2, 1, 4, 5}, F32, NCHW)
		require.NoError(t, err)
		b, err := NewMemDesc([]int{2, 1, 4, 5}, F32, NHWC)
		require.NoError(t, err)
		require.True(t, a.Equal(b))
	})

	t.Run("AnyOnlyEqualsAny", func(t *testing.T) {
		anyDesc, err := NewMemDesc([]int{1, 3, 8, 8}, F32, LayoutAny)
		require.NoError(t, err)
		require.False(t, anyDesc.Equal(nhwc))
		require.False(t, nhwc.Equal(anyDesc))
		require.True(t, anyDesc.Equal(anyDesc))
	})
}

func TestNewMemDescValidation(t *testing.T) {
	cases := []struct {
		name string
		dims []int
		dt   DataType
		tag  Layout
	}{
		{"RankMismatch", []int{1, 2, 3}, F32, NCHW},
		{"ZeroDim", []int{1, 0, 3, 3}, F32, NCHW},
		{"NegativeDim", []int{-1}, F32, X},
		{"UnknownType", []int{1, 2, 3, 4}, DataType(0), NCHW},
		{"AnyBadRank", []int{3, 4}, F32, LayoutAny},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewMemDesc(tc.dims, tc.dt, tc.tag)
			require.Error(t, err)
			require.True(t, IsConstruction(err))
		})
	}

	t.Run("AnyAcceptsRank1And4", func(t *testing.T) {
		_, err := NewMemDesc([]int{5}, F32, LayoutAny)
		require.NoError(t, err)
		_, err = NewMemDesc([]int{1, 2, 3, 4}, F32, LayoutAny)
		require.NoError(t, err)
	})
}

func TestMemDescSizes(t *testing.T) {
	d, err := NewMemDesc([]int{2, 3, 4, 5}, F32, NCHW)
	require.NoError(t, err)
	require.Equal(t, 120, d.NumElems())
	require.Equal(t, 480, d.ByteSize())

	d64, err := NewMemDesc([]int{10}, F64, X)
	require.NoError(t, err)
	require.Equal(t, 80, d64.ByteSize())
}

func TestWithLayout(t *testing.T) {
	d, err := NewMemDesc([]int{1, 3, 8, 8}, F32, LayoutAny)
	require.NoError(t, err)
	require.True(t, d.IsAny())

	c := d.WithLayout(NHWC)
	require.Equal(t, NHWC, c.Tag)
	require.Equal(t, d.Dims, c.Dims)
	require.True(t, d.IsAny(), "original descriptor must not change")
}
