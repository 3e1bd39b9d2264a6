package extractor

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

func TestDecoderLinearForward(t *testing.T) {
	d := newDecoder(2, 3, false, rand.New(rand.NewSource(1)))

	// fix the weights so the output is checkable by hand
	d.weights1 = tensor.New(tensor.WithShape(2, 3), tensor.WithBacking([]float32{
		1, 0, 1,
		0, 1, 1,
	}))
	d.bias1 = []float32{0.5, -0.5, 0}

	x := tensor.New(tensor.WithShape(2, 2), tensor.WithBacking([]float32{
		1, 2,
		3, 4,
	}))
	out, err := d.forward(x)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, []int(out.Shape()))
	assert.InDeltaSlice(t, []float32{1.5, 1.5, 3, 3.5, 3.5, 7}, out.Data().([]float32), 1e-6)
}

func TestDecoderNonLinearForward(t *testing.T) {
	d := newDecoder(4, 2, true, rand.New(rand.NewSource(1)))
	require.NotNil(t, d.weights2)

	x := tensor.New(tensor.WithShape(3, 4), tensor.WithBacking(make([]float32, 12)))
	out, err := d.forward(x)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2}, []int(out.Shape()))
}

func TestDecoderRejectsWidthMismatch(t *testing.T) {
	d := newDecoder(4, 2, false, rand.New(rand.NewSource(1)))
	x := tensor.New(tensor.WithShape(1, 3), tensor.WithBacking(make([]float32, 3)))
	_, err := d.forward(x)
	assert.ErrorContains(t, err, "input width")
}

func TestXavierUniformBounds(t *testing.T) {
	m := xavierUniform(8, 4, rand.New(rand.NewSource(1)))
	limit := float32(math.Sqrt(6.0 / 12.0))
	for _, v := range m.Data().([]float32) {
		assert.LessOrEqual(t, v, limit)
		assert.GreaterOrEqual(t, v, -limit)
	}
}

func TestDecoderStateRoundTrip(t *testing.T) {
	original := newDecoder(4, 2, true, rand.New(rand.NewSource(1)))
	restored := newDecoder(4, 2, true, rand.New(rand.NewSource(99)))
	require.NoError(t, restored.loadState(original.state()))

	x := tensor.New(tensor.WithShape(2, 4), tensor.WithBacking([]float32{
		1, -2, 3, -4,
		0.5, 0.5, 0.5, 0.5,
	}))
	expected, err := original.forward(x)
	require.NoError(t, err)
	actual, err := restored.forward(x)
	require.NoError(t, err)
	assert.InDeltaSlice(t, expected.Data().([]float32), actual.Data().([]float32), 1e-6)
}

func TestDecoderLoadStateMismatch(t *testing.T) {
	original := newDecoder(4, 2, false, rand.New(rand.NewSource(1)))
	other := newDecoder(4, 3, false, rand.New(rand.NewSource(1)))
	assert.ErrorContains(t, other.loadState(original.state()), "does not match architecture")

	nonLinear := newDecoder(4, 2, true, rand.New(rand.NewSource(1)))
	assert.ErrorContains(t, nonLinear.loadState(original.state()), "does not match architecture")
}
