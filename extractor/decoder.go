package extractor

import (
	"fmt"
	"math"
	"math/rand"

	"gorgonia.org/tensor"
)

// hiddenWidth is the fixed hidden layer size of the non-linear decoder.
const hiddenWidth = 1024

// decoder maps relation representation vectors to label logits: either a
// single linear projection, or two projections with a ReLU in between.
// Weights are stored as (in x out) matrices so the forward pass is a plain
// row-major matmul over the stacked batch.
type decoder struct {
	nonLinear   bool
	inputWidth  int
	outputWidth int

	weights1 *tensor.Dense
	bias1    []float32
	weights2 *tensor.Dense // non-linear variant only
	bias2    []float32
}

func newDecoder(inputWidth, outputWidth int, nonLinear bool, rng *rand.Rand) *decoder {
	d := &decoder{
		nonLinear:   nonLinear,
		inputWidth:  inputWidth,
		outputWidth: outputWidth,
	}
	if nonLinear {
		d.weights1 = xavierUniform(inputWidth, hiddenWidth, rng)
		d.bias1 = make([]float32, hiddenWidth)
		d.weights2 = xavierUniform(hiddenWidth, outputWidth, rng)
		d.bias2 = make([]float32, outputWidth)
	} else {
		d.weights1 = xavierUniform(inputWidth, outputWidth, rng)
		d.bias1 = make([]float32, outputWidth)
	}
	return d
}

// xavierUniform samples a (fanIn x fanOut) matrix from
// U(-sqrt(6/(fanIn+fanOut)), +sqrt(6/(fanIn+fanOut))).
func xavierUniform(fanIn, fanOut int, rng *rand.Rand) *tensor.Dense {
	limit := float32(math.Sqrt(6.0 / float64(fanIn+fanOut)))
	backing := make([]float32, fanIn*fanOut)
	for i := range backing {
		backing[i] = (rng.Float32()*2 - 1) * limit
	}
	return tensor.New(tensor.WithShape(fanIn, fanOut), tensor.WithBacking(backing))
}

// forward computes logits for a (batch x inputWidth) tensor, returning a
// (batch x outputWidth) tensor.
func (d *decoder) forward(x *tensor.Dense) (*tensor.Dense, error) {
	if x.Shape()[1] != d.inputWidth {
		return nil, fmt.Errorf("decoder expects input width %d, got %d", d.inputWidth, x.Shape()[1])
	}

	out, err := matMulBias(x, d.weights1, d.bias1)
	if err != nil {
		return nil, err
	}
	if !d.nonLinear {
		return out, nil
	}

	relu(out)
	return matMulBias(out, d.weights2, d.bias2)
}

func matMulBias(x, w *tensor.Dense, bias []float32) (*tensor.Dense, error) {
	product, err := tensor.MatMul(x, w)
	if err != nil {
		return nil, err
	}
	result := product.(*tensor.Dense)
	values := result.Data().([]float32)
	width := len(bias)
	for i, v := range values {
		values[i] = v + bias[i%width]
	}
	return result, nil
}

func relu(t *tensor.Dense) {
	values := t.Data().([]float32)
	for i, v := range values {
		if v < 0 {
			values[i] = 0
		}
	}
}

// decoderState is the serializable form of a decoder.
type decoderState struct {
	NonLinear   bool      `json:"non_linear"`
	InputWidth  int       `json:"input_width"`
	OutputWidth int       `json:"output_width"`
	Weights1    []float32 `json:"weights_1"`
	Bias1       []float32 `json:"bias_1"`
	Weights2    []float32 `json:"weights_2,omitempty"`
	Bias2       []float32 `json:"bias_2,omitempty"`
}

func (d *decoder) state() decoderState {
	s := decoderState{
		NonLinear:   d.nonLinear,
		InputWidth:  d.inputWidth,
		OutputWidth: d.outputWidth,
		Weights1:    d.weights1.Data().([]float32),
		Bias1:       d.bias1,
	}
	if d.nonLinear {
		s.Weights2 = d.weights2.Data().([]float32)
		s.Bias2 = d.bias2
	}
	return s
}

// loadState replaces the decoder weights with saved ones. The architecture
// must already match; shape mismatches are rejected rather than coerced.
func (d *decoder) loadState(s decoderState) error {
	if s.NonLinear != d.nonLinear || s.InputWidth != d.inputWidth || s.OutputWidth != d.outputWidth {
		return fmt.Errorf("decoder state (non_linear=%t, %dx%d) does not match architecture (non_linear=%t, %dx%d)",
			s.NonLinear, s.InputWidth, s.OutputWidth, d.nonLinear, d.inputWidth, d.outputWidth)
	}
	firstOut := d.outputWidth
	if d.nonLinear {
		firstOut = hiddenWidth
	}
	if len(s.Weights1) != d.inputWidth*firstOut || len(s.Bias1) != firstOut {
		return fmt.Errorf("decoder state: first layer has %d weights and %d biases, expected %d and %d",
			len(s.Weights1), len(s.Bias1), d.inputWidth*firstOut, firstOut)
	}
	d.weights1 = tensor.New(tensor.WithShape(d.inputWidth, firstOut), tensor.WithBacking(s.Weights1))
	d.bias1 = s.Bias1
	if d.nonLinear {
		if len(s.Weights2) != hiddenWidth*d.outputWidth || len(s.Bias2) != d.outputWidth {
			return fmt.Errorf("decoder state: second layer has %d weights and %d biases, expected %d and %d",
				len(s.Weights2), len(s.Bias2), hiddenWidth*d.outputWidth, d.outputWidth)
		}
		d.weights2 = tensor.New(tensor.WithShape(hiddenWidth, d.outputWidth), tensor.WithBacking(s.Weights2))
		d.bias2 = s.Bias2
	}
	return nil
}
