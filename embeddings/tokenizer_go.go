package embeddings

import (
	"bytes"

	sugartokenizer "github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
)

type goTokenizer struct {
	tokenizer *sugartokenizer.Tokenizer
}

func loadGoTokenizer(tokenizerBytes []byte, model *transformer) error {
	tk, tkErr := pretrained.FromReader(bytes.NewReader(tokenizerBytes))
	if tkErr != nil {
		return tkErr
	}
	model.tokenizer = &tokenizer{
		runtime:     "GO",
		goTokenizer: &goTokenizer{tokenizer: tk},
		timings:     &timings{},
		destroy: func() error {
			return nil
		},
	}
	return nil
}

func tokenizeInputsGo(b *batch, tk *tokenizer, inputs []string) error {
	outputs := make([]tokenizedInput, len(inputs))
	maxSequence := 0
	goTK := tk.goTokenizer.tokenizer
	for i, input := range inputs {
		output, err := goTK.EncodeSingle(input, true)
		if err != nil {
			return err
		}

		maxAttentionIndex := 0
		for j, attentionMaskValue := range output.AttentionMask {
			if attentionMaskValue != 0 {
				maxAttentionIndex = j
			}
		}

		outputs[i] = tokenizedInput{
			Raw:               input,
			Tokens:            output.Tokens,
			TokenIDs:          convertIntsToUints(output.Ids),
			TypeIDs:           convertIntsToUints(output.TypeIds),
			AttentionMask:     convertIntsToUints(output.AttentionMask),
			MaxAttentionIndex: maxAttentionIndex,
			SpecialTokensMask: convertIntsToUints(output.SpecialTokenMask),
			Offsets:           convertGoOffsets(output.Offsets),
		}
		if maxAttentionIndex > maxSequence {
			maxSequence = maxAttentionIndex
		}
	}
	b.inputs = outputs
	b.maxSequenceLength = maxSequence + 1
	return nil
}

func convertIntsToUints(input []int) []uint32 {
	output := make([]uint32, len(input))
	for i, x := range input {
		output[i] = uint32(x)
	}
	return output
}

func convertGoOffsets(input [][]int) [][2]uint {
	output := make([][2]uint, len(input))
	for i, x := range input {
		output[i] = [2]uint{uint(x[0]), uint(x[1])}
	}
	return output
}
