package embeddings

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/daulet/tokenizers"

	"github.com/knights-analytics/relex/util"
)

// tokenizer dispatches between the rust bindings (default) and the pure go
// implementation based on the configured tokenizer runtime.
type tokenizer struct {
	runtime       string
	rustTokenizer *rustTokenizer
	goTokenizer   *goTokenizer
	timings       *timings
	destroy       func() error
}

type rustTokenizer struct {
	tokenizer *tokenizers.Tokenizer
	options   []tokenizers.EncodeOption
}

func loadTokenizerForModel(model *transformer) error {
	tokenizerBytes, err := util.ReadFileBytes(util.PathJoinSafe(model.config.ModelPath, "tokenizer.json"))
	if err != nil {
		return err
	}
	switch model.config.TokenizerRuntime {
	case "RUST":
		return loadRustTokenizer(tokenizerBytes, model)
	case "GO":
		return loadGoTokenizer(tokenizerBytes, model)
	default:
		return fmt.Errorf("tokenizer runtime %s not recognized", model.config.TokenizerRuntime)
	}
}

func loadRustTokenizer(tokenizerBytes []byte, model *transformer) error {
	tk, tkErr := tokenizers.FromBytes(tokenizerBytes)
	if tkErr != nil {
		return tkErr
	}
	rustOptions, optErr := getRustTokenizerOptions(model.inputsMeta)
	if optErr != nil {
		return optErr
	}
	// offsets and the special tokens mask are always needed to align subword
	// tokens back to whitespace words
	rustOptions = append(rustOptions,
		tokenizers.WithReturnSpecialTokensMask(),
		tokenizers.WithReturnOffsets(),
	)
	model.tokenizer = &tokenizer{
		runtime:       "RUST",
		rustTokenizer: &rustTokenizer{tokenizer: tk, options: rustOptions},
		timings:       &timings{},
		destroy: func() error {
			return tk.Close()
		},
	}
	return nil
}

func getRustTokenizerOptions(inputs []inputOutputInfo) ([]tokenizers.EncodeOption, error) {
	var encodeOptions []tokenizers.EncodeOption
	for _, input := range inputs {
		switch input.Name {
		case "input_ids":
			encodeOptions = append(encodeOptions, tokenizers.WithReturnTokens())
		case "token_type_ids":
			encodeOptions = append(encodeOptions, tokenizers.WithReturnTypeIDs())
		case "attention_mask":
			encodeOptions = append(encodeOptions, tokenizers.WithReturnAttentionMask())
		default:
			return nil, fmt.Errorf("input %s not recognized", input.Name)
		}
	}
	return encodeOptions, nil
}

func tokenizeInputs(b *batch, tk *tokenizer, inputs []string) error {
	start := time.Now()
	defer func() {
		atomic.AddUint64(&tk.timings.NumCalls, 1)
		atomic.AddUint64(&tk.timings.TotalNS, uint64(time.Since(start)))
	}()
	switch tk.runtime {
	case "RUST":
		tokenizeInputsRust(b, tk, inputs)
		return nil
	case "GO":
		return tokenizeInputsGo(b, tk, inputs)
	default:
		return fmt.Errorf("tokenizer runtime %s not recognized", tk.runtime)
	}
}

func tokenizeInputsRust(b *batch, tk *tokenizer, inputs []string) {
	outputs := make([]tokenizedInput, len(inputs))
	maxSequence := 0
	rustTK := tk.rustTokenizer
	for i, input := range inputs {
		output := rustTK.tokenizer.EncodeWithOptions(input,
			true,
			rustTK.options...,
		)

		maxAttentionIndex := 0
		for j, attentionMaskValue := range output.AttentionMask {
			if attentionMaskValue != 0 {
				maxAttentionIndex = j
			}
		}

		outputs[i] = tokenizedInput{
			Raw:               input,
			Tokens:            output.Tokens,
			TokenIDs:          output.IDs,
			TypeIDs:           output.TypeIDs,
			AttentionMask:     output.AttentionMask,
			MaxAttentionIndex: maxAttentionIndex,
			SpecialTokensMask: output.SpecialTokensMask,
			Offsets:           convertRustOffsets(output.Offsets),
		}
		if maxAttentionIndex > maxSequence {
			maxSequence = maxAttentionIndex
		}
	}
	b.inputs = outputs
	b.maxSequenceLength = maxSequence + 1
}

func convertRustOffsets(input []tokenizers.Offset) [][2]uint {
	output := make([][2]uint, len(input))
	for i, x := range input {
		output[i] = [2]uint{x[0], x[1]}
	}
	return output
}
