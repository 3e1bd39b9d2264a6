package embeddings

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/advancedclimatesystems/gonnx"
	ort "github.com/yalue/onnxruntime_go"
	"gorgonia.org/tensor"

	"github.com/knights-analytics/relex/util"
)

// transformer is the shared onnx model behind both embedder kinds. It holds
// either an onnxruntime session (Runtime "ORT", default) or a pure go gonnx
// session (Runtime "GO").
type transformer struct {
	config      Config
	ortSession  *ort.DynamicAdvancedSession
	goSession   *gonnx.Model
	tokenizer   *tokenizer
	inputsMeta  []inputOutputInfo
	outputsMeta []inputOutputInfo
	output      inputOutputInfo
	length      int
	training    bool
	timings     *timings
}

type inputOutputInfo struct {
	Name       string
	Dimensions []int64
}

type timings struct {
	NumCalls uint64
	TotalNS  uint64
}

// batch carries one tokenized encode call through the model.
type batch struct {
	inputs            []tokenizedInput
	maxSequenceLength int
	// per input: sequence x hidden for 3D outputs, or a single vector for 2D
	tokenVectors [][][]float32
	docVectors   [][]float32
}

// tokenizedInput holds the result of running the tokenizer on an input.
type tokenizedInput struct {
	Raw               string
	Tokens            []string
	TokenIDs          []uint32
	TypeIDs           []uint32
	AttentionMask     []uint32
	SpecialTokensMask []uint32
	MaxAttentionIndex int
	Offsets           [][2]uint
}

func loadTransformer(config Config) (*transformer, error) {
	if config.Runtime == "" {
		config.Runtime = RuntimeORT
	}
	if config.TokenizerRuntime == "" {
		config.TokenizerRuntime = "RUST"
	}

	model := &transformer{config: config, timings: &timings{}}

	onnxBytes, err := loadOnnxModelBytes(config.ModelPath, config.OnnxFilename)
	if err != nil {
		return nil, err
	}

	switch config.Runtime {
	case RuntimeORT:
		err = createORTSession(model, onnxBytes)
	case RuntimeGo:
		err = createGoSession(model, onnxBytes)
	default:
		err = fmt.Errorf("runtime %s not recognized", config.Runtime)
	}
	if err != nil {
		return nil, err
	}

	if err := loadTokenizerForModel(model); err != nil {
		return nil, err
	}

	// The embedding width is fixed per instance and sizes the decoder of any
	// head built on top, so an undetermined width is a construction failure.
	model.output = pickOutput(model.outputsMeta)
	dims := model.output.Dimensions
	if len(dims) == 0 || dims[len(dims)-1] <= 0 {
		return nil, fmt.Errorf("cannot determine embedding length from output %s with dimensions %v",
			model.output.Name, dims)
	}
	model.length = int(dims[len(dims)-1])

	return model, nil
}

// pickOutput prefers the conventional transformer output names and otherwise
// falls back to the first output, like the huggingface pipelines do.
func pickOutput(outputs []inputOutputInfo) inputOutputInfo {
	for _, name := range []string{"last_hidden_state", "sentence_embedding", "pooler_output", "logits"} {
		for _, output := range outputs {
			if output.Name == name {
				return output
			}
		}
	}
	return outputs[0]
}

func loadOnnxModelBytes(modelPath string, modelFilename string) ([]byte, error) {
	var modelOnnxFile string
	onnxFiles, err := getOnnxFiles(modelPath)
	if err != nil {
		return nil, err
	}
	if len(onnxFiles) == 0 {
		return nil, fmt.Errorf("no .onnx file detected at %s. There should be exactly one .onnx file", modelPath)
	}
	if len(onnxFiles) > 1 {
		if modelFilename == "" {
			return nil, fmt.Errorf("multiple .onnx files detected at %s and no OnnxFilename specified", modelPath)
		}
		modelNameFound := false
		for i := range onnxFiles {
			if onnxFiles[i][1] == modelFilename {
				modelNameFound = true
				modelOnnxFile = util.PathJoinSafe(onnxFiles[i]...)
			}
		}
		if !modelNameFound {
			return nil, fmt.Errorf("file %s not found at %s", modelFilename, modelPath)
		}
	} else {
		modelOnnxFile = util.PathJoinSafe(onnxFiles[0]...)
	}
	return util.ReadFileBytes(modelOnnxFile)
}

func getOnnxFiles(path string) ([][]string, error) {
	var onnxFiles [][]string
	walker := func(_ context.Context, _ string, parent string, info os.FileInfo, _ io.Reader) (toContinue bool, err error) {
		if strings.HasSuffix(info.Name(), ".onnx") {
			onnxFiles = append(onnxFiles, []string{util.PathJoinSafe(path, parent), info.Name()})
		}
		return true, nil
	}
	err := util.FileSystem.Walk(context.Background(), path, walker)
	return onnxFiles, err
}

func createORTSession(model *transformer, onnxBytes []byte) error {
	inputs, outputs, err := ort.GetInputOutputInfoWithONNXData(onnxBytes)
	if err != nil {
		return err
	}
	model.inputsMeta = convertORTInputOutputs(inputs)
	model.outputsMeta = convertORTInputOutputs(outputs)

	var inputNames []string
	var outputNames []string
	for _, v := range model.inputsMeta {
		inputNames = append(inputNames, v.Name)
	}
	for _, v := range model.outputsMeta {
		outputNames = append(outputNames, v.Name)
	}
	session, errSession := ort.NewDynamicAdvancedSessionWithONNXData(
		onnxBytes,
		inputNames,
		outputNames,
		nil,
	)
	if errSession != nil {
		return errSession
	}
	model.ortSession = session
	return nil
}

func convertORTInputOutputs(inputOutputs []ort.InputOutputInfo) []inputOutputInfo {
	converted := make([]inputOutputInfo, len(inputOutputs))
	for i, inputOutput := range inputOutputs {
		converted[i] = inputOutputInfo{
			Name:       inputOutput.Name,
			Dimensions: inputOutput.Dimensions,
		}
	}
	return converted
}

func createGoSession(model *transformer, onnxBytes []byte) error {
	goModel, err := gonnx.NewModelFromBytes(onnxBytes)
	if err != nil {
		return err
	}
	inputShapes := goModel.InputShapes()
	for _, name := range goModel.InputNames() {
		shape := inputShapes[name]
		dimensions := make([]int64, len(shape))
		for i, y := range shape {
			dimensions[i] = y.Size
		}
		model.inputsMeta = append(model.inputsMeta, inputOutputInfo{Name: name, Dimensions: dimensions})
	}
	outputShapes := goModel.OutputShapes()
	for _, name := range goModel.OutputNames() {
		shape := outputShapes[name]
		dimensions := make([]int64, len(shape))
		for i, y := range shape {
			dimensions[i] = y.Size
		}
		model.outputsMeta = append(model.outputsMeta, inputOutputInfo{Name: name, Dimensions: dimensions})
	}
	model.goSession = goModel
	return nil
}

// encode tokenizes the inputs, runs the session and reshapes the selected
// output into per-input vectors.
func (model *transformer) encode(inputs []string) (*batch, error) {
	start := time.Now()
	b := &batch{}
	if err := tokenizeInputs(b, model.tokenizer, inputs); err != nil {
		return nil, err
	}

	var err error
	switch {
	case model.ortSession != nil:
		err = model.runORT(b)
	case model.goSession != nil:
		err = model.runGo(b)
	default:
		err = fmt.Errorf("transformer has no active session")
	}
	if err != nil {
		return nil, err
	}
	atomic.AddUint64(&model.timings.NumCalls, 1)
	atomic.AddUint64(&model.timings.TotalNS, uint64(time.Since(start)))
	return b, nil
}

func (model *transformer) runORT(b *batch) error {
	batchSize := len(b.inputs)
	tensorSize := batchSize * b.maxSequenceLength

	inputTensors := make([]ort.Value, len(model.inputsMeta))
	defer func() {
		for _, ortTensor := range inputTensors {
			if ortTensor != nil {
				_ = ortTensor.Destroy()
			}
		}
	}()

	for i, inputMeta := range model.inputsMeta {
		backingSlice := make([]int64, tensorSize)
		counter := 0
		for _, input := range b.inputs {
			length := len(input.TokenIDs)
			for j := 0; j < b.maxSequenceLength; j++ {
				if j+1 <= length {
					switch inputMeta.Name {
					case "input_ids":
						backingSlice[counter] = int64(input.TokenIDs[j])
					case "token_type_ids":
						backingSlice[counter] = int64(input.TypeIDs[j])
					case "attention_mask":
						backingSlice[counter] = int64(input.AttentionMask[j])
					default:
						return fmt.Errorf("input %s not recognized", inputMeta.Name)
					}
				} else {
					backingSlice[counter] = 0 // pad with zero
				}
				counter++
			}
		}
		inputTensor, tensorErr := ort.NewTensor(ort.NewShape(int64(batchSize), int64(b.maxSequenceLength)), backingSlice)
		if tensorErr != nil {
			return tensorErr
		}
		inputTensors[i] = inputTensor
	}

	// allocate outputs with the dynamic axes resolved
	outputTensors := make([]ort.Value, len(model.outputsMeta))
	defer func() {
		for _, output := range outputTensors {
			if output != nil {
				_ = output.Destroy()
			}
		}
	}()

	outputIndex := -1
	for i, meta := range model.outputsMeta {
		if meta.Name == model.output.Name {
			outputIndex = i
		}
		var batchDimSet bool
		var tokenDimSet bool
		actualDims := make([]int64, 0, len(meta.Dimensions))
		for _, dim := range meta.Dimensions {
			if dim == -1 {
				if !batchDimSet {
					actualDims = append(actualDims, int64(batchSize))
					batchDimSet = true
				} else if !tokenDimSet {
					actualDims = append(actualDims, int64(b.maxSequenceLength))
					tokenDimSet = true
				} else {
					return fmt.Errorf("only two axes can be dynamic (batch size and number of tokens)")
				}
			} else {
				actualDims = append(actualDims, dim)
			}
		}
		outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(actualDims...))
		if err != nil {
			return err
		}
		outputTensors[i] = outputTensor
	}

	if err := model.ortSession.Run(inputTensors, outputTensors); err != nil {
		return err
	}

	selected := outputTensors[outputIndex].(*ort.Tensor[float32])
	return reshapeOutput(b, selected.GetData(), selected.GetShape(), model.length)
}

func (model *transformer) runGo(b *batch) error {
	inputMap := map[string]tensor.Tensor{}
	for _, inputMeta := range model.inputsMeta {
		backingSlice := make([]uint32, len(b.inputs)*b.maxSequenceLength)
		counter := 0
		for _, input := range b.inputs {
			length := len(input.TokenIDs)
			for j := 0; j < b.maxSequenceLength; j++ {
				if j+1 <= length {
					switch inputMeta.Name {
					case "input_ids":
						backingSlice[counter] = input.TokenIDs[j]
					case "token_type_ids":
						backingSlice[counter] = input.TypeIDs[j]
					case "attention_mask":
						backingSlice[counter] = input.AttentionMask[j]
					default:
						return fmt.Errorf("input %s not recognized", inputMeta.Name)
					}
				} else {
					backingSlice[counter] = 0 // pad with zero
				}
				counter++
			}
		}
		inputMap[inputMeta.Name] = tensor.New(
			tensor.Of(tensor.Uint32),
			tensor.WithShape(len(b.inputs), b.maxSequenceLength),
			tensor.WithBacking(backingSlice),
		)
	}

	outputs, err := model.goSession.Run(inputMap)
	if err != nil {
		return err
	}
	selected, ok := outputs[model.output.Name]
	if !ok {
		return fmt.Errorf("output %s missing from session result", model.output.Name)
	}
	values, ok := selected.Data().([]float32)
	if !ok {
		return fmt.Errorf("output %s is not a float32 tensor", model.output.Name)
	}
	shape := selected.Shape()
	dims := make([]int64, len(shape))
	for i, d := range shape {
		dims[i] = int64(d)
	}
	return reshapeOutput(b, values, dims, model.length)
}

// reshapeOutput slices the flat session output into per-input token matrices
// (3D outputs) or vectors (2D outputs).
func reshapeOutput(b *batch, values []float32, dims []int64, hidden int) error {
	batchSize := len(b.inputs)
	switch len(dims) {
	case 3:
		sequence := int(dims[1])
		b.tokenVectors = make([][][]float32, batchSize)
		for i := 0; i < batchSize; i++ {
			tokens := make([][]float32, sequence)
			for j := 0; j < sequence; j++ {
				offset := (i*sequence + j) * hidden
				tokens[j] = values[offset : offset+hidden]
			}
			b.tokenVectors[i] = tokens
		}
	case 2:
		b.docVectors = make([][]float32, batchSize)
		for i := 0; i < batchSize; i++ {
			offset := i * hidden
			b.docVectors[i] = values[offset : offset+hidden]
		}
	default:
		return fmt.Errorf("expected a 2D or 3D output, got %d dimensions", len(dims))
	}
	return nil
}

func (model *transformer) Length() int {
	return model.length
}

func (model *transformer) Config() Config {
	return model.config
}

func (model *transformer) Train() {
	model.training = true
}

func (model *transformer) Eval() {
	model.training = false
}

func (model *transformer) Stats() []string {
	return []string{
		fmt.Sprintf("Statistics for embedder: %s", model.config.ModelPath),
		fmt.Sprintf("Tokenizer: Total time=%s, Execution count=%d, Average query time=%s",
			time.Duration(model.tokenizer.timings.TotalNS),
			model.tokenizer.timings.NumCalls,
			time.Duration(float64(model.tokenizer.timings.TotalNS)/math.Max(1, float64(model.tokenizer.timings.NumCalls)))),
		fmt.Sprintf("ONNX: Total time=%s, Execution count=%d, Average query time=%s",
			time.Duration(model.timings.TotalNS),
			model.timings.NumCalls,
			time.Duration(float64(model.timings.TotalNS)/math.Max(1, float64(model.timings.NumCalls)))),
	}
}

func (model *transformer) Destroy() error {
	var err error
	if model.tokenizer != nil {
		err = model.tokenizer.destroy()
	}
	if model.ortSession != nil {
		if destroyErr := model.ortSession.Destroy(); destroyErr != nil {
			err = destroyErr
		}
		model.ortSession = nil
	}
	model.goSession = nil
	return err
}
