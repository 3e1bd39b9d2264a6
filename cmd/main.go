package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v2"

	"github.com/knights-analytics/relex"
	"github.com/knights-analytics/relex/data"
	"github.com/knights-analytics/relex/extractor"
	"github.com/knights-analytics/relex/util"
)

var modelPath string
var inputPath string
var outputPath string
var batchSize int
var modelsDir string
var authToken string

var runCommand = &cli.Command{
	Name:  "run",
	Usage: "Run a relation extraction model on input data",
	Description: `Run expects a path to a file with input in .jsonl format. Each json line must carry the sentence text and its entity
mentions as token ranges, e.g. {"text": "Acme hired Jane", "entities": [{"start": 0, "end": 1, "label": "ORG"}, {"start": 2, "end": 3, "label": "PER"}]}.
Predicted relations between the entities are added to each record.
				`,
	ArgsUsage: `
				--input: path to a .jsonl file or a folder with .jsonl files to process. If omitted, the input will be read from stdin.
				--output: path to a folder where to write the output. If omitted, the output will be sent to stdout.
				--model: path to a relation extractor state file written with Save.
				`,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:        "model",
			Usage:       "Path to the relation extractor state file",
			Aliases:     []string{"p"},
			Destination: &modelPath,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "input",
			Usage:       "Path to the input data",
			Aliases:     []string{"i"},
			Destination: &inputPath,
		},
		&cli.StringFlag{
			Name:        "output",
			Usage:       "Path to output",
			Aliases:     []string{"o"},
			Destination: &outputPath,
		},
		&cli.IntFlag{
			Name:        "batchSize",
			Usage:       "Number of sentences to process in a batch",
			Aliases:     []string{"b"},
			Destination: &batchSize,
			Required:    false,
			Value:       20,
		},
	},
	Action: func(ctx *cli.Context) (err error) {
		session, err := relex.NewSession()
		if err != nil {
			return err
		}

		defer func() {
			err = errors.Join(err, session.Destroy())
		}()

		model, err := session.LoadRelationExtractor("cliExtractor", modelPath)
		if err != nil {
			return err
		}

		inputChannel := make(chan []input, 1000)
		processedChannel := make(chan []byte, 1000)
		errorsChannel := make(chan error, 1000)
		nWriteWorkers := 1
		nProcessWorkers := 1
		var processedWg, writeWg sync.WaitGroup

		for range nProcessWorkers {
			go processWithExtractor(&processedWg, inputChannel, processedChannel, errorsChannel, model)
			processedWg.Add(1)
		}

		var writers []resultWriter

		for i := range nWriteWorkers {
			writer, writerErr := newResultWriter(ctx.Context, outputPath, i)
			if writerErr != nil {
				return writerErr
			}
			writers = append(writers, writer)
			writeWg.Add(1)
			go writeOutputs(&writeWg, processedChannel, errorsChannel, writer.writer)
		}

		defer func() {
			for _, writer := range writers {
				if writer.closeOnExit {
					err = errors.Join(err, writer.writer.Close())
				}
			}
		}()

		// read inputs

		exists, err := util.FileSystem.Exists(ctx.Context, inputPath)
		if err != nil {
			return err
		}
		exists = inputPath != "" && exists

		if exists {
			fileWalker := func(ctx context.Context, baseURL, parent string, info os.FileInfo, reader io.Reader) (toContinue bool, err error) {
				extension := filepath.Ext(info.Name())
				if extension == ".jsonl" {
					err := readInputs(reader, inputChannel)
					if err != nil {
						return false, err
					}
				}
				return true, nil
			}

			err := util.FileSystem.Walk(ctx.Context, inputPath, fileWalker)
			if err != nil {
				return err
			}
		} else {
			if inputPath != "" {
				return fmt.Errorf("file %s does not exist", inputPath)
			}

			if !isatty.IsTerminal(os.Stdin.Fd()) && !isatty.IsCygwinTerminal(os.Stdin.Fd()) {
				// there is something to process on stdin
				err := readInputs(os.Stdin, inputChannel)
				if err != nil {
					return err
				}
			}
		}

		close(inputChannel)
		processedWg.Wait()
		close(processedChannel)
		close(errorsChannel)
		writeWg.Wait()
		return err
	},
}

var downloadCommand = &cli.Command{
	Name:  "download",
	Usage: "Download an embedding model from huggingface",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:        "model",
			Usage:       "Name of the huggingface model to download",
			Aliases:     []string{"p"},
			Destination: &modelPath,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "modelFolder",
			Usage:       "Folder where to store downloaded models. Falls back to $HOME/relex/models if not specified",
			Aliases:     []string{"f"},
			Destination: &modelsDir,
			Required:    false,
			Value:       "",
		},
		&cli.StringFlag{
			Name:        "token",
			Usage:       "Huggingface auth token for gated models",
			Destination: &authToken,
			Required:    false,
		},
	},
	Action: func(ctx *cli.Context) error {
		if modelsDir == "" {
			userDir, err := os.UserHomeDir()
			if err != nil {
				return err
			}
			modelsDir = util.PathJoinSafe(userDir, "relex", "models")
		}
		if strings.Contains(modelPath, ":") {
			return fmt.Errorf("filters with : are currently not supported")
		}
		if err := util.FileSystem.Create(context.Background(), modelsDir, os.ModePerm, true); err != nil {
			return err
		}
		options := relex.NewDownloadOptions()
		options.AuthToken = authToken
		options.Verbose = true
		downloaded, err := relex.DownloadModel(modelPath, modelsDir, options)
		if err != nil {
			return err
		}
		fmt.Println(downloaded)
		return nil
	},
}

type resultWriter struct {
	writer      io.WriteCloser
	closeOnExit bool
}

// newResultWriter opens the i-th output writer: a file under outputPath, or
// stdout when no output path is given. File writers must be closed to commit
// the write, afs s3 writers in particular only upload on Close.
func newResultWriter(ctx context.Context, outputPath string, i int) (resultWriter, error) {
	if outputPath == "" {
		return resultWriter{writer: os.Stdout}, nil
	}
	dest := util.PathJoinSafe(outputPath, fmt.Sprintf("result-%d.jsonl", i))
	writer, err := util.FileSystem.NewWriter(ctx, dest, os.ModePerm)
	if err != nil {
		return resultWriter{}, err
	}
	return resultWriter{writer: writer, closeOnExit: true}, nil
}

func main() {
	app := &cli.App{
		Name:     "relex",
		Usage:    "Relation extraction from the command line",
		Commands: []*cli.Command{runCommand, downloadCommand},
	}
	if err := app.Run(os.Args); err != nil {
		panic(err)
	}
}

func writeOutputs(wg *sync.WaitGroup, processedChannel chan []byte, errorChannel chan error, writeTarget io.WriteCloser) {

	for processedChannel != nil || errorChannel != nil {
		select {
		case output, ok := <-processedChannel:
			if !ok {
				processedChannel = nil
			}
			_, err := writeTarget.Write(output)
			if err != nil {
				panic(err)
			}
			_, err = writeTarget.Write([]byte("\n"))
			if err != nil {
				panic(err)
			}
		case err, ok := <-errorChannel:
			if !ok {
				errorChannel = nil
			}
			if err != nil {
				_, err = os.Stderr.WriteString(err.Error())
				if err != nil {
					panic(err)
				}
			}
		}
	}
	wg.Done()
}

func processWithExtractor(wg *sync.WaitGroup, inputChannel chan []input, processedChannel chan []byte, errorsChannel chan error, model *extractor.RelationExtractor) {
	for inputBatch := range inputChannel {
		sentences := make([]*data.Sentence, len(inputBatch))
		var buildErr error
		for i := range inputBatch {
			sentences[i], buildErr = inputBatch[i].toSentence(model.SpanLabelType())
			if buildErr != nil {
				break
			}
		}
		if buildErr != nil {
			errorsChannel <- buildErr
			continue
		}
		if err := model.Predict(sentences); err != nil {
			errorsChannel <- err
			continue
		}
		for i := range inputBatch {
			out := inputBatch[i]
			out.Relations = collectRelations(sentences[i], out.Entities, model.LabelType())
			outputBytes, marshallErr := json.Marshal(out)
			if marshallErr != nil {
				errorsChannel <- marshallErr
			} else {
				processedChannel <- outputBytes
			}
		}
	}
	wg.Done()
}

func readInputs(inputSource io.Reader, inputChannel chan []input) error {
	inputBatch := make([]input, 0, 20)

	scanner := bufio.NewScanner(inputSource)
	for scanner.Scan() {
		var line input
		err := json.Unmarshal(scanner.Bytes(), &line)
		if err != nil {
			return err
		}
		inputBatch = append(inputBatch, line)
		if len(inputBatch) == batchSize {
			inputChannel <- inputBatch
			inputBatch = []input{}
		}
	}
	// flush
	if len(inputBatch) > 0 {
		inputChannel <- inputBatch
	}
	return nil
}

type entity struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Label string `json:"label"`
}

type relation struct {
	Head  int     `json:"head"`
	Tail  int     `json:"tail"`
	Label string  `json:"label"`
	Score float32 `json:"score"`
}

type input struct {
	Text      string     `json:"text"`
	Entities  []entity   `json:"entities"`
	Relations []relation `json:"relations,omitempty"`
}

func (in input) toSentence(spanLabelType string) (*data.Sentence, error) {
	sentence := data.NewSentence(in.Text)
	for i, e := range in.Entities {
		if e.Start < 0 || e.End > sentence.Len() || e.Start >= e.End {
			return nil, fmt.Errorf("entity %d: token range [%d, %d) is invalid for a %d token sentence", i, e.Start, e.End, sentence.Len())
		}
		sentence.AddSpan(spanLabelType, e.Start, e.End, e.Label, 1)
	}
	return sentence, nil
}

// collectRelations maps predicted relation spans back to positions in the
// record's entity list.
func collectRelations(sentence *data.Sentence, entities []entity, labelType string) []relation {
	indexOf := func(span data.Span) int {
		for i, e := range entities {
			if e.Start == span.First().Index && e.End == span.Last().Index+1 {
				return i
			}
		}
		return -1
	}
	var out []relation
	for _, predicted := range sentence.Relations(labelType) {
		head := indexOf(predicted.Head)
		tail := indexOf(predicted.Tail)
		if head < 0 || tail < 0 {
			continue
		}
		out = append(out, relation{Head: head, Tail: tail, Label: predicted.Value, Score: predicted.Score})
	}
	return out
}
