package relex

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/bodaay/HuggingFaceModelDownloader/hfdownloader"

	"github.com/knights-analytics/relex/util"
)

// DownloadOptions is a struct of options that can be passed to DownloadModel.
type DownloadOptions struct {
	AuthToken             string
	Branch                string
	MaxRetries            int
	RetryInterval         int
	ConcurrentConnections int
	Verbose               bool
}

// NewDownloadOptions creates new DownloadOptions struct with default values.
// Override the values to specify different download options.
func NewDownloadOptions() DownloadOptions {
	d := DownloadOptions{}
	d.Branch = "main"
	d.MaxRetries = 5
	d.RetryInterval = 5
	d.ConcurrentConnections = 5
	return d
}

// DownloadModel downloads an embedding model directly from huggingface. After
// the download the model directory is validated: embedding models need an
// .onnx file and a tokenizer.json file. The path to the downloaded model
// directory is returned.
func DownloadModel(modelName string, destination string, options DownloadOptions) (string, error) {
	modelP := modelName
	if strings.Contains(modelP, ":") {
		modelP = strings.Split(modelName, ":")[0]
	}
	modelPath := path.Join(destination, strings.Replace(modelP, "/", "_", -1))

	attempt := 1
	for {
		downloadErr := hfdownloader.DownloadModel(modelName, false, false, false, destination, options.Branch, options.ConcurrentConnections, options.AuthToken, !options.Verbose)
		if downloadErr == nil {
			break
		}
		if attempt >= options.MaxRetries {
			return "", fmt.Errorf("failed to download %s after %d attempts: %w", modelName, options.MaxRetries, downloadErr)
		}
		if options.Verbose {
			fmt.Printf("Warning: attempt %d / %d failed, error: %s\n", attempt, options.MaxRetries, downloadErr)
		}
		time.Sleep(time.Duration(options.RetryInterval) * time.Second)
		attempt++
	}

	if err := validateModelFiles(modelPath); err != nil {
		return "", err
	}
	if options.Verbose {
		fmt.Printf("\nDownload of %s completed successfully\n", modelName)
	}
	return modelPath, nil
}

// validateModelFiles checks that the downloaded directory carries the files an
// embedding model needs.
func validateModelFiles(modelPath string) error {
	hasOnnx := false
	hasTokenizer := false
	walker := func(_ context.Context, _ string, _ string, info os.FileInfo, _ io.Reader) (toContinue bool, err error) {
		if strings.HasSuffix(info.Name(), ".onnx") {
			hasOnnx = true
		}
		if info.Name() == "tokenizer.json" {
			hasTokenizer = true
		}
		return true, nil
	}
	if err := util.FileSystem.Walk(context.Background(), modelPath, walker); err != nil {
		return err
	}
	if !hasOnnx {
		return fmt.Errorf("model %s does not contain an .onnx file and cannot be loaded", modelPath)
	}
	if !hasTokenizer {
		return fmt.Errorf("model %s does not contain a tokenizer.json file and cannot be loaded", modelPath)
	}
	return nil
}
