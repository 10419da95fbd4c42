package config

import (
	"os"
	"path/filepath"
	"slices"

	"github.com/gaetschwartz/purr/pkg/types"
)

// PreferredModels lists model names in the order [ResolveModel] tries them
// inside a models directory. Files are named ggml-<name>.bin.
var PreferredModels = []string{"base", "base.en", "small", "small.en", "tiny", "tiny.en"}

// fallbackModelPaths are tried relative to the working directory when no
// model path or models directory is configured.
var fallbackModelPaths = []string{
	"models/ggml-base.en.bin",
	"models/ggml-base.bin",
	"ggml-base.en.bin",
	"ggml-base.bin",
}

// ModelFileName returns the file name of the ggml model called name.
func ModelFileName(name string) string {
	return "ggml-" + name + ".bin"
}

// ResolveModel returns the model file the native engine should load.
//
// An explicit ModelPath must exist. Otherwise ModelsDir is searched for the
// first of [PreferredModels], then for any ggml-*.bin in lexical order, and
// finally a few conventional relative paths are tried. Failure is a
// Configuration error.
func ResolveModel(t TranscriptionConfig) (string, error) {
	if t.ModelPath != "" {
		if !isFile(t.ModelPath) {
			return "", types.Errorf(types.KindConfiguration, "config.ResolveModel", "model file %q not found", t.ModelPath)
		}
		return t.ModelPath, nil
	}

	if t.ModelsDir != "" {
		for _, name := range PreferredModels {
			p := filepath.Join(t.ModelsDir, ModelFileName(name))
			if isFile(p) {
				return p, nil
			}
		}
		matches, err := filepath.Glob(filepath.Join(t.ModelsDir, "ggml-*.bin"))
		if err == nil && len(matches) > 0 {
			slices.Sort(matches)
			return matches[0], nil
		}
		return "", types.Errorf(types.KindConfiguration, "config.ResolveModel", "no ggml-*.bin model found in %q", t.ModelsDir)
	}

	for _, p := range fallbackModelPaths {
		if isFile(p) {
			return p, nil
		}
	}
	return "", types.Errorf(types.KindConfiguration, "config.ResolveModel",
		"no model configured; set transcription.model_path or transcription.models_dir")
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
