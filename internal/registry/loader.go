package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"embedd/internal/common/fsutil"
	"embedd/pkg/types"
)

// hfConfig is the subset of a HuggingFace config.json we read.
type hfConfig struct {
	ID2Label              map[string]string `json:"id2label"`
	MaxPositionEmbeddings int               `json:"max_position_embeddings"`
}

// Resolve inspects a model directory. The first *.gguf file (by name) becomes
// the weights, tokenizer.json the tokenizer, and config.json supplies labels
// and the position limit. A file path is accepted as the weights directly.
func Resolve(path string) (types.Model, error) {
	base, err := fsutil.ExpandHome(path)
	if err != nil {
		return types.Model{}, err
	}
	if base == "" {
		return types.Model{}, errors.New("empty model path")
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return types.Model{}, fmt.Errorf("abs path: %w", err)
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return types.Model{}, fmt.Errorf("model path: %w", err)
	}
	var m types.Model
	if fi.IsDir() {
		m.Dir = abs
		weights, err := fsutil.ListBySuffix(abs, ".gguf")
		if err != nil {
			return types.Model{}, err
		}
		if len(weights) > 0 {
			m.WeightsPath = weights[0]
		}
	} else {
		m.Dir = filepath.Dir(abs)
		m.WeightsPath = abs
	}
	m.ID = filepath.Base(m.Dir)
	if tk := filepath.Join(m.Dir, "tokenizer.json"); fsutil.PathExists(tk) {
		m.TokenizerPath = tk
	}
	if err := readHFConfig(filepath.Join(m.Dir, "config.json"), &m); err != nil {
		return types.Model{}, err
	}
	return m, nil
}

func readHFConfig(path string, m *types.Model) error {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	var hc hfConfig
	if err := json.Unmarshal(b, &hc); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	m.MaxPositions = hc.MaxPositionEmbeddings
	if len(hc.ID2Label) == 0 {
		return nil
	}
	m.Labels = make([]string, len(hc.ID2Label))
	for k, v := range hc.ID2Label {
		i, err := strconv.Atoi(k)
		if err != nil || i < 0 || i >= len(m.Labels) {
			return fmt.Errorf("parse %s: bad id2label key %q", path, k)
		}
		m.Labels[i] = v
	}
	return nil
}
