package types

import (
	"encoding/json"
	"errors"
)

// Inputs accepts either a single string or an array of strings.
type Inputs []string

func (in *Inputs) UnmarshalJSON(b []byte) error {
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		*in = Inputs{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return errors.New("inputs must be a string or an array of strings")
	}
	*in = many
	return nil
}

// Document is a searchable text with its precomputed embedding source fields.
type Document struct {
	// Document identifier; generated when empty.
	// example: 42
	ID string `json:"id,omitempty" example:"42"`
	// Text to embed and index.
	// example: How do I reset my password?
	Text string `json:"text" example:"How do I reset my password?"`
	// Originating table or collection.
	// example: faq
	Source string `json:"source,omitempty" example:"faq"`
	// Free-form payload returned with search hits.
	// example: RESET_PW
	Code string `json:"code,omitempty" example:"RESET_PW"`
}

// Model describes a model directory on disk.
type Model struct {
	// Stable identifier, the directory name.
	// example: bge-small-en-v1.5
	ID string `json:"id" example:"bge-small-en-v1.5"`
	// Absolute path of the model directory.
	Dir string `json:"dir"`
	// GGUF weights used by the llama engines, if present.
	WeightsPath string `json:"weights_path,omitempty"`
	// HuggingFace tokenizer.json, if present.
	TokenizerPath string `json:"tokenizer_path,omitempty"`
	// Classifier labels from config.json id2label, in id order.
	Labels []string `json:"labels,omitempty"`
	// max_position_embeddings from config.json; 0 when unknown.
	MaxPositions int `json:"max_positions,omitempty"`
}
