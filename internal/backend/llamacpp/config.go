// Package llamacpp runs embedding models in-process through go-llama.cpp.
//
// The real engine is compiled with `-tags=llama` (CGO, links libbinding.a).
// Default builds get a stub whose constructor reports the dependency as
// unavailable, keeping CI CGO-free.
package llamacpp

// Config describes how to load the model.
type Config struct {
	ModelPath   string
	ContextSize int
	Threads     int
	GPULayers   int
}

const defaultContextSize = 512
