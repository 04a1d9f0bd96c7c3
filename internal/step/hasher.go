package step

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
)

// StepHash is the deterministic identity of one stage execution.
//
// It covers the resolved input contents, the command, the explicit
// environment, the declared outputs, and the working-directory identity.
// Timestamps and machine-specific data are excluded: the same checkout on
// any runner produces the same hash.
type StepHash string

// String returns the hex form of the hash.
func (h StepHash) String() string { return string(h) }

// StepHasher computes deterministic step hashes.
//
// All variable-order components (env, outputs) are sorted before hashing,
// and every field is length-prefixed so that no concatenation of fields is
// ambiguous.
type StepHasher struct{}

// NewStepHasher creates a StepHasher.
func NewStepHasher() *StepHasher {
	return &StepHasher{}
}

// HashComponents carries everything that contributes to a StepHash.
type HashComponents struct {
	// Inputs is the resolved InputSet, already sorted by the resolver.
	Inputs *InputSet

	// Command is the step's run string.
	Command string

	// Env is the explicit environment map.
	Env map[string]string

	// Outputs is the list of declared output paths.
	Outputs []string

	// WorkDir is the working-directory identity. Two otherwise identical
	// steps run in different directories must not share a cache entry.
	WorkDir string
}

// ComputeHash computes the StepHash for the given components.
//
// Field order: working directory, command, sorted env pairs, sorted
// outputs, then each input's path and content in resolver order. Counts
// are written before each variable-length section.
func (h *StepHasher) ComputeHash(c HashComponents) StepHash {
	hasher := sha256.New()

	writeField := func(data []byte) {
		length := uint64(len(data))
		hasher.Write([]byte{
			byte(length >> 56),
			byte(length >> 48),
			byte(length >> 40),
			byte(length >> 32),
			byte(length >> 24),
			byte(length >> 16),
			byte(length >> 8),
			byte(length),
		})
		hasher.Write(data)
	}

	writeField([]byte(c.WorkDir))
	writeField([]byte(c.Command))

	envKeys := make([]string, 0, len(c.Env))
	for k := range c.Env {
		envKeys = append(envKeys, k)
	}
	sort.Strings(envKeys)

	writeField([]byte{byte(len(envKeys))})
	for _, k := range envKeys {
		writeField([]byte(k))
		writeField([]byte(c.Env[k]))
	}

	sortedOutputs := make([]string, len(c.Outputs))
	copy(sortedOutputs, c.Outputs)
	sort.Strings(sortedOutputs)

	writeField([]byte{byte(len(sortedOutputs))})
	for _, out := range sortedOutputs {
		writeField([]byte(out))
	}

	inputCount := 0
	if c.Inputs != nil {
		inputCount = len(c.Inputs.Inputs)
	}
	writeField([]byte{byte(inputCount)})
	if c.Inputs != nil {
		for _, in := range c.Inputs.Inputs {
			writeField([]byte(in.Path))
			writeField(in.Content)
		}
	}

	return StepHash(hex.EncodeToString(hasher.Sum(nil)))
}
