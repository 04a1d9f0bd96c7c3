package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
)

// computeStageDefHash hashes the declarative stage definition: inputs,
// env, and the run command. Inputs are treated as a set (sorted), env is
// sorted by key, and every field is length-prefixed.
func computeStageDefHash(inputs []string, env map[string]string, run string) StageDefHash {
	h := sha256.New()

	writeField := func(data []byte) {
		length := uint64(len(data))
		h.Write([]byte{
			byte(length >> 56),
			byte(length >> 48),
			byte(length >> 40),
			byte(length >> 32),
			byte(length >> 24),
			byte(length >> 16),
			byte(length >> 8),
			byte(length),
		})
		h.Write(data)
	}

	sortedInputs := make([]string, len(inputs))
	copy(sortedInputs, inputs)
	sort.Strings(sortedInputs)
	writeField([]byte{byte(len(sortedInputs))})
	for _, in := range sortedInputs {
		writeField([]byte(in))
	}

	envKeys := make([]string, 0, len(env))
	for k := range env {
		envKeys = append(envKeys, k)
	}
	sort.Strings(envKeys)
	writeField([]byte{byte(len(envKeys))})
	for _, k := range envKeys {
		writeField([]byte(k))
		writeField([]byte(env[k]))
	}

	writeField([]byte(run))

	return StageDefHash(hex.EncodeToString(h.Sum(nil)))
}
