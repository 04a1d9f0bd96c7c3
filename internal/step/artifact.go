package step

// Artifact is a file produced by a step and explicitly declared in its
// outputs. Undeclared files are never captured, even if the step wrote them.
type Artifact struct {
	// Path is the declared output path, slash-normalized.
	Path string

	// Content is the file content, after any configured normalization.
	Content []byte
}

// ArtifactSet is the complete set of artifacts produced by a step,
// sorted lexicographically by Path.
type ArtifactSet struct {
	Artifacts []Artifact
}
