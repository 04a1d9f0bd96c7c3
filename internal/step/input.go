package step

// Input is a resolved file whose content contributes to step identity.
//
// Only content is read; metadata (mtime, permissions, owner) is excluded so
// that checkouts on different runners hash identically.
type Input struct {
	// Path is the expanded, slash-normalized file path.
	Path string

	// Content is the raw file content.
	Content []byte
}

// InputSet is the complete set of resolved inputs for a step, sorted
// lexicographically by Path.
type InputSet struct {
	Inputs []Input
}
