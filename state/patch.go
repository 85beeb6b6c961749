package state

// OpKind is the discriminator tag for Operation.
type OpKind string

const (
	OpWrite   OpKind = "write"
	OpReplace OpKind = "replace"
	OpTouch   OpKind = "touch"
)

// WriteData writes or creates a complete file.
type WriteData struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// ReplaceData replaces one piece of text with another, requiring an exact match.
type ReplaceData struct {
	Path string `json:"path"`
	Old  string `json:"old"`
	New  string `json:"new"`
}

// TouchData marks a path as affected without modifying it.
type TouchData struct {
	Path string `json:"path"`
}

// Operation is a tagged union representing one file mutation.
type Operation struct {
	Kind    OpKind       `json:"kind"`
	Write   *WriteData   `json:"write,omitempty"`
	Replace *ReplaceData `json:"replace,omitempty"`
	Touch   *TouchData   `json:"touch,omitempty"`
}

// Path returns the file path this operation affects.
func (o Operation) Path() string {
	switch o.Kind {
	case OpWrite:
		if o.Write != nil {
			return o.Write.Path
		}
	case OpReplace:
		if o.Replace != nil {
			return o.Replace.Path
		}
	case OpTouch:
		if o.Touch != nil {
			return o.Touch.Path
		}
	}
	return ""
}

// WriteOp creates a write Operation.
func WriteOp(path, content string) Operation {
	return Operation{Kind: OpWrite, Write: &WriteData{Path: path, Content: content}}
}

// ReplaceOp creates an exact-match replace Operation.
func ReplaceOp(path, old, new string) Operation {
	return Operation{Kind: OpReplace, Replace: &ReplaceData{Path: path, Old: old, New: new}}
}

// TouchOp creates a touch Operation.
func TouchOp(path string) Operation {
	return Operation{Kind: OpTouch, Touch: &TouchData{Path: path}}
}

// Patch is an ordered sequence of Operations, applied as a single unit.
type Patch struct {
	Ops []Operation `json:"ops"`
}

// WithWrite appends a write Operation and returns the patch.
func (p *Patch) WithWrite(path, content string) *Patch {
	p.Ops = append(p.Ops, WriteOp(path, content))
	return p
}

// WithReplace appends a replace Operation and returns the patch.
func (p *Patch) WithReplace(path, old, new string) *Patch {
	p.Ops = append(p.Ops, ReplaceOp(path, old, new))
	return p
}

// WithTouch appends a touch Operation and returns the patch.
func (p *Patch) WithTouch(path string) *Patch {
	p.Ops = append(p.Ops, TouchOp(path))
	return p
}

// Paths returns the distinct paths affected by the patch, in first-seen order.
func (p *Patch) Paths() []string {
	seen := make(map[string]bool)
	var paths []string
	for _, op := range p.Ops {
		path := op.Path()
		if path == "" || seen[path] {
			continue
		}
		seen[path] = true
		paths = append(paths, path)
	}
	return paths
}
