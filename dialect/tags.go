package dialect

import (
	"fmt"
	"strings"

	"github.com/martinemde/loom/state"
)

const tagsSystem = `You are an expert software engineer collaborating on a codebase.
You will receive reference context, the current contents of a set of editable
files, and a request. Respond with the complete set of file changes needed to
satisfy the request, using exactly the following tags and nothing else for
changes:

To write a complete file (creating it if needed):

<write_file path="relative/path/to/file">
full new file content
</write_file>

To replace an exact section of text within an editable file:

<replace path="relative/path/to/file">
<old>
exact text currently in the file
</old>
<new>
replacement text
</new>
</replace>

To mark a file as reviewed without changing it:

<touch path="relative/path/to/file"/>

Rules:
- Paths are relative to the project root. Never use absolute paths or "..".
- The old text in a replace must match the file contents exactly.
- Text outside these tags is treated as commentary and ignored.`

// Tags is a dialect where files are sent to the model inside XML-like tags
// and responses are parsed from similar tags.
type Tags struct{}

// NewTags returns the Tags dialect.
func NewTags() *Tags { return &Tags{} }

func (d *Tags) Name() string { return "tags" }

func (d *Tags) System() string { return tagsSystem }

func (d *Tags) RenderContext(items []ContextItem) string {
	var sb strings.Builder
	for _, item := range items {
		fmt.Fprintf(&sb, "<context type=%q source=%q>\n%s\n</context>\n\n", item.Type, item.Source, item.Body)
	}
	return sb.String()
}

func (d *Tags) RenderEditables(eds []Editable) string {
	var sb strings.Builder
	for _, ed := range eds {
		fmt.Fprintf(&sb, "<editable path=%q>\n%s\n</editable>\n\n", ed.Path, ed.Content)
	}
	return sb.String()
}

func (d *Tags) RenderPrompt(in PromptInput) (string, error) {
	if strings.TrimSpace(in.UserPrompt) == "" {
		return "", fmt.Errorf("render prompt: empty user prompt")
	}
	var sb strings.Builder
	sb.WriteString(d.RenderContext(in.Contexts))
	sb.WriteString(d.RenderEditables(in.Editables))
	sb.WriteString(in.UserPrompt)
	return sb.String(), nil
}

func (d *Tags) RenderPatch(p *state.Patch) (string, error) {
	var sb strings.Builder
	for _, op := range p.Ops {
		switch op.Kind {
		case state.OpWrite:
			fmt.Fprintf(&sb, "<write_file path=%q>\n%s\n</write_file>\n", op.Write.Path, op.Write.Content)
		case state.OpReplace:
			fmt.Fprintf(&sb, "<replace path=%q>\n<old>\n%s\n</old>\n<new>\n%s\n</new>\n</replace>\n", op.Replace.Path, op.Replace.Old, op.Replace.New)
		case state.OpTouch:
			fmt.Fprintf(&sb, "<touch path=%q/>\n", op.Touch.Path)
		default:
			return "", fmt.Errorf("render patch: unknown operation kind %q", op.Kind)
		}
	}
	return sb.String(), nil
}

// Parse extracts write_file, replace, and touch tags from raw model output.
// Text outside recognized tags is ignored. A response with no recognized
// tags at all is a parse error.
func (d *Tags) Parse(raw string) (*state.Patch, error) {
	patch := &state.Patch{}
	scanner := newLineScanner(raw)

	for {
		line, ok := scanner.next()
		if !ok {
			break
		}
		t, ok := parseOpen(line)
		if !ok {
			continue
		}
		switch t.name {
		case "write_file":
			path, err := requirePath(t)
			if err != nil {
				return nil, err
			}
			content, err := scanner.collectUntilClose("write_file")
			if err != nil {
				return nil, err
			}
			patch.WithWrite(path, content)
		case "replace":
			path, err := requirePath(t)
			if err != nil {
				return nil, err
			}
			old, err := scanner.collectNested("old")
			if err != nil {
				return nil, err
			}
			new, err := scanner.collectNested("new")
			if err != nil {
				return nil, err
			}
			patch.WithReplace(path, old, new)
		case "touch":
			path, err := requirePath(t)
			if err != nil {
				return nil, err
			}
			if !selfClosing(line) {
				if _, err := scanner.collectUntilClose("touch"); err != nil {
					return nil, err
				}
			}
			patch.WithTouch(path)
		}
	}

	if len(patch.Ops) == 0 {
		return nil, &ParseError{
			User:  "no file operations found in response",
			Model: "The response did not contain any <write_file>, <replace>, or <touch> tags. Respond with the requested changes using those tags.",
		}
	}
	return patch, nil
}

func requirePath(t tag) (string, error) {
	path, ok := t.attrs["path"]
	if !ok || path == "" {
		return "", parseErrorf("missing path attribute on <%s> tag", t.name)
	}
	return path, nil
}
