package dialect

import (
	"fmt"
	"strings"
)

// tag is an XML-like opening tag with a name and attributes. The response
// grammar is line-oriented and deliberately not real XML: tags sit on their
// own lines and content between them is taken verbatim.
type tag struct {
	name  string
	attrs map[string]string
}

// parseOpen attempts to parse a line containing an XML-like opening tag.
func parseOpen(line string) (tag, bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "<") {
		return tag{}, false
	}
	end := strings.Index(trimmed, ">")
	if end < 0 {
		return tag{}, false
	}
	content := strings.TrimSuffix(trimmed[1:end], "/")
	fields := strings.Fields(content)
	if len(fields) == 0 {
		return tag{}, false
	}
	t := tag{name: fields[0], attrs: make(map[string]string)}
	for _, attr := range fields[1:] {
		k, v, ok := strings.Cut(attr, "=")
		if !ok {
			continue
		}
		t.attrs[k] = strings.Trim(v, `"`)
	}
	return t, true
}

// selfClosing reports whether the line's tag closes itself, e.g. <touch ... />.
func selfClosing(line string) bool {
	trimmed := strings.TrimSpace(line)
	return strings.HasSuffix(trimmed, "/>")
}

// isClose reports whether the line contains a close tag for name.
func isClose(line, name string) bool {
	return strings.Contains(line, fmt.Sprintf("</%s>", name))
}

// lineScanner walks response lines one at a time.
type lineScanner struct {
	lines []string
	pos   int
}

func newLineScanner(text string) *lineScanner {
	return &lineScanner{lines: strings.Split(text, "\n")}
}

func (s *lineScanner) next() (string, bool) {
	if s.pos >= len(s.lines) {
		return "", false
	}
	line := s.lines[s.pos]
	s.pos++
	return line, true
}

// collectUntilClose gathers lines verbatim up to the close tag for name. The
// close tag must appear; running out of input is a parse error.
func (s *lineScanner) collectUntilClose(name string) (string, error) {
	var body []string
	for {
		line, ok := s.next()
		if !ok {
			return "", parseErrorf("missing closing tag </%s>", name)
		}
		if isClose(line, name) {
			return strings.Join(body, "\n"), nil
		}
		body = append(body, line)
	}
}

// collectNested skips ahead to an opening <name> tag, then gathers its body.
func (s *lineScanner) collectNested(name string) (string, error) {
	open := fmt.Sprintf("<%s>", name)
	for {
		line, ok := s.next()
		if !ok {
			return "", parseErrorf("missing <%s> block", name)
		}
		if strings.TrimSpace(line) == open {
			break
		}
	}
	return s.collectUntilClose(name)
}
