package markup

import "strings"

const (
	StartMarker = "<!-- CONTENT_START -->"
	EndMarker   = "<!-- CONTENT_END -->"
)

// Section is a buffer split around the content markers. When the buffer has no
// markers the whole text is the body.
type Section struct {
	Prefix string
	Body   string
	Suffix string
	Marked bool
}

// SplitSection locates the marked region. An unterminated region runs to the end of
// the text, which is what a generation cut off mid-section looks like.
func SplitSection(text string) Section {
	start := strings.Index(text, StartMarker)
	if start < 0 {
		return Section{Body: text}
	}
	rest := text[start+len(StartMarker):]
	end := strings.Index(rest, EndMarker)
	if end < 0 {
		return Section{Prefix: text[:start], Body: rest, Marked: true}
	}
	return Section{
		Prefix: text[:start],
		Body:   rest[:end],
		Suffix: rest[end+len(EndMarker):],
		Marked: true,
	}
}

// Join writes body back into the buffer between markers. Prose that surrounded the
// records of an unmarked buffer is kept in front of the new section.
func (s Section) Join(body string) string {
	wrapped := StartMarker + "\n" + body + "\n" + EndMarker
	if s.Marked {
		return s.Prefix + wrapped + s.Suffix
	}
	if residue := StripRecords(s.Body); residue != "" {
		return residue + "\n\n" + wrapped
	}
	return wrapped
}

// ParseSection parses only the marked region of text.
func ParseSection(text string) Document {
	return Parse(SplitSection(text).Body)
}
