package bf

import (
	"bufio"
	"io"
	"strings"
)

// LineSource supplies one line of input per `,` instruction. NextLine returns
// io.EOF once nothing is left; the interpreter treats that as an empty line.
type LineSource interface {
	NextLine() (string, error)
}

type lineReader struct {
	reader *bufio.Reader
}

// NewLineReader reads newline separated lines of any length from r. Line
// terminators (\n or \r\n) are not part of the returned line.
func NewLineReader(r io.Reader) LineSource {
	return &lineReader{reader: bufio.NewReader(r)}
}

func (l *lineReader) NextLine() (string, error) {
	line, err := l.reader.ReadString('\n')
	if err != nil {
		if err == io.EOF && line != "" {
			// last line without a terminator
			return strings.TrimSuffix(line, "\r"), nil
		}
		return "", err
	}
	line = strings.TrimSuffix(line, "\n")
	return strings.TrimSuffix(line, "\r"), nil
}

type lines struct {
	lines []string
	next  int
}

// Lines returns a LineSource serving the given lines in order.
func Lines(l ...string) LineSource {
	return &lines{lines: l}
}

func (l *lines) NextLine() (string, error) {
	if l.next >= len(l.lines) {
		return "", io.EOF
	}
	line := l.lines[l.next]
	l.next++
	return line, nil
}
