// Package auditlog reconstructs audit events from the line-oriented auditd
// log format and converts them into typed records.
package auditlog

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/V4T54L/auditd-ingest/internal/domain"
)

const (
	startMarker = "type=SYSCALL"
	endMarker   = "type=PROCTITLE"
	nullSuffix  = "key=(null)\n"
)

var tokenPattern = regexp.MustCompile(`(\S+)=(\S+)`)

// Tokenizer yields one raw event per call from an underlying line stream.
// It consumes the stream destructively and cannot be restarted.
type Tokenizer struct {
	r    *bufio.Reader
	done bool
}

// NewTokenizer wraps any line-readable source.
func NewTokenizer(r io.Reader) *Tokenizer {
	return &Tokenizer{r: bufio.NewReader(r)}
}

// Next returns the next complete event. ok is false once the stream is
// exhausted; an event cut short by end of stream is dropped.
//
// A block starts on a SYSCALL line that does not end in "key=(null)" and
// runs through the next PROCTITLE line. Any line ending in the null suffix
// is skipped while looking for a start, whatever its type.
func (t *Tokenizer) Next() (event domain.RawEvent, ok bool, err error) {
	var line string
	for !strings.HasPrefix(line, startMarker) || strings.HasSuffix(line, nullSuffix) {
		line, ok, err = t.readLine()
		if !ok {
			return nil, false, err
		}
	}

	event = make(domain.RawEvent)
	for !strings.HasPrefix(line, endMarker) {
		mergeTokens(event, line)

		line, ok, err = t.readLine()
		if !ok {
			return nil, false, err
		}
	}
	mergeTokens(event, line)

	return event, true, nil
}

// readLine returns the next line including its terminator, if any. A CRLF
// terminator is returned as a plain "\n".
func (t *Tokenizer) readLine() (string, bool, error) {
	if t.done {
		return "", false, nil
	}

	line, err := t.r.ReadString('\n')
	if err != nil {
		t.done = true
		if !errors.Is(err, io.EOF) {
			return "", false, fmt.Errorf("failed to read audit log line: %w", err)
		}
		if line == "" {
			return "", false, nil
		}
	}
	if strings.HasSuffix(line, "\r\n") {
		line = line[:len(line)-2] + "\n"
	}
	return line, true, nil
}

func mergeTokens(event domain.RawEvent, line string) {
	for _, m := range tokenPattern.FindAllStringSubmatch(line, -1) {
		event[m[1]] = m[2]
	}
}
