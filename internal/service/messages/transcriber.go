package messages

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
)

const (
	maxExtractedRunes = 4000
	minSentenceLen    = 15
)

// ErrNoTranscriber is returned when no transcription command is configured.
var ErrNoTranscriber = errors.New("transcription disabled")

// Transcriber turns a stored voice file into text.
type Transcriber interface {
	Transcribe(ctx context.Context, path string) (string, error)
}

// CommandTranscriber runs an external program with the audio path as its last argument
// and reads the transcript from stdout.
type CommandTranscriber struct {
	Command string
	Timeout time.Duration
}

// NewCommandTranscriber returns nil when command is blank.
func NewCommandTranscriber(command string, timeout time.Duration) Transcriber {
	if strings.TrimSpace(command) == "" {
		return nil
	}
	return &CommandTranscriber{Command: command, Timeout: timeout}
}

// Transcribe runs the command. Empty output becomes a placeholder.
func (c *CommandTranscriber) Transcribe(ctx context.Context, path string) (string, error) {
	fields := strings.Fields(c.Command)
	if len(fields) == 0 {
		return "", ErrNoTranscriber
	}
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	args := append(fields[1:len(fields):len(fields)], path)
	cmd := exec.CommandContext(ctx, fields[0], args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("run %s: %w: %s", fields[0], err, strings.TrimSpace(stderr.String()))
	}

	text := strings.TrimSpace(stdout.String())
	if text == "" {
		return "[No speech detected]", nil
	}
	return text, nil
}

// ExtractText returns the readable text of a document. Only text formats are
// understood; anything else yields an empty string.
func ExtractText(path string) (string, error) {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "", fmt.Errorf("detect %s: %w", path, err)
	}
	if !isTextual(mt) {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	if !utf8.Valid(data) {
		data = bytes.ToValidUTF8(data, nil)
	}
	return strings.TrimSpace(string(data)), nil
}

func isTextual(mt *mimetype.MIME) bool {
	for m := mt; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}

var sentenceBreak = regexp.MustCompile(`([.!?])\s+|\n{2,}`)

// SplitSentences splits text on sentence punctuation and blank lines, dropping
// fragments shorter than minSentenceLen.
func SplitSentences(text string) []string {
	if text == "" {
		return nil
	}
	marked := sentenceBreak.ReplaceAllString(text, "$1\x00")
	var out []string
	for _, s := range strings.Split(marked, "\x00") {
		s = strings.TrimSpace(s)
		if len(s) >= minSentenceLen {
			out = append(out, s)
		}
	}
	return out
}

// truncateRunes cuts s to at most n runes.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
