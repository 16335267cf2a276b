package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/vovakirdan/voicechat/internal/core"
	"github.com/vovakirdan/voicechat/internal/proto"
	"github.com/vovakirdan/voicechat/internal/search"
)

// renderer prints conversation rows as they appear or change.
// Rows are keyed by message id so repeated snapshots only print the difference.
type renderer struct {
	out     io.Writer
	viewer  string
	room    string
	printed map[string]string
	items   []core.Item
}

func newRenderer(out io.Writer, viewer string) *renderer {
	return &renderer{out: out, viewer: viewer, printed: make(map[string]string)}
}

func (r *renderer) render(v core.View) {
	if v.RoomID != r.room {
		r.room = v.RoomID
		r.printed = make(map[string]string)
		if v.RoomID != "" {
			fmt.Fprintf(r.out, "-- %s --\n", v.RoomID)
		}
	}
	r.items = v.Items
	for i, it := range v.Items {
		line := formatItem(it, r.viewer)
		if r.printed[it.Message.ID] == line {
			continue
		}
		r.printed[it.Message.ID] = line
		fmt.Fprintf(r.out, "[%d] %s\n", i+1, line)
	}
}

// messageAt returns the id shown as row n (1-based) in the last render.
func (r *renderer) messageAt(n int) (string, bool) {
	if n < 1 || n > len(r.items) {
		return "", false
	}
	return r.items[n-1].Message.ID, true
}

func formatItem(it core.Item, viewer string) string {
	m := it.Message
	who := m.SenderID
	if m.Sender != nil && m.Sender.Username != "" {
		who = m.Sender.Username
	}
	if m.SenderID == viewer {
		who = "me"
	}
	stamp := m.CreatedAt.Local().Format("15:04")
	if it.Tombstone {
		return fmt.Sprintf("%s %s: (message deleted)", stamp, who)
	}
	return fmt.Sprintf("%s %s: %s", stamp, who, body(m))
}

func body(m proto.Message) string {
	switch m.MessageType {
	case proto.KindVoice:
		switch {
		case m.Transcription != nil && *m.Transcription != "":
			return "[voice] " + *m.Transcription
		case m.IsTranscribed:
			return "[voice]"
		default:
			return "[voice] (transcribing...)"
		}
	case proto.KindImage, proto.KindVideo, proto.KindDocument:
		name := ""
		if m.FileURL != nil {
			name = *m.FileURL
		}
		return fmt.Sprintf("[%s] %s", m.MessageType, name)
	default:
		if m.Content == nil {
			return ""
		}
		return *m.Content
	}
}

// printResults lists search hits with matches wrapped in asterisks.
func printResults(w io.Writer, results []search.Result) {
	if len(results) == 0 {
		fmt.Fprintln(w, "no results")
		return
	}
	for i, r := range results {
		fmt.Fprintf(w, "%d. [%s] %s  %s\n", i+1, r.MatchType, r.Message.RoomID, emphasize(r.Snippet, r.Spans))
	}
}

func emphasize(text string, spans []search.Span) string {
	var b strings.Builder
	last := 0
	for _, s := range spans {
		if s.Start < last || s.End > len(text) {
			continue
		}
		b.WriteString(text[last:s.Start])
		b.WriteByte('*')
		b.WriteString(text[s.Start:s.End])
		b.WriteByte('*')
		last = s.End
	}
	b.WriteString(text[last:])
	return b.String()
}
