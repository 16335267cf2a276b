package proto

import (
	"errors"
	"testing"
)

func TestDecodePushEvent(t *testing.T) {
	tests := []struct {
		name      string
		frame     string
		wantType  string
		wantID    string
		wantRoom  string
		wantTrans string
	}{
		{
			name:     "typed new message",
			frame:    `{"type":"new_message","message":{"id":"m1","room_id":"r1","message_type":"text","content":"hi"}}`,
			wantType: EventNewMessage,
			wantID:   "m1",
			wantRoom: "r1",
		},
		{
			name:     "bare message",
			frame:    `{"id":"m2","room_id":"r1","message_type":"voice","content":null}`,
			wantType: EventNewMessage,
			wantID:   "m2",
			wantRoom: "r1",
		},
		{
			name:     "hyphenated type",
			frame:    `{"type":"new-message","id":"m3","room_id":"r2","message_type":"text"}`,
			wantType: EventNewMessage,
			wantID:   "m3",
			wantRoom: "r2",
		},
		{
			name:      "transcription with message",
			frame:     `{"type":"transcription_update","message":{"id":"m2","room_id":"r1","transcription":"hello there","is_transcribed":true}}`,
			wantType:  EventTranscriptionUpdate,
			wantID:    "m2",
			wantRoom:  "r1",
			wantTrans: "hello there",
		},
		{
			name:      "flat transcription",
			frame:     `{"type":"transcription-update","id":"m2","transcription":"hello there"}`,
			wantType:  EventTranscriptionUpdate,
			wantID:    "m2",
			wantTrans: "hello there",
		},
		{
			name:     "deleted",
			frame:    `{"type":"message_deleted","message_id":"m2","scope":"everyone"}`,
			wantType: EventMessageDeleted,
			wantID:   "m2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := DecodePushEvent([]byte(tt.frame))
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if ev.Type != tt.wantType || ev.MessageID != tt.wantID || ev.RoomID != tt.wantRoom {
				t.Fatalf("unexpected event: %+v", ev)
			}
			if tt.wantTrans != "" && (ev.Transcription == nil || *ev.Transcription != tt.wantTrans) {
				t.Fatalf("unexpected transcription: %v", ev.Transcription)
			}
		})
	}
}

func TestDecodePushEventRejectsGarbage(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  error
	}{
		{"not json", `{nope`, ErrMalformedEvent},
		{"untyped without ids", `{"content":"x"}`, ErrMalformedEvent},
		{"deleted without id", `{"type":"message_deleted"}`, ErrMalformedEvent},
		{"unknown type", `{"type":"typing","id":"x"}`, ErrUnknownEvent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodePushEvent([]byte(tt.frame)); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}
