package models

import "time"

// ThreadKind distinguishes member-to-member threads from assisted threads
// owned by a single member.
type ThreadKind string

const (
	ThreadDirect   ThreadKind = "direct"
	ThreadAssisted ThreadKind = "assisted"
)

// ChatThread groups messages between its participants.
type ChatThread struct {
	ID            string
	Kind          ThreadKind
	Participants  []string
	LastMessage   string
	LastMessageAt time.Time
	CreatedAt     time.Time
}

// ChatMessage is one message within a thread.
type ChatMessage struct {
	ID          string
	ThreadID    string
	SenderEmail string
	SenderName  string
	Content     string
	Timestamp   time.Time
}
