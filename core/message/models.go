package message

import "github.com/trezcool/masomo-portal/core"

// Message is an inbox entry. Read flips from false to true once, when the message is opened.
type Message struct {
	ID         int64          `json:"id"`
	SenderID   int64          `json:"senderId"`
	SenderName string         `json:"senderName"`
	Content    string         `json:"content"`
	Read       bool           `json:"read"`
	SentAt     core.Timestamp `json:"regTime"`
}

// Draft is an outgoing message.
type Draft struct {
	SenderID   int64  `json:"senderId"`
	ReceiverID int64  `json:"receiverId" validate:"required"`
	Content    string `json:"content" validate:"required,notblank"`
}

// Validate checks the draft without modifying it.
func (d Draft) Validate() error {
	return core.ValidateStruct(d)
}

// ReplyTo returns a draft addressed to the sender of msg.
func ReplyTo(msg Message, content string) Draft {
	return Draft{ReceiverID: msg.SenderID, Content: content}
}

// CountUnread returns the number of unread messages in msgs.
func CountUnread(msgs []Message) int {
	var n int
	for _, msg := range msgs {
		if !msg.Read {
			n++
		}
	}
	return n
}
