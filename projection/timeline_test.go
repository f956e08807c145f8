package projection

import (
	"cursor-chat/domain"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func message(sender, text string) domain.ChatMessage {
	return domain.ChatMessage{ID: uuid.New(), SenderID: sender, Text: text, SentAt: time.Now()}
}

func TestTimeline_Append_KeepsReceiptOrder(t *testing.T) {
	req := require.New(t)
	timeline := NewTimeline(10)

	timeline.Append(message("Alice", "Hello Bob"))
	timeline.Append(message("Clara", "Hi Bob"))

	messages := timeline.Messages()
	req.Len(messages, 2)
	req.Equal("Alice", messages[0].SenderID)
	req.Equal("Clara", messages[1].SenderID)
}

func TestTimeline_Append_EvictsOldestBeyondCapacity(t *testing.T) {
	req := require.New(t)
	timeline := NewTimeline(DefaultHistoryCapacity)

	// Given more messages than the buffer holds
	for i := 0; i < DefaultHistoryCapacity+5; i++ {
		timeline.Append(message("Alice", fmt.Sprintf("m%d", i)))
	}

	// Then only the most recent ones remain, oldest first
	messages := timeline.Messages()
	req.Len(messages, DefaultHistoryCapacity)
	req.Equal("m5", messages[0].Text)
	req.Equal(fmt.Sprintf("m%d", DefaultHistoryCapacity+4), messages[len(messages)-1].Text)
}

func TestTimeline_DuplicatesAreKept(t *testing.T) {
	req := require.New(t)
	timeline := NewTimeline(10)
	msg := message("Alice", "twice")

	timeline.Append(msg)
	timeline.Append(msg)

	req.Equal(2, timeline.Len())
}

func TestTimeline_Remove(t *testing.T) {
	req := require.New(t)
	timeline := NewTimeline(3)
	first, second, third, fourth := message("a", "1"), message("b", "2"), message("c", "3"), message("d", "4")
	timeline.Append(first)
	timeline.Append(second)
	timeline.Append(third)
	timeline.Append(fourth)

	req.False(timeline.Remove(first.ID))
	req.True(timeline.Remove(third.ID))

	messages := timeline.Messages()
	req.Equal([]string{"2", "4"}, []string{messages[0].Text, messages[1].Text})

	timeline.Append(message("e", "5"))
	timeline.Append(message("f", "6"))
	messages = timeline.Messages()
	req.Equal([]string{"4", "5", "6"}, []string{messages[0].Text, messages[1].Text, messages[2].Text})
}

func TestTimeline_Clear(t *testing.T) {
	req := require.New(t)
	timeline := NewTimeline(3)
	timeline.Append(message("a", "1"))

	timeline.Clear()

	req.Empty(timeline.Messages())
	req.Equal(0, timeline.Len())
}
