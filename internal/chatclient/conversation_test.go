package chatclient

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/MegaGrindStone/medigem-relay/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversation(t *testing.T) {
	seed := []models.Message{{Role: models.RoleUser, Content: "Hi"}}
	conv := NewConversation(seed...)
	seed[0].Content = "changed"

	idx := conv.append(models.Message{Role: models.RoleAssistant, Content: "Hel"})
	conv.extend(idx, "lo")

	msgs := conv.Messages()
	assert.Equal(t, 1, idx)
	assert.Equal(t, []models.Message{
		{Role: models.RoleUser, Content: "Hi"},
		{Role: models.RoleAssistant, Content: "Hello"},
	}, msgs)

	msgs[1].Content = "tampered"
	assert.Equal(t, "Hello", conv.Messages()[1].Content)
	assert.Equal(t, 2, conv.Len())
}

func TestConversationExtendOnlyLast(t *testing.T) {
	conv := NewConversation(
		models.Message{Role: models.RoleUser, Content: "Hi"},
		models.Message{Role: models.RoleAssistant, Content: "Hello"},
	)

	assert.Panics(t, func() { conv.extend(0, "!") })
	assert.NotPanics(t, func() { conv.extend(1, "!") })
	assert.Equal(t, "Hello!", conv.Messages()[1].Content)
}

func TestSendTurnInProgress(t *testing.T) {
	client := New("http://127.0.0.1:0/api/chat", slog.New(slog.NewTextHandler(io.Discard, nil)))
	conv := NewConversation()

	conv.turn.Lock()
	defer conv.turn.Unlock()

	_, err := client.SendTurn(context.Background(), conv, "Hello", Observer{})
	require.ErrorIs(t, err, ErrTurnInProgress)
	assert.Zero(t, conv.Len())
}
