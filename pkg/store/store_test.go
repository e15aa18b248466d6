package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wxgate/wxgate/pkg/crypto"
	"github.com/wxgate/wxgate/pkg/database"
	"github.com/wxgate/wxgate/pkg/models"
)

// newTestStores opens an in-memory SQLite database with all migrations
// applied and returns the store bundle over it.
func newTestStores(t *testing.T) *Stores {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	codec, err := crypto.NewCodec(key)
	require.NoError(t, err)

	client, err := database.NewClient(context.Background(), database.Config{
		Driver: database.DriverSQLite,
		DSN:    ":memory:",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return New(client, codec)
}

var msgCounter int

// newTestMessage builds a pending text message with a unique id and a
// content-derived hash.
func newTestMessage(instanceID, chatName, content string, receivedAt time.Time) *models.Message {
	msgCounter++
	return &models.Message{
		MessageID:   fmt.Sprintf("msg-%d", msgCounter),
		InstanceID:  instanceID,
		ChatName:    chatName,
		Sender:      "alice",
		Content:     content,
		MType:       models.MTypeText,
		ContentHash: "hash-" + content,
		ReceivedAt:  receivedAt,
	}
}
