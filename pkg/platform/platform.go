// Package platform implements the service platforms a message can be routed
// to: dify, openai-compatible, and local keyword matching.
package platform

import (
	"context"

	"github.com/wxgate/wxgate/pkg/models"
)

// Envelope is the message handed to a platform for processing.
type Envelope struct {
	Content      string
	Sender       string
	SenderRemark string
	ChatName     string
	InstanceID   string
	MType        models.MType
	// Attachments are agent-local file paths saved during harvesting.
	Attachments []string
}

// SenderName prefers the remark name over the raw account name.
func (e *Envelope) SenderName() string {
	if e.SenderRemark != "" {
		return e.SenderRemark
	}
	return e.Sender
}

// Reply is a platform's answer. NoReply means the message was processed but
// nothing should be sent back.
type Reply struct {
	Content string
	NoReply bool
	// AtList names users to @-mention with the reply.
	AtList []string
	// Files are agent-local file paths to send after the text.
	Files []string
}

// Platform processes messages for one configured platform instance.
type Platform interface {
	Kind() models.PlatformKind
	Initialize(ctx context.Context, config map[string]any) error
	ProcessMessage(ctx context.Context, env *Envelope) (*Reply, error)
	TestConnection(ctx context.Context) error
}
