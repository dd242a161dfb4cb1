package ingestion

import (
	"github.com/poiesic/convoy/core"
	"github.com/poiesic/convoy/provider"
)

// PipelineMessage is the closed set of values that travel between stages.
// Consumers dispatch with a type switch over the variants below.
type PipelineMessage interface {
	pipelineMessage()
}

// ConversationFetched is emitted by the fetch stage.
type ConversationFetched struct {
	Account      *core.Account
	Provider     provider.Provider
	Conversation *core.Conversation
	Attachments  []core.Attachment
}

// MediaDownloaded is emitted by the media stage with the attachments that
// were downloaded successfully.
type MediaDownloaded struct {
	Account      *core.Account
	Conversation *core.Conversation
	Downloads    []core.DownloadedAttachment
}

// Complete reports a fully persisted conversation.
type Complete struct {
	ConversationID string
	MessagesCount  int
	ChunksCount    int
}

// Error reports a conversation that could not be persisted.
type Error struct {
	ConversationID string
	Stage          string
	Message        string
	Err            error
}

// Shutdown is the last message on the result channel.
type Shutdown struct{}

func (ConversationFetched) pipelineMessage() {}
func (MediaDownloaded) pipelineMessage()     {}
func (Complete) pipelineMessage()            {}
func (Error) pipelineMessage()               {}
func (Shutdown) pipelineMessage()            {}

func newError(stage, conversationID string, err error) Error {
	return Error{ConversationID: conversationID, Stage: stage, Message: err.Error(), Err: err}
}

func (e Error) stageError() core.StageError {
	return core.StageError{ConversationID: e.ConversationID, Stage: e.Stage, Message: e.Message, Err: e.Err}
}
