// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package core

import (
	"errors"
	"fmt"
)

// Failure taxonomy shared by the pipeline, compactor, and search engine.
var (
	// ErrFetch indicates a provider listing or conversation fetch failed.
	ErrFetch = errors.New("fetch failed")

	// ErrMedia indicates a single attachment download failed.
	ErrMedia = errors.New("media download failed")

	// ErrEmbedding indicates the embedding model was unavailable or rejected the input.
	ErrEmbedding = errors.New("embedding failed")

	// ErrDegenerateVector indicates an aggregate vector had zero norm.
	ErrDegenerateVector = errors.New("degenerate vector")

	// ErrStorageUnavailable indicates a persisted store could not be read or written.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrInvalidQuery indicates a malformed search request.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrCompaction indicates a compaction merge step failed.
	ErrCompaction = errors.New("compaction failed")
)

// Domain validation errors
var (
	// ErrInvalidConversation indicates a Conversation failed validation.
	ErrInvalidConversation = errors.New("invalid conversation")

	// ErrInvalidEmbeddingRecord indicates an EmbeddingRecord failed validation.
	ErrInvalidEmbeddingRecord = errors.New("invalid embedding record")

	// ErrInvalidAccount indicates an Account failed validation.
	ErrInvalidAccount = errors.New("invalid account")

	// ErrInvalidLevel indicates an unknown embedding level.
	ErrInvalidLevel = errors.New("invalid level")

	// ErrDimensionMismatch indicates a vector does not have EmbeddingDim entries.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

// Pipeline stage names carried by StageError.
const (
	StageFetch   = "fetch"
	StageMedia   = "media"
	StageEmbed   = "embed"
	StagePersist = "persist"
)

// StageError is a recorded per-item pipeline failure.
// ConversationID is empty when the failure is not tied to one conversation,
// for example a provider listing error.
type StageError struct {
	ConversationID string
	Stage          string
	Message        string
	Err            error
}

func (e *StageError) Error() string {
	if e.ConversationID == "" {
		return fmt.Sprintf("%s: %s", e.Stage, e.Message)
	}
	return fmt.Sprintf("%s [%s]: %s", e.Stage, e.ConversationID, e.Message)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// NewStageError records err against a stage and conversation.
func NewStageError(stage, conversationID string, err error) *StageError {
	return &StageError{
		ConversationID: conversationID,
		Stage:          stage,
		Message:        err.Error(),
		Err:            err,
	}
}
