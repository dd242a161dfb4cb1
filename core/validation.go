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
	"fmt"
)

// ValidateConversation validates a Conversation according to domain rules.
//
// Validation rules:
//   - ID and ProviderID must not be empty
//   - every message has a non-empty, unique ID
//   - roles and content types are known values
//
// NOT validated:
//   - ParentID links (malformed trees are repaired by SanitizeParents)
//   - empty message content (such messages are stored but not embedded)
func ValidateConversation(conv *Conversation) error {
	if conv == nil {
		return fmt.Errorf("%w: conversation is nil", ErrInvalidConversation)
	}
	if conv.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidConversation)
	}
	if conv.ProviderID == "" {
		return fmt.Errorf("%w: empty provider id", ErrInvalidConversation)
	}

	seen := make(map[string]bool, len(conv.Messages))
	for i, m := range conv.Messages {
		if m.ID == "" {
			return fmt.Errorf("%w: message %d has empty id", ErrInvalidConversation, i)
		}
		if seen[m.ID] {
			return fmt.Errorf("%w: duplicate message id %q", ErrInvalidConversation, m.ID)
		}
		seen[m.ID] = true
		if !m.Role.Valid() {
			return fmt.Errorf("%w: message %q has role %q", ErrInvalidConversation, m.ID, m.Role)
		}
		if !m.ContentType.Valid() {
			return fmt.Errorf("%w: message %q has content type %q", ErrInvalidConversation, m.ID, m.ContentType)
		}
	}
	return nil
}

// ValidateEmbeddingRecord validates an EmbeddingRecord before it is persisted.
func ValidateEmbeddingRecord(rec *EmbeddingRecord) error {
	if rec == nil {
		return fmt.Errorf("%w: record is nil", ErrInvalidEmbeddingRecord)
	}
	if rec.ConversationID == "" {
		return fmt.Errorf("%w: empty conversation id", ErrInvalidEmbeddingRecord)
	}
	if !rec.Level.Valid() {
		return fmt.Errorf("%w: %w", ErrInvalidEmbeddingRecord, ErrInvalidLevel)
	}
	if rec.Level == LevelConversation && rec.MessageID != "" {
		return fmt.Errorf("%w: conversation-level record has message id", ErrInvalidEmbeddingRecord)
	}
	if rec.Level != LevelConversation && rec.MessageID == "" {
		return fmt.Errorf("%w: %s-level record without message id", ErrInvalidEmbeddingRecord, rec.Level)
	}
	if len(rec.Vector) != EmbeddingDim {
		return fmt.Errorf("%w: %w: got %d", ErrInvalidEmbeddingRecord, ErrDimensionMismatch, len(rec.Vector))
	}
	return nil
}

// ValidateAccount validates an Account before it is stored.
func ValidateAccount(acct *Account) error {
	if acct == nil {
		return fmt.Errorf("%w: account is nil", ErrInvalidAccount)
	}
	if acct.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidAccount)
	}
	if acct.ProviderID == "" {
		return fmt.Errorf("%w: empty provider id", ErrInvalidAccount)
	}
	return nil
}
