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


package search

import "errors"

var (
	// ErrTextIndexRequired is returned when a text index is not provided.
	ErrTextIndexRequired = errors.New("text index required")

	// ErrEmbeddingStoreRequired is returned when an embedding store is not provided.
	ErrEmbeddingStoreRequired = errors.New("embedding store required")

	// ErrConversationStoreRequired is returned when a conversation store is not provided.
	ErrConversationStoreRequired = errors.New("conversation store required")

	// ErrBuilderRequired is returned when an embedding builder is not provided.
	ErrBuilderRequired = errors.New("embedding builder required")
)
