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


// Package search answers queries over the archive.
//
// A Searcher runs one of three modes:
//   - ModeFTS ranks conversations by the text index's bm25 score
//   - ModeSemantic ranks conversations by the squared distance between the
//     query embedding and their closest stored record
//   - ModeHybrid runs both and fuses the rankings with Reciprocal Rank Fusion
//
// Every mode returns at most one result per conversation. Equal scores are
// ordered by conversation ID so results are deterministic.
package search
