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


// Package provider defines the contract between convoy and the services
// conversations are pulled from.
//
// A Provider lists an account's conversations, fetches one conversation with
// its messages and attachment references, and streams attachment bytes.
// Authentication and wire protocols live entirely behind the interface.
// Providers are looked up by ID through a Registry.
package provider
