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


package storage

import (
	"bytes"
	"fmt"

	"github.com/mus-format/mus-go"
	"github.com/mus-format/mus-go/varint"
	"github.com/poiesic/convoy/core"
)

// FormatVersion is written after the magic of every record file.
const FormatVersion byte = 1

var (
	// ConversationMagic starts a conversation record file.
	ConversationMagic = []byte("CVYC")

	// EmbeddingMagic starts an embedding segment or consolidated file.
	EmbeddingMagic = []byte("CVYE")
)

const headerSize = 5

// Marshal serializes v with ser.
func Marshal[T any](ser mus.Serializer[T], v T) []byte {
	buf := make([]byte, ser.Size(v))
	ser.Marshal(v, buf)
	return buf
}

// Unmarshal deserializes a T that must occupy all of data.
func Unmarshal[T any](ser mus.Serializer[T], data []byte) (T, error) {
	v, n, err := ser.Unmarshal(data)
	if err != nil {
		return v, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	if n != len(data) {
		return v, fmt.Errorf("%w: %d trailing bytes", ErrSerializationFailed, len(data)-n)
	}
	return v, nil
}

func header(magic []byte, size int) []byte {
	buf := make([]byte, headerSize, headerSize+size)
	copy(buf, magic)
	buf[4] = FormatVersion
	return buf
}

func checkHeader(magic, data []byte) ([]byte, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: %d byte file", ErrTruncatedData, len(data))
	}
	if !bytes.Equal(data[:4], magic) {
		return nil, fmt.Errorf("%w: %q", ErrBadMagic, data[:4])
	}
	if data[4] != FormatVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, data[4])
	}
	return data[headerSize:], nil
}

// MarshalConversationFile encodes a conversation record file.
func MarshalConversationFile(conv *core.Conversation) []byte {
	size := core.ConversationMUS.Size(*conv)
	buf := header(ConversationMagic, size)
	buf = buf[:headerSize+size]
	core.ConversationMUS.Marshal(*conv, buf[headerSize:])
	return buf
}

// UnmarshalConversationFile decodes a conversation record file.
func UnmarshalConversationFile(data []byte) (*core.Conversation, error) {
	payload, err := checkHeader(ConversationMagic, data)
	if err != nil {
		return nil, err
	}
	conv, err := Unmarshal[core.Conversation](core.ConversationMUS, payload)
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// MarshalEmbeddingFile encodes records as a count followed by each record.
func MarshalEmbeddingFile(records []core.EmbeddingRecord) []byte {
	size := varint.PositiveInt.Size(len(records))
	for i := range records {
		size += core.EmbeddingRecordMUS.Size(records[i])
	}
	buf := header(EmbeddingMagic, size)
	buf = buf[:headerSize+size]
	n := headerSize + varint.PositiveInt.Marshal(len(records), buf[headerSize:])
	for i := range records {
		n += core.EmbeddingRecordMUS.Marshal(records[i], buf[n:])
	}
	return buf
}

// UnmarshalEmbeddingFile decodes an embedding segment or consolidated file.
func UnmarshalEmbeddingFile(data []byte) ([]core.EmbeddingRecord, error) {
	payload, err := checkHeader(EmbeddingMagic, data)
	if err != nil {
		return nil, err
	}
	count, n, err := varint.PositiveInt.Unmarshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: record count: %w", ErrSerializationFailed, err)
	}
	if count > len(payload) {
		return nil, fmt.Errorf("%w: %d records in %d bytes", ErrTruncatedData, count, len(payload))
	}
	records := make([]core.EmbeddingRecord, 0, count)
	for i := 0; i < count; i++ {
		rec, m, err := core.EmbeddingRecordMUS.Unmarshal(payload[n:])
		if err != nil {
			return nil, fmt.Errorf("%w: record %d: %w", ErrTruncatedData, i, err)
		}
		n += m
		records = append(records, rec)
	}
	if n != len(payload) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrSerializationFailed, len(payload)-n)
	}
	return records, nil
}
