package embedding

import (
	"context"
	"errors"
	"strings"

	"github.com/poiesic/convoy/core"
)

// Anomaly records an aggregate that could not be produced.
// MessageID is empty for the conversation level.
type Anomaly struct {
	MessageID string
	Level     core.Level
	Err       error
}

// Build is the embedding output for one conversation.
type Build struct {
	Records   []core.EmbeddingRecord
	Chunks    int
	Messages  int // messages with embeddable text
	Anomalies []Anomaly
}

// Builder runs Chunker, Adapter, and the aggregation rollup over a conversation.
type Builder struct {
	chunker *Chunker
	adapter *Adapter
}

func NewBuilder(chunker *Chunker, adapter *Adapter) *Builder {
	return &Builder{chunker: chunker, adapter: adapter}
}

// Chunker returns the chunker used for message text.
func (b *Builder) Chunker() *Chunker {
	return b.chunker
}

// Adapter returns the embedding adapter.
func (b *Builder) Adapter() *Adapter {
	return b.adapter
}

// MessageText is the text of m that is chunked and embedded.
// Blank messages have no embeddable text.
func MessageText(m *core.Message) string {
	return strings.TrimSpace(m.Content)
}

type messageChunks struct {
	id    string
	first int // offset into the flat chunk list
	count int
}

// Build embeds every chunk of conv and returns chunk, message, and
// conversation records. A failed embedding call fails the whole build.
// A degenerate aggregate is reported as an Anomaly and its record is
// omitted; a degenerate message vector does not feed the conversation mean.
func (b *Builder) Build(ctx context.Context, conv *core.Conversation) (*Build, error) {
	var texts []string
	var msgs []messageChunks
	for i := range conv.Messages {
		text := MessageText(&conv.Messages[i])
		if text == "" {
			continue
		}
		mc := messageChunks{id: conv.Messages[i].ID, first: len(texts)}
		for chunk := range b.chunker.Chunks(text) {
			texts = append(texts, chunk.Text)
			mc.count++
		}
		msgs = append(msgs, mc)
	}

	out := &Build{Chunks: len(texts), Messages: len(msgs)}
	if len(texts) == 0 {
		return out, nil
	}

	vectors, err := b.adapter.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}

	out.Records = make([]core.EmbeddingRecord, 0, len(texts)+len(msgs)+1)
	messageVectors := make([][]float32, 0, len(msgs))
	for _, mc := range msgs {
		chunkVectors := vectors[mc.first : mc.first+mc.count]
		for i, v := range chunkVectors {
			out.Records = append(out.Records, core.EmbeddingRecord{
				ConversationID: conv.ID,
				MessageID:      mc.id,
				ChunkIndex:     i,
				Level:          core.LevelChunk,
				Vector:         v,
			})
		}
		mv, err := Aggregate(chunkVectors)
		if err != nil {
			if !errors.Is(err, core.ErrDegenerateVector) {
				return nil, err
			}
			out.Anomalies = append(out.Anomalies, Anomaly{MessageID: mc.id, Level: core.LevelMessage, Err: err})
			continue
		}
		out.Records = append(out.Records, core.EmbeddingRecord{
			ConversationID: conv.ID,
			MessageID:      mc.id,
			Level:          core.LevelMessage,
			Vector:         mv,
		})
		messageVectors = append(messageVectors, mv)
	}

	if len(messageVectors) == 0 {
		return out, nil
	}
	cv, err := Aggregate(messageVectors)
	if err != nil {
		if !errors.Is(err, core.ErrDegenerateVector) {
			return nil, err
		}
		out.Anomalies = append(out.Anomalies, Anomaly{Level: core.LevelConversation, Err: err})
		return out, nil
	}
	out.Records = append(out.Records, core.EmbeddingRecord{
		ConversationID: conv.ID,
		Level:          core.LevelConversation,
		Vector:         cv,
	})
	return out, nil
}
