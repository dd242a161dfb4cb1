package core

import (
	"time"

	"github.com/mus-format/mus-go"
	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/raw"
	"github.com/mus-format/mus-go/varint"
)

// MUS serializers for persisted records. Field order is the on-disk order;
// append new fields at the end of a struct and bump the file format version.
var (
	TimeMUS                 = timeMUS{}
	VectorMUS               = vectorMUS{}
	MessageMUS              = messageMUS{}
	ConversationMUS         = conversationMUS{}
	EmbeddingRecordMUS      = embeddingRecordMUS{}
	AccountMUS              = accountMUS{}
	SyncStateMUS            = syncStateMUS{}
	DownloadedAttachmentMUS = downloadedAttachmentMUS{}
	PullRecordMUS           = pullRecordMUS{}
)

var (
	_ mus.Serializer[time.Time]            = TimeMUS
	_ mus.Serializer[[]float32]            = VectorMUS
	_ mus.Serializer[Message]              = MessageMUS
	_ mus.Serializer[Conversation]         = ConversationMUS
	_ mus.Serializer[EmbeddingRecord]      = EmbeddingRecordMUS
	_ mus.Serializer[Account]              = AccountMUS
	_ mus.Serializer[SyncState]            = SyncStateMUS
	_ mus.Serializer[DownloadedAttachment] = DownloadedAttachmentMUS
	_ mus.Serializer[PullRecord]           = PullRecordMUS
)

// decoder threads the offset and the first error through a sequence of reads.
type decoder struct {
	bs  []byte
	n   int
	err error
}

func read[T any](d *decoder, ser mus.Serializer[T]) (v T) {
	if d.err != nil {
		return
	}
	var n int
	v, n, d.err = ser.Unmarshal(d.bs[d.n:])
	d.n += n
	return
}

func skipWith[T any](ser mus.Serializer[T], bs []byte) (int, error) {
	_, n, err := ser.Unmarshal(bs)
	return n, err
}

// Unix micro timestamps, always decoded as UTC.
type timeMUS struct{}

func (timeMUS) Marshal(t time.Time, bs []byte) int {
	return varint.Int64.Marshal(t.UnixMicro(), bs)
}

func (timeMUS) Unmarshal(bs []byte) (time.Time, int, error) {
	v, n, err := varint.Int64.Unmarshal(bs)
	if err != nil {
		return time.Time{}, n, err
	}
	return time.UnixMicro(v).UTC(), n, nil
}

func (timeMUS) Size(t time.Time) int {
	return varint.Int64.Size(t.UnixMicro())
}

func (s timeMUS) Skip(bs []byte) (int, error) {
	return skipWith[time.Time](s, bs)
}

type vectorMUS struct{}

func (vectorMUS) Marshal(v []float32, bs []byte) int {
	n := varint.PositiveInt.Marshal(len(v), bs)
	for _, f := range v {
		n += raw.Float32.Marshal(f, bs[n:])
	}
	return n
}

func (vectorMUS) Unmarshal(bs []byte) ([]float32, int, error) {
	length, n, err := varint.PositiveInt.Unmarshal(bs)
	if err != nil {
		return nil, n, err
	}
	v := make([]float32, length)
	for i := range v {
		f, n1, err := raw.Float32.Unmarshal(bs[n:])
		n += n1
		if err != nil {
			return nil, n, err
		}
		v[i] = f
	}
	return v, n, nil
}

func (vectorMUS) Size(v []float32) int {
	size := varint.PositiveInt.Size(len(v))
	for _, f := range v {
		size += raw.Float32.Size(f)
	}
	return size
}

func (s vectorMUS) Skip(bs []byte) (int, error) {
	return skipWith[[]float32](s, bs)
}

type messageMUS struct{}

func (messageMUS) Marshal(m Message, bs []byte) int {
	n := ord.String.Marshal(m.ID, bs)
	n += ord.String.Marshal(m.ParentID, bs[n:])
	n += ord.String.Marshal(string(m.Role), bs[n:])
	n += ord.String.Marshal(string(m.ContentType), bs[n:])
	n += ord.String.Marshal(m.Content, bs[n:])
	n += TimeMUS.Marshal(m.CreatedAt, bs[n:])
	return n
}

func (messageMUS) Unmarshal(bs []byte) (Message, int, error) {
	d := &decoder{bs: bs}
	m := Message{
		ID:          read(d, ord.String),
		ParentID:    read(d, ord.String),
		Role:        Role(read(d, ord.String)),
		ContentType: ContentType(read(d, ord.String)),
		Content:     read(d, ord.String),
		CreatedAt:   read[time.Time](d, TimeMUS),
	}
	return m, d.n, d.err
}

func (messageMUS) Size(m Message) int {
	return ord.String.Size(m.ID) +
		ord.String.Size(m.ParentID) +
		ord.String.Size(string(m.Role)) +
		ord.String.Size(string(m.ContentType)) +
		ord.String.Size(m.Content) +
		TimeMUS.Size(m.CreatedAt)
}

func (s messageMUS) Skip(bs []byte) (int, error) {
	return skipWith[Message](s, bs)
}

type conversationMUS struct{}

func (conversationMUS) Marshal(c Conversation, bs []byte) int {
	n := ord.String.Marshal(c.ID, bs)
	n += ord.String.Marshal(c.ProviderID, bs[n:])
	n += ord.String.Marshal(c.AccountID, bs[n:])
	n += ord.String.Marshal(c.Title, bs[n:])
	n += ord.String.Marshal(c.Model, bs[n:])
	n += ord.String.Marshal(c.ProjectID, bs[n:])
	n += ord.String.Marshal(c.ProjectName, bs[n:])
	n += ord.Bool.Marshal(c.IsArchived, bs[n:])
	n += TimeMUS.Marshal(c.CreatedAt, bs[n:])
	n += TimeMUS.Marshal(c.UpdatedAt, bs[n:])
	n += varint.PositiveInt.Marshal(len(c.Messages), bs[n:])
	for _, m := range c.Messages {
		n += MessageMUS.Marshal(m, bs[n:])
	}
	return n
}

func (conversationMUS) Unmarshal(bs []byte) (Conversation, int, error) {
	d := &decoder{bs: bs}
	c := Conversation{
		ID:          read(d, ord.String),
		ProviderID:  read(d, ord.String),
		AccountID:   read(d, ord.String),
		Title:       read(d, ord.String),
		Model:       read(d, ord.String),
		ProjectID:   read(d, ord.String),
		ProjectName: read(d, ord.String),
		IsArchived:  read(d, ord.Bool),
		CreatedAt:   read[time.Time](d, TimeMUS),
		UpdatedAt:   read[time.Time](d, TimeMUS),
	}
	count := read(d, varint.PositiveInt)
	if d.err != nil {
		return c, d.n, d.err
	}
	c.Messages = make([]Message, 0, count)
	for i := 0; i < count; i++ {
		m := read[Message](d, MessageMUS)
		if d.err != nil {
			return c, d.n, d.err
		}
		c.Messages = append(c.Messages, m)
	}
	return c, d.n, nil
}

func (conversationMUS) Size(c Conversation) int {
	size := ord.String.Size(c.ID) +
		ord.String.Size(c.ProviderID) +
		ord.String.Size(c.AccountID) +
		ord.String.Size(c.Title) +
		ord.String.Size(c.Model) +
		ord.String.Size(c.ProjectID) +
		ord.String.Size(c.ProjectName) +
		ord.Bool.Size(c.IsArchived) +
		TimeMUS.Size(c.CreatedAt) +
		TimeMUS.Size(c.UpdatedAt) +
		varint.PositiveInt.Size(len(c.Messages))
	for _, m := range c.Messages {
		size += MessageMUS.Size(m)
	}
	return size
}

func (s conversationMUS) Skip(bs []byte) (int, error) {
	return skipWith[Conversation](s, bs)
}

type embeddingRecordMUS struct{}

func (embeddingRecordMUS) Marshal(r EmbeddingRecord, bs []byte) int {
	n := ord.String.Marshal(r.ConversationID, bs)
	n += ord.String.Marshal(r.MessageID, bs[n:])
	n += varint.PositiveInt.Marshal(r.ChunkIndex, bs[n:])
	n += raw.Byte.Marshal(byte(r.Level), bs[n:])
	n += VectorMUS.Marshal(r.Vector, bs[n:])
	return n
}

func (embeddingRecordMUS) Unmarshal(bs []byte) (EmbeddingRecord, int, error) {
	d := &decoder{bs: bs}
	r := EmbeddingRecord{
		ConversationID: read(d, ord.String),
		MessageID:      read(d, ord.String),
		ChunkIndex:     read(d, varint.PositiveInt),
		Level:          Level(read(d, raw.Byte)),
		Vector:         read[[]float32](d, VectorMUS),
	}
	return r, d.n, d.err
}

func (embeddingRecordMUS) Size(r EmbeddingRecord) int {
	return ord.String.Size(r.ConversationID) +
		ord.String.Size(r.MessageID) +
		varint.PositiveInt.Size(r.ChunkIndex) +
		raw.Byte.Size(byte(r.Level)) +
		VectorMUS.Size(r.Vector)
}

func (s embeddingRecordMUS) Skip(bs []byte) (int, error) {
	return skipWith[EmbeddingRecord](s, bs)
}

type accountMUS struct{}

func (accountMUS) Marshal(a Account, bs []byte) int {
	n := ord.String.Marshal(a.ID, bs)
	n += ord.String.Marshal(a.ProviderID, bs[n:])
	n += ord.String.Marshal(a.Email, bs[n:])
	n += ord.String.Marshal(a.Name, bs[n:])
	n += ord.String.Marshal(a.Source, bs[n:])
	return n
}

func (accountMUS) Unmarshal(bs []byte) (Account, int, error) {
	d := &decoder{bs: bs}
	a := Account{
		ID:         read(d, ord.String),
		ProviderID: read(d, ord.String),
		Email:      read(d, ord.String),
		Name:       read(d, ord.String),
		Source:     read(d, ord.String),
	}
	return a, d.n, d.err
}

func (accountMUS) Size(a Account) int {
	return ord.String.Size(a.ID) +
		ord.String.Size(a.ProviderID) +
		ord.String.Size(a.Email) +
		ord.String.Size(a.Name) +
		ord.String.Size(a.Source)
}

func (s accountMUS) Skip(bs []byte) (int, error) {
	return skipWith[Account](s, bs)
}

type syncStateMUS struct{}

func (syncStateMUS) Marshal(s SyncState, bs []byte) int {
	n := ord.String.Marshal(s.ProviderID, bs)
	n += ord.String.Marshal(s.ConversationID, bs[n:])
	n += TimeMUS.Marshal(s.UpdatedAt, bs[n:])
	n += varint.PositiveInt.Marshal(s.MessageCount, bs[n:])
	n += varint.PositiveInt.Marshal(s.ChunkCount, bs[n:])
	n += TimeMUS.Marshal(s.IndexedAt, bs[n:])
	return n
}

func (syncStateMUS) Unmarshal(bs []byte) (SyncState, int, error) {
	d := &decoder{bs: bs}
	s := SyncState{
		ProviderID:     read(d, ord.String),
		ConversationID: read(d, ord.String),
		UpdatedAt:      read[time.Time](d, TimeMUS),
		MessageCount:   read(d, varint.PositiveInt),
		ChunkCount:     read(d, varint.PositiveInt),
		IndexedAt:      read[time.Time](d, TimeMUS),
	}
	return s, d.n, d.err
}

func (syncStateMUS) Size(s SyncState) int {
	return ord.String.Size(s.ProviderID) +
		ord.String.Size(s.ConversationID) +
		TimeMUS.Size(s.UpdatedAt) +
		varint.PositiveInt.Size(s.MessageCount) +
		varint.PositiveInt.Size(s.ChunkCount) +
		TimeMUS.Size(s.IndexedAt)
}

func (s syncStateMUS) Skip(bs []byte) (int, error) {
	return skipWith[SyncState](s, bs)
}

type downloadedAttachmentMUS struct{}

func (downloadedAttachmentMUS) Marshal(a DownloadedAttachment, bs []byte) int {
	n := ord.String.Marshal(a.AttachmentID, bs)
	n += ord.String.Marshal(a.ConversationID, bs[n:])
	n += ord.String.Marshal(a.MessageID, bs[n:])
	n += ord.String.Marshal(a.LocalPath, bs[n:])
	n += varint.Int64.Marshal(a.SizeBytes, bs[n:])
	return n
}

func (downloadedAttachmentMUS) Unmarshal(bs []byte) (DownloadedAttachment, int, error) {
	d := &decoder{bs: bs}
	a := DownloadedAttachment{
		AttachmentID:   read(d, ord.String),
		ConversationID: read(d, ord.String),
		MessageID:      read(d, ord.String),
		LocalPath:      read(d, ord.String),
		SizeBytes:      read(d, varint.Int64),
	}
	return a, d.n, d.err
}

func (downloadedAttachmentMUS) Size(a DownloadedAttachment) int {
	return ord.String.Size(a.AttachmentID) +
		ord.String.Size(a.ConversationID) +
		ord.String.Size(a.MessageID) +
		ord.String.Size(a.LocalPath) +
		varint.Int64.Size(a.SizeBytes)
}

func (s downloadedAttachmentMUS) Skip(bs []byte) (int, error) {
	return skipWith[DownloadedAttachment](s, bs)
}

type pullRecordMUS struct{}

func (pullRecordMUS) Marshal(p PullRecord, bs []byte) int {
	n := ord.String.Marshal(p.RunID, bs)
	n += TimeMUS.Marshal(p.StartedAt, bs[n:])
	n += TimeMUS.Marshal(p.FinishedAt, bs[n:])
	n += varint.PositiveInt.Marshal(p.Completed, bs[n:])
	n += varint.PositiveInt.Marshal(p.Failed, bs[n:])
	n += varint.PositiveInt.Marshal(p.Skipped, bs[n:])
	n += varint.PositiveInt.Marshal(p.Chunks, bs[n:])
	n += ord.Bool.Marshal(p.Canceled, bs[n:])
	return n
}

func (pullRecordMUS) Unmarshal(bs []byte) (PullRecord, int, error) {
	d := &decoder{bs: bs}
	p := PullRecord{
		RunID:      read(d, ord.String),
		StartedAt:  read[time.Time](d, TimeMUS),
		FinishedAt: read[time.Time](d, TimeMUS),
		Completed:  read(d, varint.PositiveInt),
		Failed:     read(d, varint.PositiveInt),
		Skipped:    read(d, varint.PositiveInt),
		Chunks:     read(d, varint.PositiveInt),
		Canceled:   read(d, ord.Bool),
	}
	return p, d.n, d.err
}

func (pullRecordMUS) Size(p PullRecord) int {
	return ord.String.Size(p.RunID) +
		TimeMUS.Size(p.StartedAt) +
		TimeMUS.Size(p.FinishedAt) +
		varint.PositiveInt.Size(p.Completed) +
		varint.PositiveInt.Size(p.Failed) +
		varint.PositiveInt.Size(p.Skipped) +
		varint.PositiveInt.Size(p.Chunks) +
		ord.Bool.Size(p.Canceled)
}

func (s pullRecordMUS) Skip(bs []byte) (int, error) {
	return skipWith[PullRecord](s, bs)
}
