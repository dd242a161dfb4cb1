package badger

import "encoding/binary"

const (
	accountPrefix    = "acct"
	syncStatePrefix  = "sync"
	attachmentPrefix = "att"
	pullPrefix       = "pull"
	pullSeq          = "pullseq"
)

// Components are joined with NUL so provider and conversation IDs may contain
// any printable character without colliding under prefix scans.
const sep = "\x00"

func makeAccountKey(providerID, id string) []byte {
	return []byte(accountPrefix + sep + providerID + sep + id)
}

func makeSyncStateKey(providerID, conversationID string) []byte {
	return []byte(syncStatePrefix + sep + providerID + sep + conversationID)
}

// makeSyncStatePrefix returns the scan prefix for one provider, or for every
// provider when providerID is empty.
func makeSyncStatePrefix(providerID string) []byte {
	if providerID == "" {
		return []byte(syncStatePrefix + sep)
	}
	return []byte(syncStatePrefix + sep + providerID + sep)
}

func makeAttachmentKey(conversationID, attachmentID string) []byte {
	return []byte(attachmentPrefix + sep + conversationID + sep + attachmentID)
}

func makeAttachmentPrefix(conversationID string) []byte {
	if conversationID == "" {
		return []byte(attachmentPrefix + sep)
	}
	return []byte(attachmentPrefix + sep + conversationID + sep)
}

// makePullKey generates a key for a pull record by sequence number.
func makePullKey(seq uint64) []byte {
	prefix := []byte(pullPrefix + sep)
	buf := make([]byte, len(prefix)+8)
	offset := copy(buf, prefix)
	// Write in BigEndian order so lexicographic sort works correctly
	binary.BigEndian.PutUint64(buf[offset:], seq)
	return buf
}

func makePullPrefix() []byte {
	return []byte(pullPrefix + sep)
}
