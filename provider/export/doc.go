// Package export implements provider.Provider over a directory of exported
// conversations.
//
// An account's Source names the directory. Every *.json file in it holds one
// conversation:
//
//	{
//	  "id": "c-1",
//	  "title": "Go generics",
//	  "model": "sonnet",
//	  "created_at": "2025-01-02T03:04:05Z",
//	  "updated_at": "2025-01-02T04:00:00Z",
//	  "messages": [
//	    {"id": "m1", "role": "user", "content_type": "text", "content": "..."},
//	    {"id": "m2", "parent_id": "m1", "role": "assistant", "content": "..."}
//	  ],
//	  "attachments": [
//	    {"id": "a1", "message_id": "m1", "filename": "plot.png", "url": "files/plot.png"}
//	  ]
//	}
//
// Attachment URLs are either http(s) URLs or paths relative to the directory.
package export
