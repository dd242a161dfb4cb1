// Package files stores conversation records, embedding segments, and
// downloaded media as plain files under the data directory.
//
// Every file is replaced by writing a temporary sibling and renaming it into
// place, so readers observe either the previous version or the new one.
// File names are derived from core.IDFromContent so provider IDs never reach
// the file system verbatim.
package files
