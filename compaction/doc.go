// Package compaction folds per-conversation embedding segments into one
// consolidated file per provider.
//
// A compaction reads the consolidated file and every segment, lets segment
// rows replace the consolidated rows of their conversation, sorts the result,
// and publishes it with a temp-file rename before deleting the merged
// segments. A crash at any point leaves either the old or the new
// consolidated file plus segments that still overlay correctly.
package compaction
