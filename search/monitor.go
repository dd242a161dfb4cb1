package search

import (
	"github.com/poiesic/convoy/core"
	"github.com/poiesic/convoy/storage"
)

// SearchMonitor provides hooks to observe the search process.
// Implement this interface to track intermediate steps and results during search.
type SearchMonitor interface {
	Start(query Query)
	AfterFullTextSearch(hits []storage.TextHit)
	AfterSemanticSearch(hits []SemanticHit)
	AfterFusion(fused []Fused)
	Finish(results []*core.SearchResult)
}

// noopMonitor is a no-op implementation of SearchMonitor
type noopMonitor struct{}

var _ SearchMonitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_ Query)                          {}
func (n *noopMonitor) AfterFullTextSearch(_ []storage.TextHit) {}
func (n *noopMonitor) AfterSemanticSearch(_ []SemanticHit)     {}
func (n *noopMonitor) AfterFusion(_ []Fused)                   {}
func (n *noopMonitor) Finish(_ []*core.SearchResult)           {}
