package core

// MessageTree is an arena over a conversation's messages indexed by message ID.
// Parent links are resolved by lookup, never by pointer, so malformed provider
// data containing a cycle cannot cause unbounded traversal.
type MessageTree struct {
	messages []Message
	index    map[string]int
	children map[string][]int
}

// NewMessageTree builds a tree over msgs. The slice is not copied.
// When IDs repeat, the first occurrence wins.
func NewMessageTree(msgs []Message) *MessageTree {
	t := &MessageTree{
		messages: msgs,
		index:    make(map[string]int, len(msgs)),
		children: make(map[string][]int),
	}
	for i, m := range msgs {
		if _, dup := t.index[m.ID]; dup {
			continue
		}
		t.index[m.ID] = i
	}
	for i, m := range msgs {
		if m.ParentID == "" {
			continue
		}
		if _, ok := t.index[m.ParentID]; ok {
			t.children[m.ParentID] = append(t.children[m.ParentID], i)
		}
	}
	return t
}

// Len returns the number of messages in the arena.
func (t *MessageTree) Len() int {
	return len(t.messages)
}

// Get returns the message with the given ID.
func (t *MessageTree) Get(id string) (*Message, bool) {
	i, ok := t.index[id]
	if !ok {
		return nil, false
	}
	return &t.messages[i], true
}

// Parent returns the parent of id, if it exists in the arena.
func (t *MessageTree) Parent(id string) (*Message, bool) {
	m, ok := t.Get(id)
	if !ok || m.ParentID == "" {
		return nil, false
	}
	return t.Get(m.ParentID)
}

// Children returns the children of id in arena order.
func (t *MessageTree) Children(id string) []*Message {
	idx := t.children[id]
	out := make([]*Message, len(idx))
	for i, j := range idx {
		out[i] = &t.messages[j]
	}
	return out
}

// Roots returns messages with no parent or whose parent is missing from the arena.
func (t *MessageTree) Roots() []*Message {
	var out []*Message
	for i := range t.messages {
		m := &t.messages[i]
		if t.index[m.ID] != i {
			continue
		}
		if m.ParentID == "" {
			out = append(out, m)
			continue
		}
		if _, ok := t.index[m.ParentID]; !ok {
			out = append(out, m)
		}
	}
	return out
}

// Path returns the chain of message IDs from the root down to id.
// Walking stops at the first repeated ID, so a cycle yields a finite path.
func (t *MessageTree) Path(id string) []string {
	seen := make(map[string]bool)
	var rev []string
	cur := id
	for cur != "" && !seen[cur] {
		m, ok := t.Get(cur)
		if !ok {
			break
		}
		seen[cur] = true
		rev = append(rev, cur)
		cur = m.ParentID
	}
	path := make([]string, len(rev))
	for i, v := range rev {
		path[len(rev)-1-i] = v
	}
	return path
}

// Walk visits every message reachable from the roots depth first.
// Each message is visited at most once.
func (t *MessageTree) Walk(fn func(m *Message, depth int) bool) {
	visited := make(map[string]bool, len(t.messages))
	var visit func(m *Message, depth int) bool
	visit = func(m *Message, depth int) bool {
		if visited[m.ID] {
			return true
		}
		visited[m.ID] = true
		if !fn(m, depth) {
			return false
		}
		for _, c := range t.Children(m.ID) {
			if !visit(c, depth+1) {
				return false
			}
		}
		return true
	}
	for _, r := range t.Roots() {
		if !visit(r, 0) {
			return
		}
	}
}

// Cycles returns the IDs of messages that sit on a parent cycle.
func (t *MessageTree) Cycles() []string {
	// 0 = unvisited, 1 = on current chain, 2 = done
	state := make(map[string]int, len(t.messages))
	onCycle := make(map[string]bool)
	for i := range t.messages {
		start := t.messages[i].ID
		if state[start] != 0 {
			continue
		}
		var chain []string
		cur := start
		for cur != "" {
			if _, ok := t.index[cur]; !ok {
				break
			}
			if state[cur] == 2 {
				break
			}
			if state[cur] == 1 {
				// mark the loop portion of the chain
				for j := len(chain) - 1; j >= 0; j-- {
					onCycle[chain[j]] = true
					if chain[j] == cur {
						break
					}
				}
				break
			}
			state[cur] = 1
			chain = append(chain, cur)
			m, _ := t.Get(cur)
			cur = m.ParentID
		}
		for _, id := range chain {
			state[id] = 2
		}
	}
	var out []string
	for i := range t.messages {
		id := t.messages[i].ID
		if onCycle[id] && t.index[id] == i {
			out = append(out, id)
		}
	}
	return out
}

// SanitizeParents clears parent links in msgs that are dangling, self
// referencing, or part of a cycle. It returns the number of links cleared.
func SanitizeParents(msgs []Message) int {
	t := NewMessageTree(msgs)
	cleared := 0
	for i := range msgs {
		p := msgs[i].ParentID
		if p == "" {
			continue
		}
		if _, ok := t.index[p]; !ok || p == msgs[i].ID {
			msgs[i].ParentID = ""
			cleared++
		}
	}
	for _, id := range t.Cycles() {
		i := t.index[id]
		if msgs[i].ParentID != "" {
			msgs[i].ParentID = ""
			cleared++
			// one cut per cycle is enough; recompute for the rest
			return cleared + SanitizeParents(msgs)
		}
	}
	return cleared
}
