package message

// Parent is the ancestry chain of an execution scope. The current scope's
// nearest ancestor is the Parent itself; Path lists further ancestors in
// nearest-first order. The chain length always equals the actual nesting
// depth; corrupting it breaks event attribution and postponed lookup.
type Parent struct {
	ID          string      `json:"id,omitempty"`
	Type        string      `json:"type,omitempty"`
	ExecutionID string      `json:"executionId,omitempty"`
	Path        []ParentRef `json:"path,omitempty"`
}

// ParentRef identifies one ancestor scope.
type ParentRef struct {
	ID          string `json:"id,omitempty"`
	Type        string `json:"type,omitempty"`
	ExecutionID string `json:"executionId,omitempty"`
}

// Ref returns the parent's own scope reference.
func (p *Parent) Ref() ParentRef {
	return ParentRef{ID: p.ID, Type: p.Type, ExecutionID: p.ExecutionID}
}

// Clone returns a deep copy of the chain.
func (p *Parent) Clone() *Parent {
	if p == nil {
		return nil
	}
	out := *p
	if p.Path != nil {
		out.Path = make([]ParentRef, len(p.Path))
		copy(out.Path, p.Path)
	}
	return &out
}

// Shift pops the nearest ancestor off the chain, making it the current
// scope. It returns nil when the chain is exhausted. Used when attributing
// a descending context upward through event bubbling.
func (p *Parent) Shift() *Parent {
	if p == nil || len(p.Path) == 0 {
		return nil
	}
	head := p.Path[0]
	out := &Parent{ID: head.ID, Type: head.Type, ExecutionID: head.ExecutionID}
	if len(p.Path) > 1 {
		out.Path = make([]ParentRef, len(p.Path)-1)
		copy(out.Path, p.Path[1:])
	}
	return out
}

// Unshift makes adopting the current scope, demoting the previous current
// scope to the nearest path entry. Used when entering a nested scope.
func (p *Parent) Unshift(adopting ParentRef) *Parent {
	out := &Parent{ID: adopting.ID, Type: adopting.Type, ExecutionID: adopting.ExecutionID}
	if p == nil {
		return out
	}
	out.Path = make([]ParentRef, 0, len(p.Path)+1)
	out.Path = append(out.Path, p.Ref())
	out.Path = append(out.Path, p.Path...)
	return out
}

// Push appends an ancestor at the far end of the chain (the outermost
// scope).
func (p *Parent) Push(ancestor ParentRef) *Parent {
	if p == nil {
		return &Parent{ID: ancestor.ID, Type: ancestor.Type, ExecutionID: ancestor.ExecutionID}
	}
	out := p.Clone()
	out.Path = append(out.Path, ancestor)
	return out
}

// Depth returns the nesting depth represented by the chain.
func (p *Parent) Depth() int {
	if p == nil {
		return 0
	}
	return 1 + len(p.Path)
}
