package patch

// DefaultIdentityAttr is the attribute carrying the content-addressed identity
// tag on rendered elements.
const DefaultIdentityAttr = "data-tid"

// Patcher reconciles live page trees against fresh render payloads.
//
// RootTag is the expected tag of a well-formed payload's root element; a
// payload with any other root is treated as opaque and swapped in wholesale.
// Structural lists the container tags the patcher recurses into when a matched
// child's content can have changed shape; matched non-structural elements only
// get their attributes patched, their subtree is assumed identical because the
// identity tag is derived from content.
type Patcher struct {
	RootTag      string
	IdentityAttr string
	Structural   map[string]bool
}

// NewPatcher returns a patcher expecting rootTag payload roots, keyed on
// data-tid, recursing into the common structural containers.
func NewPatcher(rootTag string) *Patcher {
	return &Patcher{
		RootTag:      rootTag,
		IdentityAttr: DefaultIdentityAttr,
		Structural: map[string]bool{
			"div": true, "section": true, "article": true,
			"svg": true, "g": true,
		},
	}
}

// Result describes what a Patch call did to the live tree.
//
// Skipped is the no-op fast path: root identity tags matched, nothing was
// touched. Replaced means the whole content was swapped (first paint, opaque
// payload, or unrecognized root). The counters cover the reconcile path.
type Result struct {
	Changed    bool
	Replaced   bool
	Skipped    bool
	AttrWrites int
	Inserted   int
	Removed    int
	Moved      int
}

// Patch reconciles tree against markup. onAfterPatch, when non-nil, is invoked
// with the (possibly reused) root after any patch that touched the tree so
// callers can reapply transient presentation state; it is not invoked on the
// no-op fast path. Patch never fails: malformed payloads degrade to full
// replacement.
func (p *Patcher) Patch(tree *Tree, markup string, onAfterPatch func(*Node)) Result {
	next, err := Parse(markup)
	if err != nil || next.Tag != p.RootTag {
		// Opaque or unrecognized payload: full content replacement.
		tree.Root = nil
		tree.Raw = markup
		return Result{Changed: true, Replaced: true}
	}

	if tree.Root == nil {
		// First paint, or recovering from a previous opaque payload.
		tree.Root = next
		tree.Raw = ""
		res := Result{Changed: true, Replaced: true}
		if onAfterPatch != nil {
			onAfterPatch(tree.Root)
		}
		return res
	}

	if oldTid, ok := tree.Root.Attr(p.IdentityAttr); ok {
		if newTid, ok := next.Attr(p.IdentityAttr); ok && oldTid == newTid {
			return Result{Skipped: true}
		}
	}

	var res Result
	if tree.Root.Tag != next.Tag {
		tree.Root = next
		res = Result{Changed: true, Replaced: true}
	} else {
		p.patchAttrs(tree.Root, next, &res)
		p.reconcileChildren(tree.Root, next, &res)
		res.Changed = res.AttrWrites > 0 || res.Inserted > 0 || res.Removed > 0 || res.Moved > 0
	}
	if onAfterPatch != nil {
		onAfterPatch(tree.Root)
	}
	return res
}

// patchAttrs removes attributes absent on next, sets attributes whose value
// differs and leaves identical ones untouched.
func (p *Patcher) patchAttrs(live, next *Node, res *Result) {
	for i := len(live.Attrs) - 1; i >= 0; i-- {
		if _, ok := next.Attr(live.Attrs[i].Key); !ok {
			live.RemoveAttr(live.Attrs[i].Key)
			res.AttrWrites++
		}
	}
	for _, a := range next.Attrs {
		if cur, ok := live.Attr(a.Key); !ok || cur != a.Value {
			live.SetAttr(a.Key, a.Value)
			res.AttrWrites++
		}
	}
}

// patchMatched updates a live element that was claimed for a new element with
// the same identity tag. Attributes are always patched (placement attributes
// can change without affecting the content hash); only structural containers
// get their children reconciled.
func (p *Patcher) patchMatched(live, next *Node, res *Result) {
	p.patchAttrs(live, next, res)
	if p.Structural[next.Tag] {
		p.reconcileChildren(live, next, res)
	}
}

// reconcileChildren rebuilds live.Children in the order of next.Children,
// reusing live elements whose identity tag matches. Unclaimed live children
// are removed; reused children are only counted as moved when their relative
// order changed.
func (p *Patcher) reconcileChildren(live, next *Node, res *Result) {
	// Identity index over the live element children. Duplicate live tags keep
	// the first occurrence; later ones are unreachable and get removed.
	index := make(map[string]*Node)
	for _, c := range live.Children {
		if c.Type != ElementNode {
			continue
		}
		tid, ok := c.Attr(p.IdentityAttr)
		if !ok {
			continue
		}
		if _, exists := index[tid]; !exists {
			index[tid] = c
		}
	}

	// Text children have no identity; they are reused in order when their
	// content is unchanged so an untouched container does not churn.
	var liveText []*Node
	for _, c := range live.Children {
		if c.Type == TextNode {
			liveText = append(liveText, c)
		}
	}
	textCursor := 0

	used := make(map[*Node]bool)
	target := make([]*Node, 0, len(next.Children))
	for _, nc := range next.Children {
		if nc.Type == ElementNode {
			if tid, ok := nc.Attr(p.IdentityAttr); ok {
				if lc, hit := index[tid]; hit && !used[lc] {
					used[lc] = true
					p.patchMatched(lc, nc, res)
					target = append(target, lc)
					continue
				}
			}
		} else if textCursor < len(liveText) && liveText[textCursor].Text == nc.Text {
			lc := liveText[textCursor]
			textCursor++
			used[lc] = true
			target = append(target, lc)
			continue
		}
		// New element, duplicate identity tag, or changed text: insert the
		// parsed node as-is.
		res.Inserted++
		target = append(target, nc)
	}

	// Live children never claimed as reused are dropped.
	reusedInLiveOrder := make([]*Node, 0, len(used))
	for _, c := range live.Children {
		if used[c] {
			reusedInLiveOrder = append(reusedInLiveOrder, c)
		} else {
			res.Removed++
		}
	}

	// A reused child only counts as a relocation when it breaks the existing
	// relative order; children already in sequence stay put.
	cursor := 0
	for _, t := range target {
		if !used[t] {
			continue
		}
		if cursor < len(reusedInLiveOrder) && reusedInLiveOrder[cursor] == t {
			cursor++
			continue
		}
		res.Moved++
	}

	live.Children = target
}
