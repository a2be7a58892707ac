package combinator

import (
	"github.com/flowllm-ai/flowllm/flowerr"
	"github.com/flowllm-ai/flowllm/op"
)

// Attach implements Container composition (notation "Op << {name: ChildOp,
// ...}"): it does not wrap parent in a new Op, it installs each named
// child directly on parent's Ops() map for parent's own Execute to
// dispatch (spec §4.4 "Container ... stores them in the parent's ops map
// for the parent's execute to invoke directly. Used by tool-router Ops.").
//
// Attaching children to a Sequential or Parallel node is illegal (spec
// §4.4 "Tie-break invariants ... `<<` is illegal on Sequential/Parallel
// nodes") since those combinators are fully determined by their ordered
// child list at parse time.
func Attach(parent op.Op, children map[string]op.Op) (op.Op, error) {
	switch parent.(type) {
	case *Sequential, *Parallel:
		return nil, flowerr.New(flowerr.KindDeterministic, "container: '<<' is illegal on Sequential/Parallel nodes")
	}
	for name, child := range children {
		parent.SetOp(name, child)
	}
	return parent, nil
}
