package rendergraph

import (
	"fmt"
	"strings"
)

// DebugString dumps the compiled schedule: the pass order, the render
// pass grouping and the attachment operations. Valid after Build.
func (rg *RenderGraph) DebugString() string {
	var b strings.Builder
	if !rg.built {
		b.WriteString("render graph (not built)\n")
		return b.String()
	}

	fmt.Fprintf(&b, "render graph: %d passes, %d render passes\n", len(rg.passes), len(rg.rpis))
	for rpIndex, rp := range rg.rpis {
		fmt.Fprintf(&b, "  render pass %d (%dx%d)\n", rpIndex, rp.Width, rp.Height)
		for si, sp := range rp.Subpasses {
			pif := rg.passes[sp.PassIndex]
			marks := ""
			if pif.IsHeadPass {
				marks += " head"
			}
			if pif.IsTailPass {
				marks += " tail"
			}
			fmt.Fprintf(&b, "    subpass %d: %s%s\n", si, pif.Pass.Name, marks)
		}
		for _, att := range rp.Attachments {
			fmt.Fprintf(&b, "    attachment %q: load=%d store=%d initial=%d final=%d clear=%t\n",
				att.Name, att.Description.LoadOp, att.Description.StoreOp,
				att.Description.InitialLayout, att.Description.FinalLayout, att.ShouldClear)
		}
		fmt.Fprintf(&b, "    dependencies: %d\n", len(rp.Dependencies))
	}
	return b.String()
}
