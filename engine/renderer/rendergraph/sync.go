package rendergraph

import (
	vk "github.com/goki/vulkan"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// lowerSynchronization walks every use chain and emits, per adjacent
// pair, exactly one of: a subpass dependency, external dependencies on
// the render passes crossed, or nothing for read-after-read. Attachment
// chains are bracketed with the binding's initial and final uses first,
// and their load/store ops and layouts are derived along the way.
func (rg *RenderGraph) lowerSynchronization() {
	attNames := maps.Keys(rg.boundAttachments)
	slices.Sort(attNames)

	bound := make(map[Name]struct{}, len(attNames))
	for _, raw := range attNames {
		bound[rg.resolve(raw)] = struct{}{}
	}

	for _, raw := range attNames {
		att := rg.boundAttachments[raw]
		name := rg.resolve(raw)
		chain, ok := rg.useChains[name]
		if !ok {
			// Bound but never referenced by a pass.
			continue
		}
		full := make([]UseRef, 0, len(chain)+2)
		full = append(full, UseRef{Use: att.Initial, PassIndex: -1})
		full = append(full, chain...)
		full = append(full, UseRef{Use: att.Final, PassIndex: -1})
		rg.useChains[name] = full
		rg.lowerChain(name, full, att)
	}

	// Chains with no binding: buffers and storage images. Same walk,
	// no endpoints and no layout bookkeeping.
	chainNames := maps.Keys(rg.useChains)
	slices.Sort(chainNames)
	for _, name := range chainNames {
		if _, ok := bound[name]; ok {
			continue
		}
		rg.lowerChain(name, rg.useChains[name], nil)
	}
}

func dependency(src, dst Use, srcSubpass, dstSubpass uint32) vk.SubpassDependency {
	return vk.SubpassDependency{
		SrcSubpass:    srcSubpass,
		DstSubpass:    dstSubpass,
		SrcStageMask:  src.Stages,
		SrcAccessMask: src.Access,
		DstStageMask:  dst.Stages,
		DstAccessMask: dst.Access,
	}
}

// syncNeeded makes the read-after-read no-op explicit: a dependency is
// required only when either side writes or the image must change
// layout.
func syncNeeded(l, r Use) bool {
	return l.IsWrite() || r.IsWrite() || l.Layout != r.Layout
}

func (rg *RenderGraph) lowerChain(name Name, chain []UseRef, att *AttachmentInfo) {
	for i := 0; i+1 < len(chain); i++ {
		l := chain[i]
		r := chain[i+1]

		crosses := l.PassIndex < 0 || r.PassIndex < 0 ||
			rg.passes[l.PassIndex].RenderPassIndex != rg.passes[r.PassIndex].RenderPassIndex
		if !crosses {
			// Subpass to subpass: WAW, WAR and RAW need a dependency.
			if att != nil {
				if l.Use.IsFramebufferAttachment() && (l.Use.IsWrite() || (l.Use.IsRead() && r.Use.IsWrite())) {
					rp := rg.rpis[rg.passes[r.PassIndex].RenderPassIndex]
					rp.Dependencies = append(rp.Dependencies, dependency(
						l.Use, r.Use,
						uint32(rg.passes[l.PassIndex].Subpass),
						uint32(rg.passes[r.PassIndex].Subpass)))
				}
			} else if l.Use.IsWrite() || r.Use.IsWrite() {
				rp := rg.rpis[rg.passes[r.PassIndex].RenderPassIndex]
				rp.Dependencies = append(rp.Dependencies, dependency(
					l.Use, r.Use,
					uint32(rg.passes[l.PassIndex].Subpass),
					uint32(rg.passes[r.PassIndex].Subpass)))
			}
			continue
		}

		if l.PassIndex >= 0 {
			leftRP := rg.rpis[rg.passes[l.PassIndex].RenderPassIndex]
			if att != nil && l.Use.IsFramebufferAttachment() {
				rpAtt := leftRP.attachment(name)
				rpAtt.Description.Format = att.Format
				rpAtt.Description.Samples = att.Samples
				rpAtt.Extent = att.Extent
				rpAtt.ClearValue = att.ClearValue
				rpAtt.ShouldClear = att.ShouldClear
				rpAtt.Kind = att.Kind
				// A following render pass, or a required end layout,
				// means we transition for it; otherwise the last use
				// stays as finalLayout.
				if r.PassIndex >= 0 || r.Use.Layout != vk.ImageLayoutUndefined {
					rpAtt.Description.FinalLayout = r.Use.Layout
				} else {
					rpAtt.Description.FinalLayout = l.Use.Layout
				}
				if r.Use.Layout == vk.ImageLayoutUndefined {
					rpAtt.Description.StoreOp = vk.AttachmentStoreOpDontCare
				} else {
					rpAtt.Description.StoreOp = vk.AttachmentStoreOpStore
				}
			}
			emit := l.Use.IsWrite() || r.Use.IsWrite()
			if att != nil {
				emit = r.Use.Layout != vk.ImageLayoutUndefined && syncNeeded(l.Use, r.Use)
			}
			if emit {
				leftRP.Dependencies = append(leftRP.Dependencies, dependency(
					l.Use, r.Use,
					uint32(rg.passes[l.PassIndex].Subpass),
					vk.SubpassExternal))
			}
		}

		if r.PassIndex >= 0 {
			rightRP := rg.rpis[rg.passes[r.PassIndex].RenderPassIndex]
			// The Preinitialized sentinel in the incoming slot requests
			// clear-on-first-use; the API sees Undefined.
			inLayout := l.Use.Layout
			if att != nil && r.Use.IsFramebufferAttachment() {
				rpAtt := rightRP.attachment(name)
				rpAtt.Description.Format = att.Format
				rpAtt.Description.Samples = att.Samples
				rpAtt.Extent = att.Extent
				rpAtt.ClearValue = att.ClearValue
				rpAtt.ShouldClear = att.ShouldClear
				rpAtt.Kind = att.Kind
				if l.PassIndex >= 0 {
					// The left render pass transitions for us.
					rpAtt.Description.InitialLayout = r.Use.Layout
				} else {
					rpAtt.Description.InitialLayout = inLayout
				}
				switch inLayout {
				case vk.ImageLayoutUndefined:
					rpAtt.Description.LoadOp = vk.AttachmentLoadOpDontCare
				case vk.ImageLayoutPreinitialized:
					rpAtt.Description.InitialLayout = vk.ImageLayoutUndefined
					rpAtt.Description.LoadOp = vk.AttachmentLoadOpClear
				default:
					rpAtt.Description.LoadOp = vk.AttachmentLoadOpLoad
				}
			}
			if inLayout == vk.ImageLayoutPreinitialized {
				inLayout = vk.ImageLayoutUndefined
			}
			emit := l.Use.IsWrite() || r.Use.IsWrite()
			if att != nil {
				emit = inLayout != vk.ImageLayoutUndefined && syncNeeded(l.Use, r.Use)
			}
			if emit {
				rightRP.Dependencies = append(rightRP.Dependencies, dependency(
					l.Use, r.Use,
					vk.SubpassExternal,
					uint32(rg.passes[r.PassIndex].Subpass)))
			}
		}
	}
}

// emitAttachmentReferences collects per-subpass color and depth-stencil
// references. Reference order within a subpass follows the pass's
// declaration order.
func (rg *RenderGraph) emitAttachmentReferences() {
	for _, rp := range rg.rpis {
		for si, sp := range rp.Subpasses {
			pif := rg.passes[sp.PassIndex]
			for _, res := range pif.Pass.Resources {
				use := ToUse(res)
				if !use.IsFramebufferAttachment() {
					continue
				}
				idx := rp.attachmentIndex(rg.resolve(res.UseName))
				if idx < 0 {
					continue
				}
				ref := vk.AttachmentReference{
					Attachment: uint32(idx),
					Layout:     use.Layout,
				}
				if use.Layout == vk.ImageLayoutDepthStencilAttachmentOptimal {
					// At most one depth-stencil reference per subpass.
					r := ref
					rp.dsRefPerSubpass[si] = &r
				} else {
					rp.colorRefsPerSubpass[si] = append(rp.colorRefsPerSubpass[si], ref)
				}
			}
		}
	}
}

// compileDescriptions flattens the per-subpass references into the flat
// color_refs array plus prefix-sum offsets, and assembles the final
// renderpass descriptions.
func (rg *RenderGraph) compileDescriptions() {
	for _, rp := range rg.rpis {
		rp.ColorRefs = nil
		rp.ColorRefOffsets = make([]uint32, len(rp.Subpasses))
		for si, refs := range rp.colorRefsPerSubpass {
			rp.ColorRefs = append(rp.ColorRefs, refs...)
			rp.ColorRefOffsets[si] = uint32(len(rp.ColorRefs))
		}

		desc := &RenderpassDescription{}
		for _, att := range rp.Attachments {
			desc.Attachments = append(desc.Attachments, att.Description)
		}
		for si := range rp.Subpasses {
			start := uint32(0)
			if si > 0 {
				start = rp.ColorRefOffsets[si-1]
			}
			sd := SubpassDescription{
				ColorRefs:       rp.ColorRefs[start:rp.ColorRefOffsets[si]],
				DepthStencilRef: rp.dsRefPerSubpass[si],
			}
			desc.Subpasses = append(desc.Subpasses, sd)
		}
		desc.Dependencies = append(desc.Dependencies, rp.Dependencies...)
		rp.Description = desc
	}
}
