package rendergraph

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

type subpassInfo struct {
	PassIndex int
}

// attachmentRPInfo is the per-renderpass view of one attachment. Its
// index in RenderPassInfo.Attachments defines the attachment index of
// the produced description.
type attachmentRPInfo struct {
	Name        Name
	Kind        AttachmentKind
	Description vk.AttachmentDescription
	Extent      vk.Extent2D
	ClearValue  Clear
	ShouldClear bool
	ImageView   vk.ImageView
}

// RenderPassInfo is one physical render pass: the passes grouped into
// its subpasses, the attachments they share, and the synchronization
// description lowered for it.
type RenderPassInfo struct {
	Subpasses    []subpassInfo
	Attachments  []*attachmentRPInfo
	Dependencies []vk.SubpassDependency

	colorRefsPerSubpass [][]vk.AttachmentReference
	dsRefPerSubpass     []*vk.AttachmentReference

	// Flattened references: ColorRefOffsets[i] is the number of color
	// refs belonging to subpasses 0..i.
	ColorRefs       []vk.AttachmentReference
	ColorRefOffsets []uint32

	Description *RenderpassDescription

	Handle      vk.RenderPass
	Framebuffer vk.Framebuffer
	Width       uint32
	Height      uint32
}

func (rp *RenderPassInfo) attachment(name Name) *attachmentRPInfo {
	for _, att := range rp.Attachments {
		if att.Name == name {
			return att
		}
	}
	return nil
}

func (rp *RenderPassInfo) attachmentIndex(name Name) int {
	for i, att := range rp.Attachments {
		if att.Name == name {
			return i
		}
	}
	return -1
}

// RenderGraph compiles declared passes and attachment bindings into
// ordered render passes with full synchronization, then records them.
type RenderGraph struct {
	declared         []*PassInfo
	boundAttachments map[Name]*AttachmentInfo

	// Derived state, rebuilt by every Build call.
	passes        []*PassInfo
	aliases       map[Name]Name
	useChains     map[Name][]UseRef
	globalInputs  map[Name]Resource
	globalOutputs map[Name]Resource
	tracked       []Resource
	headPasses    []*PassInfo
	tailPasses    []*PassInfo
	rpis          []*RenderPassInfo
	queueFamily   QueueFamily
	built         bool
}

func New() *RenderGraph {
	return &RenderGraph{
		boundAttachments: make(map[Name]*AttachmentInfo),
	}
}

// AddPass declares a pass. Passes are appended before Build.
func (rg *RenderGraph) AddPass(p Pass) {
	rg.declared = append(rg.declared, &PassInfo{Pass: p})
	rg.built = false
}

// BindAttachmentToSwapchain binds name to a swapchain image that will
// be cleared on first use and presented after the last.
func (rg *RenderGraph) BindAttachmentToSwapchain(name Name, swp Swapchain, clear Clear) {
	att := &AttachmentInfo{
		Kind:        AttachmentKindSwapchain,
		Format:      swp.ImageFormat(),
		Samples:     vk.SampleCount1Bit,
		Extent:      swp.Extent(),
		ClearValue:  clear,
		ShouldClear: true,
		Swapchain:   swp,
	}
	// For WSI we wait on color attachment output; previous contents are
	// discarded since the first use clears.
	att.Initial = Use{
		Stages: vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		Access: 0,
		Layout: vk.ImageLayoutPreinitialized,
	}
	// Presentation signals a semaphore; the implicit external dependency
	// at BOTTOM_OF_PIPE covers the final transition.
	att.Final = Use{
		Stages: vk.PipelineStageFlags(vk.PipelineStageBottomOfPipeBit),
		Access: 0,
		Layout: vk.ImageLayoutPresentSrc,
	}
	rg.boundAttachments[name] = att
	rg.built = false
}

// MarkAttachmentInternal declares name as a transient image owned by
// the graph for the duration of one Execute.
func (rg *RenderGraph) MarkAttachmentInternal(name Name, format vk.Format, extent vk.Extent2D, clear Clear) {
	att := &AttachmentInfo{
		Kind:        AttachmentKindInternal,
		Format:      format,
		Samples:     vk.SampleCount1Bit,
		Extent:      extent,
		ClearValue:  clear,
		ShouldClear: true,
	}
	att.Initial = Use{
		Stages: vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit),
		Access: 0,
		Layout: vk.ImageLayoutPreinitialized,
	}
	// An undefined final layout means no trailing synchronization.
	att.Final = Use{
		Stages: vk.PipelineStageFlags(vk.PipelineStageBottomOfPipeBit),
		Access: 0,
		Layout: vk.ImageLayoutUndefined,
	}
	rg.boundAttachments[name] = att
	rg.built = false
}

// BindAttachmentToImage binds name to an externally owned image view.
// The caller states the use the image arrives in and the use it must be
// left in.
func (rg *RenderGraph) BindAttachmentToImage(name Name, view vk.ImageView, format vk.Format, extent vk.Extent2D, initial, final Use) {
	rg.boundAttachments[name] = &AttachmentInfo{
		Kind:      AttachmentKindExternal,
		Format:    format,
		Samples:   vk.SampleCount1Bit,
		Extent:    extent,
		Initial:   initial,
		Final:     final,
		ImageView: view,
	}
	rg.built = false
}

// resolve walks the alias mapping to the canonical resource key.
func (rg *RenderGraph) resolve(n Name) Name {
	for {
		next, ok := rg.aliases[n]
		if !ok {
			return n
		}
		n = next
	}
}

func (rg *RenderGraph) resetDerived() {
	rg.passes = make([]*PassInfo, len(rg.declared))
	copy(rg.passes, rg.declared)
	for _, pif := range rg.passes {
		pif.Inputs = nil
		pif.Outputs = nil
		pif.GlobalInputs = nil
		pif.GlobalOutputs = nil
		pif.RenderPassIndex = 0
		pif.Subpass = 0
		pif.IsHeadPass = false
		pif.IsTailPass = false
	}
	rg.aliases = make(map[Name]Name)
	rg.useChains = make(map[Name][]UseRef)
	rg.globalInputs = make(map[Name]Resource)
	rg.globalOutputs = make(map[Name]Resource)
	rg.tracked = nil
	rg.headPasses = nil
	rg.tailPasses = nil
	rg.rpis = nil
	rg.queueFamily = QueueFamilyGraphics
	rg.built = false
}

// Build compiles the graph: classify IO, order passes, resolve aliases,
// assemble use chains, group render passes and lower synchronization.
// It reports the first structural error and leaves no partial result
// visible. Build is idempotent per declared graph.
func (rg *RenderGraph) Build() error {
	rg.resetDerived()
	if err := rg.validateDeclarations(); err != nil {
		rg.resetDerived()
		return err
	}
	rg.buildIO()
	if err := rg.sortPasses(); err != nil {
		rg.resetDerived()
		return err
	}
	rg.classifyHeadTail()
	if err := rg.assembleUseChains(); err != nil {
		rg.resetDerived()
		return err
	}
	if err := rg.groupRenderPasses(); err != nil {
		rg.resetDerived()
		return err
	}
	rg.lowerSynchronization()
	rg.emitAttachmentReferences()
	rg.compileDescriptions()
	rg.built = true
	return nil
}

func (rg *RenderGraph) validateDeclarations() error {
	// Collect aliases up front; renames do not depend on pass order.
	for _, pif := range rg.passes {
		for _, res := range pif.Pass.Resources {
			if res.SrcName != res.UseName {
				rg.aliases[res.UseName] = res.SrcName
			}
		}
	}

	// Alias chains must terminate.
	for use := range rg.aliases {
		seen := map[Name]struct{}{}
		n := use
		for {
			if _, ok := seen[n]; ok {
				return fmt.Errorf("alias chain through %q does not terminate: %w", use, ErrContractViolation)
			}
			seen[n] = struct{}{}
			next, ok := rg.aliases[n]
			if !ok {
				break
			}
			n = next
		}
	}

	// One type per canonical resource.
	types := make(map[Name]ResourceType)
	for _, pif := range rg.passes {
		for _, res := range pif.Pass.Resources {
			canonical := rg.resolve(res.UseName)
			if prev, ok := types[canonical]; ok && prev != res.Type {
				return fmt.Errorf("resource %q: %w", canonical, ErrResourceTypeMismatch)
			}
			types[canonical] = res.Type
		}
	}

	// A version may appear once per pass; read plus write on the same
	// version must be declared through an RW access instead.
	for _, pif := range rg.passes {
		seen := make(map[Name]struct{})
		for _, res := range pif.Pass.Resources {
			if _, ok := seen[res.UseName]; ok {
				return fmt.Errorf("pass %q declares %q more than once: %w", pif.Pass.Name, res.UseName, ErrContractViolation)
			}
			seen[res.UseName] = struct{}{}
		}
	}

	// This core records on a single queue family.
	if len(rg.passes) > 0 {
		rg.queueFamily = rg.passes[0].Pass.QueueFamily
		for _, pif := range rg.passes {
			if pif.Pass.QueueFamily != rg.queueFamily {
				return fmt.Errorf("pass %q requests a different queue family: %w", pif.Pass.Name, ErrContractViolation)
			}
		}
	}
	return nil
}

// buildIO determines graph inputs and outputs, and the resources that
// never escape the graph.
func (rg *RenderGraph) buildIO() {
	allOutputs := make(map[Name]Resource)

	for _, pif := range rg.passes {
		for _, res := range pif.Pass.Resources {
			if res.IsRead() {
				pif.Inputs = append(pif.Inputs, res)
			}
			if res.IsWrite() {
				pif.Outputs = append(pif.Outputs, res)
			}
		}

		for _, in := range pif.Inputs {
			if _, ok := rg.globalOutputs[in.UseName]; ok {
				delete(rg.globalOutputs, in.UseName)
			} else {
				pif.GlobalInputs = append(pif.GlobalInputs, in)
			}
		}
		for _, out := range pif.Outputs {
			if _, ok := rg.globalInputs[out.UseName]; ok {
				delete(rg.globalInputs, out.UseName)
			} else {
				pif.GlobalOutputs = append(pif.GlobalOutputs, out)
			}
		}

		for _, in := range pif.GlobalInputs {
			rg.globalInputs[in.UseName] = in
		}
		for _, out := range pif.GlobalOutputs {
			rg.globalOutputs[out.UseName] = out
		}
		for _, out := range pif.Outputs {
			allOutputs[out.UseName] = out
		}
	}

	// Outputs that never escape the graph are the transient candidates.
	names := maps.Keys(allOutputs)
	slices.Sort(names)
	for _, n := range names {
		if _, ok := rg.globalOutputs[n]; !ok {
			rg.tracked = append(rg.tracked, allOutputs[n])
		}
	}
}

// mustPrecede reports whether a has to execute before b. Mutual
// producer/consumer pairs are broken by auxiliary order.
func mustPrecede(a, b *PassInfo) bool {
	couldExecuteAfter := intersectsByName(a.Outputs, b.Inputs)
	couldExecuteBefore := intersectsByName(b.Outputs, a.Inputs)
	if couldExecuteAfter && couldExecuteBefore {
		return a.Pass.AuxiliaryOrder < b.Pass.AuxiliaryOrder
	}
	return couldExecuteAfter
}

// sortPasses orders passes so every reader follows its writers. The
// sort is stable with respect to declaration order among incomparable
// passes.
func (rg *RenderGraph) sortPasses() error {
	// Mutual pairs with equal auxiliary order cannot be scheduled.
	for i := 0; i < len(rg.passes); i++ {
		for j := i + 1; j < len(rg.passes); j++ {
			a, b := rg.passes[i], rg.passes[j]
			if intersectsByName(a.Outputs, b.Inputs) && intersectsByName(b.Outputs, a.Inputs) &&
				a.Pass.AuxiliaryOrder == b.Pass.AuxiliaryOrder {
				return fmt.Errorf("passes %q and %q: %w", a.Pass.Name, b.Pass.Name, ErrUnresolvedCycle)
			}
		}
	}

	if len(rg.passes) <= 1 {
		return nil
	}

	// Repeatedly pick the first remaining pass that no other remaining
	// pass must precede. Picking in declaration order keeps the sort
	// stable among incomparable passes.
	sorted := make([]*PassInfo, 0, len(rg.passes))
	remaining := slices.Clone(rg.passes)
	for len(remaining) > 0 {
		picked := -1
		for i, candidate := range remaining {
			hasPredecessor := false
			for j, other := range remaining {
				if i == j {
					continue
				}
				if mustPrecede(other, candidate) {
					hasPredecessor = true
					break
				}
			}
			if !hasPredecessor {
				picked = i
				break
			}
		}
		if picked == -1 {
			return fmt.Errorf("passes form a cycle not resolvable by auxiliary order: %w", ErrUnresolvedCycle)
		}
		sorted = append(sorted, remaining[picked])
		remaining = append(remaining[:picked], remaining[picked+1:]...)
	}
	rg.passes = sorted
	return nil
}

// classifyHeadTail marks passes that touch only global IO on one side;
// those can execute at the very beginning or end of the graph.
func (rg *RenderGraph) classifyHeadTail() {
	for _, pif := range rg.passes {
		if len(pif.GlobalInputs) == len(pif.Inputs) {
			pif.IsHeadPass = true
			rg.headPasses = append(rg.headPasses, pif)
		}
		if len(pif.GlobalOutputs) == len(pif.Outputs) {
			pif.IsTailPass = true
			rg.tailPasses = append(rg.tailPasses, pif)
		}
	}
}

// assembleUseChains builds, per canonical resource, the ordered
// sequence of uses in execution order.
func (rg *RenderGraph) assembleUseChains() error {
	produced := make(map[Name]struct{})
	for _, pif := range rg.passes {
		for _, out := range pif.Outputs {
			produced[out.UseName] = struct{}{}
		}
	}

	for i, pif := range rg.passes {
		for _, res := range pif.Pass.Resources {
			canonical := rg.resolve(res.UseName)
			_, bound := rg.boundAttachments[canonical]

			if res.IsRead() && !res.IsWrite() {
				if _, ok := produced[res.UseName]; !ok && !bound {
					return fmt.Errorf("pass %q reads %q: %w", pif.Pass.Name, res.UseName, ErrResourceNotProduced)
				}
			}
			if res.IsFramebufferAttachment() && !bound {
				return fmt.Errorf("attachment %q used by pass %q: %w", canonical, pif.Pass.Name, ErrMissingAttachment)
			}

			use := ToUse(res)
			chain := rg.useChains[canonical]
			if len(chain) > 0 {
				last := chain[len(chain)-1]
				if last.PassIndex == i && last.Use == use {
					return fmt.Errorf("pass %q appears twice on the chain of %q: %w", pif.Pass.Name, canonical, ErrContractViolation)
				}
			}
			rg.useChains[canonical] = append(chain, UseRef{Use: use, PassIndex: i})
		}
	}
	return nil
}

// groupRenderPasses gathers passes with identical framebuffer
// attachment sets into one physical render pass. Attachment sets are
// compared by canonical name.
func (rg *RenderGraph) groupRenderPasses() error {
	type group struct {
		key    []Name
		passes []int
	}
	var groups []group

	for i, pif := range rg.passes {
		set := make(map[Name]struct{})
		for _, res := range pif.Pass.Resources {
			if res.IsFramebufferAttachment() {
				set[rg.resolve(res.UseName)] = struct{}{}
			}
		}
		key := maps.Keys(set)
		slices.Sort(key)

		matched := false
		for gi := range groups {
			if slices.Equal(groups[gi].key, key) {
				groups[gi].passes = append(groups[gi].passes, i)
				matched = true
				break
			}
		}
		if !matched {
			groups = append(groups, group{key: key, passes: []int{i}})
		}
	}

	for gi, g := range groups {
		rpi := &RenderPassInfo{}
		for si, pi := range g.passes {
			rg.passes[pi].RenderPassIndex = gi
			rg.passes[pi].Subpass = si
			rpi.Subpasses = append(rpi.Subpasses, subpassInfo{PassIndex: pi})
		}

		var extent vk.Extent2D
		for ai, n := range g.key {
			att := rg.boundAttachments[n]
			if ai == 0 {
				extent = att.Extent
			} else if att.Extent != extent {
				return fmt.Errorf("attachment %q extent %dx%d does not match render pass extent %dx%d: %w",
					n, att.Extent.Width, att.Extent.Height, extent.Width, extent.Height, ErrContractViolation)
			}
			rpi.Attachments = append(rpi.Attachments, &attachmentRPInfo{
				Name: n,
				Kind: att.Kind,
				Description: vk.AttachmentDescription{
					StencilLoadOp:  vk.AttachmentLoadOpDontCare,
					StencilStoreOp: vk.AttachmentStoreOpDontCare,
				},
			})
		}
		rpi.Width = extent.Width
		rpi.Height = extent.Height
		rpi.colorRefsPerSubpass = make([][]vk.AttachmentReference, len(rpi.Subpasses))
		rpi.dsRefPerSubpass = make([]*vk.AttachmentReference, len(rpi.Subpasses))
		rg.rpis = append(rg.rpis, rpi)
	}
	return nil
}

// Passes returns the passes in compiled execution order. Valid after
// Build.
func (rg *RenderGraph) Passes() []*PassInfo {
	return rg.passes
}

// RenderPasses returns the compiled physical render passes. Valid after
// Build.
func (rg *RenderGraph) RenderPasses() []*RenderPassInfo {
	return rg.rpis
}

// UseChain returns the use chain of a resource, bracketed by the
// attachment endpoints when the resource is bound. Valid after Build.
func (rg *RenderGraph) UseChain(name Name) []UseRef {
	return rg.useChains[rg.resolve(name)]
}

// Tracked returns the outputs that never escape the graph; these are
// the candidates for transient storage.
func (rg *RenderGraph) Tracked() []Resource {
	return rg.tracked
}

// GlobalInputs returns the graph-level inputs in name order.
func (rg *RenderGraph) GlobalInputs() []Resource {
	return sortedResources(rg.globalInputs)
}

// GlobalOutputs returns the graph-level outputs in name order.
func (rg *RenderGraph) GlobalOutputs() []Resource {
	return sortedResources(rg.globalOutputs)
}

func sortedResources(m map[Name]Resource) []Resource {
	names := maps.Keys(m)
	slices.Sort(names)
	out := make([]Resource, 0, len(names))
	for _, n := range names {
		out = append(out, m[n])
	}
	return out
}
