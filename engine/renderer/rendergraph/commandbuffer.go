package rendergraph

import (
	"fmt"

	vk "github.com/goki/vulkan"
)

// Area is an absolute viewport or scissor rectangle.
type Area struct {
	Offset vk.Offset2D
	Extent vk.Extent2D
}

// FramebufferArea is a rectangle in framebuffer-relative coordinates,
// each component in [0, 1].
type FramebufferArea struct {
	X, Y, Width, Height float32
}

// CommandBuffer is the recording context handed to pass callbacks. Its
// methods chain; the first failure latches and turns the rest of the
// chain into no-ops. Callbacks return Err() to surface it.
type CommandBuffer struct {
	rg    *RenderGraph
	frame *Frame
	rec   CommandRecorder
	err   error

	ongoingRenderPass vk.RenderPass
	ongoingSubpass    uint32
	ongoingExtent     vk.Extent2D

	attributeDescriptions []vk.VertexInputAttributeDescription
	bindingDescriptions   []vk.VertexInputBindingDescription

	setsUsed    [MaxDescriptorSets]bool
	setBindings [MaxDescriptorSets]DescriptorSetBindings

	currentPipeline *Pipeline

	pendingRasterization *RasterizationDesc
	pendingBlend         map[uint32]BlendPreset
	pendingDynamic       []vk.DynamicState
}

func (c *CommandBuffer) beginSubpass(rp vk.RenderPass, subpass uint32, extent vk.Extent2D) {
	c.ongoingRenderPass = rp
	c.ongoingSubpass = subpass
	c.ongoingExtent = extent
	c.currentPipeline = nil
}

func (c *CommandBuffer) fail(err error) *CommandBuffer {
	if c.err == nil {
		c.err = err
	}
	return c
}

// Err returns the first recording failure, if any.
func (c *CommandBuffer) Err() error {
	return c.err
}

// OngoingRenderPass exposes the active render pass, subpass index and
// framebuffer extent to the pass callback.
func (c *CommandBuffer) OngoingRenderPass() (vk.RenderPass, uint32, vk.Extent2D) {
	return c.ongoingRenderPass, c.ongoingSubpass, c.ongoingExtent
}

// AttachmentView resolves a bound attachment's current image view by
// name.
func (c *CommandBuffer) AttachmentView(name Name) vk.ImageView {
	att, ok := c.rg.boundAttachments[c.rg.resolve(name)]
	if !ok {
		return vk.NullImageView
	}
	return att.ImageView
}

// SetRasterization overrides the rasterization state of the next
// BindPipeline.
func (c *CommandBuffer) SetRasterization(desc RasterizationDesc) *CommandBuffer {
	c.pendingRasterization = &desc
	return c
}

// SetColorBlend overrides the blend preset of one color attachment for
// the next BindPipeline.
func (c *CommandBuffer) SetColorBlend(attachment uint32, preset BlendPreset) *CommandBuffer {
	if c.pendingBlend == nil {
		c.pendingBlend = make(map[uint32]BlendPreset)
	}
	c.pendingBlend[attachment] = preset
	return c
}

// SetDynamicState overrides the dynamic state list of the next
// BindPipeline.
func (c *CommandBuffer) SetDynamicState(states ...vk.DynamicState) *CommandBuffer {
	c.pendingDynamic = states
	return c
}

// BindPipeline completes the description with the accumulated vertex
// input and the ongoing render pass state, then acquires and binds the
// pipeline.
func (c *CommandBuffer) BindPipeline(desc *PipelineDesc) *CommandBuffer {
	if c.err != nil {
		return c
	}
	d := desc.clone()
	d.VertexAttributes = append([]vk.VertexInputAttributeDescription(nil), c.attributeDescriptions...)
	d.VertexBindings = append([]vk.VertexInputBindingDescription(nil), c.bindingDescriptions...)
	d.RenderPass = c.ongoingRenderPass
	d.Subpass = c.ongoingSubpass

	if c.pendingRasterization != nil {
		d.Rasterization = *c.pendingRasterization
		c.pendingRasterization = nil
	}
	for att, preset := range c.pendingBlend {
		for uint32(len(d.ColorBlendAttachments)) <= att {
			d.ColorBlendAttachments = append(d.ColorBlendAttachments, BlendPresetOpaque.toState())
		}
		d.ColorBlendAttachments[att] = preset.toState()
	}
	c.pendingBlend = nil
	if c.pendingDynamic != nil {
		d.DynamicStates = c.pendingDynamic
		c.pendingDynamic = nil
	}

	pipeline, err := c.frame.Pipelines.AcquirePipeline(d)
	if err != nil {
		return c.fail(fmt.Errorf("pipeline %q: %w: %s", d.Name, ErrAllocationFailed, err))
	}
	c.currentPipeline = pipeline
	c.rec.BindPipeline(pipeline.Handle)
	return c
}

// BindPipelineByName resolves a pipeline registered on the frame.
func (c *CommandBuffer) BindPipelineByName(name string) *CommandBuffer {
	if c.err != nil {
		return c
	}
	desc, ok := c.frame.NamedPipelines[name]
	if !ok {
		return c.fail(fmt.Errorf("named pipeline %q is not registered: %w", name, ErrContractViolation))
	}
	return c.BindPipeline(desc)
}

// BindVertexBuffer binds a vertex buffer and derives the attribute and
// binding descriptions from the packed vertex layout. Ignored fields
// contribute to the stride only.
func (c *CommandBuffer) BindVertexBuffer(binding uint32, buf *Buffer, layout VertexLayout) *CommandBuffer {
	if c.err != nil {
		return c
	}

	c.attributeDescriptions = deleteByBinding(c.attributeDescriptions, binding,
		func(a vk.VertexInputAttributeDescription) uint32 { return a.Binding })
	c.bindingDescriptions = deleteByBinding(c.bindingDescriptions, binding,
		func(b vk.VertexInputBindingDescription) uint32 { return b.Binding })

	location := uint32(0)
	offset := uint32(0)
	for _, f := range layout.Fields {
		if f.Ignore {
			offset += f.Size
			continue
		}
		c.attributeDescriptions = append(c.attributeDescriptions, vk.VertexInputAttributeDescription{
			Binding:  binding,
			Format:   f.Format,
			Location: location,
			Offset:   offset,
		})
		offset += f.Size
		location++
	}

	c.bindingDescriptions = append(c.bindingDescriptions, vk.VertexInputBindingDescription{
		Binding:   binding,
		InputRate: vk.VertexInputRateVertex,
		Stride:    offset,
	})

	c.rec.BindVertexBuffer(binding, buf.Handle, buf.Offset)
	return c
}

func deleteByBinding[T any](in []T, binding uint32, key func(T) uint32) []T {
	out := in[:0]
	for _, v := range in {
		if key(v) != binding {
			out = append(out, v)
		}
	}
	return out
}

func (c *CommandBuffer) BindIndexBuffer(buf *Buffer, indexType vk.IndexType) *CommandBuffer {
	if c.err != nil {
		return c
	}
	c.rec.BindIndexBuffer(buf.Handle, buf.Offset, indexType)
	return c
}

func (c *CommandBuffer) BindUniformBuffer(set, binding uint32, buf *Buffer) *CommandBuffer {
	if c.err != nil {
		return c
	}
	if set >= MaxDescriptorSets || binding >= MaxDescriptorBindings {
		return c.fail(fmt.Errorf("descriptor set %d binding %d out of range: %w", set, binding, ErrContractViolation))
	}
	c.setsUsed[set] = true
	c.setBindings[set].set(binding, DescriptorBinding{
		Type: vk.DescriptorTypeUniformBuffer,
		Buffer: vk.DescriptorBufferInfo{
			Buffer: buf.Handle,
			Offset: buf.Offset,
			Range:  buf.Size,
		},
	})
	return c
}

// BindSampledImage binds a combined image sampler from an explicit
// view.
func (c *CommandBuffer) BindSampledImage(set, binding uint32, view vk.ImageView, sampler *SamplerDesc) *CommandBuffer {
	if c.err != nil {
		return c
	}
	if set >= MaxDescriptorSets || binding >= MaxDescriptorBindings {
		return c.fail(fmt.Errorf("descriptor set %d binding %d out of range: %w", set, binding, ErrContractViolation))
	}
	s, err := c.frame.Samplers.AcquireSampler(sampler)
	if err != nil {
		return c.fail(fmt.Errorf("sampler: %w: %s", ErrAllocationFailed, err))
	}
	c.setsUsed[set] = true
	c.setBindings[set].set(binding, DescriptorBinding{
		Type:        vk.DescriptorTypeCombinedImageSampler,
		ImageView:   view,
		ImageLayout: vk.ImageLayoutShaderReadOnlyOptimal,
		Sampler:     s,
	})
	return c
}

// BindSampledAttachment binds a bound attachment's current image by
// name.
func (c *CommandBuffer) BindSampledAttachment(set, binding uint32, name Name, sampler *SamplerDesc) *CommandBuffer {
	if c.err != nil {
		return c
	}
	view := c.AttachmentView(name)
	if view == vk.NullImageView {
		return c.fail(fmt.Errorf("attachment %q is not bound: %w", name, ErrMissingAttachment))
	}
	return c.BindSampledImage(set, binding, view, sampler)
}

func (c *CommandBuffer) PushConstants(stages vk.ShaderStageFlags, offset uint32, data []byte) *CommandBuffer {
	if c.err != nil {
		return c
	}
	if c.currentPipeline == nil {
		return c.fail(fmt.Errorf("push constants without a bound pipeline: %w", ErrContractViolation))
	}
	c.rec.PushConstants(c.currentPipeline.Layout, stages, offset, data)
	return c
}

// MapScratchUniform allocates a frame-lifetime CPU-to-GPU uniform
// buffer, binds it, and returns the mapped bytes for the caller to
// fill.
func (c *CommandBuffer) MapScratchUniform(set, binding uint32, size vk.DeviceSize) ([]byte, error) {
	if c.err != nil {
		return nil, c.err
	}
	buf, err := c.frame.Buffers.AllocateScratch(MemoryUsageCPUtoGPU, vk.BufferUsageFlags(vk.BufferUsageUniformBufferBit), size)
	if err != nil {
		c.fail(fmt.Errorf("scratch uniform: %w: %s", ErrAllocationFailed, err))
		return nil, c.err
	}
	c.BindUniformBuffer(set, binding, buf)
	return buf.Mapped, c.err
}

func (c *CommandBuffer) SetViewport(index uint32, area Area) *CommandBuffer {
	if c.err != nil {
		return c
	}
	c.rec.SetViewport(index, vk.Viewport{
		X:        float32(area.Offset.X),
		Y:        float32(area.Offset.Y),
		Width:    float32(area.Extent.Width),
		Height:   float32(area.Extent.Height),
		MinDepth: 0,
		MaxDepth: 1,
	})
	return c
}

// SetViewportRelative sets a viewport in framebuffer-relative
// coordinates, flipping Y so that client space matches screen space.
func (c *CommandBuffer) SetViewportRelative(index uint32, area FramebufferArea) *CommandBuffer {
	if c.err != nil {
		return c
	}
	fbWidth := float32(c.ongoingExtent.Width)
	fbHeight := float32(c.ongoingExtent.Height)
	height := -area.Height * fbHeight
	c.rec.SetViewport(index, vk.Viewport{
		X:        area.X * fbWidth,
		Y:        area.Y*fbHeight - height,
		Width:    area.Width * fbWidth,
		Height:   height,
		MinDepth: 0,
		MaxDepth: 1,
	})
	return c
}

func (c *CommandBuffer) SetScissor(index uint32, area Area) *CommandBuffer {
	if c.err != nil {
		return c
	}
	c.rec.SetScissor(index, vk.Rect2D{Offset: area.Offset, Extent: area.Extent})
	return c
}

func (c *CommandBuffer) SetScissorRelative(index uint32, area FramebufferArea) *CommandBuffer {
	if c.err != nil {
		return c
	}
	fbWidth := float32(c.ongoingExtent.Width)
	fbHeight := float32(c.ongoingExtent.Height)
	c.rec.SetScissor(index, vk.Rect2D{
		Offset: vk.Offset2D{
			X: int32(area.X * fbWidth),
			Y: int32(area.Y * fbHeight),
		},
		Extent: vk.Extent2D{
			Width:  uint32(area.Width * fbWidth),
			Height: uint32(area.Height * fbHeight),
		},
	})
	return c
}

func (c *CommandBuffer) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) *CommandBuffer {
	if c.err != nil {
		return c
	}
	if !c.flushDescriptorState() {
		return c
	}
	c.rec.Draw(vertexCount, instanceCount, firstVertex, firstInstance)
	return c
}

func (c *CommandBuffer) DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) *CommandBuffer {
	if c.err != nil {
		return c
	}
	if !c.flushDescriptorState() {
		return c
	}
	c.rec.DrawIndexed(indexCount, instanceCount, firstIndex, vertexOffset, firstInstance)
	return c
}

// flushDescriptorState realizes the pending descriptor sets and binds
// them against the current pipeline layout.
func (c *CommandBuffer) flushDescriptorState() bool {
	if c.currentPipeline == nil {
		c.fail(fmt.Errorf("draw without a bound pipeline: %w", ErrContractViolation))
		return false
	}
	for i := 0; i < MaxDescriptorSets; i++ {
		if !c.setsUsed[i] {
			continue
		}
		if i < len(c.currentPipeline.SetLayouts) {
			c.setBindings[i].Layout = c.currentPipeline.SetLayouts[i]
		}
		ds, err := c.frame.Descriptors.AcquireDescriptorSet(&c.setBindings[i])
		if err != nil {
			c.fail(fmt.Errorf("descriptor set %d: %w: %s", i, ErrAllocationFailed, err))
			return false
		}
		c.rec.BindDescriptorSet(c.currentPipeline.Layout, uint32(i), ds)
		c.setsUsed[i] = false
		c.setBindings[i] = DescriptorSetBindings{}
	}
	return true
}
