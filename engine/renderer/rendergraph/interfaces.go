package rendergraph

import (
	"fmt"

	vk "github.com/goki/vulkan"
)

// The graph consumes its collaborators (resource allocator, caches,
// command buffers) through the narrow interfaces below. The vulkan
// package provides the production implementations.

// TransientImageDescription requests an image that lives for one
// Execute call. Usage flags are aggregated from the resource's use
// chain.
type TransientImageDescription struct {
	Name    string
	Format  vk.Format
	Extent  vk.Extent2D
	Usage   vk.ImageUsageFlags
	Aspect  vk.ImageAspectFlags
	Samples vk.SampleCountFlagBits
}

type TransientImageAllocator interface {
	Acquire(desc *TransientImageDescription) (vk.ImageView, error)
	Release(view vk.ImageView)
}

// SubpassDescription carries the attachment references of one subpass.
type SubpassDescription struct {
	ColorRefs       []vk.AttachmentReference
	DepthStencilRef *vk.AttachmentReference
}

// RenderpassDescription is the full description of a physical render
// pass: the cache key and the input to renderpass creation.
type RenderpassDescription struct {
	Attachments  []vk.AttachmentDescription
	Subpasses    []SubpassDescription
	Dependencies []vk.SubpassDependency
}

// Key returns a deterministic cache key covering the entire
// description.
func (d *RenderpassDescription) Key() string {
	subpasses := make([]string, 0, len(d.Subpasses))
	for _, sp := range d.Subpasses {
		ds := "none"
		if sp.DepthStencilRef != nil {
			ds = fmt.Sprintf("%+v", *sp.DepthStencilRef)
		}
		subpasses = append(subpasses, fmt.Sprintf("{ColorRefs:%+v DepthStencilRef:%s}", sp.ColorRefs, ds))
	}
	return fmt.Sprintf("%+v|%v|%+v", d.Attachments, subpasses, d.Dependencies)
}

type RenderpassProvider interface {
	AcquireRenderpass(desc *RenderpassDescription) (vk.RenderPass, error)
}

// FramebufferDescription binds image views to a renderpass.
type FramebufferDescription struct {
	RenderPass  vk.RenderPass
	Attachments []vk.ImageView
	Width       uint32
	Height      uint32
	Layers      uint32
}

func (d *FramebufferDescription) Key() string {
	return fmt.Sprintf("%v|%v|%dx%dx%d", d.RenderPass, d.Attachments, d.Width, d.Height, d.Layers)
}

type FramebufferProvider interface {
	AcquireFramebuffer(desc *FramebufferDescription) (vk.Framebuffer, error)
}

// SamplerDesc describes a sampler for the sampler cache.
type SamplerDesc struct {
	MinFilter     vk.Filter
	MagFilter     vk.Filter
	MipmapMode    vk.SamplerMipmapMode
	AddressModeU  vk.SamplerAddressMode
	AddressModeV  vk.SamplerAddressMode
	AddressModeW  vk.SamplerAddressMode
	MaxAnisotropy float32
}

func DefaultSamplerDesc() *SamplerDesc {
	return &SamplerDesc{
		MinFilter:    vk.FilterLinear,
		MagFilter:    vk.FilterLinear,
		MipmapMode:   vk.SamplerMipmapModeLinear,
		AddressModeU: vk.SamplerAddressModeClampToEdge,
		AddressModeV: vk.SamplerAddressModeClampToEdge,
		AddressModeW: vk.SamplerAddressModeClampToEdge,
	}
}

func (d *SamplerDesc) Key() string {
	return fmt.Sprintf("%+v", *d)
}

type SamplerProvider interface {
	AcquireSampler(desc *SamplerDesc) (vk.Sampler, error)
}

// Pipeline is an acquired pipeline together with the layout needed to
// bind descriptor sets and push constants against it.
type Pipeline struct {
	Handle     vk.Pipeline
	Layout     vk.PipelineLayout
	SetLayouts []vk.DescriptorSetLayout
}

type PipelineProvider interface {
	AcquirePipeline(desc *PipelineDesc) (*Pipeline, error)
}

// MaxDescriptorSets bounds the number of simultaneously bound sets.
const MaxDescriptorSets = 4

// MaxDescriptorBindings bounds the bindings per set.
const MaxDescriptorBindings = 16

type DescriptorBinding struct {
	Type        vk.DescriptorType
	Buffer      vk.DescriptorBufferInfo
	ImageView   vk.ImageView
	ImageLayout vk.ImageLayout
	Sampler     vk.Sampler
}

// DescriptorSetBindings is the state of one descriptor set between
// binding calls and the flush at draw time.
type DescriptorSetBindings struct {
	Layout   vk.DescriptorSetLayout
	Bindings [MaxDescriptorBindings]DescriptorBinding
	Used     uint32
}

func (b *DescriptorSetBindings) set(binding uint32, db DescriptorBinding) {
	b.Bindings[binding] = db
	b.Used |= 1 << binding
}

type DescriptorProvider interface {
	AcquireDescriptorSet(bindings *DescriptorSetBindings) (vk.DescriptorSet, error)
}

// MemoryUsage selects where an allocated buffer lives and how it is
// visible to the host.
type MemoryUsage uint8

const (
	MemoryUsageGPUOnly MemoryUsage = iota
	MemoryUsageCPUOnly
	MemoryUsageCPUtoGPU
	MemoryUsageGPUtoCPU
)

// Buffer is an allocated buffer slice. Mapped is non-nil for
// host-visible memory classes.
type Buffer struct {
	Handle vk.Buffer
	Memory vk.DeviceMemory
	Offset vk.DeviceSize
	Size   vk.DeviceSize
	Mapped []byte
}

type BufferAllocator interface {
	AllocateScratch(usage MemoryUsage, bufferUsage vk.BufferUsageFlags, size vk.DeviceSize) (*Buffer, error)
}

// RenderPassBegin carries everything a recorder needs to begin a
// physical render pass.
type RenderPassBegin struct {
	RenderPass  vk.RenderPass
	Framebuffer vk.Framebuffer
	RenderArea  vk.Rect2D
	ClearValues []vk.ClearValue
}

// CommandRecorder is the primary command buffer the graph records into.
type CommandRecorder interface {
	Begin() error
	End() error

	BeginRenderPass(begin *RenderPassBegin)
	NextSubpass()
	EndRenderPass()

	BindPipeline(pipeline vk.Pipeline)
	BindVertexBuffer(binding uint32, buffer vk.Buffer, offset vk.DeviceSize)
	BindIndexBuffer(buffer vk.Buffer, offset vk.DeviceSize, indexType vk.IndexType)
	BindDescriptorSet(layout vk.PipelineLayout, set uint32, descriptorSet vk.DescriptorSet)
	PushConstants(layout vk.PipelineLayout, stages vk.ShaderStageFlags, offset uint32, data []byte)
	SetViewport(index uint32, viewport vk.Viewport)
	SetScissor(index uint32, scissor vk.Rect2D)
	Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32)
	DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32)
}

type CommandBufferProvider interface {
	Acquire() (CommandRecorder, error)
	Release(rec CommandRecorder)
}

// Frame bundles the per-execute collaborators. The renderer constructs
// one per frame and hands it to Execute.
type Frame struct {
	Transients     TransientImageAllocator
	Renderpasses   RenderpassProvider
	Framebuffers   FramebufferProvider
	Samplers       SamplerProvider
	Pipelines      PipelineProvider
	Descriptors    DescriptorProvider
	Buffers        BufferAllocator
	CommandBuffers CommandBufferProvider

	// NamedPipelines resolves BindPipelineByName.
	NamedPipelines map[string]*PipelineDesc
}
