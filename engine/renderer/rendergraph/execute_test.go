package rendergraph

import (
	"errors"
	"fmt"
	"testing"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeView(i int) vk.ImageView {
	return vk.ImageView(unsafe.Pointer(uintptr(i)))
}

type fakeTransients struct {
	acquired []*TransientImageDescription
	released []vk.ImageView
	fail     bool
}

func (f *fakeTransients) Acquire(desc *TransientImageDescription) (vk.ImageView, error) {
	if f.fail {
		return vk.NullImageView, errors.New("out of device memory")
	}
	f.acquired = append(f.acquired, desc)
	return fakeView(1000 + len(f.acquired)), nil
}

func (f *fakeTransients) Release(view vk.ImageView) {
	f.released = append(f.released, view)
}

type fakeRenderpasses struct {
	descriptions []*RenderpassDescription
}

func (f *fakeRenderpasses) AcquireRenderpass(desc *RenderpassDescription) (vk.RenderPass, error) {
	f.descriptions = append(f.descriptions, desc)
	return vk.RenderPass(unsafe.Pointer(uintptr(2000 + len(f.descriptions)))), nil
}

type fakeFramebuffers struct {
	descriptions []*FramebufferDescription
	fail         bool
}

func (f *fakeFramebuffers) AcquireFramebuffer(desc *FramebufferDescription) (vk.Framebuffer, error) {
	if f.fail {
		return vk.NullFramebuffer, errors.New("out of host memory")
	}
	f.descriptions = append(f.descriptions, desc)
	return vk.Framebuffer(unsafe.Pointer(uintptr(3000 + len(f.descriptions)))), nil
}

type fakeSamplers struct{}

func (f *fakeSamplers) AcquireSampler(desc *SamplerDesc) (vk.Sampler, error) {
	return vk.Sampler(unsafe.Pointer(uintptr(4000))), nil
}

type fakePipelines struct {
	acquired []*PipelineDesc
}

func (f *fakePipelines) AcquirePipeline(desc *PipelineDesc) (*Pipeline, error) {
	f.acquired = append(f.acquired, desc)
	return &Pipeline{
		Handle: vk.Pipeline(unsafe.Pointer(uintptr(5000 + len(f.acquired)))),
		Layout: vk.PipelineLayout(unsafe.Pointer(uintptr(6000))),
	}, nil
}

type fakeDescriptors struct {
	acquired []*DescriptorSetBindings
}

func (f *fakeDescriptors) AcquireDescriptorSet(bindings *DescriptorSetBindings) (vk.DescriptorSet, error) {
	cp := *bindings
	f.acquired = append(f.acquired, &cp)
	return vk.DescriptorSet(unsafe.Pointer(uintptr(7000 + len(f.acquired)))), nil
}

type fakeBuffers struct {
	allocated []*Buffer
}

func (f *fakeBuffers) AllocateScratch(usage MemoryUsage, bufferUsage vk.BufferUsageFlags, size vk.DeviceSize) (*Buffer, error) {
	if usage == MemoryUsageGPUOnly {
		return nil, fmt.Errorf("gpu-only memory class: %w", ErrContractViolation)
	}
	buf := &Buffer{
		Handle: vk.Buffer(unsafe.Pointer(uintptr(8000 + len(f.allocated)))),
		Size:   size,
		Mapped: make([]byte, size),
	}
	f.allocated = append(f.allocated, buf)
	return buf, nil
}

type fakeRecorder struct {
	ops       []string
	viewports []vk.Viewport
	scissors  []vk.Rect2D
	begins    []*RenderPassBegin
}

func (f *fakeRecorder) Begin() error { f.ops = append(f.ops, "begin"); return nil }
func (f *fakeRecorder) End() error   { f.ops = append(f.ops, "end"); return nil }
func (f *fakeRecorder) BeginRenderPass(begin *RenderPassBegin) {
	f.ops = append(f.ops, "begin_render_pass")
	f.begins = append(f.begins, begin)
}
func (f *fakeRecorder) NextSubpass()    { f.ops = append(f.ops, "next_subpass") }
func (f *fakeRecorder) EndRenderPass()  { f.ops = append(f.ops, "end_render_pass") }
func (f *fakeRecorder) BindPipeline(p vk.Pipeline) {
	f.ops = append(f.ops, "bind_pipeline")
}
func (f *fakeRecorder) BindVertexBuffer(binding uint32, buffer vk.Buffer, offset vk.DeviceSize) {
	f.ops = append(f.ops, "bind_vertex_buffer")
}
func (f *fakeRecorder) BindIndexBuffer(buffer vk.Buffer, offset vk.DeviceSize, indexType vk.IndexType) {
	f.ops = append(f.ops, "bind_index_buffer")
}
func (f *fakeRecorder) BindDescriptorSet(layout vk.PipelineLayout, set uint32, descriptorSet vk.DescriptorSet) {
	f.ops = append(f.ops, fmt.Sprintf("bind_descriptor_set_%d", set))
}
func (f *fakeRecorder) PushConstants(layout vk.PipelineLayout, stages vk.ShaderStageFlags, offset uint32, data []byte) {
	f.ops = append(f.ops, "push_constants")
}
func (f *fakeRecorder) SetViewport(index uint32, viewport vk.Viewport) {
	f.ops = append(f.ops, "set_viewport")
	f.viewports = append(f.viewports, viewport)
}
func (f *fakeRecorder) SetScissor(index uint32, scissor vk.Rect2D) {
	f.ops = append(f.ops, "set_scissor")
	f.scissors = append(f.scissors, scissor)
}
func (f *fakeRecorder) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	f.ops = append(f.ops, "draw")
}
func (f *fakeRecorder) DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	f.ops = append(f.ops, "draw_indexed")
}

type fakeCommandBuffers struct {
	recorder *fakeRecorder
	released int
	fail     bool
}

func (f *fakeCommandBuffers) Acquire() (CommandRecorder, error) {
	if f.fail {
		return nil, errors.New("pool exhausted")
	}
	if f.recorder == nil {
		f.recorder = &fakeRecorder{}
	}
	return f.recorder, nil
}

func (f *fakeCommandBuffers) Release(rec CommandRecorder) {
	f.released++
}

func newFakeFrame() (*Frame, *fakeTransients, *fakeRecorder) {
	transients := &fakeTransients{}
	cmdBufs := &fakeCommandBuffers{recorder: &fakeRecorder{}}
	frame := &Frame{
		Transients:     transients,
		Renderpasses:   &fakeRenderpasses{},
		Framebuffers:   &fakeFramebuffers{},
		Samplers:       &fakeSamplers{},
		Pipelines:      &fakePipelines{},
		Descriptors:    &fakeDescriptors{},
		Buffers:        &fakeBuffers{},
		CommandBuffers: cmdBufs,
		NamedPipelines: map[string]*PipelineDesc{},
	}
	return frame, transients, cmdBufs.recorder
}

func buildTwoPassGraph(t *testing.T, swp *fakeSwapchain, execGeometry, execPost PassExecuteFn) *RenderGraph {
	t.Helper()
	extent := swp.Extent()

	rg := New()
	rg.AddPass(Pass{
		Name: "geometry",
		Resources: []Resource{
			NewImageResource("color", "color", ImageAccessColorWrite),
			NewImageResource("depth", "depth", ImageAccessDepthStencilRW),
		},
		Execute: execGeometry,
	})
	rg.AddPass(Pass{
		Name: "post",
		Resources: []Resource{
			NewImageResource("color", "color", ImageAccessFragmentSampled),
			NewImageResource("swap", "swap", ImageAccessColorWrite),
		},
		Execute: execPost,
	})
	rg.MarkAttachmentInternal("color", vk.FormatB8g8r8a8Unorm, extent, Clear{})
	rg.MarkAttachmentInternal("depth", vk.FormatD32Sfloat, extent, Clear{Depth: 1})
	rg.BindAttachmentToSwapchain("swap", swp, Clear{Color: [4]float32{0, 0, 0, 1}})
	require.NoError(t, rg.Build())
	return rg
}

func TestExecuteRecordsAllRenderPasses(t *testing.T) {
	swp := newFakeSwapchain()
	swp.views = []vk.ImageView{fakeView(1), fakeView(2)}

	var order []string
	rg := buildTwoPassGraph(t, swp,
		func(cb *CommandBuffer) error {
			_, subpass, extent := cb.OngoingRenderPass()
			order = append(order, fmt.Sprintf("geometry:%d:%dx%d", subpass, extent.Width, extent.Height))
			return nil
		},
		func(cb *CommandBuffer) error {
			_, subpass, _ := cb.OngoingRenderPass()
			order = append(order, fmt.Sprintf("post:%d", subpass))
			return nil
		})

	frame, transients, rec := newFakeFrame()
	_, err := rg.Execute(frame, []SwapchainImage{{Swapchain: swp, ImageIndex: 1}})
	require.NoError(t, err)

	assert.Equal(t, []string{"geometry:0:1280x720", "post:0"}, order)
	assert.Equal(t, []string{
		"begin",
		"begin_render_pass", "end_render_pass",
		"begin_render_pass", "end_render_pass",
		"end",
	}, rec.ops)

	// Transients: color aggregates attachment and sampled usage, depth
	// only depth-stencil.
	require.Len(t, transients.acquired, 2)
	byFormat := map[vk.Format]*TransientImageDescription{}
	for _, d := range transients.acquired {
		byFormat[d.Format] = d
	}
	color := byFormat[vk.FormatB8g8r8a8Unorm]
	require.NotNil(t, color)
	assert.Equal(t,
		vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit)|vk.ImageUsageFlags(vk.ImageUsageSampledBit),
		color.Usage)
	depth := byFormat[vk.FormatD32Sfloat]
	require.NotNil(t, depth)
	assert.Equal(t, vk.ImageUsageFlags(vk.ImageUsageDepthStencilAttachmentBit), depth.Usage)
	assert.Equal(t, vk.ImageAspectFlags(vk.ImageAspectDepthBit), depth.Aspect)

	// The geometry render pass clears color and depth, the post pass
	// clears the swapchain image.
	require.Len(t, rec.begins, 2)
	assert.Len(t, rec.begins[0].ClearValues, 2)
	assert.Len(t, rec.begins[1].ClearValues, 1)

	// Nothing released on success; transients live until the frame ends.
	assert.Empty(t, transients.released)
}

func TestExecuteReleasesOnAllocationFailure(t *testing.T) {
	swp := newFakeSwapchain()
	swp.views = []vk.ImageView{fakeView(1)}
	rg := buildTwoPassGraph(t, swp, nil, nil)

	frame, transients, _ := newFakeFrame()
	frame.Framebuffers = &fakeFramebuffers{fail: true}

	_, err := rg.Execute(frame, []SwapchainImage{{Swapchain: swp, ImageIndex: 0}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAllocationFailed)

	// Every transient acquired before the failure was handed back.
	assert.Equal(t, len(transients.acquired), len(transients.released))
}

func TestExecutePropagatesPassFailure(t *testing.T) {
	swp := newFakeSwapchain()
	swp.views = []vk.ImageView{fakeView(1)}

	boom := errors.New("boom")
	rg := buildTwoPassGraph(t, swp,
		func(cb *CommandBuffer) error { return boom },
		nil)

	transients := &fakeTransients{}
	cmdBufs := &fakeCommandBuffers{recorder: &fakeRecorder{}}
	frame, _, _ := newFakeFrame()
	frame.Transients = transients
	frame.CommandBuffers = cmdBufs

	_, err := rg.Execute(frame, []SwapchainImage{{Swapchain: swp, ImageIndex: 0}})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	// The command buffer and the transients went back to their pools.
	assert.Equal(t, 1, cmdBufs.released)
	assert.Equal(t, len(transients.acquired), len(transients.released))
}

func TestExecuteEmptyGraph(t *testing.T) {
	rg := New()
	require.NoError(t, rg.Build())

	frame, _, rec := newFakeFrame()
	_, err := rg.Execute(frame, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"begin", "end"}, rec.ops)
}

func TestExecuteBeforeBuildFails(t *testing.T) {
	rg := New()
	rg.AddPass(Pass{Name: "orphan"})

	frame, _, _ := newFakeFrame()
	_, err := rg.Execute(frame, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrContractViolation)
}

func TestExecuteWithoutAcquiredSwapchainImage(t *testing.T) {
	swp := newFakeSwapchain()
	rg := New()
	rg.AddPass(Pass{
		Name: "clear",
		Resources: []Resource{
			NewImageResource("swap", "swap", ImageAccessColorWrite),
		},
	})
	rg.BindAttachmentToSwapchain("swap", swp, Clear{})
	require.NoError(t, rg.Build())

	frame, _, _ := newFakeFrame()
	_, err := rg.Execute(frame, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrContractViolation)
}
