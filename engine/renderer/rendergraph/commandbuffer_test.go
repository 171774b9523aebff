package rendergraph

import (
	"testing"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCommandBuffer() (*CommandBuffer, *fakeRecorder, *Frame) {
	frame, _, rec := newFakeFrame()
	rg := New()
	cb := &CommandBuffer{rg: rg, frame: frame, rec: rec}
	cb.beginSubpass(vk.RenderPass(unsafe.Pointer(uintptr(42))), 0, vk.Extent2D{Width: 800, Height: 600})
	return cb, rec, frame
}

func TestBindVertexBufferDerivesAttributes(t *testing.T) {
	cb, rec, _ := newTestCommandBuffer()

	buf := &Buffer{Handle: vk.Buffer(unsafe.Pointer(uintptr(1))), Size: 256}
	layout := VertexLayout{Fields: []VertexField{
		{Format: vk.FormatR32g32b32Sfloat, Size: 12},
		{Size: 4, Ignore: true},
		{Format: vk.FormatR32g32Sfloat, Size: 8},
	}}

	cb.BindVertexBuffer(0, buf, layout)
	require.NoError(t, cb.Err())

	require.Len(t, cb.attributeDescriptions, 2)
	assert.Equal(t, uint32(0), cb.attributeDescriptions[0].Location)
	assert.Equal(t, uint32(0), cb.attributeDescriptions[0].Offset)
	assert.Equal(t, uint32(1), cb.attributeDescriptions[1].Location)
	// The ignored field still advances the offset.
	assert.Equal(t, uint32(16), cb.attributeDescriptions[1].Offset)

	require.Len(t, cb.bindingDescriptions, 1)
	assert.Equal(t, uint32(24), cb.bindingDescriptions[0].Stride)
	assert.Contains(t, rec.ops, "bind_vertex_buffer")

	// Rebinding the same slot replaces its descriptions.
	cb.BindVertexBuffer(0, buf, VertexLayout{Fields: []VertexField{
		{Format: vk.FormatR32g32Sfloat, Size: 8},
	}})
	require.Len(t, cb.attributeDescriptions, 1)
	require.Len(t, cb.bindingDescriptions, 1)
	assert.Equal(t, uint32(8), cb.bindingDescriptions[0].Stride)
}

func TestBindPipelineCompletesDescription(t *testing.T) {
	cb, rec, frame := newTestCommandBuffer()
	pipelines := frame.Pipelines.(*fakePipelines)

	cb.BindPipeline(NewPipelineDesc("triangle", nil))
	require.NoError(t, cb.Err())

	require.Len(t, pipelines.acquired, 1)
	acquired := pipelines.acquired[0]
	assert.Equal(t, vk.RenderPass(unsafe.Pointer(uintptr(42))), acquired.RenderPass)
	assert.Equal(t, uint32(0), acquired.Subpass)
	assert.Contains(t, rec.ops, "bind_pipeline")
}

func TestBindPipelineByNameUnknown(t *testing.T) {
	cb, _, _ := newTestCommandBuffer()
	cb.BindPipelineByName("missing")
	require.Error(t, cb.Err())
	assert.ErrorIs(t, cb.Err(), ErrContractViolation)
}

func TestDrawWithoutPipelineFails(t *testing.T) {
	cb, rec, _ := newTestCommandBuffer()
	cb.Draw(3, 1, 0, 0)
	require.Error(t, cb.Err())
	assert.ErrorIs(t, cb.Err(), ErrContractViolation)
	assert.NotContains(t, rec.ops, "draw")
}

func TestDrawFlushesDescriptorSets(t *testing.T) {
	cb, rec, frame := newTestCommandBuffer()
	descriptors := frame.Descriptors.(*fakeDescriptors)

	buf := &Buffer{Handle: vk.Buffer(unsafe.Pointer(uintptr(9))), Size: 64}
	cb.BindPipeline(NewPipelineDesc("lit", nil)).
		BindUniformBuffer(0, 0, buf).
		Draw(3, 1, 0, 0)
	require.NoError(t, cb.Err())

	require.Len(t, descriptors.acquired, 1)
	bindings := descriptors.acquired[0]
	assert.Equal(t, uint32(1), bindings.Used)
	assert.Equal(t, vk.DescriptorTypeUniformBuffer, bindings.Bindings[0].Type)
	assert.Contains(t, rec.ops, "bind_descriptor_set_0")
	assert.Contains(t, rec.ops, "draw")

	// The set state is consumed; a second draw does not re-flush.
	rec.ops = nil
	cb.Draw(3, 1, 0, 0)
	assert.NotContains(t, rec.ops, "bind_descriptor_set_0")
}

func TestMapScratchUniform(t *testing.T) {
	cb, _, frame := newTestCommandBuffer()
	buffers := frame.Buffers.(*fakeBuffers)

	mapped, err := cb.MapScratchUniform(0, 1, 128)
	require.NoError(t, err)
	assert.Len(t, mapped, 128)
	require.Len(t, buffers.allocated, 1)
	assert.Equal(t, vk.DeviceSize(128), buffers.allocated[0].Size)
	assert.True(t, cb.setsUsed[0])
}

func TestSetViewportRelativeFlipsY(t *testing.T) {
	cb, rec, _ := newTestCommandBuffer()

	cb.SetViewportRelative(0, FramebufferArea{X: 0, Y: 0, Width: 1, Height: 1})
	require.Len(t, rec.viewports, 1)
	vp := rec.viewports[0]
	assert.Equal(t, float32(0), vp.X)
	assert.Equal(t, float32(600), vp.Y)
	assert.Equal(t, float32(800), vp.Width)
	assert.Equal(t, float32(-600), vp.Height)

	cb.SetScissorRelative(0, FramebufferArea{X: 0.25, Y: 0.25, Width: 0.5, Height: 0.5})
	require.Len(t, rec.scissors, 1)
	sc := rec.scissors[0]
	assert.Equal(t, int32(200), sc.Offset.X)
	assert.Equal(t, int32(150), sc.Offset.Y)
	assert.Equal(t, uint32(400), sc.Extent.Width)
	assert.Equal(t, uint32(300), sc.Extent.Height)
}

func TestStagedStateAppliesToNextBind(t *testing.T) {
	cb, _, frame := newTestCommandBuffer()
	pipelines := frame.Pipelines.(*fakePipelines)

	raster := RasterizationDesc{
		CullMode:    vk.CullModeFlags(vk.CullModeNone),
		FrontFace:   vk.FrontFaceClockwise,
		PolygonMode: vk.PolygonModeLine,
		LineWidth:   2,
	}
	cb.SetRasterization(raster).
		SetColorBlend(0, BlendPresetAlphaBlend).
		BindPipeline(NewPipelineDesc("wire", nil))
	require.NoError(t, cb.Err())

	require.Len(t, pipelines.acquired, 1)
	acquired := pipelines.acquired[0]
	assert.Equal(t, raster, acquired.Rasterization)
	require.Len(t, acquired.ColorBlendAttachments, 1)
	assert.Equal(t, vk.Bool32(vk.True), acquired.ColorBlendAttachments[0].BlendEnable)

	// Overrides are one-shot.
	cb.BindPipeline(NewPipelineDesc("solid", nil))
	require.Len(t, pipelines.acquired, 2)
	assert.Equal(t, DefaultRasterizationDesc(), pipelines.acquired[1].Rasterization)
}

func TestStickyErrorShortCircuits(t *testing.T) {
	cb, rec, _ := newTestCommandBuffer()

	cb.BindPipelineByName("missing").
		SetViewport(0, Area{Extent: vk.Extent2D{Width: 10, Height: 10}}).
		Draw(3, 1, 0, 0)

	require.Error(t, cb.Err())
	assert.NotContains(t, rec.ops, "set_viewport")
	assert.NotContains(t, rec.ops, "draw")
}

func TestAttachmentViewResolvesBoundImage(t *testing.T) {
	frame, _, rec := newFakeFrame()
	rg := New()
	view := fakeView(77)
	rg.BindAttachmentToImage("scene", view, vk.FormatB8g8r8a8Unorm, vk.Extent2D{Width: 4, Height: 4},
		Use{Layout: vk.ImageLayoutShaderReadOnlyOptimal}, Use{Layout: vk.ImageLayoutUndefined})
	require.NoError(t, rg.Build())

	cb := &CommandBuffer{rg: rg, frame: frame, rec: rec}
	cb.beginSubpass(vk.NullRenderPass, 0, vk.Extent2D{Width: 4, Height: 4})

	assert.Equal(t, view, cb.AttachmentView("scene"))
	assert.Equal(t, vk.NullImageView, cb.AttachmentView("nope"))

	cb.BindSampledAttachment(0, 0, "scene", DefaultSamplerDesc())
	require.NoError(t, cb.Err())
	assert.True(t, cb.setsUsed[0])
	assert.Equal(t, view, cb.setBindings[0].Bindings[0].ImageView)
}
