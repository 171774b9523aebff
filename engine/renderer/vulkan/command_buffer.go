package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/volta/engine/containers"
	"github.com/spaghettifunk/volta/engine/core"
	"github.com/spaghettifunk/volta/engine/renderer/rendergraph"
)

type VulkanCommandBufferState int

const (
	COMMAND_BUFFER_STATE_READY VulkanCommandBufferState = iota
	COMMAND_BUFFER_STATE_RECORDING
	COMMAND_BUFFER_STATE_IN_RENDER_PASS
	COMMAND_BUFFER_STATE_RECORDING_ENDED
	COMMAND_BUFFER_STATE_SUBMITTED
	COMMAND_BUFFER_STATE_NOT_ALLOCATED
)

// VulkanCommandBuffer wraps a primary command buffer and implements the
// recorder surface the render graph records through.
type VulkanCommandBuffer struct {
	Handle vk.CommandBuffer
	// Command buffer state.
	State VulkanCommandBufferState
}

func NewVulkanCommandBuffer(context *VulkanContext, pool vk.CommandPool, isPrimary bool) (*VulkanCommandBuffer, error) {
	vCommandBuffer := &VulkanCommandBuffer{
		State: COMMAND_BUFFER_STATE_NOT_ALLOCATED,
	}

	level := vk.CommandBufferLevelPrimary
	if !isPrimary {
		level = vk.CommandBufferLevelSecondary
	}

	allocateInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        pool,
		CommandBufferCount: 1,
		Level:              level,
	}

	handles := make([]vk.CommandBuffer, 1)
	if res := vk.AllocateCommandBuffers(context.Device.LogicalDevice, &allocateInfo, handles); !VulkanResultIsSuccess(res) {
		err := fmt.Errorf("vkAllocateCommandBuffers failed with %s", VulkanResultString(res))
		core.LogError(err.Error())
		return nil, err
	}
	vCommandBuffer.Handle = handles[0]
	vCommandBuffer.State = COMMAND_BUFFER_STATE_READY

	return vCommandBuffer, nil
}

func (v *VulkanCommandBuffer) Free(context *VulkanContext, pool vk.CommandPool) {
	vk.FreeCommandBuffers(context.Device.LogicalDevice, pool, 1, []vk.CommandBuffer{v.Handle})
	v.Handle = nil
	v.State = COMMAND_BUFFER_STATE_NOT_ALLOCATED
}

func (v *VulkanCommandBuffer) Begin() error {
	beginInfo := &vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}

	if res := vk.BeginCommandBuffer(v.Handle, beginInfo); !VulkanResultIsSuccess(res) {
		err := fmt.Errorf("vkBeginCommandBuffer failed with %s", VulkanResultString(res))
		core.LogError(err.Error())
		return err
	}
	v.State = COMMAND_BUFFER_STATE_RECORDING
	return nil
}

func (v *VulkanCommandBuffer) End() error {
	if res := vk.EndCommandBuffer(v.Handle); !VulkanResultIsSuccess(res) {
		err := fmt.Errorf("vkEndCommandBuffer failed with %s", VulkanResultString(res))
		core.LogError(err.Error())
		return err
	}
	v.State = COMMAND_BUFFER_STATE_RECORDING_ENDED
	return nil
}

func (v *VulkanCommandBuffer) BeginRenderPass(begin *rendergraph.RenderPassBegin) {
	beginInfo := vk.RenderPassBeginInfo{
		SType:           vk.StructureTypeRenderPassBeginInfo,
		RenderPass:      begin.RenderPass,
		Framebuffer:     begin.Framebuffer,
		RenderArea:      begin.RenderArea,
		ClearValueCount: uint32(len(begin.ClearValues)),
		PClearValues:    begin.ClearValues,
	}
	vk.CmdBeginRenderPass(v.Handle, &beginInfo, vk.SubpassContentsInline)
	v.State = COMMAND_BUFFER_STATE_IN_RENDER_PASS
}

func (v *VulkanCommandBuffer) NextSubpass() {
	vk.CmdNextSubpass(v.Handle, vk.SubpassContentsInline)
}

func (v *VulkanCommandBuffer) EndRenderPass() {
	vk.CmdEndRenderPass(v.Handle)
	v.State = COMMAND_BUFFER_STATE_RECORDING
}

func (v *VulkanCommandBuffer) BindPipeline(pipeline vk.Pipeline) {
	vk.CmdBindPipeline(v.Handle, vk.PipelineBindPointGraphics, pipeline)
}

func (v *VulkanCommandBuffer) BindVertexBuffer(binding uint32, buffer vk.Buffer, offset vk.DeviceSize) {
	vk.CmdBindVertexBuffers(v.Handle, binding, 1, []vk.Buffer{buffer}, []vk.DeviceSize{offset})
}

func (v *VulkanCommandBuffer) BindIndexBuffer(buffer vk.Buffer, offset vk.DeviceSize, indexType vk.IndexType) {
	vk.CmdBindIndexBuffer(v.Handle, buffer, offset, indexType)
}

func (v *VulkanCommandBuffer) BindDescriptorSet(layout vk.PipelineLayout, set uint32, descriptorSet vk.DescriptorSet) {
	vk.CmdBindDescriptorSets(v.Handle, vk.PipelineBindPointGraphics, layout, set, 1, []vk.DescriptorSet{descriptorSet}, 0, nil)
}

func (v *VulkanCommandBuffer) PushConstants(layout vk.PipelineLayout, stages vk.ShaderStageFlags, offset uint32, data []byte) {
	vk.CmdPushConstants(v.Handle, layout, stages, offset, uint32(len(data)), unsafePtr(data))
}

func (v *VulkanCommandBuffer) SetViewport(index uint32, viewport vk.Viewport) {
	vk.CmdSetViewport(v.Handle, index, 1, []vk.Viewport{viewport})
}

func (v *VulkanCommandBuffer) SetScissor(index uint32, scissor vk.Rect2D) {
	vk.CmdSetScissor(v.Handle, index, 1, []vk.Rect2D{scissor})
}

func (v *VulkanCommandBuffer) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	vk.CmdDraw(v.Handle, vertexCount, instanceCount, firstVertex, firstInstance)
}

func (v *VulkanCommandBuffer) DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	vk.CmdDrawIndexed(v.Handle, indexCount, instanceCount, firstIndex, vertexOffset, firstInstance)
}

func (v *VulkanCommandBuffer) UpdateSubmitted() {
	v.State = COMMAND_BUFFER_STATE_SUBMITTED
}

func (v *VulkanCommandBuffer) Reset() {
	v.State = COMMAND_BUFFER_STATE_READY
}

// CommandBufferPool recycles primary command buffers out of the
// graphics command pool. The graph acquires exactly one per Execute.
type CommandBufferPool struct {
	context *VulkanContext
	pool    vk.CommandPool
	ready   *containers.RingQueue[*VulkanCommandBuffer]
}

func NewCommandBufferPool(context *VulkanContext, pool vk.CommandPool) *CommandBufferPool {
	return &CommandBufferPool{
		context: context,
		pool:    pool,
		ready:   containers.NewRingQueue[*VulkanCommandBuffer](VULKAN_MAX_COMMAND_BUFFER_COUNT),
	}
}

func (p *CommandBufferPool) Acquire() (rendergraph.CommandRecorder, error) {
	if cb, err := p.ready.Dequeue(); err == nil {
		cb.Reset()
		return cb, nil
	}
	return NewVulkanCommandBuffer(p.context, p.pool, true)
}

func (p *CommandBufferPool) Release(rec rendergraph.CommandRecorder) {
	cb, ok := rec.(*VulkanCommandBuffer)
	if !ok {
		return
	}
	if err := p.ready.Enqueue(cb); err != nil {
		cb.Free(p.context, p.pool)
	}
}

func (p *CommandBufferPool) Destroy() {
	for {
		cb, err := p.ready.Dequeue()
		if err != nil {
			break
		}
		cb.Free(p.context, p.pool)
	}
}
