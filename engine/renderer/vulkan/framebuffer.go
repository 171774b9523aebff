package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/volta/engine/core"
	"github.com/spaghettifunk/volta/engine/renderer/rendergraph"
)

// FramebufferCache realizes framebuffers keyed by renderpass, views and
// size. Swapchain recreation invalidates the whole cache.
type FramebufferCache struct {
	context *VulkanContext
	cache   *cache[vk.Framebuffer]
}

func NewFramebufferCache(context *VulkanContext) *FramebufferCache {
	return &FramebufferCache{
		context: context,
		cache:   newCache[vk.Framebuffer](),
	}
}

func (fc *FramebufferCache) AcquireFramebuffer(desc *rendergraph.FramebufferDescription) (vk.Framebuffer, error) {
	return fc.cache.acquire(desc.Key(), func() (vk.Framebuffer, error) {
		return FramebufferCreate(fc.context, desc)
	})
}

// Invalidate drops every cached framebuffer, for swapchain recreation.
func (fc *FramebufferCache) Invalidate() {
	fc.cache.drain(func(handle vk.Framebuffer) {
		vk.DestroyFramebuffer(fc.context.Device.LogicalDevice, handle, fc.context.Allocator)
	})
}

func (fc *FramebufferCache) Destroy() {
	fc.Invalidate()
}

func FramebufferCreate(context *VulkanContext, desc *rendergraph.FramebufferDescription) (vk.Framebuffer, error) {
	framebufferCreateInfo := vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      desc.RenderPass,
		AttachmentCount: uint32(len(desc.Attachments)),
		PAttachments:    desc.Attachments,
		Width:           desc.Width,
		Height:          desc.Height,
		Layers:          desc.Layers,
	}

	var pFramebuffer vk.Framebuffer
	err := lockPool.SafeCall(FramebufferManagement, func() error {
		if res := vk.CreateFramebuffer(context.Device.LogicalDevice, &framebufferCreateInfo, context.Allocator, &pFramebuffer); !VulkanResultIsSuccess(res) {
			return fmt.Errorf("vkCreateFramebuffer failed with %s", VulkanResultString(res))
		}
		return nil
	})
	if err != nil {
		core.LogError(err.Error())
		return vk.NullFramebuffer, err
	}
	return pFramebuffer, nil
}
