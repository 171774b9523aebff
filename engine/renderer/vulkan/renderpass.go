package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/volta/engine/core"
	"github.com/spaghettifunk/volta/engine/renderer/rendergraph"
)

// RenderpassCache realizes compiled renderpass descriptions, keyed by
// the full description.
type RenderpassCache struct {
	context *VulkanContext
	cache   *cache[vk.RenderPass]
}

func NewRenderpassCache(context *VulkanContext) *RenderpassCache {
	return &RenderpassCache{
		context: context,
		cache:   newCache[vk.RenderPass](),
	}
}

func (rc *RenderpassCache) AcquireRenderpass(desc *rendergraph.RenderpassDescription) (vk.RenderPass, error) {
	return rc.cache.acquire(desc.Key(), func() (vk.RenderPass, error) {
		return RenderpassCreate(rc.context, desc)
	})
}

func (rc *RenderpassCache) Destroy() {
	rc.cache.drain(func(handle vk.RenderPass) {
		vk.DestroyRenderPass(rc.context.Device.LogicalDevice, handle, rc.context.Allocator)
	})
}

// RenderpassCreate translates a compiled description into the API
// renderpass.
func RenderpassCreate(context *VulkanContext, desc *rendergraph.RenderpassDescription) (vk.RenderPass, error) {
	subpasses := make([]vk.SubpassDescription, len(desc.Subpasses))
	for i, sp := range desc.Subpasses {
		subpass := vk.SubpassDescription{
			PipelineBindPoint:    vk.PipelineBindPointGraphics,
			ColorAttachmentCount: uint32(len(sp.ColorRefs)),
			PColorAttachments:    sp.ColorRefs,
		}
		if sp.DepthStencilRef != nil {
			subpass.PDepthStencilAttachment = sp.DepthStencilRef
		}
		subpasses[i] = subpass
	}

	renderpassCreateInfo := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(desc.Attachments)),
		PAttachments:    desc.Attachments,
		SubpassCount:    uint32(len(subpasses)),
		PSubpasses:      subpasses,
		DependencyCount: uint32(len(desc.Dependencies)),
		PDependencies:   desc.Dependencies,
	}

	var pRenderPass vk.RenderPass
	err := lockPool.SafeCall(RenderpassManagement, func() error {
		if res := vk.CreateRenderPass(context.Device.LogicalDevice, &renderpassCreateInfo, context.Allocator, &pRenderPass); !VulkanResultIsSuccess(res) {
			return fmt.Errorf("vkCreateRenderPass failed with %s", VulkanResultString(res))
		}
		return nil
	})
	if err != nil {
		core.LogError(err.Error())
		return vk.NullRenderPass, err
	}
	return pRenderPass, nil
}
