package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/volta/engine/core"
	"github.com/spaghettifunk/volta/engine/renderer/rendergraph"
)

type SamplerCache struct {
	context *VulkanContext
	cache   *cache[vk.Sampler]
}

func NewSamplerCache(context *VulkanContext) *SamplerCache {
	return &SamplerCache{
		context: context,
		cache:   newCache[vk.Sampler](),
	}
}

func (sc *SamplerCache) AcquireSampler(desc *rendergraph.SamplerDesc) (vk.Sampler, error) {
	return sc.cache.acquire(desc.Key(), func() (vk.Sampler, error) {
		return SamplerCreate(sc.context, desc)
	})
}

func (sc *SamplerCache) Destroy() {
	sc.cache.drain(func(handle vk.Sampler) {
		vk.DestroySampler(sc.context.Device.LogicalDevice, handle, sc.context.Allocator)
	})
}

func SamplerCreate(context *VulkanContext, desc *rendergraph.SamplerDesc) (vk.Sampler, error) {
	samplerCreateInfo := vk.SamplerCreateInfo{
		SType:        vk.StructureTypeSamplerCreateInfo,
		MinFilter:    desc.MinFilter,
		MagFilter:    desc.MagFilter,
		MipmapMode:   desc.MipmapMode,
		AddressModeU: desc.AddressModeU,
		AddressModeV: desc.AddressModeV,
		AddressModeW: desc.AddressModeW,
		MinLod:       0,
		MaxLod:       1,
	}
	if desc.MaxAnisotropy > 0 {
		samplerCreateInfo.AnisotropyEnable = vk.True
		samplerCreateInfo.MaxAnisotropy = desc.MaxAnisotropy
	}

	var pSampler vk.Sampler
	err := lockPool.SafeCall(SamplerManagement, func() error {
		if res := vk.CreateSampler(context.Device.LogicalDevice, &samplerCreateInfo, context.Allocator, &pSampler); !VulkanResultIsSuccess(res) {
			return fmt.Errorf("vkCreateSampler failed with %s", VulkanResultString(res))
		}
		return nil
	})
	if err != nil {
		core.LogError(err.Error())
		return vk.NullSampler, err
	}
	return pSampler, nil
}
