package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/volta/engine/core"
	"github.com/spaghettifunk/volta/engine/renderer/rendergraph"
)

// DescriptorAllocator allocates and writes descriptor sets out of one
// pool. Sets are transient; ResetPool recycles them once the frame's
// fence has signalled.
type DescriptorAllocator struct {
	context *VulkanContext
	pool    vk.DescriptorPool
}

func NewDescriptorAllocator(context *VulkanContext) (*DescriptorAllocator, error) {
	poolSizes := []vk.DescriptorPoolSize{
		{Type: vk.DescriptorTypeUniformBuffer, DescriptorCount: VULKAN_MAX_DESCRIPTOR_SET_COUNT},
		{Type: vk.DescriptorTypeCombinedImageSampler, DescriptorCount: VULKAN_MAX_DESCRIPTOR_SET_COUNT},
	}

	poolCreateInfo := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		PoolSizeCount: uint32(len(poolSizes)),
		PPoolSizes:    poolSizes,
		MaxSets:       VULKAN_MAX_DESCRIPTOR_SET_COUNT,
	}

	var pPool vk.DescriptorPool
	if res := vk.CreateDescriptorPool(context.Device.LogicalDevice, &poolCreateInfo, context.Allocator, &pPool); !VulkanResultIsSuccess(res) {
		err := fmt.Errorf("vkCreateDescriptorPool failed with %s", VulkanResultString(res))
		core.LogError(err.Error())
		return nil, err
	}

	return &DescriptorAllocator{
		context: context,
		pool:    pPool,
	}, nil
}

func (da *DescriptorAllocator) AcquireDescriptorSet(bindings *rendergraph.DescriptorSetBindings) (vk.DescriptorSet, error) {
	allocateInfo := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     da.pool,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{bindings.Layout},
	}

	sets := make([]vk.DescriptorSet, 1)
	var err error
	lockPool.SafeCall(DescriptorManagement, func() error {
		if res := vk.AllocateDescriptorSets(da.context.Device.LogicalDevice, &allocateInfo, &sets[0]); !VulkanResultIsSuccess(res) {
			err = fmt.Errorf("vkAllocateDescriptorSets failed with %s", VulkanResultString(res))
		}
		return err
	})
	if err != nil {
		core.LogError(err.Error())
		return vk.NullDescriptorSet, err
	}
	ds := sets[0]

	var writes []vk.WriteDescriptorSet
	for binding := uint32(0); binding < rendergraph.MaxDescriptorBindings; binding++ {
		if bindings.Used&(1<<binding) == 0 {
			continue
		}
		b := bindings.Bindings[binding]
		write := vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          ds,
			DstBinding:      binding,
			DescriptorCount: 1,
			DescriptorType:  b.Type,
		}
		switch b.Type {
		case vk.DescriptorTypeCombinedImageSampler:
			write.PImageInfo = []vk.DescriptorImageInfo{{
				Sampler:     b.Sampler,
				ImageView:   b.ImageView,
				ImageLayout: b.ImageLayout,
			}}
		default:
			write.PBufferInfo = []vk.DescriptorBufferInfo{b.Buffer}
		}
		writes = append(writes, write)
	}
	if len(writes) > 0 {
		vk.UpdateDescriptorSets(da.context.Device.LogicalDevice, uint32(len(writes)), writes, 0, nil)
	}

	return ds, nil
}

// ResetPool returns every allocated set to the pool.
func (da *DescriptorAllocator) ResetPool() {
	vk.ResetDescriptorPool(da.context.Device.LogicalDevice, da.pool, 0)
}

func (da *DescriptorAllocator) Destroy() {
	if da.pool != vk.NullDescriptorPool {
		vk.DestroyDescriptorPool(da.context.Device.LogicalDevice, da.pool, da.context.Allocator)
		da.pool = vk.NullDescriptorPool
	}
}
