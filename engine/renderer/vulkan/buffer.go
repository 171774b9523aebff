package vulkan

import (
	"fmt"
	"sync"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/volta/engine/core"
	"github.com/spaghettifunk/volta/engine/renderer/rendergraph"
)

// memoryFlagsFor maps a memory usage class to the property flags
// requested from the device.
func memoryFlagsFor(usage rendergraph.MemoryUsage) vk.MemoryPropertyFlags {
	switch usage {
	case rendergraph.MemoryUsageGPUOnly:
		return vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit)
	case rendergraph.MemoryUsageGPUtoCPU:
		return vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit) |
			vk.MemoryPropertyFlags(vk.MemoryPropertyHostCoherentBit) |
			vk.MemoryPropertyFlags(vk.MemoryPropertyHostCachedBit)
	default:
		return vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit) |
			vk.MemoryPropertyFlags(vk.MemoryPropertyHostCoherentBit)
	}
}

// ScratchBufferAllocator hands out frame-lifetime buffers. Scratch
// allocations are host visible; a GPU-only memory class cannot be
// mapped and is rejected.
type ScratchBufferAllocator struct {
	context *VulkanContext

	mu          sync.Mutex
	allocations []*rendergraph.Buffer
}

func NewScratchBufferAllocator(context *VulkanContext) *ScratchBufferAllocator {
	return &ScratchBufferAllocator{context: context}
}

func (a *ScratchBufferAllocator) AllocateScratch(usage rendergraph.MemoryUsage, bufferUsage vk.BufferUsageFlags, size vk.DeviceSize) (*rendergraph.Buffer, error) {
	if usage == rendergraph.MemoryUsageGPUOnly {
		return nil, fmt.Errorf("scratch allocations are cross-device, GPU-only memory class is unusable: %w", rendergraph.ErrContractViolation)
	}

	bufferCreateInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        size,
		Usage:       bufferUsage,
		SharingMode: vk.SharingModeExclusive,
	}

	var pBuffer vk.Buffer
	if res := vk.CreateBuffer(a.context.Device.LogicalDevice, &bufferCreateInfo, a.context.Allocator, &pBuffer); !VulkanResultIsSuccess(res) {
		err := fmt.Errorf("vkCreateBuffer failed with %s", VulkanResultString(res))
		core.LogError(err.Error())
		return nil, err
	}

	var memoryRequirements vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(a.context.Device.LogicalDevice, pBuffer, &memoryRequirements)
	memoryRequirements.Deref()

	memoryType := a.context.FindMemoryIndex(memoryRequirements.MemoryTypeBits, uint32(memoryFlagsFor(usage)))
	if memoryType == -1 {
		vk.DestroyBuffer(a.context.Device.LogicalDevice, pBuffer, a.context.Allocator)
		err := fmt.Errorf("required memory type not found, buffer not valid")
		core.LogError(err.Error())
		return nil, err
	}

	allocateInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  memoryRequirements.Size,
		MemoryTypeIndex: uint32(memoryType),
	}
	var pMemory vk.DeviceMemory
	if res := vk.AllocateMemory(a.context.Device.LogicalDevice, &allocateInfo, a.context.Allocator, &pMemory); !VulkanResultIsSuccess(res) {
		vk.DestroyBuffer(a.context.Device.LogicalDevice, pBuffer, a.context.Allocator)
		err := fmt.Errorf("vkAllocateMemory failed with %s", VulkanResultString(res))
		core.LogError(err.Error())
		return nil, err
	}

	if res := vk.BindBufferMemory(a.context.Device.LogicalDevice, pBuffer, pMemory, 0); !VulkanResultIsSuccess(res) {
		vk.FreeMemory(a.context.Device.LogicalDevice, pMemory, a.context.Allocator)
		vk.DestroyBuffer(a.context.Device.LogicalDevice, pBuffer, a.context.Allocator)
		err := fmt.Errorf("vkBindBufferMemory failed with %s", VulkanResultString(res))
		core.LogError(err.Error())
		return nil, err
	}

	var pData unsafe.Pointer
	if res := vk.MapMemory(a.context.Device.LogicalDevice, pMemory, 0, size, 0, &pData); !VulkanResultIsSuccess(res) {
		vk.FreeMemory(a.context.Device.LogicalDevice, pMemory, a.context.Allocator)
		vk.DestroyBuffer(a.context.Device.LogicalDevice, pBuffer, a.context.Allocator)
		err := fmt.Errorf("vkMapMemory failed with %s", VulkanResultString(res))
		core.LogError(err.Error())
		return nil, err
	}

	buf := &rendergraph.Buffer{
		Handle: pBuffer,
		Memory: pMemory,
		Offset: 0,
		Size:   size,
		Mapped: unsafe.Slice((*byte)(pData), int(size)),
	}

	a.mu.Lock()
	a.allocations = append(a.allocations, buf)
	a.mu.Unlock()
	return buf, nil
}

// Reset destroys every scratch buffer of the finished frame. Call after
// the frame's fence has signalled.
func (a *ScratchBufferAllocator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, buf := range a.allocations {
		vk.UnmapMemory(a.context.Device.LogicalDevice, buf.Memory)
		vk.FreeMemory(a.context.Device.LogicalDevice, buf.Memory, a.context.Allocator)
		vk.DestroyBuffer(a.context.Device.LogicalDevice, buf.Handle, a.context.Allocator)
	}
	a.allocations = nil
}
