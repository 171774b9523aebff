package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/volta/engine/core"
)

type VulkanImage struct {
	Handle vk.Image
	Memory vk.DeviceMemory
	View   vk.ImageView
	Width  uint32
	Height uint32
}

// ImageCreate creates a 2D device-local image and, when aspect is
// non-zero, its view.
func ImageCreate(
	context *VulkanContext,
	width, height uint32,
	format vk.Format,
	tiling vk.ImageTiling,
	usage vk.ImageUsageFlags,
	memoryFlags vk.MemoryPropertyFlags,
	aspect vk.ImageAspectFlags,
) (*VulkanImage, error) {
	outImage := &VulkanImage{
		Width:  width,
		Height: height,
	}

	imageCreateInfo := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Extent: vk.Extent3D{
			Width:  width,
			Height: height,
			Depth:  1,
		},
		MipLevels:     1,
		ArrayLayers:   1,
		Format:        format,
		Tiling:        tiling,
		InitialLayout: vk.ImageLayoutUndefined,
		Usage:         usage,
		Samples:       vk.SampleCount1Bit,
		SharingMode:   vk.SharingModeExclusive,
	}

	var pImage vk.Image
	if res := vk.CreateImage(context.Device.LogicalDevice, &imageCreateInfo, context.Allocator, &pImage); !VulkanResultIsSuccess(res) {
		err := fmt.Errorf("vkCreateImage failed with %s", VulkanResultString(res))
		core.LogError(err.Error())
		return nil, err
	}
	outImage.Handle = pImage

	var memoryRequirements vk.MemoryRequirements
	vk.GetImageMemoryRequirements(context.Device.LogicalDevice, outImage.Handle, &memoryRequirements)
	memoryRequirements.Deref()

	memoryType := context.FindMemoryIndex(memoryRequirements.MemoryTypeBits, uint32(memoryFlags))
	if memoryType == -1 {
		err := fmt.Errorf("required memory type not found, image not valid")
		core.LogError(err.Error())
		return nil, err
	}

	allocateInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  memoryRequirements.Size,
		MemoryTypeIndex: uint32(memoryType),
	}
	var pMemory vk.DeviceMemory
	if res := vk.AllocateMemory(context.Device.LogicalDevice, &allocateInfo, context.Allocator, &pMemory); !VulkanResultIsSuccess(res) {
		err := fmt.Errorf("vkAllocateMemory failed with %s", VulkanResultString(res))
		core.LogError(err.Error())
		return nil, err
	}
	outImage.Memory = pMemory

	if res := vk.BindImageMemory(context.Device.LogicalDevice, outImage.Handle, outImage.Memory, 0); !VulkanResultIsSuccess(res) {
		err := fmt.Errorf("vkBindImageMemory failed with %s", VulkanResultString(res))
		core.LogError(err.Error())
		return nil, err
	}

	if aspect != 0 {
		view, err := ImageViewCreate(context, format, outImage.Handle, aspect)
		if err != nil {
			return nil, err
		}
		outImage.View = view
	}

	return outImage, nil
}

func ImageViewCreate(context *VulkanContext, format vk.Format, image vk.Image, aspect vk.ImageAspectFlags) (vk.ImageView, error) {
	viewCreateInfo := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    image,
		ViewType: vk.ImageViewType2d,
		Format:   format,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     aspect,
			BaseMipLevel:   0,
			LevelCount:     1,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
	}

	var pView vk.ImageView
	if res := vk.CreateImageView(context.Device.LogicalDevice, &viewCreateInfo, context.Allocator, &pView); !VulkanResultIsSuccess(res) {
		err := fmt.Errorf("vkCreateImageView failed with %s", VulkanResultString(res))
		core.LogError(err.Error())
		return vk.NullImageView, err
	}
	return pView, nil
}

func (vi *VulkanImage) ImageDestroy(context *VulkanContext) {
	if vi.View != vk.NullImageView {
		vk.DestroyImageView(context.Device.LogicalDevice, vi.View, context.Allocator)
		vi.View = vk.NullImageView
	}
	if vi.Memory != vk.NullDeviceMemory {
		vk.FreeMemory(context.Device.LogicalDevice, vi.Memory, context.Allocator)
		vi.Memory = vk.NullDeviceMemory
	}
	if vi.Handle != vk.NullImage {
		vk.DestroyImage(context.Device.LogicalDevice, vi.Handle, context.Allocator)
		vi.Handle = vk.NullImage
	}
}
