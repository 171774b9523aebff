package rendergraph

import (
	vk "github.com/goki/vulkan"
)

type AttachmentKind uint8

const (
	AttachmentKindSwapchain AttachmentKind = iota
	AttachmentKindInternal
	AttachmentKindExternal
)

// Clear holds the clear value requested for an attachment on its first
// use.
type Clear struct {
	Color   [4]float32
	Depth   float32
	Stencil uint32
}

func (c Clear) toVk(aspect vk.ImageAspectFlags) vk.ClearValue {
	var cv vk.ClearValue
	if aspect&vk.ImageAspectFlags(vk.ImageAspectDepthBit) != 0 {
		cv.SetDepthStencil(c.Depth, c.Stencil)
	} else {
		cv.SetColor([]float32{c.Color[0], c.Color[1], c.Color[2], c.Color[3]})
	}
	return cv
}

// Swapchain is the narrow view of the swapchain façade the graph needs:
// the surface format, the image extent and the per-image views.
type Swapchain interface {
	ImageFormat() vk.Format
	Extent() vk.Extent2D
	View(imageIndex int) vk.ImageView
}

// SwapchainImage pairs a swapchain with the image index acquired for
// the current frame. Execute receives one per bound swapchain.
type SwapchainImage struct {
	Swapchain  Swapchain
	ImageIndex int
}

// AttachmentInfo describes one bound attachment of the graph.
type AttachmentInfo struct {
	Kind    AttachmentKind
	Format  vk.Format
	Samples vk.SampleCountFlagBits
	Extent  vk.Extent2D

	ClearValue  Clear
	ShouldClear bool

	// Initial and Final bracket the attachment's use chain.
	Initial Use
	Final   Use

	// Swapchain handle, for AttachmentKindSwapchain only.
	Swapchain Swapchain

	// The view backing this attachment. External attachments carry it
	// from bind time; internal and swapchain views are filled in during
	// Execute.
	ImageView vk.ImageView
}

// aspectForFormat picks the view aspect by format: depth formats get
// the depth aspect, everything else color.
func aspectForFormat(format vk.Format) vk.ImageAspectFlags {
	switch format {
	case vk.FormatD32Sfloat, vk.FormatD16Unorm:
		return vk.ImageAspectFlags(vk.ImageAspectDepthBit)
	case vk.FormatD32SfloatS8Uint, vk.FormatD24UnormS8Uint, vk.FormatD16UnormS8Uint:
		return vk.ImageAspectFlags(vk.ImageAspectDepthBit) | vk.ImageAspectFlags(vk.ImageAspectStencilBit)
	}
	return vk.ImageAspectFlags(vk.ImageAspectColorBit)
}
