package rendergraph

import (
	vk "github.com/goki/vulkan"
)

// Name is a symbolic identifier for a resource. Equality is by value.
type Name string

type ResourceType uint8

const (
	ResourceTypeImage ResourceType = iota
	ResourceTypeBuffer
)

// ImageAccess identifies how a pass touches an image resource.
type ImageAccess uint8

const (
	ImageAccessNone ImageAccess = iota
	ImageAccessColorRead
	ImageAccessColorWrite
	ImageAccessColorRW
	ImageAccessDepthStencilRead
	ImageAccessDepthStencilRW
	ImageAccessFragmentRead
	ImageAccessFragmentSampled
	ImageAccessFragmentWrite
)

// BufferAccess identifies how a pass touches a buffer resource.
type BufferAccess uint8

const (
	BufferAccessNone BufferAccess = iota
	BufferAccessVertexRead
	BufferAccessIndexRead
	BufferAccessUniformRead
	BufferAccessShaderRead
	BufferAccessShaderWrite
	BufferAccessShaderRW
	BufferAccessTransferRead
	BufferAccessTransferWrite
)

// Resource is one declared access of a pass. UseName equals SrcName
// unless the pass renames its version of the resource, in which case
// UseName is the fresh downstream version name.
type Resource struct {
	SrcName Name
	UseName Name
	Type    ResourceType
	Image   ImageAccess
	Buffer  BufferAccess
}

// NewImageResource declares an image access. Pass the same name twice
// unless the access produces a renamed version.
func NewImageResource(src, use Name, access ImageAccess) Resource {
	return Resource{SrcName: src, UseName: use, Type: ResourceTypeImage, Image: access}
}

// NewBufferResource declares a buffer access.
func NewBufferResource(src, use Name, access BufferAccess) Resource {
	return Resource{SrcName: src, UseName: use, Type: ResourceTypeBuffer, Buffer: access}
}

func (r Resource) IsRead() bool {
	if r.Type == ResourceTypeBuffer {
		switch r.Buffer {
		case BufferAccessVertexRead, BufferAccessIndexRead, BufferAccessUniformRead,
			BufferAccessShaderRead, BufferAccessShaderRW, BufferAccessTransferRead:
			return true
		}
		return false
	}
	switch r.Image {
	case ImageAccessColorRead, ImageAccessColorRW, ImageAccessDepthStencilRead,
		ImageAccessDepthStencilRW, ImageAccessFragmentRead, ImageAccessFragmentSampled:
		return true
	}
	return false
}

func (r Resource) IsWrite() bool {
	if r.Type == ResourceTypeBuffer {
		switch r.Buffer {
		case BufferAccessShaderWrite, BufferAccessShaderRW, BufferAccessTransferWrite:
			return true
		}
		return false
	}
	switch r.Image {
	case ImageAccessColorWrite, ImageAccessColorRW, ImageAccessDepthStencilRW,
		ImageAccessFragmentWrite:
		return true
	}
	return false
}

// IsFramebufferAttachment reports whether this access uses the resource
// as a color or depth-stencil attachment of the framebuffer.
func (r Resource) IsFramebufferAttachment() bool {
	if r.Type == ResourceTypeBuffer {
		return false
	}
	switch r.Image {
	case ImageAccessColorRead, ImageAccessColorWrite, ImageAccessColorRW,
		ImageAccessDepthStencilRead, ImageAccessDepthStencilRW:
		return true
	}
	return false
}

// Use is the (stages, access mask, layout) triple a pass imposes on a
// resource. Layout applies to images; buffer uses carry the Undefined
// sentinel.
type Use struct {
	Stages vk.PipelineStageFlags
	Access vk.AccessFlags
	Layout vk.ImageLayout
}

// ToUse lowers a declared access to its Use triple. This table is the
// single source of truth; every subsystem that classifies a use does so
// by inspecting the layout produced here.
func ToUse(r Resource) Use {
	if r.Type == ResourceTypeBuffer {
		return bufferToUse(r.Buffer)
	}
	return imageToUse(r.Image)
}

func imageToUse(ia ImageAccess) Use {
	switch ia {
	case ImageAccessColorRead:
		return Use{
			Stages: vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
			Access: vk.AccessFlags(vk.AccessColorAttachmentReadBit),
			Layout: vk.ImageLayoutColorAttachmentOptimal,
		}
	case ImageAccessColorWrite:
		return Use{
			Stages: vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
			Access: vk.AccessFlags(vk.AccessColorAttachmentWriteBit),
			Layout: vk.ImageLayoutColorAttachmentOptimal,
		}
	case ImageAccessColorRW:
		return Use{
			Stages: vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
			Access: vk.AccessFlags(vk.AccessColorAttachmentWriteBit) | vk.AccessFlags(vk.AccessColorAttachmentReadBit),
			Layout: vk.ImageLayoutColorAttachmentOptimal,
		}
	case ImageAccessDepthStencilRead:
		return Use{
			Stages: vk.PipelineStageFlags(vk.PipelineStageEarlyFragmentTestsBit) | vk.PipelineStageFlags(vk.PipelineStageLateFragmentTestsBit),
			Access: vk.AccessFlags(vk.AccessDepthStencilAttachmentReadBit),
			Layout: vk.ImageLayoutDepthStencilAttachmentOptimal,
		}
	case ImageAccessDepthStencilRW:
		return Use{
			Stages: vk.PipelineStageFlags(vk.PipelineStageEarlyFragmentTestsBit) | vk.PipelineStageFlags(vk.PipelineStageLateFragmentTestsBit),
			Access: vk.AccessFlags(vk.AccessDepthStencilAttachmentReadBit) | vk.AccessFlags(vk.AccessDepthStencilAttachmentWriteBit),
			Layout: vk.ImageLayoutDepthStencilAttachmentOptimal,
		}
	case ImageAccessFragmentRead, ImageAccessFragmentSampled:
		return Use{
			Stages: vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit),
			Access: vk.AccessFlags(vk.AccessShaderReadBit),
			Layout: vk.ImageLayoutShaderReadOnlyOptimal,
		}
	case ImageAccessFragmentWrite:
		return Use{
			Stages: vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit),
			Access: vk.AccessFlags(vk.AccessShaderWriteBit),
			Layout: vk.ImageLayoutGeneral,
		}
	}
	return Use{Layout: vk.ImageLayoutUndefined}
}

func bufferToUse(ba BufferAccess) Use {
	switch ba {
	case BufferAccessVertexRead:
		return Use{
			Stages: vk.PipelineStageFlags(vk.PipelineStageVertexInputBit),
			Access: vk.AccessFlags(vk.AccessVertexAttributeReadBit),
			Layout: vk.ImageLayoutUndefined,
		}
	case BufferAccessIndexRead:
		return Use{
			Stages: vk.PipelineStageFlags(vk.PipelineStageVertexInputBit),
			Access: vk.AccessFlags(vk.AccessIndexReadBit),
			Layout: vk.ImageLayoutUndefined,
		}
	case BufferAccessUniformRead:
		return Use{
			Stages: vk.PipelineStageFlags(vk.PipelineStageVertexShaderBit) | vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit),
			Access: vk.AccessFlags(vk.AccessUniformReadBit),
			Layout: vk.ImageLayoutUndefined,
		}
	case BufferAccessShaderRead:
		return Use{
			Stages: vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit),
			Access: vk.AccessFlags(vk.AccessShaderReadBit),
			Layout: vk.ImageLayoutUndefined,
		}
	case BufferAccessShaderWrite:
		return Use{
			Stages: vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit),
			Access: vk.AccessFlags(vk.AccessShaderWriteBit),
			Layout: vk.ImageLayoutUndefined,
		}
	case BufferAccessShaderRW:
		return Use{
			Stages: vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit),
			Access: vk.AccessFlags(vk.AccessShaderReadBit) | vk.AccessFlags(vk.AccessShaderWriteBit),
			Layout: vk.ImageLayoutUndefined,
		}
	case BufferAccessTransferRead:
		return Use{
			Stages: vk.PipelineStageFlags(vk.PipelineStageTransferBit),
			Access: vk.AccessFlags(vk.AccessTransferReadBit),
			Layout: vk.ImageLayoutUndefined,
		}
	case BufferAccessTransferWrite:
		return Use{
			Stages: vk.PipelineStageFlags(vk.PipelineStageTransferBit),
			Access: vk.AccessFlags(vk.AccessTransferWriteBit),
			Layout: vk.ImageLayoutUndefined,
		}
	}
	return Use{Layout: vk.ImageLayoutUndefined}
}

// IsFramebufferAttachment reports whether the use binds the image as a
// framebuffer attachment.
func (u Use) IsFramebufferAttachment() bool {
	switch u.Layout {
	case vk.ImageLayoutColorAttachmentOptimal, vk.ImageLayoutDepthStencilAttachmentOptimal:
		return true
	}
	return false
}

func (u Use) IsWrite() bool {
	writeMask := vk.AccessFlags(vk.AccessColorAttachmentWriteBit) |
		vk.AccessFlags(vk.AccessDepthStencilAttachmentWriteBit) |
		vk.AccessFlags(vk.AccessShaderWriteBit) |
		vk.AccessFlags(vk.AccessTransferWriteBit) |
		vk.AccessFlags(vk.AccessMemoryWriteBit)
	return u.Access&writeMask != 0
}

func (u Use) IsRead() bool {
	return !u.IsWrite()
}

// UseRef is one link of a resource's use chain. PassIndex is -1 for the
// chain endpoints supplied by an attachment binding.
type UseRef struct {
	Use       Use
	PassIndex int
}
