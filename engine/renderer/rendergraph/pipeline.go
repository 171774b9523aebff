package rendergraph

import (
	"fmt"

	vk "github.com/goki/vulkan"
)

// RasterizationDesc is the subset of rasterization state the façade
// lets a pass override.
type RasterizationDesc struct {
	CullMode    vk.CullModeFlags
	FrontFace   vk.FrontFace
	PolygonMode vk.PolygonMode
	LineWidth   float32
}

func DefaultRasterizationDesc() RasterizationDesc {
	return RasterizationDesc{
		CullMode:    vk.CullModeFlags(vk.CullModeBackBit),
		FrontFace:   vk.FrontFaceCounterClockwise,
		PolygonMode: vk.PolygonModeFill,
		LineWidth:   1.0,
	}
}

// BlendPreset selects a canned color blend state per attachment.
type BlendPreset uint8

const (
	BlendPresetOpaque BlendPreset = iota
	BlendPresetAlphaBlend
	BlendPresetAdditive
)

func (p BlendPreset) toState() vk.PipelineColorBlendAttachmentState {
	writeAll := vk.ColorComponentFlags(vk.ColorComponentRBit) | vk.ColorComponentFlags(vk.ColorComponentGBit) |
		vk.ColorComponentFlags(vk.ColorComponentBBit) | vk.ColorComponentFlags(vk.ColorComponentABit)
	switch p {
	case BlendPresetAlphaBlend:
		return vk.PipelineColorBlendAttachmentState{
			BlendEnable:         vk.True,
			SrcColorBlendFactor: vk.BlendFactorSrcAlpha,
			DstColorBlendFactor: vk.BlendFactorOneMinusSrcAlpha,
			ColorBlendOp:        vk.BlendOpAdd,
			SrcAlphaBlendFactor: vk.BlendFactorSrcAlpha,
			DstAlphaBlendFactor: vk.BlendFactorOneMinusSrcAlpha,
			AlphaBlendOp:        vk.BlendOpAdd,
			ColorWriteMask:      writeAll,
		}
	case BlendPresetAdditive:
		return vk.PipelineColorBlendAttachmentState{
			BlendEnable:         vk.True,
			SrcColorBlendFactor: vk.BlendFactorOne,
			DstColorBlendFactor: vk.BlendFactorOne,
			ColorBlendOp:        vk.BlendOpAdd,
			SrcAlphaBlendFactor: vk.BlendFactorOne,
			DstAlphaBlendFactor: vk.BlendFactorOne,
			AlphaBlendOp:        vk.BlendOpAdd,
			ColorWriteMask:      writeAll,
		}
	}
	return vk.PipelineColorBlendAttachmentState{
		BlendEnable:    vk.False,
		ColorWriteMask: writeAll,
	}
}

// VertexField is one field of a packed vertex format. Ignored fields
// contribute to the stride but produce no attribute.
type VertexField struct {
	Format vk.Format
	Size   uint32
	Ignore bool
}

// VertexLayout is a packed vertex format: fields laid out in order in
// one binding.
type VertexLayout struct {
	Fields []VertexField
}

// PipelineDesc is the pure-data description of a graphics pipeline. The
// façade completes it with vertex input and renderpass state before the
// pipeline cache realizes it.
type PipelineDesc struct {
	Name string

	Stages []vk.PipelineShaderStageCreateInfo

	VertexBindings   []vk.VertexInputBindingDescription
	VertexAttributes []vk.VertexInputAttributeDescription

	SetLayouts         []vk.DescriptorSetLayout
	PushConstantRanges []vk.PushConstantRange

	Rasterization         RasterizationDesc
	ColorBlendAttachments []vk.PipelineColorBlendAttachmentState
	DynamicStates         []vk.DynamicState

	DepthTest  bool
	DepthWrite bool

	// Filled in by the façade at bind time.
	RenderPass vk.RenderPass
	Subpass    uint32
}

// NewPipelineDesc returns a description with the defaults every pass
// starts from: fill rasterization, one opaque color attachment,
// viewport and scissor dynamic.
func NewPipelineDesc(name string, stages []vk.PipelineShaderStageCreateInfo) *PipelineDesc {
	return &PipelineDesc{
		Name:                  name,
		Stages:                stages,
		Rasterization:         DefaultRasterizationDesc(),
		ColorBlendAttachments: []vk.PipelineColorBlendAttachmentState{BlendPresetOpaque.toState()},
		DynamicStates:         []vk.DynamicState{vk.DynamicStateViewport, vk.DynamicStateScissor},
	}
}

func (d *PipelineDesc) clone() *PipelineDesc {
	c := *d
	c.VertexBindings = append([]vk.VertexInputBindingDescription(nil), d.VertexBindings...)
	c.VertexAttributes = append([]vk.VertexInputAttributeDescription(nil), d.VertexAttributes...)
	c.ColorBlendAttachments = append([]vk.PipelineColorBlendAttachmentState(nil), d.ColorBlendAttachments...)
	c.DynamicStates = append([]vk.DynamicState(nil), d.DynamicStates...)
	return &c
}

// Key returns a deterministic cache key for the completed description.
// Shader stages and set layouts are not part of the key; descriptions
// that differ only in those share one cache entry.
func (d *PipelineDesc) Key() string {
	return fmt.Sprintf("%s|%v|%v|%v|%+v|%v|%v|%v|%v|%v|%d",
		d.Name, d.VertexBindings, d.VertexAttributes, d.PushConstantRanges,
		d.Rasterization, d.ColorBlendAttachments, d.DynamicStates,
		d.DepthTest, d.DepthWrite, d.RenderPass, d.Subpass)
}
