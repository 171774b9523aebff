package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/volta/engine/core"
	"github.com/spaghettifunk/volta/engine/renderer/rendergraph"
)

/**
 * @brief Holds a Vulkan pipeline and its layout.
 */
type VulkanPipeline struct {
	/** @brief The internal pipeline handle. */
	Handle vk.Pipeline
	/** @brief The pipeline layout. */
	PipelineLayout vk.PipelineLayout
}

// PipelineCache realizes pipeline descriptions, keyed by the completed
// description.
type PipelineCache struct {
	context *VulkanContext
	cache   *cache[*rendergraph.Pipeline]
}

func NewPipelineCache(context *VulkanContext) *PipelineCache {
	return &PipelineCache{
		context: context,
		cache:   newCache[*rendergraph.Pipeline](),
	}
}

func (pc *PipelineCache) AcquirePipeline(desc *rendergraph.PipelineDesc) (*rendergraph.Pipeline, error) {
	return pc.cache.acquire(desc.Key(), func() (*rendergraph.Pipeline, error) {
		pipeline, err := NewGraphicsPipeline(pc.context, desc)
		if err != nil {
			return nil, err
		}
		return &rendergraph.Pipeline{
			Handle:     pipeline.Handle,
			Layout:     pipeline.PipelineLayout,
			SetLayouts: desc.SetLayouts,
		}, nil
	})
}

func (pc *PipelineCache) Destroy() {
	pc.cache.drain(func(p *rendergraph.Pipeline) {
		vk.DestroyPipeline(pc.context.Device.LogicalDevice, p.Handle, pc.context.Allocator)
		vk.DestroyPipelineLayout(pc.context.Device.LogicalDevice, p.Layout, pc.context.Allocator)
	})
}

func NewGraphicsPipeline(context *VulkanContext, desc *rendergraph.PipelineDesc) (*VulkanPipeline, error) {
	outPipeline := &VulkanPipeline{}

	// Viewport state. Viewport and scissor are dynamic in this engine;
	// the counts still have to be declared.
	viewportState := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		ScissorCount:  1,
	}

	// Rasterizer
	rasterizerCreateInfo := vk.PipelineRasterizationStateCreateInfo{
		SType:                   vk.StructureTypePipelineRasterizationStateCreateInfo,
		DepthClampEnable:        vk.False,
		RasterizerDiscardEnable: vk.False,
		PolygonMode:             desc.Rasterization.PolygonMode,
		LineWidth:               desc.Rasterization.LineWidth,
		CullMode:                desc.Rasterization.CullMode,
		FrontFace:               desc.Rasterization.FrontFace,
		DepthBiasEnable:         vk.False,
	}

	// Multisampling.
	multisamplingCreateInfo := vk.PipelineMultisampleStateCreateInfo{
		SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
		SampleShadingEnable:  vk.False,
		RasterizationSamples: vk.SampleCount1Bit,
		MinSampleShading:     1.0,
	}

	// Depth and stencil testing.
	depthStencil := vk.PipelineDepthStencilStateCreateInfo{
		SType:             vk.StructureTypePipelineDepthStencilStateCreateInfo,
		DepthTestEnable:   vk.False,
		DepthWriteEnable:  vk.False,
		StencilTestEnable: vk.False,
	}
	if desc.DepthTest {
		depthStencil.DepthTestEnable = vk.True
		depthStencil.DepthCompareOp = vk.CompareOpLess
	}
	if desc.DepthWrite {
		depthStencil.DepthWriteEnable = vk.True
	}

	colorBlendStateCreateInfo := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		LogicOpEnable:   vk.False,
		LogicOp:         vk.LogicOpCopy,
		AttachmentCount: uint32(len(desc.ColorBlendAttachments)),
		PAttachments:    desc.ColorBlendAttachments,
	}

	dynamicStateCreateInfo := vk.PipelineDynamicStateCreateInfo{
		SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
		DynamicStateCount: uint32(len(desc.DynamicStates)),
		PDynamicStates:    desc.DynamicStates,
	}

	// Vertex input
	vertexInputInfo := vk.PipelineVertexInputStateCreateInfo{
		SType:                           vk.StructureTypePipelineVertexInputStateCreateInfo,
		VertexBindingDescriptionCount:   uint32(len(desc.VertexBindings)),
		PVertexBindingDescriptions:      desc.VertexBindings,
		VertexAttributeDescriptionCount: uint32(len(desc.VertexAttributes)),
		PVertexAttributeDescriptions:    desc.VertexAttributes,
	}

	// Input assembly
	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:                  vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology:               vk.PrimitiveTopologyTriangleList,
		PrimitiveRestartEnable: vk.False,
	}

	// Pipeline layout
	pipelineLayoutCreateInfo := vk.PipelineLayoutCreateInfo{
		SType:                  vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount:         uint32(len(desc.SetLayouts)),
		PSetLayouts:            desc.SetLayouts,
		PushConstantRangeCount: uint32(len(desc.PushConstantRanges)),
		PPushConstantRanges:    desc.PushConstantRanges,
	}

	var pPipelineLayout vk.PipelineLayout
	if err := lockPool.SafeCall(PipelineManagement, func() error {
		result := vk.CreatePipelineLayout(
			context.Device.LogicalDevice,
			&pipelineLayoutCreateInfo,
			context.Allocator,
			&pPipelineLayout)
		if !VulkanResultIsSuccess(result) {
			return fmt.Errorf("vkCreatePipelineLayout failed with %s", VulkanResultString(result))
		}
		outPipeline.PipelineLayout = pPipelineLayout
		return nil
	}); err != nil {
		return nil, err
	}

	// Pipeline create
	pipelineCreateInfo := vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(desc.Stages)),
		PStages:             desc.Stages,
		PVertexInputState:   &vertexInputInfo,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &rasterizerCreateInfo,
		PMultisampleState:   &multisamplingCreateInfo,
		PDepthStencilState:  &depthStencil,
		PColorBlendState:    &colorBlendStateCreateInfo,
		PDynamicState:       &dynamicStateCreateInfo,
		Layout:              outPipeline.PipelineLayout,
		RenderPass:          desc.RenderPass,
		Subpass:             desc.Subpass,
		BasePipelineHandle:  vk.NullPipeline,
		BasePipelineIndex:   -1,
	}

	pPipelines := make([]vk.Pipeline, 1)
	if err := lockPool.SafeCall(PipelineManagement, func() error {
		result := vk.CreateGraphicsPipelines(
			context.Device.LogicalDevice,
			vk.NullPipelineCache,
			1,
			[]vk.GraphicsPipelineCreateInfo{pipelineCreateInfo},
			context.Allocator,
			pPipelines)
		if !VulkanResultIsSuccess(result) {
			return fmt.Errorf("vkCreateGraphicsPipelines failed with %s", VulkanResultString(result))
		}
		return nil
	}); err != nil {
		return nil, err
	}

	outPipeline.Handle = pPipelines[0]

	core.LogDebug("Graphics pipeline %s created!", desc.Name)
	return outPipeline, nil
}

func (pipeline *VulkanPipeline) Destroy(context *VulkanContext) {
	if pipeline.Handle != vk.NullPipeline {
		vk.DestroyPipeline(context.Device.LogicalDevice, pipeline.Handle, context.Allocator)
		pipeline.Handle = vk.NullPipeline
	}
	if pipeline.PipelineLayout != vk.NullPipelineLayout {
		vk.DestroyPipelineLayout(context.Device.LogicalDevice, pipeline.PipelineLayout, context.Allocator)
		pipeline.PipelineLayout = vk.NullPipelineLayout
	}
}
