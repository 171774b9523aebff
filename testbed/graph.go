package testbed

import (
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/volta/engine/renderer"
	"github.com/spaghettifunk/volta/engine/renderer/rendergraph"
)

// SetupGraph declares a small deferred-style frame: a geometry pass
// renders color and depth into transient targets, a composite pass
// samples the color target and writes the swapchain image.
func SetupGraph(r *renderer.Renderer, rg *rendergraph.RenderGraph) error {
	swapchain := r.Swapchain()
	extent := swapchain.Extent()

	rg.AddPass(rendergraph.Pass{
		Name: "geometry",
		Resources: []rendergraph.Resource{
			rendergraph.NewImageResource("albedo", "albedo", rendergraph.ImageAccessColorWrite),
			rendergraph.NewImageResource("depth", "depth", rendergraph.ImageAccessDepthStencilRW),
		},
		Execute: func(cb *rendergraph.CommandBuffer) error {
			cb.SetViewportRelative(0, rendergraph.FramebufferArea{X: 0, Y: 0, Width: 1, Height: 1}).
				SetScissorRelative(0, rendergraph.FramebufferArea{X: 0, Y: 0, Width: 1, Height: 1})
			return cb.Err()
		},
	})

	rg.AddPass(rendergraph.Pass{
		Name: "composite",
		Resources: []rendergraph.Resource{
			rendergraph.NewImageResource("albedo", "albedo", rendergraph.ImageAccessFragmentSampled),
			rendergraph.NewImageResource("swap", "swap", rendergraph.ImageAccessColorWrite),
		},
		Execute: func(cb *rendergraph.CommandBuffer) error {
			cb.SetViewportRelative(0, rendergraph.FramebufferArea{X: 0, Y: 0, Width: 1, Height: 1}).
				SetScissorRelative(0, rendergraph.FramebufferArea{X: 0, Y: 0, Width: 1, Height: 1})
			// TODO: bind the composite pipeline once the shader assets land:
			//   cb.BindPipelineByName("composite").
			//      BindSampledAttachment(0, 0, "albedo", rendergraph.DefaultSamplerDesc()).
			//      Draw(3, 1, 0, 0)
			return cb.Err()
		},
	})

	rg.MarkAttachmentInternal("albedo", swapchain.ImageFormat(), extent, rendergraph.Clear{Color: [4]float32{0, 0, 0, 1}})
	rg.MarkAttachmentInternal("depth", vk.FormatD32Sfloat, extent, rendergraph.Clear{Depth: 1.0})
	rg.BindAttachmentToSwapchain("swap", swapchain, rendergraph.Clear{Color: [4]float32{0, 0, 0, 1}})
	return nil
}
