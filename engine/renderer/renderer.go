package renderer

import (
	"errors"

	"github.com/spaghettifunk/volta/engine/config"
	"github.com/spaghettifunk/volta/engine/core"
	"github.com/spaghettifunk/volta/engine/platform"
	"github.com/spaghettifunk/volta/engine/renderer/rendergraph"
	"github.com/spaghettifunk/volta/engine/renderer/vulkan"
)

// Renderer drives the Vulkan backend: one frame is one render graph
// execution between acquire and present.
type Renderer struct {
	backend *vulkan.VulkanBackend
}

func New(p *platform.Platform, cfg *config.RendererConfig) *Renderer {
	return &Renderer{
		backend: vulkan.New(p, cfg),
	}
}

func (r *Renderer) Initialize(appName string) error {
	return r.backend.Initialize(appName)
}

// Swapchain returns the swapchain façade for attachment binding.
func (r *Renderer) Swapchain() rendergraph.Swapchain {
	return r.backend.Swapchain()
}

// RegisterPipeline makes a pipeline description resolvable by name from
// pass callbacks.
func (r *Renderer) RegisterPipeline(desc *rendergraph.PipelineDesc) {
	r.backend.RegisterPipeline(desc)
}

// DrawGraph runs one frame: acquire a swapchain image, execute the
// graph against it and submit. A booting swapchain is not an error; the
// frame is simply skipped.
func (r *Renderer) DrawGraph(rg *rendergraph.RenderGraph) error {
	imageIndex, err := r.backend.BeginFrame()
	if err != nil {
		if errors.Is(err, core.ErrSwapchainBooting) {
			core.LogDebug("swapchain booting, skipping frame")
			return nil
		}
		return err
	}

	rec, err := rg.Execute(r.backend.NewFrame(), []rendergraph.SwapchainImage{
		{Swapchain: r.backend.Swapchain(), ImageIndex: int(imageIndex)},
	})
	if err != nil {
		return err
	}

	if err := r.backend.EndFrame(rec); err != nil {
		if errors.Is(err, core.ErrSwapchainBooting) {
			core.LogDebug("swapchain booting, skipping present")
			return nil
		}
		return err
	}
	return nil
}

func (r *Renderer) Resized(width, height uint32) error {
	return r.backend.Resized(width, height)
}

func (r *Renderer) Shutdown() error {
	return r.backend.Shutdown()
}
