package rendergraph

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/spaghettifunk/volta/engine/core"
)

// releaseScope guarantees release of acquired frame objects on all exit
// paths. Releases run in reverse acquisition order.
type releaseScope struct {
	releases []func()
}

func (s *releaseScope) add(f func()) {
	s.releases = append(s.releases, f)
}

func (s *releaseScope) release() {
	for i := len(s.releases) - 1; i >= 0; i-- {
		s.releases[i]()
	}
	s.releases = nil
}

// usageFromChain aggregates the image usage flags a transient image
// needs to serve every use on its chain.
func usageFromChain(chain []UseRef) vk.ImageUsageFlags {
	var usage vk.ImageUsageFlags
	for _, c := range chain {
		switch c.Use.Layout {
		case vk.ImageLayoutDepthStencilAttachmentOptimal:
			usage |= vk.ImageUsageFlags(vk.ImageUsageDepthStencilAttachmentBit)
		case vk.ImageLayoutShaderReadOnlyOptimal:
			usage |= vk.ImageUsageFlags(vk.ImageUsageSampledBit)
		case vk.ImageLayoutColorAttachmentOptimal:
			usage |= vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit)
		case vk.ImageLayoutGeneral:
			usage |= vk.ImageUsageFlags(vk.ImageUsageStorageBit)
		}
	}
	return usage
}

// Execute binds the compiled graph to the current frame: it realizes
// transient images, acquires render passes and framebuffers, and
// records the command buffer by running every pass callback inside its
// subpass. Acquired objects are released if recording fails.
func (rg *RenderGraph) Execute(frame *Frame, acquired []SwapchainImage) (rec CommandRecorder, err error) {
	if !rg.built {
		return nil, fmt.Errorf("execute before build: %w", ErrContractViolation)
	}

	scope := &releaseScope{}
	defer func() {
		if err != nil {
			scope.release()
		}
	}()

	// Create and bind attachment views.
	attNames := maps.Keys(rg.boundAttachments)
	slices.Sort(attNames)
	for _, raw := range attNames {
		att := rg.boundAttachments[raw]
		chain, ok := rg.useChains[rg.resolve(raw)]
		if !ok {
			continue
		}
		switch att.Kind {
		case AttachmentKindInternal:
			desc := &TransientImageDescription{
				Name:    core.IdentifierTagged(string(raw)),
				Format:  att.Format,
				Extent:  att.Extent,
				Usage:   usageFromChain(chain),
				Aspect:  aspectForFormat(att.Format),
				Samples: att.Samples,
			}
			view, aerr := frame.Transients.Acquire(desc)
			if aerr != nil {
				return nil, fmt.Errorf("transient image %q: %w: %s", raw, ErrAllocationFailed, aerr)
			}
			att.ImageView = view
			scope.add(func() { frame.Transients.Release(view) })
		case AttachmentKindSwapchain:
			found := false
			for _, acq := range acquired {
				if acq.Swapchain == att.Swapchain {
					att.ImageView = acq.Swapchain.View(acq.ImageIndex)
					found = true
					break
				}
			}
			if !found {
				return nil, fmt.Errorf("no acquired image for swapchain attachment %q: %w", raw, ErrContractViolation)
			}
		case AttachmentKindExternal:
			// View bound at bind time.
		}
	}

	// Acquire render passes and framebuffers.
	for _, rp := range rg.rpis {
		handle, aerr := frame.Renderpasses.AcquireRenderpass(rp.Description)
		if aerr != nil {
			return nil, fmt.Errorf("renderpass: %w: %s", ErrAllocationFailed, aerr)
		}
		rp.Handle = handle

		views := make([]vk.ImageView, 0, len(rp.Attachments))
		for _, rpAtt := range rp.Attachments {
			bound := rg.boundAttachments[rpAtt.Name]
			rpAtt.ImageView = bound.ImageView
			views = append(views, bound.ImageView)
		}
		width, height := rp.Width, rp.Height
		if width == 0 || height == 0 {
			// Attachment-less render pass; a framebuffer still needs a size.
			width, height = 1, 1
		}
		fb, aerr := frame.Framebuffers.AcquireFramebuffer(&FramebufferDescription{
			RenderPass:  handle,
			Attachments: views,
			Width:       width,
			Height:      height,
			Layers:      1,
		})
		if aerr != nil {
			return nil, fmt.Errorf("framebuffer: %w: %s", ErrAllocationFailed, aerr)
		}
		rp.Framebuffer = fb
	}

	// Record.
	rec, err = frame.CommandBuffers.Acquire()
	if err != nil {
		return nil, fmt.Errorf("command buffer: %w: %s", ErrAllocationFailed, err)
	}
	scope.add(func() { frame.CommandBuffers.Release(rec) })

	if err = rec.Begin(); err != nil {
		return nil, err
	}

	cb := &CommandBuffer{rg: rg, frame: frame, rec: rec}
	for _, rp := range rg.rpis {
		var clears []vk.ClearValue
		for _, att := range rp.Attachments {
			if att.ShouldClear {
				clears = append(clears, att.ClearValue.toVk(aspectForFormat(att.Description.Format)))
			}
		}
		rec.BeginRenderPass(&RenderPassBegin{
			RenderPass:  rp.Handle,
			Framebuffer: rp.Framebuffer,
			RenderArea: vk.Rect2D{
				Offset: vk.Offset2D{},
				Extent: vk.Extent2D{Width: rp.Width, Height: rp.Height},
			},
			ClearValues: clears,
		})
		for si, sp := range rp.Subpasses {
			cb.beginSubpass(rp.Handle, uint32(si), vk.Extent2D{Width: rp.Width, Height: rp.Height})
			pass := rg.passes[sp.PassIndex]
			if pass.Pass.Execute != nil {
				if err = pass.Pass.Execute(cb); err != nil {
					return nil, fmt.Errorf("pass %q: %w", pass.Pass.Name, err)
				}
			}
			if err = cb.Err(); err != nil {
				return nil, fmt.Errorf("pass %q: %w", pass.Pass.Name, err)
			}
			if si < len(rp.Subpasses)-1 {
				rec.NextSubpass()
			}
		}
		rec.EndRenderPass()
	}

	if err = rec.End(); err != nil {
		return nil, err
	}
	return rec, nil
}
