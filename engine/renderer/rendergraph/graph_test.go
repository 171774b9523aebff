package rendergraph

import (
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSwapchain struct {
	format vk.Format
	extent vk.Extent2D
	views  []vk.ImageView
}

func (f *fakeSwapchain) ImageFormat() vk.Format { return f.format }
func (f *fakeSwapchain) Extent() vk.Extent2D    { return f.extent }
func (f *fakeSwapchain) View(i int) vk.ImageView {
	if i < len(f.views) {
		return f.views[i]
	}
	return vk.NullImageView
}

func newFakeSwapchain() *fakeSwapchain {
	return &fakeSwapchain{
		format: vk.FormatB8g8r8a8Unorm,
		extent: vk.Extent2D{Width: 1280, Height: 720},
	}
}

func isExternalDep(d vk.SubpassDependency) bool {
	return d.SrcSubpass == vk.SubpassExternal || d.DstSubpass == vk.SubpassExternal
}

func TestClearAndPresent(t *testing.T) {
	rg := New()
	rg.AddPass(Pass{
		Name: "clear",
		Resources: []Resource{
			NewImageResource("swap", "swap", ImageAccessColorWrite),
		},
	})
	rg.BindAttachmentToSwapchain("swap", newFakeSwapchain(), Clear{Color: [4]float32{0, 0, 0, 1}})

	require.NoError(t, rg.Build())

	require.Len(t, rg.RenderPasses(), 1)
	rp := rg.RenderPasses()[0]
	require.Len(t, rp.Subpasses, 1)
	require.Len(t, rp.Attachments, 1)

	att := rp.Attachments[0]
	assert.Equal(t, Name("swap"), att.Name)
	assert.Equal(t, vk.AttachmentLoadOpClear, att.Description.LoadOp)
	assert.Equal(t, vk.AttachmentStoreOpStore, att.Description.StoreOp)
	assert.Equal(t, vk.ImageLayoutUndefined, att.Description.InitialLayout)
	assert.Equal(t, vk.ImageLayoutPresentSrc, att.Description.FinalLayout)
	assert.True(t, att.ShouldClear)

	require.Len(t, rp.Dependencies, 1)
	dep := rp.Dependencies[0]
	assert.Equal(t, uint32(0), dep.SrcSubpass)
	assert.Equal(t, uint32(vk.SubpassExternal), dep.DstSubpass)
	assert.Equal(t, vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit), dep.SrcStageMask)
	assert.Equal(t, vk.AccessFlags(vk.AccessColorAttachmentWriteBit), dep.SrcAccessMask)

	// One color reference in the single subpass.
	require.Len(t, rp.Description.Subpasses, 1)
	require.Len(t, rp.Description.Subpasses[0].ColorRefs, 1)
	assert.Equal(t, uint32(0), rp.Description.Subpasses[0].ColorRefs[0].Attachment)
	assert.Nil(t, rp.Description.Subpasses[0].DepthStencilRef)
}

func TestTwoPassesDifferentAttachments(t *testing.T) {
	extent := vk.Extent2D{Width: 1280, Height: 720}

	rg := New()
	rg.AddPass(Pass{
		Name: "geometry",
		Resources: []Resource{
			NewImageResource("color", "color", ImageAccessColorWrite),
			NewImageResource("depth", "depth", ImageAccessDepthStencilRW),
		},
	})
	rg.AddPass(Pass{
		Name: "post",
		Resources: []Resource{
			NewImageResource("color", "color", ImageAccessFragmentSampled),
			NewImageResource("swap", "swap", ImageAccessColorWrite),
		},
	})
	rg.MarkAttachmentInternal("color", vk.FormatB8g8r8a8Unorm, extent, Clear{})
	rg.MarkAttachmentInternal("depth", vk.FormatD32Sfloat, extent, Clear{Depth: 1})
	rg.BindAttachmentToSwapchain("swap", newFakeSwapchain(), Clear{})

	require.NoError(t, rg.Build())

	require.Len(t, rg.RenderPasses(), 2)
	passes := rg.Passes()
	assert.Equal(t, "geometry", passes[0].Pass.Name)
	assert.Equal(t, "post", passes[1].Pass.Name)

	rp0 := rg.RenderPasses()[0]
	rp1 := rg.RenderPasses()[1]

	// The color target leaves the first render pass transitioned for
	// sampling and is preserved.
	colorAtt := rp0.attachment("color")
	require.NotNil(t, colorAtt)
	assert.Equal(t, vk.AttachmentLoadOpClear, colorAtt.Description.LoadOp)
	assert.Equal(t, vk.AttachmentStoreOpStore, colorAtt.Description.StoreOp)
	assert.Equal(t, vk.ImageLayoutShaderReadOnlyOptimal, colorAtt.Description.FinalLayout)

	// Depth is transient: nothing reads it afterwards, so it is not stored.
	depthAtt := rp0.attachment("depth")
	require.NotNil(t, depthAtt)
	assert.Equal(t, vk.AttachmentStoreOpDontCare, depthAtt.Description.StoreOp)
	assert.Equal(t, vk.ImageLayoutDepthStencilAttachmentOptimal, depthAtt.Description.FinalLayout)

	// Sync around the boundary: one leaving, and one entering dependency.
	require.Len(t, rp0.Dependencies, 1)
	leaving := rp0.Dependencies[0]
	assert.Equal(t, uint32(vk.SubpassExternal), leaving.DstSubpass)
	assert.Equal(t, vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit), leaving.DstStageMask)
	assert.Equal(t, vk.AccessFlags(vk.AccessShaderReadBit), leaving.DstAccessMask)

	var entering []vk.SubpassDependency
	for _, d := range rp1.Dependencies {
		if d.SrcSubpass == vk.SubpassExternal {
			entering = append(entering, d)
		}
	}
	require.Len(t, entering, 1)
	assert.Equal(t, vk.AccessFlags(vk.AccessColorAttachmentWriteBit), entering[0].SrcAccessMask)

	// The geometry subpass holds one color and one depth-stencil ref.
	require.Len(t, rp0.Description.Subpasses, 1)
	assert.Len(t, rp0.Description.Subpasses[0].ColorRefs, 1)
	require.NotNil(t, rp0.Description.Subpasses[0].DepthStencilRef)
	assert.Equal(t, uint32(rp0.attachmentIndex("depth")), rp0.Description.Subpasses[0].DepthStencilRef.Attachment)
}

func TestSubpassMerge(t *testing.T) {
	extent := vk.Extent2D{Width: 800, Height: 600}

	rg := New()
	rg.AddPass(Pass{
		Name:           "first",
		AuxiliaryOrder: 0,
		Resources: []Resource{
			NewImageResource("color", "color", ImageAccessColorWrite),
			NewImageResource("depth", "depth", ImageAccessDepthStencilRW),
		},
	})
	rg.AddPass(Pass{
		Name:           "second",
		AuxiliaryOrder: 1,
		Resources: []Resource{
			NewImageResource("color", "color", ImageAccessColorRW),
			NewImageResource("depth", "depth", ImageAccessDepthStencilRW),
		},
	})
	rg.MarkAttachmentInternal("color", vk.FormatB8g8r8a8Unorm, extent, Clear{})
	rg.MarkAttachmentInternal("depth", vk.FormatD32Sfloat, extent, Clear{Depth: 1})

	require.NoError(t, rg.Build())

	require.Len(t, rg.RenderPasses(), 1)
	rp := rg.RenderPasses()[0]
	require.Len(t, rp.Subpasses, 2)
	assert.Equal(t, 0, rg.Passes()[0].Subpass)
	assert.Equal(t, 1, rg.Passes()[1].Subpass)

	// One subpass dependency per shared attachment, 0 -> 1.
	var internal []vk.SubpassDependency
	for _, d := range rp.Dependencies {
		if !isExternalDep(d) {
			internal = append(internal, d)
		}
	}
	require.Len(t, internal, 2)
	for _, d := range internal {
		assert.Equal(t, uint32(0), d.SrcSubpass)
		assert.Equal(t, uint32(1), d.DstSubpass)
	}
}

func TestRename(t *testing.T) {
	extent := vk.Extent2D{Width: 64, Height: 64}

	rg := New()
	rg.AddPass(Pass{
		Name: "producer",
		Resources: []Resource{
			NewImageResource("img", "img_v1", ImageAccessColorWrite),
		},
	})
	rg.AddPass(Pass{
		Name: "consumer",
		Resources: []Resource{
			NewImageResource("img_v1", "img_v1", ImageAccessFragmentSampled),
		},
	})
	rg.MarkAttachmentInternal("img", vk.FormatB8g8r8a8Unorm, extent, Clear{})

	require.NoError(t, rg.Build())

	// The rename collapses to the canonical key.
	assert.Equal(t, Name("img"), rg.resolve("img_v1"))
	assert.Equal(t, rg.resolve("img_v1"), rg.resolve(rg.resolve("img_v1")))

	// Single chain carrying both passes plus the binding endpoints.
	chain := rg.UseChain("img_v1")
	require.Len(t, chain, 4)
	assert.Equal(t, -1, chain[0].PassIndex)
	assert.Equal(t, "producer", rg.Passes()[chain[1].PassIndex].Pass.Name)
	assert.Equal(t, "consumer", rg.Passes()[chain[2].PassIndex].Pass.Name)
	assert.Equal(t, -1, chain[3].PassIndex)
}

func TestAuxiliaryOrderTieBreak(t *testing.T) {
	mutual := func(auxA, auxB int) *RenderGraph {
		rg := New()
		rg.AddPass(Pass{
			Name:           "a",
			AuxiliaryOrder: auxA,
			Resources: []Resource{
				NewBufferResource("b_out", "b_out", BufferAccessShaderRead),
				NewBufferResource("a_out", "a_out", BufferAccessShaderWrite),
			},
		})
		rg.AddPass(Pass{
			Name:           "b",
			AuxiliaryOrder: auxB,
			Resources: []Resource{
				NewBufferResource("a_out", "a_out", BufferAccessShaderRead),
				NewBufferResource("b_out", "b_out", BufferAccessShaderWrite),
			},
		})
		return rg
	}

	rg := mutual(0, 1)
	require.NoError(t, rg.Build())
	assert.Equal(t, "a", rg.Passes()[0].Pass.Name)
	assert.Equal(t, "b", rg.Passes()[1].Pass.Name)

	// Equal orders leave the cycle unresolvable.
	rg = mutual(3, 3)
	err := rg.Build()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnresolvedCycle)
}

func TestExternalAttachmentWithExplicitFinal(t *testing.T) {
	extent := vk.Extent2D{Width: 256, Height: 256}

	rg := New()
	rg.AddPass(Pass{
		Name: "draw",
		Resources: []Resource{
			NewImageResource("ext", "ext", ImageAccessColorRW),
		},
	})
	initial := Use{
		Stages: vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		Access: vk.AccessFlags(vk.AccessColorAttachmentWriteBit),
		Layout: vk.ImageLayoutColorAttachmentOptimal,
	}
	final := Use{
		Stages: vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit),
		Access: vk.AccessFlags(vk.AccessShaderReadBit),
		Layout: vk.ImageLayoutShaderReadOnlyOptimal,
	}
	rg.BindAttachmentToImage("ext", vk.NullImageView, vk.FormatB8g8r8a8Unorm, extent, initial, final)

	require.NoError(t, rg.Build())

	rp := rg.RenderPasses()[0]
	att := rp.attachment("ext")
	require.NotNil(t, att)
	assert.Equal(t, vk.AttachmentLoadOpLoad, att.Description.LoadOp)
	assert.Equal(t, vk.AttachmentStoreOpStore, att.Description.StoreOp)
	assert.Equal(t, vk.ImageLayoutColorAttachmentOptimal, att.Description.InitialLayout)
	assert.Equal(t, vk.ImageLayoutShaderReadOnlyOptimal, att.Description.FinalLayout)

	var trailing []vk.SubpassDependency
	for _, d := range rp.Dependencies {
		if d.DstSubpass == vk.SubpassExternal {
			trailing = append(trailing, d)
		}
	}
	require.Len(t, trailing, 1)
	assert.Equal(t, vk.AccessFlags(vk.AccessShaderReadBit), trailing[0].DstAccessMask)
	assert.Equal(t, vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit), trailing[0].DstStageMask)
}

func TestReadAfterReadEmitsNothing(t *testing.T) {
	extent := vk.Extent2D{Width: 128, Height: 128}

	initial := Use{
		Stages: vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit),
		Access: vk.AccessFlags(vk.AccessShaderReadBit),
		Layout: vk.ImageLayoutShaderReadOnlyOptimal,
	}
	final := Use{Layout: vk.ImageLayoutUndefined}

	rg := New()
	rg.AddPass(Pass{
		Name: "reader_one",
		Resources: []Resource{
			NewImageResource("tex", "tex", ImageAccessFragmentSampled),
		},
	})
	rg.AddPass(Pass{
		Name: "reader_two",
		Resources: []Resource{
			NewImageResource("tex", "tex", ImageAccessFragmentSampled),
		},
	})
	rg.BindAttachmentToImage("tex", vk.NullImageView, vk.FormatB8g8r8a8Unorm, extent, initial, final)

	require.NoError(t, rg.Build())

	for _, rp := range rg.RenderPasses() {
		assert.Empty(t, rp.Dependencies)
	}
}

func TestEmptyGraphBuilds(t *testing.T) {
	rg := New()
	require.NoError(t, rg.Build())
	assert.Empty(t, rg.RenderPasses())
	assert.Empty(t, rg.Passes())
}

func TestBuildIsIdempotent(t *testing.T) {
	extent := vk.Extent2D{Width: 1280, Height: 720}

	rg := New()
	rg.AddPass(Pass{
		Name: "geometry",
		Resources: []Resource{
			NewImageResource("color", "color", ImageAccessColorWrite),
			NewImageResource("depth", "depth", ImageAccessDepthStencilRW),
		},
	})
	rg.AddPass(Pass{
		Name: "post",
		Resources: []Resource{
			NewImageResource("color", "color", ImageAccessFragmentSampled),
			NewImageResource("swap", "swap", ImageAccessColorWrite),
		},
	})
	rg.MarkAttachmentInternal("color", vk.FormatB8g8r8a8Unorm, extent, Clear{})
	rg.MarkAttachmentInternal("depth", vk.FormatD32Sfloat, extent, Clear{Depth: 1})
	rg.BindAttachmentToSwapchain("swap", newFakeSwapchain(), Clear{})

	require.NoError(t, rg.Build())
	first := make([]string, 0, len(rg.RenderPasses()))
	for _, rp := range rg.RenderPasses() {
		first = append(first, rp.Description.Key())
	}
	firstDump := rg.DebugString()

	require.NoError(t, rg.Build())
	second := make([]string, 0, len(rg.RenderPasses()))
	for _, rp := range rg.RenderPasses() {
		second = append(second, rp.Description.Key())
	}

	assert.Equal(t, first, second)
	assert.Equal(t, firstDump, rg.DebugString())
}

func TestLayoutContinuityAcrossRenderPasses(t *testing.T) {
	extent := vk.Extent2D{Width: 512, Height: 512}

	rg := New()
	rg.AddPass(Pass{
		Name: "write",
		Resources: []Resource{
			NewImageResource("target", "target", ImageAccessColorWrite),
		},
	})
	rg.AddPass(Pass{
		Name: "read_write",
		Resources: []Resource{
			NewImageResource("target", "target", ImageAccessColorRW),
			NewImageResource("aux", "aux", ImageAccessColorWrite),
		},
		AuxiliaryOrder: 1,
	})
	rg.MarkAttachmentInternal("target", vk.FormatB8g8r8a8Unorm, extent, Clear{})
	rg.MarkAttachmentInternal("aux", vk.FormatB8g8r8a8Unorm, extent, Clear{})

	require.NoError(t, rg.Build())
	require.Len(t, rg.RenderPasses(), 2)

	// finalLayout of render pass i equals initialLayout of render pass i+1.
	att0 := rg.RenderPasses()[0].attachment("target")
	att1 := rg.RenderPasses()[1].attachment("target")
	require.NotNil(t, att0)
	require.NotNil(t, att1)
	assert.Equal(t, att0.Description.FinalLayout, att1.Description.InitialLayout)
	// The second render pass loads what the first stored.
	assert.Equal(t, vk.AttachmentStoreOpStore, att0.Description.StoreOp)
	assert.Equal(t, vk.AttachmentLoadOpLoad, att1.Description.LoadOp)
}

func TestStructuralErrors(t *testing.T) {
	extent := vk.Extent2D{Width: 32, Height: 32}

	tests := []struct {
		name    string
		declare func(rg *RenderGraph)
		wantErr error
	}{
		{
			name: "read without producer or binding",
			declare: func(rg *RenderGraph) {
				rg.AddPass(Pass{
					Name: "reader",
					Resources: []Resource{
						NewImageResource("ghost", "ghost", ImageAccessFragmentSampled),
					},
				})
			},
			wantErr: ErrResourceNotProduced,
		},
		{
			name: "attachment without binding",
			declare: func(rg *RenderGraph) {
				rg.AddPass(Pass{
					Name: "writer",
					Resources: []Resource{
						NewImageResource("unbound", "unbound", ImageAccessColorWrite),
					},
				})
			},
			wantErr: ErrMissingAttachment,
		},
		{
			name: "image and buffer under one name",
			declare: func(rg *RenderGraph) {
				rg.AddPass(Pass{
					Name: "image_writer",
					Resources: []Resource{
						NewImageResource("shared", "shared", ImageAccessFragmentWrite),
					},
				})
				rg.AddPass(Pass{
					Name: "buffer_reader",
					Resources: []Resource{
						NewBufferResource("shared", "shared", BufferAccessShaderRead),
					},
				})
			},
			wantErr: ErrResourceTypeMismatch,
		},
		{
			name: "separate read and write instead of RW",
			declare: func(rg *RenderGraph) {
				rg.AddPass(Pass{
					Name: "split_access",
					Resources: []Resource{
						NewImageResource("t", "t", ImageAccessColorRead),
						NewImageResource("t", "t", ImageAccessColorWrite),
					},
				})
				rg.MarkAttachmentInternal("t", vk.FormatB8g8r8a8Unorm, extent, Clear{})
			},
			wantErr: ErrContractViolation,
		},
		{
			name: "mismatched attachment extents in one render pass",
			declare: func(rg *RenderGraph) {
				rg.AddPass(Pass{
					Name: "writer",
					Resources: []Resource{
						NewImageResource("big", "big", ImageAccessColorWrite),
						NewImageResource("small", "small", ImageAccessDepthStencilRW),
					},
				})
				rg.MarkAttachmentInternal("big", vk.FormatB8g8r8a8Unorm, vk.Extent2D{Width: 64, Height: 64}, Clear{})
				rg.MarkAttachmentInternal("small", vk.FormatD32Sfloat, vk.Extent2D{Width: 32, Height: 32}, Clear{})
			},
			wantErr: ErrContractViolation,
		},
		{
			name: "mixed queue families",
			declare: func(rg *RenderGraph) {
				rg.AddPass(Pass{
					Name:        "gfx",
					QueueFamily: QueueFamilyGraphics,
					Resources: []Resource{
						NewBufferResource("data", "data", BufferAccessShaderWrite),
					},
				})
				rg.AddPass(Pass{
					Name:        "xfer",
					QueueFamily: QueueFamilyTransfer,
					Resources: []Resource{
						NewBufferResource("data", "data", BufferAccessTransferRead),
					},
				})
			},
			wantErr: ErrContractViolation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rg := New()
			tt.declare(rg)
			err := rg.Build()
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestGlobalIOAndHeadTail(t *testing.T) {
	extent := vk.Extent2D{Width: 16, Height: 16}

	rg := New()
	rg.AddPass(Pass{
		Name: "producer",
		Resources: []Resource{
			NewImageResource("mid", "mid", ImageAccessColorWrite),
		},
	})
	rg.AddPass(Pass{
		Name: "consumer",
		Resources: []Resource{
			NewImageResource("mid", "mid", ImageAccessFragmentSampled),
			NewImageResource("out", "out", ImageAccessColorWrite),
		},
	})
	rg.MarkAttachmentInternal("mid", vk.FormatB8g8r8a8Unorm, extent, Clear{})
	rg.MarkAttachmentInternal("out", vk.FormatB8g8r8a8Unorm, extent, Clear{})

	require.NoError(t, rg.Build())

	// "mid" is produced and consumed inside the graph; "out" escapes.
	outputs := rg.GlobalOutputs()
	require.Len(t, outputs, 1)
	assert.Equal(t, Name("out"), outputs[0].UseName)
	assert.Empty(t, rg.GlobalInputs())

	tracked := rg.Tracked()
	require.Len(t, tracked, 1)
	assert.Equal(t, Name("mid"), tracked[0].UseName)

	// The producer only writes, so it can head the graph; the consumer
	// reads only internal state and tails it.
	assert.True(t, rg.Passes()[0].IsHeadPass)
	assert.True(t, rg.Passes()[1].IsTailPass)
	assert.False(t, rg.Passes()[1].IsHeadPass)
}

func TestBufferChainSync(t *testing.T) {
	rg := New()
	rg.AddPass(Pass{
		Name: "simulate",
		Resources: []Resource{
			NewBufferResource("particles", "particles", BufferAccessShaderWrite),
		},
	})
	rg.AddPass(Pass{
		Name: "draw_particles",
		Resources: []Resource{
			NewBufferResource("particles", "particles", BufferAccessVertexRead),
		},
	})

	require.NoError(t, rg.Build())

	// Both passes land in the same (attachment-less) render pass, so the
	// write-read hazard lowers to one subpass dependency.
	require.Len(t, rg.RenderPasses(), 1)
	rp := rg.RenderPasses()[0]
	require.Len(t, rp.Dependencies, 1)
	dep := rp.Dependencies[0]
	assert.Equal(t, uint32(0), dep.SrcSubpass)
	assert.Equal(t, uint32(1), dep.DstSubpass)
	assert.Equal(t, vk.AccessFlags(vk.AccessShaderWriteBit), dep.SrcAccessMask)
	assert.Equal(t, vk.AccessFlags(vk.AccessVertexAttributeReadBit), dep.DstAccessMask)
}

func TestPassOrderIsLinearExtension(t *testing.T) {
	extent := vk.Extent2D{Width: 16, Height: 16}

	// Declared intentionally backwards.
	rg := New()
	rg.AddPass(Pass{
		Name: "final",
		Resources: []Resource{
			NewImageResource("b", "b", ImageAccessFragmentSampled),
			NewImageResource("swap", "swap", ImageAccessColorWrite),
		},
	})
	rg.AddPass(Pass{
		Name: "second",
		Resources: []Resource{
			NewImageResource("a", "a", ImageAccessFragmentSampled),
			NewImageResource("b", "b", ImageAccessColorWrite),
		},
	})
	rg.AddPass(Pass{
		Name: "first",
		Resources: []Resource{
			NewImageResource("a", "a", ImageAccessColorWrite),
		},
	})
	rg.MarkAttachmentInternal("a", vk.FormatB8g8r8a8Unorm, extent, Clear{})
	rg.MarkAttachmentInternal("b", vk.FormatB8g8r8a8Unorm, extent, Clear{})
	rg.BindAttachmentToSwapchain("swap", &fakeSwapchain{format: vk.FormatB8g8r8a8Unorm, extent: extent}, Clear{})

	require.NoError(t, rg.Build())

	position := map[string]int{}
	for i, p := range rg.Passes() {
		position[p.Pass.Name] = i
	}
	assert.Less(t, position["first"], position["second"])
	assert.Less(t, position["second"], position["final"])
}
