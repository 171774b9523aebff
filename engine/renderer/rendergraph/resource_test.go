package rendergraph

import (
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
)

func TestImageAccessClassification(t *testing.T) {
	tests := []struct {
		name         string
		access       ImageAccess
		read         bool
		write        bool
		isAttachment bool
	}{
		{"color read", ImageAccessColorRead, true, false, true},
		{"color write", ImageAccessColorWrite, false, true, true},
		{"color rw", ImageAccessColorRW, true, true, true},
		{"depth stencil read", ImageAccessDepthStencilRead, true, false, true},
		{"depth stencil rw", ImageAccessDepthStencilRW, true, true, true},
		{"fragment read", ImageAccessFragmentRead, true, false, false},
		{"fragment sampled", ImageAccessFragmentSampled, true, false, false},
		{"fragment write", ImageAccessFragmentWrite, false, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewImageResource("n", "n", tt.access)
			assert.Equal(t, tt.read, r.IsRead())
			assert.Equal(t, tt.write, r.IsWrite())
			assert.Equal(t, tt.isAttachment, r.IsFramebufferAttachment())
		})
	}
}

func TestImageAccessLowering(t *testing.T) {
	tests := []struct {
		name   string
		access ImageAccess
		want   Use
	}{
		{
			"color write",
			ImageAccessColorWrite,
			Use{
				Stages: vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
				Access: vk.AccessFlags(vk.AccessColorAttachmentWriteBit),
				Layout: vk.ImageLayoutColorAttachmentOptimal,
			},
		},
		{
			"color rw",
			ImageAccessColorRW,
			Use{
				Stages: vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
				Access: vk.AccessFlags(vk.AccessColorAttachmentWriteBit) | vk.AccessFlags(vk.AccessColorAttachmentReadBit),
				Layout: vk.ImageLayoutColorAttachmentOptimal,
			},
		},
		{
			"depth stencil rw",
			ImageAccessDepthStencilRW,
			Use{
				Stages: vk.PipelineStageFlags(vk.PipelineStageEarlyFragmentTestsBit) | vk.PipelineStageFlags(vk.PipelineStageLateFragmentTestsBit),
				Access: vk.AccessFlags(vk.AccessDepthStencilAttachmentReadBit) | vk.AccessFlags(vk.AccessDepthStencilAttachmentWriteBit),
				Layout: vk.ImageLayoutDepthStencilAttachmentOptimal,
			},
		},
		{
			"fragment sampled",
			ImageAccessFragmentSampled,
			Use{
				Stages: vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit),
				Access: vk.AccessFlags(vk.AccessShaderReadBit),
				Layout: vk.ImageLayoutShaderReadOnlyOptimal,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ToUse(NewImageResource("n", "n", tt.access))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBufferUsesCarryUndefinedLayout(t *testing.T) {
	accesses := []BufferAccess{
		BufferAccessVertexRead, BufferAccessIndexRead, BufferAccessUniformRead,
		BufferAccessShaderRead, BufferAccessShaderWrite, BufferAccessShaderRW,
		BufferAccessTransferRead, BufferAccessTransferWrite,
	}
	for _, access := range accesses {
		u := ToUse(NewBufferResource("b", "b", access))
		assert.Equal(t, vk.ImageLayoutUndefined, u.Layout)
		assert.False(t, u.IsFramebufferAttachment())
		assert.NotZero(t, u.Stages)
	}
}

func TestUseWriteClassification(t *testing.T) {
	write := ToUse(NewImageResource("n", "n", ImageAccessColorWrite))
	assert.True(t, write.IsWrite())
	assert.False(t, write.IsRead())

	read := ToUse(NewImageResource("n", "n", ImageAccessFragmentSampled))
	assert.False(t, read.IsWrite())
	assert.True(t, read.IsRead())
}

func TestAspectForFormat(t *testing.T) {
	assert.Equal(t, vk.ImageAspectFlags(vk.ImageAspectDepthBit), aspectForFormat(vk.FormatD32Sfloat))
	assert.Equal(t,
		vk.ImageAspectFlags(vk.ImageAspectDepthBit)|vk.ImageAspectFlags(vk.ImageAspectStencilBit),
		aspectForFormat(vk.FormatD24UnormS8Uint))
	assert.Equal(t, vk.ImageAspectFlags(vk.ImageAspectColorBit), aspectForFormat(vk.FormatB8g8r8a8Unorm))
}
