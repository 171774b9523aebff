package vulkan

import (
	"fmt"
	"sync"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/volta/engine/core"
	"github.com/spaghettifunk/volta/engine/renderer/rendergraph"
)

// TransientImagePool serves images whose lifetime is one graph
// execution. Released images are pooled by their creation parameters
// and handed out again the next frame.
type TransientImagePool struct {
	context *VulkanContext

	mu     sync.Mutex
	free   map[string][]*VulkanImage
	inUse  map[vk.ImageView]*transientEntry
	reused uint64
}

type transientEntry struct {
	image *VulkanImage
	key   string
}

func NewTransientImagePool(context *VulkanContext) *TransientImagePool {
	return &TransientImagePool{
		context: context,
		free:    make(map[string][]*VulkanImage),
		inUse:   make(map[vk.ImageView]*transientEntry),
	}
}

func poolKey(desc *rendergraph.TransientImageDescription) string {
	return fmt.Sprintf("%d|%dx%d|%d|%d|%d", desc.Format, desc.Extent.Width, desc.Extent.Height, desc.Usage, desc.Aspect, desc.Samples)
}

func (p *TransientImagePool) Acquire(desc *rendergraph.TransientImageDescription) (vk.ImageView, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := poolKey(desc)
	if pooled := p.free[key]; len(pooled) > 0 {
		image := pooled[len(pooled)-1]
		p.free[key] = pooled[:len(pooled)-1]
		p.inUse[image.View] = &transientEntry{image: image, key: key}
		p.reused++
		return image.View, nil
	}

	if uint32(len(p.inUse)) >= VULKAN_MAX_TRANSIENT_IMAGE_COUNT {
		return vk.NullImageView, fmt.Errorf("transient image budget exhausted (%d images in flight)", len(p.inUse))
	}

	image, err := ImageCreate(
		p.context,
		desc.Extent.Width,
		desc.Extent.Height,
		desc.Format,
		vk.ImageTilingOptimal,
		desc.Usage,
		vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit),
		desc.Aspect,
	)
	if err != nil {
		return vk.NullImageView, err
	}
	core.LogDebug("transient image %s created (%dx%d)", desc.Name, desc.Extent.Width, desc.Extent.Height)
	p.inUse[image.View] = &transientEntry{image: image, key: key}
	return image.View, nil
}

func (p *TransientImagePool) Release(view vk.ImageView) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.inUse[view]
	if !ok {
		return
	}
	delete(p.inUse, view)
	p.free[entry.key] = append(p.free[entry.key], entry.image)
}

// ReleaseAll recycles every image of the finished frame. Call after
// the frame's fence has signalled.
func (p *TransientImagePool) ReleaseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for view, entry := range p.inUse {
		p.free[entry.key] = append(p.free[entry.key], entry.image)
		delete(p.inUse, view)
	}
}

// Destroy tears down every pooled image. In-use images are the caller's
// bug; they are destroyed as well.
func (p *TransientImagePool) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, pooled := range p.free {
		for _, image := range pooled {
			image.ImageDestroy(p.context)
		}
	}
	p.free = make(map[string][]*VulkanImage)
	for _, entry := range p.inUse {
		entry.image.ImageDestroy(p.context)
	}
	p.inUse = make(map[vk.ImageView]*transientEntry)
}
