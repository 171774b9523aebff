package vulkan

import (
	"fmt"
	"runtime"

	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/volta/engine/config"
	"github.com/spaghettifunk/volta/engine/core"
	"github.com/spaghettifunk/volta/engine/platform"
	"github.com/spaghettifunk/volta/engine/renderer/rendergraph"
)

// VulkanBackend owns the instance, device, swapchain and the caches the
// render graph consumes.
type VulkanBackend struct {
	platform    *platform.Platform
	FrameNumber uint64
	context     *VulkanContext

	transients     *TransientImagePool
	renderpasses   *RenderpassCache
	framebuffers   *FramebufferCache
	samplers       *SamplerCache
	pipelines      *PipelineCache
	descriptors    *DescriptorAllocator
	scratchBuffers *ScratchBufferAllocator
	commandBuffers *CommandBufferPool

	namedPipelines map[string]*rendergraph.PipelineDesc

	debug bool
}

func New(p *platform.Platform, cfg *config.RendererConfig) *VulkanBackend {
	return &VulkanBackend{
		platform:    p,
		FrameNumber: 0,
		context: &VulkanContext{
			FramebufferWidth:  cfg.StartWidth,
			FramebufferHeight: cfg.StartHeight,
			Allocator:         nil,
		},
		namedPipelines: make(map[string]*rendergraph.PipelineDesc),
		debug:          cfg.EnableValidation,
	}
}

func (vb *VulkanBackend) Initialize(appName string) error {
	procAddr := glfw.GetVulkanGetInstanceProcAddress()
	if procAddr == nil {
		core.LogFatal("GetInstanceProcAddress is nil")
		return fmt.Errorf("GetInstanceProcAddress is nil")
	}
	vk.SetGetInstanceProcAddr(procAddr)

	if err := vk.Init(); err != nil {
		core.LogFatal("failed to initialize vk: %s", err)
		return err
	}

	// TODO: custom allocator.
	vb.context.Allocator = nil

	// Setup Vulkan instance.
	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 0, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   VulkanSafeString(appName),
		PEngineName:        VulkanSafeString("Volta"),
	}

	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	// Obtain a list of required extensions
	requiredExtensions := []string{"VK_KHR_surface"}
	requiredExtensions = append(requiredExtensions, vb.platform.RequiredVulkanExtensions()...)
	if runtime.GOOS == "darwin" {
		requiredExtensions = append(requiredExtensions,
			"VK_KHR_portability_enumeration",
			"VK_KHR_get_physical_device_properties2",
		)
		createInfo.Flags |= 1
	}
	if vb.debug {
		requiredExtensions = append(requiredExtensions, vk.ExtDebugReportExtensionName)
	}

	createInfo.EnabledExtensionCount = uint32(len(requiredExtensions))
	createInfo.PpEnabledExtensionNames = VulkanSafeStrings(requiredExtensions)

	// Validation layers should only be enabled on non-release builds.
	if vb.debug {
		core.LogInfo("Validation layers enabled. Enumerating...")
		requiredLayers := []string{"VK_LAYER_KHRONOS_validation"}

		var availableLayerCount uint32
		if res := vk.EnumerateInstanceLayerProperties(&availableLayerCount, nil); !VulkanResultIsSuccess(res) {
			return fmt.Errorf("vkEnumerateInstanceLayerProperties failed with %s", VulkanResultString(res))
		}
		availableLayers := make([]vk.LayerProperties, availableLayerCount)
		if res := vk.EnumerateInstanceLayerProperties(&availableLayerCount, availableLayers); !VulkanResultIsSuccess(res) {
			return fmt.Errorf("vkEnumerateInstanceLayerProperties failed with %s", VulkanResultString(res))
		}

		for _, required := range requiredLayers {
			found := false
			for i := range availableLayers {
				availableLayers[i].Deref()
				name := string(availableLayers[i].LayerName[:FindFirstZeroInByteArray(availableLayers[i].LayerName[:])])
				if name == required {
					found = true
					break
				}
			}
			if !found {
				return fmt.Errorf("required validation layer is missing: %s", required)
			}
		}

		createInfo.EnabledLayerCount = uint32(len(requiredLayers))
		createInfo.PpEnabledLayerNames = VulkanSafeStrings(requiredLayers)
	}

	if res := vk.CreateInstance(&createInfo, vb.context.Allocator, &vb.context.Instance); !VulkanResultIsSuccess(res) {
		return fmt.Errorf("vkCreateInstance failed with %s", VulkanResultString(res))
	}
	if err := vk.InitInstance(vb.context.Instance); err != nil {
		return err
	}
	core.LogInfo("Vulkan instance created.")

	surface, err := vb.platform.CreateVulkanSurface(vb.context.Instance)
	if err != nil {
		return err
	}
	vb.context.Surface = surface

	if err := DeviceCreate(vb.context); err != nil {
		return err
	}

	swapchain, err := SwapchainCreate(vb.context, vb.context.FramebufferWidth, vb.context.FramebufferHeight)
	if err != nil {
		return err
	}
	vb.context.Swapchain = swapchain

	if err := vb.createSyncObjects(); err != nil {
		return err
	}

	vb.transients = NewTransientImagePool(vb.context)
	vb.renderpasses = NewRenderpassCache(vb.context)
	vb.framebuffers = NewFramebufferCache(vb.context)
	vb.samplers = NewSamplerCache(vb.context)
	vb.pipelines = NewPipelineCache(vb.context)
	vb.scratchBuffers = NewScratchBufferAllocator(vb.context)
	vb.commandBuffers = NewCommandBufferPool(vb.context, vb.context.Device.GraphicsCommandPool)

	descriptors, err := NewDescriptorAllocator(vb.context)
	if err != nil {
		return err
	}
	vb.descriptors = descriptors

	core.LogInfo("Vulkan backend initialized.")
	return nil
}

func (vb *VulkanBackend) createSyncObjects() error {
	count := int(vb.context.Swapchain.MaxFramesInFlight)
	vb.context.ImageAvailableSemaphores = make([]vk.Semaphore, count)
	vb.context.QueueCompleteSemaphores = make([]vk.Semaphore, count)
	vb.context.InFlightFences = make([]*VulkanFence, count)

	for i := 0; i < count; i++ {
		semaphoreCreateInfo := vk.SemaphoreCreateInfo{
			SType: vk.StructureTypeSemaphoreCreateInfo,
		}
		if res := vk.CreateSemaphore(vb.context.Device.LogicalDevice, &semaphoreCreateInfo, vb.context.Allocator, &vb.context.ImageAvailableSemaphores[i]); !VulkanResultIsSuccess(res) {
			return fmt.Errorf("vkCreateSemaphore failed with %s", VulkanResultString(res))
		}
		if res := vk.CreateSemaphore(vb.context.Device.LogicalDevice, &semaphoreCreateInfo, vb.context.Allocator, &vb.context.QueueCompleteSemaphores[i]); !VulkanResultIsSuccess(res) {
			return fmt.Errorf("vkCreateSemaphore failed with %s", VulkanResultString(res))
		}
		// The fence is created signalled so the first frame does not wait.
		fence, err := NewFence(vb.context, true)
		if err != nil {
			return err
		}
		vb.context.InFlightFences[i] = fence
	}
	return nil
}

// Swapchain exposes the swapchain for attachment binding.
func (vb *VulkanBackend) Swapchain() *VulkanSwapchain {
	return vb.context.Swapchain
}

// RegisterPipeline registers a named pipeline description resolvable
// from pass callbacks.
func (vb *VulkanBackend) RegisterPipeline(desc *rendergraph.PipelineDesc) {
	vb.namedPipelines[desc.Name] = desc
}

// NewFrame bundles the collaborators for one graph execution.
func (vb *VulkanBackend) NewFrame() *rendergraph.Frame {
	return &rendergraph.Frame{
		Transients:     vb.transients,
		Renderpasses:   vb.renderpasses,
		Framebuffers:   vb.framebuffers,
		Samplers:       vb.samplers,
		Pipelines:      vb.pipelines,
		Descriptors:    vb.descriptors,
		Buffers:        vb.scratchBuffers,
		CommandBuffers: vb.commandBuffers,
		NamedPipelines: vb.namedPipelines,
	}
}

// BeginFrame waits for the in-flight fence and acquires the next
// swapchain image.
func (vb *VulkanBackend) BeginFrame() (uint32, error) {
	frame := vb.context.CurrentFrame
	if !vb.context.InFlightFences[frame].FenceWait(vb.context, ^uint64(0)) {
		return 0, fmt.Errorf("in-flight fence wait failed")
	}

	imageIndex, err := vb.context.Swapchain.SwapchainAcquireNextImageIndex(
		vb.context, ^uint64(0), vb.context.ImageAvailableSemaphores[frame], vk.NullFence)
	if err != nil {
		return 0, err
	}
	vb.context.ImageIndex = imageIndex

	// The previous frame that used these scratch resources is done.
	vb.scratchBuffers.Reset()
	vb.descriptors.ResetPool()
	vb.transients.ReleaseAll()
	return imageIndex, nil
}

// EndFrame submits the recorded command buffer and presents.
func (vb *VulkanBackend) EndFrame(rec rendergraph.CommandRecorder) error {
	frame := vb.context.CurrentFrame
	cb, ok := rec.(*VulkanCommandBuffer)
	if !ok {
		return fmt.Errorf("recorder was not produced by this backend")
	}

	if err := vb.context.InFlightFences[frame].FenceReset(vb.context); err != nil {
		return err
	}

	submitInfo := vk.SubmitInfo{
		SType:                vk.StructureTypeSubmitInfo,
		CommandBufferCount:   1,
		PCommandBuffers:      []vk.CommandBuffer{cb.Handle},
		WaitSemaphoreCount:   1,
		PWaitSemaphores:      []vk.Semaphore{vb.context.ImageAvailableSemaphores[frame]},
		SignalSemaphoreCount: 1,
		PSignalSemaphores:    []vk.Semaphore{vb.context.QueueCompleteSemaphores[frame]},
		PWaitDstStageMask:    []vk.PipelineStageFlags{vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)},
	}

	var err error
	lockPool.SafeCall(QueueManagement, func() error {
		if res := vk.QueueSubmit(vb.context.Device.GraphicsQueue, 1, []vk.SubmitInfo{submitInfo}, vb.context.InFlightFences[frame].Handle); !VulkanResultIsSuccess(res) {
			err = fmt.Errorf("vkQueueSubmit failed with %s", VulkanResultString(res))
		}
		return err
	})
	if err != nil {
		return err
	}
	cb.UpdateSubmitted()
	vb.commandBuffers.Release(cb)

	vb.FrameNumber++
	return vb.context.Swapchain.SwapchainPresent(
		vb.context, vb.context.Device.PresentQueue,
		vb.context.QueueCompleteSemaphores[frame], vb.context.ImageIndex)
}

func (vb *VulkanBackend) Resized(width, height uint32) error {
	vb.context.FramebufferWidth = width
	vb.context.FramebufferHeight = height
	swapchain, err := vb.context.Swapchain.SwapchainRecreate(vb.context, width, height)
	if err != nil {
		return err
	}
	vb.context.Swapchain = swapchain
	// Old swapchain views are gone; cached framebuffers hold them.
	vb.framebuffers.Invalidate()
	return nil
}

func (vb *VulkanBackend) Shutdown() error {
	vk.DeviceWaitIdle(vb.context.Device.LogicalDevice)

	vb.commandBuffers.Destroy()
	vb.descriptors.Destroy()
	vb.scratchBuffers.Reset()
	vb.pipelines.Destroy()
	vb.samplers.Destroy()
	vb.framebuffers.Destroy()
	vb.renderpasses.Destroy()
	vb.transients.Destroy()

	for i := range vb.context.ImageAvailableSemaphores {
		vk.DestroySemaphore(vb.context.Device.LogicalDevice, vb.context.ImageAvailableSemaphores[i], vb.context.Allocator)
		vk.DestroySemaphore(vb.context.Device.LogicalDevice, vb.context.QueueCompleteSemaphores[i], vb.context.Allocator)
		vb.context.InFlightFences[i].FenceDestroy(vb.context)
	}

	vb.context.Swapchain.SwapchainDestroy(vb.context)
	DeviceDestroy(vb.context)
	vk.DestroySurface(vb.context.Instance, vb.context.Surface, vb.context.Allocator)
	vk.DestroyInstance(vb.context.Instance, vb.context.Allocator)

	core.LogInfo("Vulkan backend shut down.")
	return nil
}
