package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/volta/engine/core"
)

type VulkanDevice struct {
	PhysicalDevice     vk.PhysicalDevice
	LogicalDevice      vk.Device
	SwapchainSupport   VulkanSwapchainSupportInfo
	GraphicsQueueIndex int32
	PresentQueueIndex  int32
	TransferQueueIndex int32

	GraphicsQueue vk.Queue
	PresentQueue  vk.Queue
	TransferQueue vk.Queue

	GraphicsCommandPool vk.CommandPool

	Properties vk.PhysicalDeviceProperties
	Features   vk.PhysicalDeviceFeatures
	Memory     vk.PhysicalDeviceMemoryProperties

	DepthFormat vk.Format
}

func DeviceCreate(context *VulkanContext) error {
	if err := selectPhysicalDevice(context); err != nil {
		return err
	}

	core.LogInfo("Creating logical device...")

	// NOTE: Do not create additional queues for shared indices.
	presentSharesGraphicsQueue := context.Device.GraphicsQueueIndex == context.Device.PresentQueueIndex
	transferSharesGraphicsQueue := context.Device.GraphicsQueueIndex == context.Device.TransferQueueIndex

	indices := []uint32{uint32(context.Device.GraphicsQueueIndex)}
	if !presentSharesGraphicsQueue {
		indices = append(indices, uint32(context.Device.PresentQueueIndex))
	}
	if !transferSharesGraphicsQueue {
		indices = append(indices, uint32(context.Device.TransferQueueIndex))
	}

	queueCreateInfos := make([]vk.DeviceQueueCreateInfo, len(indices))
	for i := range indices {
		queueCreateInfos[i] = vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: indices[i],
			QueueCount:       1,
			PQueuePriorities: []float32{1.0},
		}
	}

	deviceFeatures := vk.PhysicalDeviceFeatures{}
	deviceFeatures.SamplerAnisotropy = vk.True

	extensionNames := []string{vk.KhrSwapchainExtensionName}

	deviceCreateInfo := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueCreateInfos)),
		PQueueCreateInfos:       queueCreateInfos,
		PEnabledFeatures:        []vk.PhysicalDeviceFeatures{deviceFeatures},
		EnabledExtensionCount:   uint32(len(extensionNames)),
		PpEnabledExtensionNames: VulkanSafeStrings(extensionNames),
	}

	if res := vk.CreateDevice(
		context.Device.PhysicalDevice,
		&deviceCreateInfo,
		context.Allocator,
		&context.Device.LogicalDevice); !VulkanResultIsSuccess(res) {
		err := fmt.Errorf("vkCreateDevice failed with %s", VulkanResultString(res))
		core.LogError(err.Error())
		return err
	}
	core.LogInfo("Logical device created.")

	vk.GetDeviceQueue(context.Device.LogicalDevice, uint32(context.Device.GraphicsQueueIndex), 0, &context.Device.GraphicsQueue)
	vk.GetDeviceQueue(context.Device.LogicalDevice, uint32(context.Device.PresentQueueIndex), 0, &context.Device.PresentQueue)
	vk.GetDeviceQueue(context.Device.LogicalDevice, uint32(context.Device.TransferQueueIndex), 0, &context.Device.TransferQueue)
	core.LogInfo("Queues obtained.")

	// Create command pool for graphics queue.
	poolCreateInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: uint32(context.Device.GraphicsQueueIndex),
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}
	if res := vk.CreateCommandPool(
		context.Device.LogicalDevice,
		&poolCreateInfo,
		context.Allocator,
		&context.Device.GraphicsCommandPool); !VulkanResultIsSuccess(res) {
		err := fmt.Errorf("vkCreateCommandPool failed with %s", VulkanResultString(res))
		core.LogError(err.Error())
		return err
	}
	core.LogInfo("Graphics command pool created.")

	return nil
}

func DeviceDestroy(context *VulkanContext) {
	context.Device.GraphicsQueue = nil
	context.Device.PresentQueue = nil
	context.Device.TransferQueue = nil

	core.LogInfo("Destroying command pools...")
	vk.DestroyCommandPool(
		context.Device.LogicalDevice,
		context.Device.GraphicsCommandPool,
		context.Allocator)

	core.LogInfo("Destroying logical device...")
	if context.Device.LogicalDevice != nil {
		vk.DestroyDevice(context.Device.LogicalDevice, context.Allocator)
		context.Device.LogicalDevice = nil
	}

	// Physical devices are not destroyed.
	context.Device.PhysicalDevice = nil
	context.Device.SwapchainSupport = VulkanSwapchainSupportInfo{}
	context.Device.GraphicsQueueIndex = -1
	context.Device.PresentQueueIndex = -1
	context.Device.TransferQueueIndex = -1
}

func selectPhysicalDevice(context *VulkanContext) error {
	var physicalDeviceCount uint32 = 0
	if res := vk.EnumeratePhysicalDevices(context.Instance, &physicalDeviceCount, nil); !VulkanResultIsSuccess(res) {
		return fmt.Errorf("vkEnumeratePhysicalDevices failed with %s", VulkanResultString(res))
	}
	if physicalDeviceCount == 0 {
		return fmt.Errorf("no devices which support Vulkan were found")
	}

	physicalDevices := make([]vk.PhysicalDevice, physicalDeviceCount)
	if res := vk.EnumeratePhysicalDevices(context.Instance, &physicalDeviceCount, physicalDevices); !VulkanResultIsSuccess(res) {
		return fmt.Errorf("vkEnumeratePhysicalDevices failed with %s", VulkanResultString(res))
	}

	for _, pd := range physicalDevices {
		device := &VulkanDevice{
			PhysicalDevice:     pd,
			GraphicsQueueIndex: -1,
			PresentQueueIndex:  -1,
			TransferQueueIndex: -1,
		}
		vk.GetPhysicalDeviceProperties(pd, &device.Properties)
		device.Properties.Deref()
		vk.GetPhysicalDeviceFeatures(pd, &device.Features)
		vk.GetPhysicalDeviceMemoryProperties(pd, &device.Memory)

		var queueFamilyCount uint32
		vk.GetPhysicalDeviceQueueFamilyProperties(pd, &queueFamilyCount, nil)
		queueFamilies := make([]vk.QueueFamilyProperties, queueFamilyCount)
		vk.GetPhysicalDeviceQueueFamilyProperties(pd, &queueFamilyCount, queueFamilies)

		for i := uint32(0); i < queueFamilyCount; i++ {
			queueFamilies[i].Deref()
			flags := vk.QueueFlagBits(queueFamilies[i].QueueFlags)
			if device.GraphicsQueueIndex == -1 && flags&vk.QueueGraphicsBit != 0 {
				device.GraphicsQueueIndex = int32(i)
			}
			if flags&vk.QueueTransferBit != 0 {
				device.TransferQueueIndex = int32(i)
			}

			var supportsPresent vk.Bool32
			if res := vk.GetPhysicalDeviceSurfaceSupport(pd, i, context.Surface, &supportsPresent); res == vk.Success && supportsPresent == vk.True {
				if device.PresentQueueIndex == -1 {
					device.PresentQueueIndex = int32(i)
				}
			}
		}

		if device.GraphicsQueueIndex == -1 || device.PresentQueueIndex == -1 {
			continue
		}
		if device.TransferQueueIndex == -1 {
			device.TransferQueueIndex = device.GraphicsQueueIndex
		}

		if err := DeviceQuerySwapchainSupport(pd, context.Surface, &device.SwapchainSupport); err != nil {
			continue
		}
		if device.SwapchainSupport.FormatCount == 0 || device.SwapchainSupport.PresentModeCount == 0 {
			continue
		}

		core.LogInfo("Selected device: %s", string(device.Properties.DeviceName[:]))
		context.Device = device
		return nil
	}

	return fmt.Errorf("no physical devices which meet the requirements were found")
}

func DeviceQuerySwapchainSupport(physicalDevice vk.PhysicalDevice, surface vk.Surface, supportInfo *VulkanSwapchainSupportInfo) error {
	// Surface capabilities
	if res := vk.GetPhysicalDeviceSurfaceCapabilities(physicalDevice, surface, &supportInfo.Capabilities); !VulkanResultIsSuccess(res) {
		return fmt.Errorf("failed to get physical device surface capabilities: %s", VulkanResultString(res))
	}
	supportInfo.Capabilities.Deref()

	// Surface formats
	if res := vk.GetPhysicalDeviceSurfaceFormats(physicalDevice, surface, &supportInfo.FormatCount, nil); !VulkanResultIsSuccess(res) {
		return fmt.Errorf("failed to get physical device surface formats: %s", VulkanResultString(res))
	}
	if supportInfo.FormatCount != 0 {
		supportInfo.Formats = make([]vk.SurfaceFormat, supportInfo.FormatCount)
		if res := vk.GetPhysicalDeviceSurfaceFormats(physicalDevice, surface, &supportInfo.FormatCount, supportInfo.Formats); !VulkanResultIsSuccess(res) {
			return fmt.Errorf("failed to get physical device surface formats: %s", VulkanResultString(res))
		}
	}

	// Present modes
	if res := vk.GetPhysicalDeviceSurfacePresentModes(physicalDevice, surface, &supportInfo.PresentModeCount, nil); !VulkanResultIsSuccess(res) {
		return fmt.Errorf("failed to get physical device surface present modes: %s", VulkanResultString(res))
	}
	if supportInfo.PresentModeCount != 0 {
		supportInfo.PresentModes = make([]vk.PresentMode, supportInfo.PresentModeCount)
		if res := vk.GetPhysicalDeviceSurfacePresentModes(physicalDevice, surface, &supportInfo.PresentModeCount, supportInfo.PresentModes); !VulkanResultIsSuccess(res) {
			return fmt.Errorf("failed to get physical device surface present modes: %s", VulkanResultString(res))
		}
	}
	return nil
}

func DeviceDetectDepthFormat(device *VulkanDevice) bool {
	candidates := []vk.Format{
		vk.FormatD32Sfloat,
		vk.FormatD32SfloatS8Uint,
		vk.FormatD24UnormS8Uint,
	}
	flags := vk.FormatFeatureDepthStencilAttachmentBit
	for _, candidate := range candidates {
		var properties vk.FormatProperties
		vk.GetPhysicalDeviceFormatProperties(device.PhysicalDevice, candidate, &properties)
		properties.Deref()
		if (vk.FormatFeatureFlagBits(properties.LinearTilingFeatures) & flags) == flags {
			device.DepthFormat = candidate
			return true
		} else if (vk.FormatFeatureFlagBits(properties.OptimalTilingFeatures) & flags) == flags {
			device.DepthFormat = candidate
			return true
		}
	}
	return false
}
