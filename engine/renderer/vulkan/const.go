package vulkan

/**
 * @brief Max number of primary command buffers kept in the per-frame pool
 * @todo TODO: make configurable
 */
const VULKAN_MAX_COMMAND_BUFFER_COUNT int = 16

/**
 * @brief Max number of descriptor sets the per-frame descriptor pool serves
 * @todo TODO: make configurable
 */
const VULKAN_MAX_DESCRIPTOR_SET_COUNT uint32 = 1024

/**
 * @brief Max number of transient images alive in one frame
 */
const VULKAN_MAX_TRANSIENT_IMAGE_COUNT uint32 = 64
