package platform

import (
	"runtime"

	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/volta/engine/core"
)

func init() {
	// GLFW event handling must run on the main OS thread
	runtime.LockOSThread()
}

type Platform struct {
	Window *glfw.Window
}

func New() *Platform {
	return &Platform{
		Window: nil,
	}
}

func (p *Platform) Startup(applicationName string, x, y, width, height uint32) error {
	if err := glfw.Init(); err != nil {
		core.LogFatal("failed to initialize glfw: %s", err)
		return err
	}

	glfw.WindowHint(glfw.Visible, glfw.False)
	glfw.WindowHint(glfw.Resizable, glfw.True)
	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI) // Required for Vulkan.

	window, err := glfw.CreateWindow(int(width), int(height), applicationName, nil, nil)
	if err != nil {
		core.LogFatal("failed to create window: %s", err)
		return err
	}
	p.Window = window

	p.Window.SetPos(int(x), int(y))
	p.Window.Show()

	return nil
}

func (p *Platform) Shutdown() error {
	glfw.Terminate()
	return nil
}

func (p *Platform) PumpMessages() {
	glfw.PollEvents()
}

func (p *Platform) ShouldClose() bool {
	return p.Window.ShouldClose()
}

// RequiredVulkanExtensions returns the instance extensions GLFW needs
// to create a surface for the current window system.
func (p *Platform) RequiredVulkanExtensions() []string {
	return p.Window.GetRequiredInstanceExtensions()
}

// CreateVulkanSurface creates a window surface for the given instance.
func (p *Platform) CreateVulkanSurface(instance vk.Instance) (vk.Surface, error) {
	surfacePtr, err := p.Window.CreateWindowSurface(instance, nil)
	if err != nil {
		core.LogError("Vulkan surface creation failed: %s", err)
		return vk.NullSurface, err
	}
	return vk.SurfaceFromPointer(surfacePtr), nil
}

// FramebufferSize returns the current framebuffer size in pixels.
func (p *Platform) FramebufferSize() (uint32, uint32) {
	w, h := p.Window.GetFramebufferSize()
	return uint32(w), uint32(h)
}
