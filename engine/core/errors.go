package core

import (
	"errors"
)

var (
	ErrSwapchainBooting = errors.New("swapchain resized or recreated, booting")
	ErrDeviceLost       = errors.New("logical device lost")
	ErrUnknown          = errors.New("unknown")
)
