package rendergraph

// QueueFamily selects the queue family a pass records on. This core
// records the whole graph on a single family; mixing families in one
// graph is rejected at build.
type QueueFamily uint8

const (
	QueueFamilyGraphics QueueFamily = iota
	QueueFamilyCompute
	QueueFamilyTransfer
)

// PassExecuteFn is invoked during recording, inside the pass's subpass.
// Data captured by the closure must outlive Execute.
type PassExecuteFn func(*CommandBuffer) error

// Pass is a unit of GPU work declared with its resource accesses.
type Pass struct {
	Name           string
	Resources      []Resource
	Execute        PassExecuteFn
	AuxiliaryOrder int
	QueueFamily    QueueFamily
}

// PassInfo is the per-pass state derived at build time.
type PassInfo struct {
	Pass Pass

	Inputs        []Resource
	Outputs       []Resource
	GlobalInputs  []Resource
	GlobalOutputs []Resource

	RenderPassIndex int
	Subpass         int

	IsHeadPass bool
	IsTailPass bool
}

func containsUseName(rs []Resource, n Name) bool {
	for _, r := range rs {
		if r.UseName == n {
			return true
		}
	}
	return false
}

// intersectsByName reports whether any resource of a shares a UseName
// with a resource of b.
func intersectsByName(a, b []Resource) bool {
	for _, r := range a {
		if containsUseName(b, r.UseName) {
			return true
		}
	}
	return false
}
