// Package drawing implements the per-tool pointer state machines that turn
// pointer input into new or edited shapes.
package drawing

// Tool is the active drawing tool.
type Tool int

const (
	ToolBox Tool = iota
	ToolPolygon
	ToolMove
)

func (t Tool) String() string {
	switch t {
	case ToolBox:
		return "box"
	case ToolPolygon:
		return "polygon"
	case ToolMove:
		return "move"
	default:
		return "unknown"
	}
}

// ToolForKey maps the digit hotkeys to tools.
func ToolForKey(key string) (Tool, bool) {
	switch key {
	case "1":
		return ToolBox, true
	case "2":
		return ToolPolygon, true
	case "3":
		return ToolMove, true
	}
	return 0, false
}

// State is the interaction state of the active tool.
type State int

const (
	StateIdle State = iota
	// StateDrawing: box tool, pointer is down.
	StateDrawing
	// StateAccumulating: polygon tool, at least one vertex placed.
	StateAccumulating
	// StateDragging: move tool, translating a shape.
	StateDragging
	// StateResizing: move tool, dragging a box corner handle.
	StateResizing
)

func (s State) String() string {
	switch s {
	case StateDrawing:
		return "drawing"
	case StateAccumulating:
		return "accumulating"
	case StateDragging:
		return "dragging"
	case StateResizing:
		return "resizing"
	default:
		return "idle"
	}
}
