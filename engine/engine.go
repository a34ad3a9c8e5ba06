package engine

import (
	"log"
	"time"

	"github.com/Carmen-Shannon/oxy-skin/engine/loader"
	"github.com/Carmen-Shannon/oxy-skin/engine/profiler"
	"github.com/Carmen-Shannon/oxy-skin/engine/renderer"
	"github.com/Carmen-Shannon/oxy-skin/engine/renderer/skin"
	"github.com/Carmen-Shannon/oxy-skin/engine/scene"
	"github.com/Carmen-Shannon/oxy-skin/engine/window"
)

// engine implements the Engine interface.
// Drives the per-frame skinning pipeline and, when windowed, the main loop.
type engine struct {
	window   window.Window
	renderer renderer.Renderer

	scn       scene.Scene
	skinner   skin.Skinner
	bindposes loader.Registry

	profiler         *profiler.Profiler
	profilingEnabled bool

	frameCallback func(deltaTime float32)

	renderFrameLimit time.Duration // minimum frame duration; 0 = uncapped
}

// Engine is the main entry point. It wires the scene, the inverse-bindpose
// registry, the skinner, and the renderer together and runs them in the
// per-frame order the skinning pipeline requires.
type Engine interface {
	// Window returns the underlying window, or nil when headless.
	//
	// Returns:
	//   - window.Window: the window instance
	Window() window.Window

	// Renderer returns the renderer, or nil when headless.
	//
	// Returns:
	//   - renderer.Renderer: the renderer instance
	Renderer() renderer.Renderer

	// Scene returns the scene.
	//
	// Returns:
	//   - scene.Scene: the scene instance
	Scene() scene.Scene

	// Skinner returns the skinner.
	//
	// Returns:
	//   - skin.Skinner: the skinner instance
	Skinner() skin.Skinner

	// Bindposes returns the inverse-bindpose registry.
	//
	// Returns:
	//   - loader.Registry: the registry instance
	Bindposes() loader.Registry

	// RunFrame executes one frame of the skinning pipeline in order:
	// joint world-transform propagation, extraction (which swaps the
	// double-buffered roles), batching exemptions, then GPU upload when a
	// renderer is attached. Callable headless for tooling and tests.
	//
	// Parameters:
	//   - deltaTime: seconds since the previous frame
	//
	// Returns:
	//   - error: error if the GPU upload fails
	RunFrame(deltaTime float32) error

	// SetFrameCallback sets a function invoked at the start of every frame,
	// before joint propagation. Use it to animate joint transforms.
	//
	// Parameters:
	//   - callback: function receiving seconds since the previous frame (or nil to disable)
	SetFrameCallback(callback func(deltaTime float32))

	// Run starts the windowed main loop (blocks until the window closes).
	// Panics if no window is attached.
	Run()

	// Quit closes the window, ending the main loop.
	// Safe to call when headless; it is a no-op then.
	Quit()

	// EnableProfiler enables performance profiling output to the log.
	EnableProfiler()

	// DisableProfiler disables performance profiling output.
	DisableProfiler()

	// SetRenderFrameLimit sets an optional frame rate cap in frames per second.
	// Pass 0 to uncap the loop (default).
	//
	// Parameters:
	//   - fps: maximum frames per second (0 = uncapped)
	SetRenderFrameLimit(fps float64)
}

var _ Engine = &engine{}

// NewEngine creates a new Engine instance with the provided options.
// Components not supplied via options get working defaults: a fresh scene,
// registry, and skinner. When a renderer is attached the default skinner
// takes its limits so capability detection sees the real hardware.
//
// Parameters:
//   - options: functional options for engine configuration
//
// Returns:
//   - Engine: the newly created engine
func NewEngine(options ...EngineBuilderOption) Engine {
	e := &engine{
		profiler: profiler.NewProfiler(),
	}

	for _, opt := range options {
		opt(e)
	}

	if e.scn == nil {
		e.scn = scene.NewScene("main")
	}
	if e.bindposes == nil {
		e.bindposes = loader.NewRegistry()
	}
	if e.skinner == nil {
		if e.renderer != nil {
			e.skinner = skin.NewSkinner(skin.WithLimits(e.renderer.Limits()))
		} else {
			e.skinner = skin.NewSkinner()
		}
	}

	return e
}

func (e *engine) Window() window.Window {
	return e.window
}

func (e *engine) Renderer() renderer.Renderer {
	return e.renderer
}

func (e *engine) Scene() scene.Scene {
	return e.scn
}

func (e *engine) Skinner() skin.Skinner {
	return e.skinner
}

func (e *engine) Bindposes() loader.Registry {
	return e.bindposes
}

func (e *engine) SetFrameCallback(callback func(deltaTime float32)) {
	e.frameCallback = callback
}

func (e *engine) RunFrame(deltaTime float32) error {
	if e.frameCallback != nil {
		e.frameCallback(deltaTime)
	}

	// Propagation must finish before extraction reads joint worlds, and the
	// extraction's role swap must precede every other read of current/prev
	// state this frame.
	e.scn.UpdateWorldTransforms()
	e.skinner.Extract(e.scn, e.bindposes)
	e.skinner.MarkBatchingExemptions(e.scn)

	if e.renderer != nil {
		return e.skinner.Prepare(e.renderer.Device(), e.renderer.Queue())
	}
	return nil
}

func (e *engine) Run() {
	if e.window == nil {
		panic("engine: Run requires a window; use RunFrame for headless operation")
	}

	lastFrame := time.Now()
	e.window.SetUpdateCallback(func() {
		now := time.Now()
		dt := float32(now.Sub(lastFrame).Seconds())
		lastFrame = now

		if err := e.RunFrame(dt); err != nil {
			log.Printf("frame skin upload failed: %v", err)
		}

		if e.profilingEnabled && e.profiler != nil {
			buf := e.skinner.CurrentBuffer()
			e.profiler.ObserveSkinLoad(buf.Len(), buf.ByteLen())
			e.profiler.Tick()
		}

		// Frame rate limiting
		if e.renderFrameLimit > 0 {
			if remaining := e.renderFrameLimit - time.Since(now); remaining > 0 {
				time.Sleep(remaining)
			}
		}
	})

	e.window.ProcessMessages()
}

func (e *engine) Quit() {
	if e.window == nil {
		return
	}
	if err := e.window.Close(); err != nil {
		log.Printf("failed to close window: %v", err)
	}
}

// EnableProfiler enables performance profiling output to the log.
func (e *engine) EnableProfiler() {
	e.profilingEnabled = true
}

// DisableProfiler disables performance profiling output.
func (e *engine) DisableProfiler() {
	e.profilingEnabled = false
}

// SetRenderFrameLimit sets an optional frame rate cap.
// Pass 0 to uncap the loop.
func (e *engine) SetRenderFrameLimit(fps float64) {
	if fps <= 0 {
		e.renderFrameLimit = 0
		return
	}
	e.renderFrameLimit = time.Second / time.Duration(fps)
}
