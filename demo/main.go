package main

import (
	"encoding/binary"
	"flag"
	"math"
	"runtime"

	"github.com/verdant3d/verdant/core"
	"github.com/verdant3d/verdant/gpu"
	"github.com/verdant3d/verdant/shaders"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/cogentcore/webgpu/wgpuglfw"
	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/go-gl/mathgl/mgl32"
)

const (
	depthSize = 512
	// Index counts per LOD tier: full blade, simplified blade, billboard.
	tier0Indices = 45
	tier1Indices = 21
	tier2Indices = 6
)

func init() {
	runtime.LockOSThread()
}

// syntheticDepthView builds a fixed R32Float depth texture standing in
// for a real depth prepass: open sky everywhere, with a near occluder
// band covering the left half of the screen.
func syntheticDepthView(device *wgpu.Device) *wgpu.TextureView {
	tex, err := device.CreateTexture(&wgpu.TextureDescriptor{
		Label:         "Demo Depth",
		Size:          wgpu.Extent3D{Width: depthSize, Height: depthSize, DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     wgpu.TextureDimension2D,
		Format:        wgpu.TextureFormatR32Float,
		Usage:         wgpu.TextureUsageTextureBinding | wgpu.TextureUsageCopyDst,
	})
	if err != nil {
		panic(err)
	}

	data := make([]byte, depthSize*depthSize*4)
	far := math.Float32bits(1.0)
	wall := math.Float32bits(0.998) // roughly 50 eye units out
	for y := 0; y < depthSize; y++ {
		for x := 0; x < depthSize; x++ {
			v := far
			if x < depthSize/2 {
				v = wall
			}
			binary.LittleEndian.PutUint32(data[(y*depthSize+x)*4:], v)
		}
	}
	device.GetQueue().WriteTexture(tex.AsImageCopy(), data, &wgpu.TextureDataLayout{
		BytesPerRow:  depthSize * 4,
		RowsPerImage: depthSize,
	}, &wgpu.Extent3D{Width: depthSize, Height: depthSize, DepthOrArrayLayers: 1})

	view, err := tex.CreateView(nil)
	if err != nil {
		panic(err)
	}
	return view
}

func mustModule(device *wgpu.Device, label, code string) *wgpu.ShaderModule {
	mod, err := device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          label,
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: code},
	})
	if err != nil {
		panic(err)
	}
	return mod
}

func main() {
	debug := flag.Bool("debug", false, "Read back and print per-tier survivor counts")
	flag.Parse()

	log := core.NewDefaultLogger("demo", *debug)

	if err := glfw.Init(); err != nil {
		panic(err)
	}
	defer glfw.Terminate()

	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
	window, err := glfw.CreateWindow(1280, 720, "Verdant Grass Culling", nil, nil)
	if err != nil {
		panic(err)
	}
	defer window.Destroy()

	instance := wgpu.CreateInstance(nil)
	surface := instance.CreateSurface(wgpuglfw.GetSurfaceDescriptor(window))

	adapter, err := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		CompatibleSurface: surface,
		PowerPreference:   wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		panic(err)
	}
	device, err := adapter.RequestDevice(nil)
	if err != nil {
		panic(err)
	}
	queue := device.GetQueue()

	width, height := window.GetFramebufferSize()
	caps := surface.GetCapabilities(adapter)
	config := &wgpu.SurfaceConfiguration{
		Usage:       wgpu.TextureUsageRenderAttachment,
		Format:      caps.Formats[0],
		Width:       uint32(width),
		Height:      uint32(height),
		PresentMode: wgpu.PresentModeFifo,
		AlphaMode:   caps.AlphaModes[0],
	}
	surface.Configure(adapter, device, config)

	window.SetKeyCallback(func(w *glfw.Window, key glfw.Key, scancode int, action glfw.Action, mods glfw.ModifierKey) {
		if key == glfw.KeyEscape && action == glfw.Press {
			w.SetShouldClose(true)
		}
	})

	// Field setup.
	genCfg := core.DefaultGenerateConfig()
	mask := core.NewDensityMask(256, 256, genCfg.Origin, genCfg.Extent)
	pop := core.Generate(genCfg, nil, mask.Snapshot())
	cullCfg := core.DefaultCullConfig()
	log.Infof("generated %d instances over %vx%v", len(pop.Instances), genCfg.Extent.X(), genCfg.Extent.Y())

	// GPU path.
	mgr := gpu.NewGrassBufferManager(device, log)
	defer mgr.Release()

	mgr.SetupDepthPyramid(depthSize, depthSize, mustModule(device, "Depth Pyramid CS", shaders.DepthPyramidWGSL))
	if err := mgr.CreateCullPipelines(
		mustModule(device, "Grass Cull CS", shaders.GrassCullWGSL),
		mustModule(device, "Grass Args CS", shaders.ArgsUpdateWGSL),
	); err != nil {
		panic(err)
	}

	mgr.UploadPopulation(pop, []uint32{tier0Indices, tier1Indices, tier2Indices})
	mgr.UploadMask(mask.Snapshot())
	if err := mgr.CreateBindGroups(); err != nil {
		panic(err)
	}

	depthView := syntheticDepthView(device)
	defer depthView.Release()

	cam := core.NewCamera()
	cam.Aspect = float32(width) / float32(height)
	maskOrigin, maskExtent := mask.Snapshot().Bounds()

	lastPrint := glfw.GetTime()
	for !window.ShouldClose() {
		glfw.PollEvents()

		// Slow orbit around the field center.
		t := float32(glfw.GetTime() * 0.2)
		orbit := float32(60)
		cam.Position = mgl32.Vec3{
			orbit * float32(math.Sin(float64(t))),
			-orbit * float32(math.Cos(float64(t))),
			18,
		}
		cam.Yaw = t + math.Pi
		cam.Pitch = -float32(math.Atan2(18, float64(orbit)))

		mgr.UpdateParams(cam, cullCfg, pop, maskOrigin, maskExtent, true)
		mgr.ResetCounters()

		frame, err := surface.GetCurrentTexture()
		if err != nil {
			log.Errorf("surface texture: %v", err)
			continue
		}
		frameView, err := frame.CreateView(nil)
		if err != nil {
			frame.Release()
			continue
		}

		encoder, err := device.CreateCommandEncoder(nil)
		if err != nil {
			panic(err)
		}

		mgr.DispatchDepthPyramid(encoder, depthView, cam.ReversedDepth)
		mgr.DispatchCull(encoder, uint32(len(pop.Instances)))
		mgr.DispatchArgsUpdate(encoder)
		if *debug {
			mgr.EncodeDebugReadback(encoder)
		}

		// A draw stage would consume ArgsBuf via DrawIndexedIndirect
		// here; the demo only clears so the compute path stays the
		// focus.
		rPass := encoder.BeginRenderPass(&wgpu.RenderPassDescriptor{
			ColorAttachments: []wgpu.RenderPassColorAttachment{{
				View:       frameView,
				LoadOp:     wgpu.LoadOpClear,
				StoreOp:    wgpu.StoreOpStore,
				ClearValue: wgpu.Color{R: 0.18, G: 0.30, B: 0.12, A: 1},
			}},
		})
		rPass.End()

		cmd, err := encoder.Finish(nil)
		if err != nil {
			panic(err)
		}
		queue.Submit(cmd)
		surface.Present()
		frameView.Release()
		frame.Release()

		if *debug && glfw.GetTime()-lastPrint > 1.0 {
			if counts, ok := mgr.DebugCounts(); ok {
				total := counts[0] + counts[1] + counts[2]
				log.Infof("survivors: tier0=%d tier1=%d tier2=%d total=%d (%.1f%%)",
					counts[0], counts[1], counts[2], total,
					100*float64(total)/float64(len(pop.Instances)))
			}
			lastPrint = glfw.GetTime()
		}
	}
}
