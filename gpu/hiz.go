package gpu

import (
	"encoding/binary"
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
)

// SetupDepthPyramid (re)creates the pyramid texture chain for a depth
// source of the given dimensions. The pyramid is square: the largest
// power of two not exceeding the source, mipped down to 1x1.
func (m *GrassBufferManager) SetupDepthPyramid(srcWidth, srcHeight uint32, pyramidModule *wgpu.ShaderModule) {
	if m.HiZTexture != nil {
		m.HiZTexture.Release()
	}
	if m.HiZFullView != nil {
		m.HiZFullView.Release()
	}
	for _, v := range m.HiZViews {
		v.Release()
	}
	m.HiZViews = nil
	m.HiZBindGroups = nil

	maxDim := srcWidth
	if srcHeight > maxDim {
		maxDim = srcHeight
	}
	size := uint32(1)
	for size*2 <= maxDim {
		size *= 2
	}

	mips := 0
	for dim := size; dim > 0; dim >>= 1 {
		mips++
	}

	var err error
	m.HiZTexture, err = m.Device.CreateTexture(&wgpu.TextureDescriptor{
		Label:         "Depth Pyramid",
		Size:          wgpu.Extent3D{Width: size, Height: size, DepthOrArrayLayers: 1},
		MipLevelCount: uint32(mips),
		SampleCount:   1,
		Dimension:     wgpu.TextureDimension2D,
		Format:        wgpu.TextureFormatR32Float,
		Usage:         wgpu.TextureUsageTextureBinding | wgpu.TextureUsageStorageBinding,
	})
	if err != nil {
		panic(err)
	}

	m.HiZFullView, err = m.HiZTexture.CreateView(nil)
	if err != nil {
		panic(err)
	}

	m.HiZViews = make([]*wgpu.TextureView, mips)
	for i := 0; i < mips; i++ {
		m.HiZViews[i], err = m.HiZTexture.CreateView(&wgpu.TextureViewDescriptor{
			Label:           fmt.Sprintf("Depth Pyramid Mip %d", i),
			Format:          wgpu.TextureFormatR32Float,
			Dimension:       wgpu.TextureViewDimension2D,
			BaseMipLevel:    uint32(i),
			MipLevelCount:   1,
			BaseArrayLayer:  0,
			ArrayLayerCount: 1,
		})
		if err != nil {
			panic(err)
		}
	}

	if m.HiZParamsBuf == nil {
		m.HiZParamsBuf, err = m.Device.CreateBuffer(&wgpu.BufferDescriptor{
			Label: "Depth Pyramid Params",
			Size:  16,
			Usage: wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
		})
		if err != nil {
			panic(err)
		}
	}

	bgl, err := m.Device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "Depth Pyramid BGL",
		Entries: []wgpu.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: wgpu.ShaderStageCompute,
				Texture: wgpu.TextureBindingLayout{
					SampleType:    wgpu.TextureSampleTypeUnfilterableFloat,
					ViewDimension: wgpu.TextureViewDimension2D,
				},
			},
			{
				Binding:    1,
				Visibility: wgpu.ShaderStageCompute,
				StorageTexture: wgpu.StorageTextureBindingLayout{
					Access:        wgpu.StorageTextureAccessWriteOnly,
					Format:        wgpu.TextureFormatR32Float,
					ViewDimension: wgpu.TextureViewDimension2D,
				},
			},
			{
				Binding:    2,
				Visibility: wgpu.ShaderStageCompute,
				Buffer: wgpu.BufferBindingLayout{
					Type: wgpu.BufferBindingTypeUniform,
				},
			},
		},
	})
	if err != nil {
		panic(err)
	}

	if m.HiZPipeline == nil {
		layout, _ := m.Device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
			BindGroupLayouts: []*wgpu.BindGroupLayout{bgl},
		})
		m.HiZPipeline, err = m.Device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
			Label:  "Depth Pyramid Pipeline",
			Layout: layout,
			Compute: wgpu.ProgrammableStageDescriptor{
				Module:     pyramidModule,
				EntryPoint: "main",
			},
		})
		if err != nil {
			panic(err)
		}
	}

	// Internal passes (mip k -> k+1) can be cached; pass 0 binds the
	// external depth view and is created per dispatch.
	m.HiZBindGroups = make([]*wgpu.BindGroup, mips)
	for i := 0; i < mips-1; i++ {
		bg, _ := m.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
			Label:  fmt.Sprintf("Depth Pyramid Pass %d", i+1),
			Layout: bgl,
			Entries: []wgpu.BindGroupEntry{
				{Binding: 0, TextureView: m.HiZViews[i]},
				{Binding: 1, TextureView: m.HiZViews[i+1]},
				{Binding: 2, Buffer: m.HiZParamsBuf, Size: 16},
			},
		})
		m.HiZBindGroups[i+1] = bg
	}
}

// DispatchDepthPyramid records the full mip-chain build: a point-
// sampled resize of the external depth view into mip 0, then one
// farthest-of-2x2 pass per level. Levels are strictly ordered within
// the encoder; the cull pass must be recorded after this returns.
func (m *GrassBufferManager) DispatchDepthPyramid(encoder *wgpu.CommandEncoder, sourceDepthView *wgpu.TextureView, reversed bool) {
	if m.HiZPipeline == nil || sourceDepthView == nil {
		return
	}

	params := make([]byte, 16)
	if reversed {
		binary.LittleEndian.PutUint32(params, 1)
	}
	m.Device.GetQueue().WriteBuffer(m.HiZParamsBuf, 0, params)

	pass := encoder.BeginComputePass(nil)
	pass.SetPipeline(m.HiZPipeline)

	size := m.HiZTexture.GetWidth()
	mips := len(m.HiZViews)

	bgl := m.HiZPipeline.GetBindGroupLayout(0)
	bg0, err := m.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "Depth Pyramid Pass 0",
		Layout: bgl,
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, TextureView: sourceDepthView},
			{Binding: 1, TextureView: m.HiZViews[0]},
			{Binding: 2, Buffer: m.HiZParamsBuf, Size: 16},
		},
	})
	if err != nil || bg0 == nil {
		m.log.Errorf("depth pyramid: pass 0 bind group failed: %v", err)
		pass.End()
		return
	}
	pass.SetBindGroup(0, bg0, nil)
	pass.DispatchWorkgroups((size+7)/8, (size+7)/8, 1)

	dim := size
	for i := 0; i < mips-1; i++ {
		dim >>= 1
		if dim < 1 {
			dim = 1
		}
		bg := m.HiZBindGroups[i+1]
		if bg == nil {
			continue
		}
		pass.SetBindGroup(0, bg, nil)
		pass.DispatchWorkgroups((dim+7)/8, (dim+7)/8, 1)
	}
	pass.End()
}
