package gpu

import (
	"encoding/binary"
	"sync"

	"github.com/cogentcore/webgpu/wgpu"
)

// CreateCullPipelines builds the culling and argument-update compute
// pipelines. Bind groups are created afterward via CreateBindGroups
// once buffers exist.
func (m *GrassBufferManager) CreateCullPipelines(cullModule, argsModule *wgpu.ShaderModule) error {
	var err error
	m.CullPipeline, err = m.Device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label: "Grass Cull Pipeline",
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     cullModule,
			EntryPoint: "main",
		},
	})
	if err != nil {
		return err
	}

	m.ArgsPipeline, err = m.Device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label: "Grass Args Pipeline",
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     argsModule,
			EntryPoint: "main",
		},
	})
	return err
}

// CreateBindGroups wires the current buffers and textures into the
// pipelines. Must be re-run whenever UploadPopulation or UploadMask
// reports recreation, or after SetupDepthPyramid.
func (m *GrassBufferManager) CreateBindGroups() error {
	if m.CullPipeline == nil || m.ArgsPipeline == nil {
		return nil
	}
	if m.MaskView == nil || len(m.HiZViews) == 0 {
		// The shader binds both textures unconditionally; the params
		// block gates whether they are consulted.
		return nil
	}

	entries := []wgpu.BindGroupEntry{
		{Binding: 0, Buffer: m.ParamsBuf, Size: ParamsSize},
		{Binding: 1, Buffer: m.InstancesBuf, Size: m.InstancesBuf.GetSize()},
		{Binding: 2, Buffer: m.CounterBuf, Size: MaxTiers * 4},
		{Binding: 3, Buffer: m.BucketBufs[0], Size: m.BucketBufs[0].GetSize()},
		{Binding: 4, Buffer: m.BucketBufs[1], Size: m.BucketBufs[1].GetSize()},
		{Binding: 5, Buffer: m.BucketBufs[2], Size: m.BucketBufs[2].GetSize()},
		{Binding: 6, TextureView: m.HiZFullView},
		{Binding: 7, TextureView: m.MaskView},
	}

	var err error
	m.CullBindGroup, err = m.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   "Grass Cull BG",
		Layout:  m.CullPipeline.GetBindGroupLayout(0),
		Entries: entries,
	})
	if err != nil {
		return err
	}

	m.ArgsBindGroup, err = m.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "Grass Args BG",
		Layout: m.ArgsPipeline.GetBindGroupLayout(0),
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: m.CounterBuf, Size: MaxTiers * 4},
			{Binding: 1, Buffer: m.ArgsBuf, Size: MaxTiers * ArgsStride},
		},
	})
	return err
}

// DispatchCull records the classification kernel over instanceCount
// instances, one thread each, 64 per workgroup.
func (m *GrassBufferManager) DispatchCull(encoder *wgpu.CommandEncoder, instanceCount uint32) {
	if m.CullPipeline == nil || m.CullBindGroup == nil || instanceCount == 0 {
		return
	}
	pass := encoder.BeginComputePass(nil)
	pass.SetPipeline(m.CullPipeline)
	pass.SetBindGroup(0, m.CullBindGroup, nil)
	pass.DispatchWorkgroups((instanceCount+63)/64, 1, 1)
	pass.End()
}

// DispatchArgsUpdate copies each tier's survivor counter into the
// instance_count field of its indirect argument record, entirely on
// the GPU. The host never reads the counts to drive control flow.
func (m *GrassBufferManager) DispatchArgsUpdate(encoder *wgpu.CommandEncoder) {
	if m.ArgsPipeline == nil || m.ArgsBindGroup == nil {
		return
	}
	pass := encoder.BeginComputePass(nil)
	pass.SetPipeline(m.ArgsPipeline)
	pass.SetBindGroup(0, m.ArgsBindGroup, nil)
	pass.DispatchWorkgroups(1, 1, 1)
	pass.End()
}

// counterReadback is the explicit opt-in debug path for per-tier
// survivor counts. Three states: idle (0), copy recorded (1), map in
// flight (2), mapped (3). Never invoked implicitly; a frame that skips
// it costs nothing.
type counterReadback struct {
	mu     sync.Mutex
	state  int
	buf    *wgpu.Buffer
	last   [MaxTiers]uint32
	primed bool
}

func (r *counterReadback) release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.buf != nil {
		r.buf.Release()
		r.buf = nil
	}
}

// EncodeDebugReadback records a counter copy into the staging buffer
// if the readback is idle. Call between DispatchCull and submit, and
// only when debug counts are wanted.
func (m *GrassBufferManager) EncodeDebugReadback(encoder *wgpu.CommandEncoder) {
	if m.CounterBuf == nil {
		return
	}
	r := m.readback
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.buf == nil {
		var err error
		r.buf, err = m.Device.CreateBuffer(&wgpu.BufferDescriptor{
			Label: "Grass Counter Readback",
			Size:  MaxTiers * 4,
			Usage: wgpu.BufferUsageCopyDst | wgpu.BufferUsageMapRead,
		})
		if err != nil {
			panic(err)
		}
	}
	if r.state != 0 {
		return
	}
	encoder.CopyBufferToBuffer(m.CounterBuf, 0, r.buf, 0, MaxTiers*4)
	r.state = 1
}

// DebugCounts advances the readback state machine and returns the most
// recently completed per-tier counts. Values lag by at least one frame;
// that is the price of never stalling the pipeline.
func (m *GrassBufferManager) DebugCounts() ([MaxTiers]uint32, bool) {
	r := m.readback
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.buf == nil {
		return r.last, r.primed
	}

	if r.state == 1 {
		r.state = 2
		r.buf.MapAsync(wgpu.MapModeRead, 0, r.buf.GetSize(), func(status wgpu.BufferMapAsyncStatus) {
			r.mu.Lock()
			defer r.mu.Unlock()
			if status == wgpu.BufferMapAsyncStatusSuccess {
				r.state = 3
			} else {
				r.state = 0
			}
		})
		return r.last, r.primed
	}

	if r.state == 3 {
		data := r.buf.GetMappedRange(0, MaxTiers*4)
		for t := 0; t < MaxTiers; t++ {
			r.last[t] = binary.LittleEndian.Uint32(data[t*4 : t*4+4])
		}
		r.buf.Unmap()
		r.state = 0
		r.primed = true
	}
	return r.last, r.primed
}
