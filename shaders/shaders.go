package shaders

import (
	_ "embed"
)

//go:embed grass_cull.wgsl
var GrassCullWGSL string

//go:embed depth_pyramid.wgsl
var DepthPyramidWGSL string

//go:embed args_update.wgsl
var ArgsUpdateWGSL string
