package models

import (
	"fmt"
	"math"
)

// Volume is a 3D grid of voxels where every voxel stores a fixed-length
// vector, usually the encoding of a fitted diffusion model.
type Volume struct {
	// Data holds the voxel vectors in x-fastest order, Channels values per voxel
	Data []float64

	// Width, Height and Depth are the dimensions of the volume in voxels
	Width, Height, Depth int

	// Channels is the number of values stored per voxel
	Channels int

	// Origin is the world position of voxel (0, 0, 0)
	Origin [3]float64

	// VoxelSize is the physical size of each voxel in mm
	VoxelSize [3]float64

	// Mask optionally restricts which voxels are valid; nil means every voxel
	Mask []bool
}

// Sample is an integer voxel index.
type Sample struct {
	I, J, K int
}

// NewVolume allocates a zero volume with unit voxels at the origin.
func NewVolume(width, height, depth, channels int) *Volume {
	return &Volume{
		Data:      make([]float64, width*height*depth*channels),
		Width:     width,
		Height:    height,
		Depth:     depth,
		Channels:  channels,
		VoxelSize: [3]float64{1, 1, 1},
	}
}

// Contains reports whether the index lies inside the grid.
func (v *Volume) Contains(i, j, k int) bool {
	return i >= 0 && j >= 0 && k >= 0 && i < v.Width && j < v.Height && k < v.Depth
}

func (v *Volume) offset(i, j, k int) int {
	return k*v.Width*v.Height + j*v.Width + i
}

// Valid reports whether the voxel is inside the grid and not masked out.
func (v *Volume) Valid(s Sample) bool {
	if !v.Contains(s.I, s.J, s.K) {
		return false
	}
	if v.Mask != nil && !v.Mask[v.offset(s.I, s.J, s.K)] {
		return false
	}
	return true
}

// Get returns a copy of the vector stored at the voxel.
func (v *Volume) Get(s Sample) []float64 {
	off := v.offset(s.I, s.J, s.K) * v.Channels
	out := make([]float64, v.Channels)
	copy(out, v.Data[off:off+v.Channels])
	return out
}

// Set stores a vector at the voxel.
func (v *Volume) Set(s Sample, value []float64) error {
	if len(value) != v.Channels {
		return fmt.Errorf("expected %d channels, got %d", v.Channels, len(value))
	}
	if !v.Contains(s.I, s.J, s.K) {
		return fmt.Errorf("voxel %v outside %dx%dx%d volume", s, v.Width, v.Height, v.Depth)
	}
	off := v.offset(s.I, s.J, s.K) * v.Channels
	copy(v.Data[off:off+v.Channels], value)
	return nil
}

// Voxel maps a world coordinate to continuous voxel coordinates.
func (v *Volume) Voxel(world []float64) [3]float64 {
	var out [3]float64
	for d := 0; d < 3; d++ {
		out[d] = (world[d] - v.Origin[d]) / v.VoxelSize[d]
	}
	return out
}

// World maps a voxel index to its world coordinate.
func (v *Volume) World(s Sample) []float64 {
	return []float64{
		v.Origin[0] + float64(s.I)*v.VoxelSize[0],
		v.Origin[1] + float64(s.J)*v.VoxelSize[1],
		v.Origin[2] + float64(s.K)*v.VoxelSize[2],
	}
}

// Nearest returns the voxel closest to a world coordinate. The result may
// fall outside the grid.
func (v *Volume) Nearest(world []float64) Sample {
	c := v.Voxel(world)
	return Sample{
		I: int(math.Round(c[0])),
		J: int(math.Round(c[1])),
		K: int(math.Round(c[2])),
	}
}
