package model

// RegionUnit is the legacy region width in meters used to pack region handles.
const RegionUnit = 256

// RegionHandle packs grid coordinates (in regions) into a 64-bit handle of world meters.
func RegionHandle(gridX, gridY uint32) uint64 {
	return uint64(gridX*RegionUnit)<<32 | uint64(gridY*RegionUnit)
}

// RegionLocation unpacks a region handle into grid coordinates (in regions).
func RegionLocation(handle uint64) (gridX, gridY uint32) {
	return uint32(handle>>32) / RegionUnit, uint32(handle&0xFFFFFFFF) / RegionUnit
}
