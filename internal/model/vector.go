package model

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// DistanceSquared возвращает квадрат расстояния между точками (без sqrt для производительности).
func DistanceSquared(a, b mgl64.Vec3) float64 {
	d := a.Sub(b)
	return d.Dot(d)
}

// IsFinite reports whether every component of v is a finite number.
func IsFinite(v mgl64.Vec3) bool {
	for _, c := range v {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}
