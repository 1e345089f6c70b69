package main

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/volrender/internal/nerf/occupancy"
)

// lookAt returns a camera at eye facing target with x right, y down and z
// forward in the camera frame.
func lookAt(eye, target, up r3.Vec) occupancy.Camera {
	fwd := r3.Unit(r3.Sub(target, eye))
	right := r3.Unit(r3.Cross(fwd, up))
	down := r3.Cross(fwd, right)
	return occupancy.NewCamera([12]float64{
		right.X, down.X, fwd.X, eye.X,
		right.Y, down.Y, fwd.Y, eye.Y,
		right.Z, down.Z, fwd.Z, eye.Z,
	})
}

// orbit places n cameras on a horizontal circle of the given radius and
// height, all looking at the origin.
func orbit(n int, radius, height float64) []occupancy.Camera {
	cams := make([]occupancy.Camera, n)
	for i := range cams {
		a := 2 * math.Pi * float64(i) / float64(n)
		eye := r3.Vec{X: radius * math.Cos(a), Y: height, Z: radius * math.Sin(a)}
		cams[i] = lookAt(eye, r3.Vec{}, r3.Vec{Y: 1})
	}
	return cams
}

// pixelRays returns one ray per pixel centre of a w x h image, row-major.
func pixelRays(cam occupancy.Camera, intr occupancy.Intrinsics, w, h int) (origins, dirs []r3.Vec) {
	origins = make([]r3.Vec, 0, w*h)
	dirs = make([]r3.Vec, 0, w*h)
	for v := 0; v < h; v++ {
		for u := 0; u < w; u++ {
			d := r3.Vec{
				X: (float64(u) + 0.5 - intr.Cx) / intr.Fx,
				Y: (float64(v) + 0.5 - intr.Cy) / intr.Fy,
				Z: 1,
			}
			origins = append(origins, cam.Translation)
			dirs = append(dirs, r3.Unit(cam.Rotation.MulVec(d)))
		}
	}
	return origins, dirs
}

// intrinsicsFor centres the principal point of a w x h image and sets the
// focal length for the given horizontal field of view in degrees.
func intrinsicsFor(w, h int, fovDeg float64) occupancy.Intrinsics {
	f := 0.5 * float64(w) / math.Tan(0.5*fovDeg*math.Pi/180)
	return occupancy.Intrinsics{Fx: f, Fy: f, Cx: 0.5 * float64(w), Cy: 0.5 * float64(h)}
}
