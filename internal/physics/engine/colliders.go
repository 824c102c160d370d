package engine

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// static is a fixed collider. contact reports the push-out normal and depth
// for a ball at center with radius r.
type static interface {
	contact(center mgl64.Vec3, r float64) (normal mgl64.Vec3, depth float64, ok bool)
}

type cuboid struct {
	half     mgl64.Vec3
	center   mgl64.Vec3
	rotation mgl64.Quat
}

func (c *cuboid) contact(p mgl64.Vec3, r float64) (mgl64.Vec3, float64, bool) {
	local := c.rotation.Conjugate().Rotate(p.Sub(c.center))

	inside := true
	var clamped mgl64.Vec3
	for i := 0; i < 3; i++ {
		clamped[i] = mgl64.Clamp(local[i], -c.half[i], c.half[i])
		if clamped[i] != local[i] {
			inside = false
		}
	}

	if !inside {
		d := local.Sub(clamped)
		dist := d.Len()
		if dist >= r {
			return mgl64.Vec3{}, 0, false
		}
		n := c.rotation.Rotate(d.Mul(1 / dist))
		return n, r - dist, true
	}

	// Center inside the box: leave through the nearest face.
	axis, best := 0, math.Inf(1)
	for i := 0; i < 3; i++ {
		if gap := c.half[i] - math.Abs(local[i]); gap < best {
			axis, best = i, gap
		}
	}
	var n mgl64.Vec3
	n[axis] = 1
	if local[axis] < 0 {
		n[axis] = -1
	}
	return c.rotation.Rotate(n), best + r, true
}

type triangle struct {
	a, b, c  mgl64.Vec3
	min, max mgl64.Vec3
}

type trimesh struct {
	triangles []triangle
}

func newTrimesh(vertices []mgl64.Vec3, indices []uint32, position mgl64.Vec3, rotation mgl64.Quat) *trimesh {
	world := make([]mgl64.Vec3, len(vertices))
	for i, v := range vertices {
		world[i] = rotation.Rotate(v).Add(position)
	}
	m := &trimesh{}
	for i := 0; i+2 < len(indices); i += 3 {
		ia, ib, ic := int(indices[i]), int(indices[i+1]), int(indices[i+2])
		if ia >= len(world) || ib >= len(world) || ic >= len(world) {
			continue
		}
		t := triangle{a: world[ia], b: world[ib], c: world[ic]}
		for k := 0; k < 3; k++ {
			t.min[k] = math.Min(t.a[k], math.Min(t.b[k], t.c[k]))
			t.max[k] = math.Max(t.a[k], math.Max(t.b[k], t.c[k]))
		}
		m.triangles = append(m.triangles, t)
	}
	return m
}

// contact uses the deepest touching triangle.
func (m *trimesh) contact(p mgl64.Vec3, r float64) (mgl64.Vec3, float64, bool) {
	var (
		normal mgl64.Vec3
		depth  float64
		found  bool
	)
	for i := range m.triangles {
		t := &m.triangles[i]
		if p[0]+r < t.min[0] || p[0]-r > t.max[0] ||
			p[1]+r < t.min[1] || p[1]-r > t.max[1] ||
			p[2]+r < t.min[2] || p[2]-r > t.max[2] {
			continue
		}
		q := closestOnTriangle(p, t.a, t.b, t.c)
		d := p.Sub(q)
		dist := d.Len()
		if dist >= r {
			continue
		}
		var n mgl64.Vec3
		if dist > 1e-9 {
			n = d.Mul(1 / dist)
		} else {
			n = t.b.Sub(t.a).Cross(t.c.Sub(t.a))
			if l := n.Len(); l > 0 {
				n = n.Mul(1 / l)
			} else {
				continue
			}
		}
		if pen := r - dist; pen > depth {
			normal, depth, found = n, pen, true
		}
	}
	return normal, depth, found
}

// closestOnTriangle returns the point of triangle abc nearest to p
// (Ericson, Real-Time Collision Detection, 5.1.5).
func closestOnTriangle(p, a, b, c mgl64.Vec3) mgl64.Vec3 {
	ab, ac, ap := b.Sub(a), c.Sub(a), p.Sub(a)
	d1, d2 := ab.Dot(ap), ac.Dot(ap)
	if d1 <= 0 && d2 <= 0 {
		return a
	}
	bp := p.Sub(b)
	d3, d4 := ab.Dot(bp), ac.Dot(bp)
	if d3 >= 0 && d4 <= d3 {
		return b
	}
	vc := d1*d4 - d3*d2
	if vc <= 0 && d1 >= 0 && d3 <= 0 {
		return a.Add(ab.Mul(d1 / (d1 - d3)))
	}
	cp := p.Sub(c)
	d5, d6 := ab.Dot(cp), ac.Dot(cp)
	if d6 >= 0 && d5 <= d6 {
		return c
	}
	vb := d5*d2 - d1*d6
	if vb <= 0 && d2 >= 0 && d6 <= 0 {
		return a.Add(ac.Mul(d2 / (d2 - d6)))
	}
	va := d3*d6 - d5*d4
	if va <= 0 && (d4-d3) >= 0 && (d5-d6) >= 0 {
		return b.Add(c.Sub(b).Mul((d4 - d3) / ((d4 - d3) + (d5 - d6))))
	}
	denom := 1 / (va + vb + vc)
	v, w := vb*denom, vc*denom
	return a.Add(ab.Mul(v)).Add(ac.Mul(w))
}
