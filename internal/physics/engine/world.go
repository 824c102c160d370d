// Package engine is a small rigid-body world: dynamic balls with locked
// rotation colliding against each other and against static cuboids and
// triangle meshes. Integration is semi-implicit Euler at a fixed timestep.
package engine

import (
	"math"
	"sync"

	"github.com/go-gl/mathgl/mgl64"
)

// BallDesc describes a dynamic body with a single ball collider.
type BallDesc struct {
	Position       mgl64.Vec3
	Radius         float64
	Density        float64
	AdditionalMass float64
	LinearDamping  float64
	Restitution    float64
}

type World struct {
	mu       sync.Mutex
	gravity  mgl64.Vec3
	timestep float64

	bodies  []*Body
	statics []static
}

func NewWorld(gravity mgl64.Vec3, timestep float64) *World {
	return &World{gravity: gravity, timestep: timestep}
}

func (w *World) Gravity() mgl64.Vec3 { return w.gravity }

func (w *World) Timestep() float64 { return w.timestep }

// CreateBall adds a dynamic body. Its mass is the collider mass
// (density times ball volume) plus AdditionalMass.
func (w *World) CreateBall(desc BallDesc) *Body {
	mass := desc.Density*4.0/3.0*math.Pi*desc.Radius*desc.Radius*desc.Radius + desc.AdditionalMass
	b := &Body{
		world:       w,
		position:    desc.Position,
		rotation:    mgl64.QuatIdent(),
		mass:        mass,
		radius:      desc.Radius,
		damping:     desc.LinearDamping,
		restitution: desc.Restitution,
	}
	w.mu.Lock()
	w.bodies = append(w.bodies, b)
	w.mu.Unlock()
	return b
}

// RemoveBody is a no-op for bodies not in the world.
func (w *World) RemoveBody(b *Body) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, other := range w.bodies {
		if other == b {
			w.bodies = append(w.bodies[:i], w.bodies[i+1:]...)
			b.removed = true
			return
		}
	}
}

// Bodies returns the number of dynamic bodies.
func (w *World) Bodies() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.bodies)
}

// AddCuboid adds a static box collider.
func (w *World) AddCuboid(halfExtents, position mgl64.Vec3, rotation mgl64.Quat) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.statics = append(w.statics, &cuboid{
		half:     halfExtents,
		center:   position,
		rotation: rotation.Normalize(),
	})
}

// AddTrimesh adds a static triangle mesh. vertices are in mesh space and are
// placed with position and rotation.
func (w *World) AddTrimesh(vertices []mgl64.Vec3, indices []uint32, position mgl64.Vec3, rotation mgl64.Quat) {
	mesh := newTrimesh(vertices, indices, position, rotation.Normalize())
	if len(mesh.triangles) == 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.statics = append(w.statics, mesh)
}

// Step advances the world by one timestep.
func (w *World) Step() {
	w.mu.Lock()
	defer w.mu.Unlock()

	dt := w.timestep
	for _, b := range w.bodies {
		b.velocity = b.velocity.Add(w.gravity.Mul(dt))
		b.velocity = b.velocity.Mul(1 / (1 + dt*b.damping))
		b.position = b.position.Add(b.velocity.Mul(dt))
	}

	for i := 0; i < len(w.bodies); i++ {
		for j := i + 1; j < len(w.bodies); j++ {
			resolveBalls(w.bodies[i], w.bodies[j])
		}
	}

	for _, b := range w.bodies {
		for _, s := range w.statics {
			if n, depth, ok := s.contact(b.position, b.radius); ok {
				b.position = b.position.Add(n.Mul(depth))
				bounce(b, n, b.restitution/2)
			}
		}
	}
}

// bounce removes the approaching normal velocity, reflecting a share of it.
func bounce(b *Body, n mgl64.Vec3, restitution float64) {
	vn := b.velocity.Dot(n)
	if vn < 0 {
		b.velocity = b.velocity.Sub(n.Mul((1 + restitution) * vn))
	}
}

func resolveBalls(a, b *Body) {
	d := b.position.Sub(a.position)
	dist := d.Len()
	minDist := a.radius + b.radius
	if dist >= minDist {
		return
	}
	n := mgl64.Vec3{1, 0, 0}
	if dist > 1e-9 {
		n = d.Mul(1 / dist)
	}
	invA, invB := 1/a.mass, 1/b.mass
	share := (minDist - dist) / (invA + invB)
	a.position = a.position.Sub(n.Mul(share * invA))
	b.position = b.position.Add(n.Mul(share * invB))

	rel := b.velocity.Sub(a.velocity).Dot(n)
	if rel >= 0 {
		return
	}
	e := (a.restitution + b.restitution) / 2
	j := -(1 + e) * rel / (invA + invB)
	a.velocity = a.velocity.Sub(n.Mul(j * invA))
	b.velocity = b.velocity.Add(n.Mul(j * invB))
}
