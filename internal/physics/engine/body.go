package engine

import "github.com/go-gl/mathgl/mgl64"

// Body is a dynamic ball. Rotation is stored but never integrated.
type Body struct {
	world *World

	position    mgl64.Vec3
	velocity    mgl64.Vec3
	rotation    mgl64.Quat
	mass        float64
	radius      float64
	damping     float64
	restitution float64
	removed     bool
}

func (b *Body) Translation() mgl64.Vec3 {
	b.world.mu.Lock()
	defer b.world.mu.Unlock()
	return b.position
}

func (b *Body) SetTranslation(p mgl64.Vec3) {
	b.world.mu.Lock()
	defer b.world.mu.Unlock()
	b.position = p
}

func (b *Body) Rotation() mgl64.Quat {
	b.world.mu.Lock()
	defer b.world.mu.Unlock()
	return b.rotation
}

func (b *Body) SetRotation(q mgl64.Quat) {
	b.world.mu.Lock()
	defer b.world.mu.Unlock()
	b.rotation = q.Normalize()
}

func (b *Body) Linvel() mgl64.Vec3 {
	b.world.mu.Lock()
	defer b.world.mu.Unlock()
	return b.velocity
}

func (b *Body) SetLinvel(v mgl64.Vec3) {
	b.world.mu.Lock()
	defer b.world.mu.Unlock()
	b.velocity = v
}

func (b *Body) Mass() float64 { return b.mass }

func (b *Body) Radius() float64 { return b.radius }

// ApplyImpulse changes the velocity immediately by impulse/mass.
func (b *Body) ApplyImpulse(impulse mgl64.Vec3) {
	b.world.mu.Lock()
	defer b.world.mu.Unlock()
	if b.removed {
		return
	}
	b.velocity = b.velocity.Add(impulse.Mul(1 / b.mass))
}
