package physics

import (
	"github.com/go-gl/mathgl/mgl64"

	"github.com/dkeye/videoroom/internal/physics/engine"
)

// Body is the part of a rigid body the avatar controller touches.
type Body interface {
	ApplyImpulse(impulse mgl64.Vec3)
	SetTranslation(p mgl64.Vec3)
	SetRotation(q mgl64.Quat)
	SetLinvel(v mgl64.Vec3)
	Translation() mgl64.Vec3
	Rotation() mgl64.Quat
	Linvel() mgl64.Vec3
	Mass() float64
}

// World is the rigid-body engine as seen by a room.
type World interface {
	Gravity() mgl64.Vec3
	Timestep() float64
	CreateUserBody(position mgl64.Vec3) Body
	RemoveBody(b Body)
	AddCuboid(halfExtents, position mgl64.Vec3, rotation mgl64.Quat)
	AddTrimesh(vertices []mgl64.Vec3, indices []uint32, position mgl64.Vec3, rotation mgl64.Quat)
	Step()
}

type engineWorld struct {
	w *engine.World
}

// NewEngineWorld wraps the built-in engine with the room gravity and timestep.
func NewEngineWorld(timestep float64) World {
	return &engineWorld{w: engine.NewWorld(mgl64.Vec3{0, Gravity, 0}, timestep)}
}

func (e *engineWorld) Gravity() mgl64.Vec3 { return e.w.Gravity() }
func (e *engineWorld) Timestep() float64   { return e.w.Timestep() }
func (e *engineWorld) Step()               { e.w.Step() }

func (e *engineWorld) CreateUserBody(position mgl64.Vec3) Body {
	return e.w.CreateBall(engine.BallDesc{
		Position:       position,
		Radius:         UserRadius,
		Density:        UserDensity,
		AdditionalMass: UserMass,
		LinearDamping:  UserLinearDamping,
		Restitution:    UserRestitution,
	})
}

func (e *engineWorld) RemoveBody(b Body) {
	if eb, ok := b.(*engine.Body); ok {
		e.w.RemoveBody(eb)
	}
}

func (e *engineWorld) AddCuboid(halfExtents, position mgl64.Vec3, rotation mgl64.Quat) {
	e.w.AddCuboid(halfExtents, position, rotation)
}

func (e *engineWorld) AddTrimesh(vertices []mgl64.Vec3, indices []uint32, position mgl64.Vec3, rotation mgl64.Quat) {
	e.w.AddTrimesh(vertices, indices, position, rotation)
}
