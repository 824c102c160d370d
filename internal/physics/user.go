package physics

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/dkeye/videoroom/internal/domain"
)

// State is what the room tick reads back after a step.
type State struct {
	Position domain.Vec3
	Rotation mgl64.Quat
	Yaw      float64
	Pitch    float64
}

// User is the avatar controller for one body. It is owned by the room tick
// goroutine and is not safe for concurrent use.
type User struct {
	id    domain.UserID
	world World
	body  Body

	yaw, pitch   float64
	action       domain.UserAction
	jumpCooldown float64
	jumpPressed  bool

	lastSent *domain.Vec3
}

func newUser(id domain.UserID, world World, position mgl64.Vec3) *User {
	return &User{id: id, world: world, body: world.CreateUserBody(position)}
}

func (u *User) ID() domain.UserID { return u.id }

// ApplyInput replaces the buffered input. A jump press is latched until the
// next step so a press and release inside one tick still jumps.
func (u *User) ApplyInput(in domain.Input) {
	u.yaw = in.Yaw
	u.pitch = in.Pitch
	u.action = in.Action
	u.jumpPressed = u.jumpPressed || in.Action.Has(domain.ActionJump)
}

// Step applies the hover force and the buffered input. The world step
// happens afterwards, once for every user.
func (u *User) Step() {
	dt := u.world.Timestep()
	u.jumpCooldown = math.Max(0, u.jumpCooldown-dt)
	u.applyAntiGravity(dt)

	if u.action != 0 {
		u.applyJump()
		u.applyCrouch(dt)
		u.applyMovement()
	}
	u.jumpPressed = false
}

// State quantizes the position to PositionPrecision and keeps reporting the
// last sent value until some axis moves more than MovementThreshold.
func (u *User) State() State {
	p := u.body.Translation()
	if u.lastSent == nil ||
		math.Abs(p.X()-u.lastSent.X) > MovementThreshold ||
		math.Abs(p.Y()-u.lastSent.Y) > MovementThreshold ||
		math.Abs(p.Z()-u.lastSent.Z) > MovementThreshold {
		u.lastSent = &domain.Vec3{X: quantize(p.X()), Y: quantize(p.Y()), Z: quantize(p.Z())}
	}
	return State{
		Position: *u.lastSent,
		Rotation: u.body.Rotation(),
		Yaw:      u.yaw,
		Pitch:    u.pitch,
	}
}

// SetPosition teleports the body and stops it.
func (u *User) SetPosition(p domain.Vec3) {
	u.body.SetTranslation(mgl64.Vec3{p.X, p.Y, p.Z})
	u.body.SetLinvel(mgl64.Vec3{})
}

func (u *User) SetRotation(q mgl64.Quat) {
	u.body.SetRotation(q)
}

// Healthy reports whether the body state is finite.
func (u *User) Healthy() bool {
	p, v := u.body.Translation(), u.body.Linvel()
	for i := 0; i < 3; i++ {
		if math.IsNaN(p[i]) || math.IsInf(p[i], 0) || math.IsNaN(v[i]) || math.IsInf(v[i], 0) {
			return false
		}
	}
	return true
}

func (u *User) dispose() {
	u.world.RemoveBody(u.body)
}

// applyAntiGravity is a spring-damper that holds the bottom of the ball at
// FloatingHeight while cancelling gravity.
func (u *User) applyAntiGravity(dt float64) {
	mass := u.body.Mass()
	vy := u.body.Linvel().Y()
	g := math.Abs(u.world.Gravity().Y())
	spring := AntiGravityStiffness * (FloatingHeight - u.height())
	damping := AntiGravityDamping * vy
	u.body.ApplyImpulse(mgl64.Vec3{0, (mass*g + spring - damping) * dt, 0})
}

func (u *User) applyJump() {
	if u.jumpPressed && u.grounded() && u.jumpCooldown <= 0 {
		u.body.ApplyImpulse(mgl64.Vec3{0, JumpImpulse, 0})
		u.jumpCooldown = JumpCooldown
	}
}

func (u *User) applyCrouch(dt float64) {
	if u.action.Has(domain.ActionCrouch) && u.grounded() {
		u.body.ApplyImpulse(mgl64.Vec3{0, CrouchImpulse * dt, 0})
	}
}

func (u *User) applyMovement() {
	dir := MovementDirection(u.action, u.yaw)
	if dir.X() == 0 && dir.Z() == 0 {
		return
	}
	impulse := WalkImpulse
	if u.action.Has(domain.ActionRun) {
		impulse = RunImpulse
	}
	u.body.ApplyImpulse(dir.Mul(impulse))
}

func (u *User) grounded() bool { return u.height() <= MaxGroundedHeight }

// height is the distance from the bottom of the ball to y=0.
func (u *User) height() float64 { return u.body.Translation().Y() - UserRadius }

// MovementDirection turns the directional bits into a unit world-space
// vector. Forward is -z in local space; yaw grows counter-clockwise.
func MovementDirection(action domain.UserAction, yaw float64) mgl64.Vec3 {
	var lx, lz float64
	if action.Has(domain.ActionForward) {
		lz--
	}
	if action.Has(domain.ActionBackward) {
		lz++
	}
	if action.Has(domain.ActionLeft) {
		lx--
	}
	if action.Has(domain.ActionRight) {
		lx++
	}
	if l := math.Hypot(lx, lz); l > 0 {
		lx /= l
		lz /= l
	}
	cos, sin := math.Cos(yaw), math.Sin(yaw)
	return mgl64.Vec3{lx*cos + lz*sin, 0, -lx*sin + lz*cos}
}

func quantize(v float64) float64 {
	return math.Round(v*PositionPrecision) / PositionPrecision
}
