// Package physics drives one avatar body per user: hover control, jump,
// crouch and yaw-relative movement, plus the quantized state read-back the
// room tick serializes.
package physics

const (
	TickRate = 60
	Timestep = 1.0 / TickRate
	Gravity  = -9.81

	UserMass             = 10.0
	UserRadius           = 1.0
	UserDensity          = 1.0
	UserLinearDamping    = 0.75
	UserRestitution      = 1.0
	MaxGroundedHeight    = 2.5
	WalkImpulse          = 3.5
	RunImpulse           = 15.0
	JumpImpulse          = 250.0
	JumpCooldown         = 1.0
	CrouchImpulse        = -80.0
	FloatingHeight       = 2.0
	AntiGravityStiffness = 50.0
	AntiGravityDamping   = 5.0

	SpawnRadius = 10.0
	SpawnHeight = 10.0

	MovementThreshold = 1e-2
	PositionPrecision = 1e3

	ScreenArchRadius = 48.0
	ScreenWidth      = 19.2
	ScreenHeight     = 10.8
	ScreenThickness  = 0.1
)
