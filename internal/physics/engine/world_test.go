package engine

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dt = 1.0 / 60

func TestBallMass(t *testing.T) {
	w := NewWorld(mgl64.Vec3{0, -9.81, 0}, dt)
	b := w.CreateBall(BallDesc{Radius: 1, Density: 1, AdditionalMass: 10})
	assert.InDelta(t, 10+4.0/3.0*math.Pi, b.Mass(), 1e-9)
}

func TestFreeFall(t *testing.T) {
	w := NewWorld(mgl64.Vec3{0, -9.81, 0}, dt)
	b := w.CreateBall(BallDesc{Position: mgl64.Vec3{0, 10, 0}, Radius: 1, Density: 1})

	w.Step()
	assert.InDelta(t, -9.81*dt, b.Linvel().Y(), 1e-12)
	assert.InDelta(t, 10-9.81*dt*dt, b.Translation().Y(), 1e-12)
}

func TestLinearDamping(t *testing.T) {
	w := NewWorld(mgl64.Vec3{}, dt)
	b := w.CreateBall(BallDesc{Radius: 1, Density: 1, LinearDamping: 0.75})
	b.SetLinvel(mgl64.Vec3{1, 0, 0})

	w.Step()
	assert.InDelta(t, 1/(1+dt*0.75), b.Linvel().X(), 1e-12)
}

func TestImpulse(t *testing.T) {
	w := NewWorld(mgl64.Vec3{}, dt)
	b := w.CreateBall(BallDesc{Radius: 1, AdditionalMass: 2})
	b.ApplyImpulse(mgl64.Vec3{0, 4, 0})
	assert.InDelta(t, 2.0, b.Linvel().Y(), 1e-12)
}

func TestBallRestsOnCuboid(t *testing.T) {
	w := NewWorld(mgl64.Vec3{0, -9.81, 0}, dt)
	w.AddCuboid(mgl64.Vec3{50, 0.5, 50}, mgl64.Vec3{0, -0.5, 0}, mgl64.QuatIdent())
	b := w.CreateBall(BallDesc{Position: mgl64.Vec3{0, 3, 0}, Radius: 1, Density: 1})

	for i := 0; i < 600; i++ {
		w.Step()
	}
	assert.GreaterOrEqual(t, b.Translation().Y(), 1-1e-6, "ball must not sink into the floor")
	assert.Less(t, b.Translation().Y(), 1.2)
}

func TestRotatedCuboidPushesAlongFaceNormal(t *testing.T) {
	w := NewWorld(mgl64.Vec3{}, dt)
	// A wall facing +x after a quarter turn around y.
	w.AddCuboid(mgl64.Vec3{0.05, 5, 5}, mgl64.Vec3{}, mgl64.QuatRotate(math.Pi/2, mgl64.Vec3{0, 1, 0}))
	b := w.CreateBall(BallDesc{Position: mgl64.Vec3{0, 0, 0.5}, Radius: 1, Density: 1})

	w.Step()
	assert.InDelta(t, 1.05, math.Abs(b.Translation().Z()), 1e-9)
}

func TestBallsSeparate(t *testing.T) {
	w := NewWorld(mgl64.Vec3{}, dt)
	a := w.CreateBall(BallDesc{Position: mgl64.Vec3{0, 0, 0}, Radius: 1, Density: 1})
	b := w.CreateBall(BallDesc{Position: mgl64.Vec3{1, 0, 0}, Radius: 1, Density: 1})

	w.Step()
	dist := b.Translation().Sub(a.Translation()).Len()
	assert.InDelta(t, 2.0, dist, 1e-9)
}

func TestTrimeshFloor(t *testing.T) {
	w := NewWorld(mgl64.Vec3{0, -9.81, 0}, dt)
	verts := []mgl64.Vec3{{-10, 0, -10}, {10, 0, -10}, {10, 0, 10}, {-10, 0, 10}}
	w.AddTrimesh(verts, []uint32{0, 2, 1, 0, 3, 2}, mgl64.Vec3{0, 1, 0}, mgl64.QuatIdent())
	b := w.CreateBall(BallDesc{Position: mgl64.Vec3{0, 4, 0}, Radius: 1, Density: 1})

	for i := 0; i < 600; i++ {
		w.Step()
	}
	assert.GreaterOrEqual(t, b.Translation().Y(), 2-1e-6)
}

func TestClosestOnTriangle(t *testing.T) {
	a, b, c := mgl64.Vec3{0, 0, 0}, mgl64.Vec3{1, 0, 0}, mgl64.Vec3{0, 1, 0}
	tests := []struct {
		name string
		p    mgl64.Vec3
		want mgl64.Vec3
	}{
		{"vertex a", mgl64.Vec3{-1, -1, 0}, a},
		{"vertex b", mgl64.Vec3{2, -0.5, 0}, b},
		{"edge ab", mgl64.Vec3{0.5, -1, 0}, mgl64.Vec3{0.5, 0, 0}},
		{"face", mgl64.Vec3{0.25, 0.25, 3}, mgl64.Vec3{0.25, 0.25, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := closestOnTriangle(tt.p, a, b, c)
			assert.True(t, got.ApproxEqualThreshold(tt.want, 1e-12), "got %v", got)
		})
	}
}

func TestRemoveBody(t *testing.T) {
	w := NewWorld(mgl64.Vec3{}, dt)
	b := w.CreateBall(BallDesc{Radius: 1, Density: 1})
	require.Equal(t, 1, w.Bodies())

	w.RemoveBody(b)
	w.RemoveBody(b)
	assert.Equal(t, 0, w.Bodies())

	b.ApplyImpulse(mgl64.Vec3{1, 0, 0})
	assert.Equal(t, mgl64.Vec3{}, b.Linvel())
}
