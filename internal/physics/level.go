package physics

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/go-gl/mathgl/mgl64"
)

// Collision is one static mesh exported from the room model.
type Collision struct {
	Name     string     `json:"name"`
	Type     string     `json:"type"`
	Vertices []float64  `json:"vertices"`
	Indices  []uint32   `json:"indices"`
	Position [3]float64 `json:"position"`
	Rotation [4]float64 `json:"rotation"` // x, y, z, w
	Scale    [3]float64 `json:"scale"`
}

// Level is the precomputed static geometry of a room.
type Level struct {
	Collisions []Collision
}

// LoadLevel reads a JSON array of Collision entries. An empty path yields an
// empty level.
func LoadLevel(path string) (*Level, error) {
	if path == "" {
		return &Level{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read level %s: %w", path, err)
	}
	var cs []Collision
	if err := json.Unmarshal(raw, &cs); err != nil {
		return nil, fmt.Errorf("parse level %s: %w", path, err)
	}
	for i, c := range cs {
		if len(c.Vertices)%3 != 0 {
			return nil, fmt.Errorf("level %s: collision %d (%s) has %d vertex components", path, i, c.Name, len(c.Vertices))
		}
		if len(c.Indices)%3 != 0 {
			return nil, fmt.Errorf("level %s: collision %d (%s) has %d indices", path, i, c.Name, len(c.Indices))
		}
	}
	return &Level{Collisions: cs}, nil
}

// ScaledVertices applies the per-axis scale.
func (c Collision) ScaledVertices() []mgl64.Vec3 {
	scale := c.Scale
	if scale == [3]float64{} {
		scale = [3]float64{1, 1, 1}
	}
	out := make([]mgl64.Vec3, 0, len(c.Vertices)/3)
	for i := 0; i+2 < len(c.Vertices); i += 3 {
		out = append(out, mgl64.Vec3{
			c.Vertices[i] * scale[0],
			c.Vertices[i+1] * scale[1],
			c.Vertices[i+2] * scale[2],
		})
	}
	return out
}

func (c Collision) Quat() mgl64.Quat {
	q := mgl64.Quat{W: c.Rotation[3], V: mgl64.Vec3{c.Rotation[0], c.Rotation[1], c.Rotation[2]}}
	if q.Len() == 0 {
		return mgl64.QuatIdent()
	}
	return q.Normalize()
}

// Transform places a static collider.
type Transform struct {
	Position mgl64.Vec3
	Rotation mgl64.Quat
}

// ScreenTransforms lays count screens side by side on an arch of radius
// ScreenArchRadius centered on -z. Slot 0 is the leftmost screen.
func ScreenTransforms(count int) []Transform {
	step := 2 * math.Asin(ScreenWidth/(2*ScreenArchRadius))
	start := -math.Pi/2 - step*float64(count-1)/2
	out := make([]Transform, count)
	for i := range out {
		angle := start + float64(i)*step
		out[i] = Transform{
			Position: mgl64.Vec3{math.Cos(angle) * ScreenArchRadius, ScreenHeight / 2, math.Sin(angle) * ScreenArchRadius},
			Rotation: mgl64.QuatRotate(-angle-math.Pi/2, mgl64.Vec3{0, 1, 0}),
		}
	}
	return out
}

// groundHalfExtents covers the whole room.
var groundHalfExtents = mgl64.Vec3{ScreenArchRadius * 4, 0.5, ScreenArchRadius * 4}

// build adds the ground plane, the level meshes and the screens.
func (l *Level) build(w World, screens int) {
	w.AddCuboid(groundHalfExtents, mgl64.Vec3{0, -0.5, 0}, mgl64.QuatIdent())
	for _, c := range l.Collisions {
		w.AddTrimesh(c.ScaledVertices(), c.Indices, mgl64.Vec3(c.Position), c.Quat())
	}
	half := mgl64.Vec3{ScreenWidth / 2, ScreenHeight / 2, ScreenThickness / 2}
	for _, t := range ScreenTransforms(screens) {
		w.AddCuboid(half, t.Position, t.Rotation)
	}
}
