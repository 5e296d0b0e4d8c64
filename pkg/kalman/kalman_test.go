package kalman

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewSeedsPositionFromFirstMeasurement(t *testing.T) {
	f := New(DefaultConfig(), 10, 20)
	x, y := f.Position()
	assert.Equal(t, 10.0, x)
	assert.Equal(t, 20.0, y)
	vx, vy := f.Velocity()
	assert.Equal(t, 0.0, vx)
	assert.Equal(t, 0.0, vy)
}

func TestPredictAdvancesPositionByVelocity(t *testing.T) {
	f := New(DefaultConfig(), 0, 0)
	// Feed consistent measurements moving at 1 m/s along x to build up velocity estimate.
	for i := 0; i < 50; i++ {
		f.Predict(1.0)
		f.Update(float64(i+1), 0)
	}
	x, _ := f.Position()
	vx, vy := f.Velocity()
	assert.Greater(t, x, 40.0)
	assert.InDelta(t, 1.0, vx, 0.2)
	assert.InDelta(t, 0.0, vy, 0.2)
}

func TestUpdateConvergesTowardStationaryMeasurement(t *testing.T) {
	f := New(DefaultConfig(), 0, 0)
	for i := 0; i < 20; i++ {
		f.Predict(0.1)
		f.Update(5, 5)
	}
	x, y := f.Position()
	assert.InDelta(t, 5, x, 0.5)
	assert.InDelta(t, 5, y, 0.5)
}
