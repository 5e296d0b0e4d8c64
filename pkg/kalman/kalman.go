// Package kalman implements a constant-velocity 2-D Kalman filter, one
// instance per live track, used by the track manager to smooth noisy
// position measurements into a filtered position/velocity estimate.
package kalman

// state is [x, y, vx, vy]; measurements are [x, y].
type Filter struct {
	x [4]float64
	p [4][4]float64

	processNoise     float64
	measurementNoise float64
}

// Config tunes the filter's process and measurement noise.
type Config struct {
	ProcessNoise     float64
	MeasurementNoise float64
}

// DefaultConfig returns conservative defaults suitable for slow-moving UAS
// targets tracked at 10 Hz.
func DefaultConfig() Config {
	return Config{ProcessNoise: 0.5, MeasurementNoise: 2.0}
}

// New creates a filter seeded from the first measurement, with velocity
// zeroed and a high initial velocity variance to let the first few updates
// converge quickly.
func New(cfg Config, x0, y0 float64) *Filter {
	f := &Filter{processNoise: cfg.ProcessNoise, measurementNoise: cfg.MeasurementNoise}
	f.x = [4]float64{x0, y0, 0, 0}
	f.p = [4][4]float64{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1000, 0},
		{0, 0, 0, 1000},
	}
	return f
}

// Predict advances the state by dt seconds under the constant-velocity
// motion model, inflating the covariance by the process noise.
func (f *Filter) Predict(dtSec float64) {
	x, y, vx, vy := f.x[0], f.x[1], f.x[2], f.x[3]
	f.x[0] = x + vx*dtSec
	f.x[1] = y + vy*dtSec
	f.x[2] = vx
	f.x[3] = vy

	// F = [[1,0,dt,0],[0,1,0,dt],[0,0,1,0],[0,0,0,1]], P' = F P F^T + Q
	p := f.p
	var fp [4][4]float64
	fRow := func(i int) [4]float64 {
		switch i {
		case 0:
			return [4]float64{1, 0, dtSec, 0}
		case 1:
			return [4]float64{0, 1, 0, dtSec}
		case 2:
			return [4]float64{0, 0, 1, 0}
		default:
			return [4]float64{0, 0, 0, 1}
		}
	}
	for i := 0; i < 4; i++ {
		fi := fRow(i)
		for j := 0; j < 4; j++ {
			var sum float64
			for k := 0; k < 4; k++ {
				sum += fi[k] * p[k][j]
			}
			fp[i][j] = sum
		}
	}
	var fpft [4][4]float64
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			fj := fRow(j)
			var sum float64
			for k := 0; k < 4; k++ {
				sum += fp[i][k] * fj[k]
			}
			fpft[i][j] = sum
		}
	}
	q := f.processNoise * dtSec
	fpft[0][0] += q
	fpft[1][1] += q
	fpft[2][2] += q
	fpft[3][3] += q
	f.p = fpft
}

// Update corrects the predicted state with a new [x,y] measurement using
// the standard Kalman gain computation for the 2-D measurement model
// H = [[1,0,0,0],[0,1,0,0]].
func (f *Filter) Update(xMeas, yMeas float64) {
	r := f.measurementNoise

	// Innovation covariance S = H P H^T + R (2x2), H selects x,y rows/cols.
	s00 := f.p[0][0] + r
	s01 := f.p[0][1]
	s10 := f.p[1][0]
	s11 := f.p[1][1] + r

	det := s00*s11 - s01*s10
	if det == 0 {
		det = 1e-9
	}
	sInv00 := s11 / det
	sInv01 := -s01 / det
	sInv10 := -s10 / det
	sInv11 := s00 / det

	// Kalman gain K = P H^T S^-1 (4x2)
	var k [4][2]float64
	for i := 0; i < 4; i++ {
		phT0 := f.p[i][0]
		phT1 := f.p[i][1]
		k[i][0] = phT0*sInv00 + phT1*sInv10
		k[i][1] = phT0*sInv01 + phT1*sInv11
	}

	innovX := xMeas - f.x[0]
	innovY := yMeas - f.x[1]

	for i := 0; i < 4; i++ {
		f.x[i] += k[i][0]*innovX + k[i][1]*innovY
	}

	// P = (I - K H) P, where H selects the x,y rows, so (KH P)[i][j] is
	// k[i][0]*P[0][j] + k[i][1]*P[1][j].
	var newP [4][4]float64
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			khp := k[i][0]*f.p[0][j] + k[i][1]*f.p[1][j]
			newP[i][j] = f.p[i][j] - khp
		}
	}
	f.p = newP
}

// Position returns the filtered [x, y] estimate.
func (f *Filter) Position() (x, y float64) {
	return f.x[0], f.x[1]
}

// Velocity returns the filtered [vx, vy] estimate.
func (f *Filter) Velocity() (vx, vy float64) {
	return f.x[2], f.x[3]
}
