package imu

// Motion represents a single raw accelerometer + magnetometer sample from
// the LSM303DLHC breakout.
type Motion struct {
	Source string `json:"source"` // device identifier

	Ax int16 `json:"ax"` // accel, 1 mg/LSB at ±2g
	Ay int16 `json:"ay"`
	Az int16 `json:"az"`

	Mx int16 `json:"mx"` // magnetometer
	My int16 `json:"my"`
	Mz int16 `json:"mz"`
}

// MotionSource is anything that can provide motion samples.
type MotionSource interface {
	ReadMotion() (Motion, error)
}
