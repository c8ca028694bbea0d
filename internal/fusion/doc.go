// Package fusion owns the state estimator of the sensor-fusion pipeline.
//
// Responsibilities: the Extended Kalman Filter (constant-velocity
// prediction, linear LASER update, linearised RADAR update), the
// range/bearing Jacobian, and the orchestrator that sequences
// initialisation, prediction and the per-sensor update.
// Key types: Measurement, KalmanFilter, FusionEKF, Estimate.
//
// Dependency rule: fusion may depend on internal/config and
// internal/monitoring only. No parsing, SQL or HTTP code is allowed in
// this package; those live in the parse, replay and monitor subpackages
// and in internal/db.
package fusion
