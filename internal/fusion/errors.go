package fusion

import (
	"errors"
	"fmt"
)

// Sentinel errors. Every fault returned by this package wraps exactly one
// of these, so callers can branch with errors.Is.
var (
	// ErrDegenerateGeometry is returned when the object sits at (or very
	// near) the radar origin and the range/bearing mapping is undefined.
	ErrDegenerateGeometry = errors.New("degenerate geometry: object at sensor origin")
	// ErrSingularCovariance is returned when the innovation covariance
	// S = H·P·Hᵀ + R cannot be inverted.
	ErrSingularCovariance = errors.New("singular innovation covariance")
	// ErrOutOfOrder is returned when a measurement is older than the
	// previously processed one.
	ErrOutOfOrder = errors.New("measurement out of timestamp order")
	// ErrInvalidMeasurement is returned for malformed measurements.
	ErrInvalidMeasurement = errors.New("invalid measurement")
	// ErrNonFinite is returned when a correction would write NaN or ±Inf
	// into the state.
	ErrNonFinite = errors.New("non-finite filter state")
)

// FaultKind classifies a FaultError.
type FaultKind int

const (
	FaultGeometry FaultKind = iota + 1 // degenerate range/bearing geometry
	FaultSingular                      // non-invertible innovation covariance
	FaultProtocol                      // out-of-order delivery
	FaultInput                         // malformed measurement
	FaultNumeric                       // NaN/Inf produced by an update
)

func (k FaultKind) String() string {
	switch k {
	case FaultGeometry:
		return "geometry"
	case FaultSingular:
		return "singular"
	case FaultProtocol:
		return "protocol"
	case FaultInput:
		return "input"
	case FaultNumeric:
		return "numeric"
	default:
		return "unknown"
	}
}

// FaultError is the typed failure returned by the estimator. A faulted
// cycle never modifies the filter state.
type FaultError struct {
	Kind FaultKind
	Op   string
	Err  error
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("%s: %s fault: %v", e.Op, e.Kind, e.Err)
}

func (e *FaultError) Unwrap() error { return e.Err }

func newFault(kind FaultKind, op string, err error) *FaultError {
	return &FaultError{Kind: kind, Op: op, Err: err}
}

// AsFault extracts a *FaultError from err, if present.
func AsFault(err error) (*FaultError, bool) {
	var fe *FaultError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}
