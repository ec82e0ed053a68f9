package domain

import "errors"

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// NetworkError represents a network-related error that may be retriable
type NetworkError struct {
	Op        string // Operation that failed (e.g., "connect", "read", "write")
	Err       error  // Underlying error
	Retriable bool   // Whether this error is retriable
}

func (e *NetworkError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) IsRetriable() bool {
	return e.Retriable
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError creates a new retriable network error
func NewNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: true}
}

// NewFatalNetworkError creates a non-retriable network error
func NewFatalNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: false}
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// ErrorKind classifies engine failures so callers can branch on cause.
type ErrorKind uint8

const (
	KindUnknown ErrorKind = iota
	KindValidation
	KindAuthorization
	KindState
	KindInsufficientClaim
	KindSlippage
	KindCollaborator
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindState:
		return "state"
	case KindInsufficientClaim:
		return "insufficient_claim"
	case KindSlippage:
		return "slippage"
	case KindCollaborator:
		return "collaborator"
	default:
		return "unknown"
	}
}

// EngineError is a failed engine call. Engine calls are atomic, so an
// EngineError means no state was changed. It is never retriable.
type EngineError struct {
	Kind ErrorKind
	Op   string // "place", "cancel", "redeem", "price_update", ...
	Err  error
}

func (e *EngineError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *EngineError) IsRetriable() bool {
	return false
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// NewEngineError wraps err, classifying it by the sentinel it carries.
func NewEngineError(op string, err error) *EngineError {
	var ee *EngineError
	if errors.As(err, &ee) {
		return &EngineError{Kind: ee.Kind, Op: op, Err: err}
	}
	return &EngineError{Kind: classify(err), Op: op, Err: err}
}

// KindOf returns the kind of an engine error, or KindUnknown.
func KindOf(err error) ErrorKind {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return classify(err)
}

func classify(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidTrailingDistance),
		errors.Is(err, ErrInvalidDirection), errors.Is(err, ErrInvalidMarket):
		return KindValidation
	case errors.Is(err, ErrUnauthorized):
		return KindAuthorization
	case errors.Is(err, ErrInvalidOrder), errors.Is(err, ErrUnknownMarket), errors.Is(err, ErrMarketExists):
		return KindState
	case errors.Is(err, ErrNothingToClaim), errors.Is(err, ErrNotEnoughToClaim):
		return KindInsufficientClaim
	case errors.Is(err, ErrSlippage):
		return KindSlippage
	case errors.Is(err, ErrInsufficientLiquidity), errors.Is(err, ErrInsufficientBalance):
		return KindCollaborator
	default:
		return KindUnknown
	}
}

var (
	// ErrInvalidAmount is returned for zero, negative or fractional amounts.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidTrailingDistance is returned when the distance aligns down to zero.
	ErrInvalidTrailingDistance = errors.New("invalid trailing distance")

	// ErrInvalidDirection is returned for a direction other than SELL or BUY.
	ErrInvalidDirection = errors.New("invalid direction")

	// ErrInvalidMarket is returned for a malformed market key.
	ErrInvalidMarket = errors.New("invalid market")

	// ErrUnknownMarket is returned when a market has not been initialized.
	ErrUnknownMarket = errors.New("unknown market")

	// ErrMarketExists is returned when a market is initialized twice.
	ErrMarketExists = errors.New("market already initialized")

	// ErrUnauthorized is returned when a non-owner tries to cancel.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidOrder is returned for nonexistent, executed or cancelled orders.
	ErrInvalidOrder = errors.New("invalid order")

	// ErrNothingToClaim is returned when a position has no claimable output.
	ErrNothingToClaim = errors.New("nothing to claim")

	// ErrNotEnoughToClaim is returned when the caller holds fewer claim tokens than requested.
	ErrNotEnoughToClaim = errors.New("not enough to claim")

	// ErrSlippage is returned when execution output is below the order's floor.
	ErrSlippage = errors.New("output below minimum")

	// ErrInsufficientLiquidity is returned by a venue that cannot pay out a swap.
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")

	// ErrInsufficientBalance is returned when an account cannot cover a transfer.
	ErrInsufficientBalance = errors.New("insufficient balance")
)
