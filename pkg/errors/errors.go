package apperrors

import "errors"

// Standardized supply-chain errors
var (
	ErrSKUNotFound        = errors.New("sku not found")
	ErrInactiveSKU        = errors.New("sku is inactive")
	ErrBudgetInfeasible   = errors.New("no feasible selection within budget")
	ErrJobNotFound        = errors.New("job not found")
	ErrJobPoolSaturated   = errors.New("manual cycle pool is full")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInvalidCredential  = errors.New("invalid username or password")
	ErrCheckpointNotFound = errors.New("no stable checkpoint available")
	ErrEstimatorFailed    = errors.New("external estimator failed")
	ErrStoreBusy          = errors.New("store busy")
)
