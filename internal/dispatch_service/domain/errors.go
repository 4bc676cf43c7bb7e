package domain

import "errors"

var (
	// ErrJobNotFound indicates that no job exists with the requested ID.
	ErrJobNotFound = errors.New("job not found")
	// ErrNoEligibleJob is returned by AcquireNext when nothing is ready to run.
	ErrNoEligibleJob = errors.New("no eligible job")
	// ErrJobNotCancellable indicates the job already left the waiting state.
	ErrJobNotCancellable = errors.New("job is not waiting and cannot be cancelled")
	// ErrJobNotActive indicates the job is no longer claimed, for example because
	// stale-claim recovery already failed it.
	ErrJobNotActive = errors.New("job is no longer active")
	// ErrJobNotRequeueable indicates the job is not in a terminal failed/cancelled state.
	ErrJobNotRequeueable = errors.New("job is not failed or cancelled and cannot be requeued")
	// ErrUnknownJobKind is returned when decoding a payload of an unsupported kind.
	ErrUnknownJobKind = errors.New("unknown job kind")
	// ErrNilPayload is returned when a job is enqueued without a payload.
	ErrNilPayload = errors.New("job payload is required")
	// ErrInvalidPayload wraps a kind-specific payload validation failure.
	ErrInvalidPayload = errors.New("invalid job payload")
	// ErrInvalidRecipient is returned when a job has no destination address.
	ErrInvalidRecipient = errors.New("job recipient is required")
)
