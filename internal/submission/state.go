package submission

import (
	"context"
	"fmt"
	"time"
)

// State is a position in the submission state machine. States only move
// forward; Done and Failed are terminal.
type State string

const (
	StateIdle                  State = "idle"
	StateEncrypting            State = "encrypting"
	StateStoringCiphertext     State = "storing_ciphertext"
	StateRegisteringCiphertext State = "registering_ciphertext"
	StateStoringMetadata       State = "storing_metadata"
	StateRegisteringMetadata   State = "registering_metadata"
	StateCreatingListing       State = "creating_listing"
	StateDone                  State = "done"
	StateFailed                State = "failed"
)

// Steps lists the working states in execution order.
var Steps = []State{
	StateEncrypting,
	StateStoringCiphertext,
	StateRegisteringCiphertext,
	StateStoringMetadata,
	StateRegisteringMetadata,
	StateCreatingListing,
}

// StepError reports the step a submission failed in. Resources created by
// earlier steps are left in place.
type StepError struct {
	Step State
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("submission failed at %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Attempt is the progress of one submission. Fields fill in as steps
// complete.
type Attempt struct {
	ID               string
	Title            string
	PolicyID         string
	MarketplaceID    string
	Identity         string
	EncryptedBlobID  string
	MetadataBlobID   string
	CiphertextDigest string
	MetadataDigest   string
	ListingDigest    string
	StartedAt        time.Time
}

// Event is one transition. Elapsed is the time spent in From.
type Event struct {
	Attempt Attempt
	From    State
	To      State
	Elapsed time.Duration
	Err     error
}

// Tracker observes transitions. A tracker error is logged and does not
// affect the submission.
type Tracker interface {
	Transition(ctx context.Context, ev Event) error
}

// TrackerFunc adapts a function to Tracker.
type TrackerFunc func(ctx context.Context, ev Event) error

func (f TrackerFunc) Transition(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}
