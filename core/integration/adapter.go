package integration

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

type (
	// Adapter translates one vendor's proprietary API into normalized
	// operations. Adapters are the isolation boundary for vendor failures:
	// a vendor error is logged and degrades to an empty result (or skips the
	// failing sub-resource), it never aborts the caller. The returned error
	// is non-nil only when the context is done.
	Adapter interface {
		Platform() Platform
		// ValidateCredentials returns false (never an error) when required
		// credential keys are absent; otherwise it performs one lightweight
		// authenticated call and reports whether it succeeded.
		ValidateCredentials(ctx context.Context, creds Credentials) bool
		// FetchEnrollments drains all pages of the vendor's enrollment data,
		// filtered against the organization's known emails. Missing
		// credentials yield an empty list, not an error.
		FetchEnrollments(ctx context.Context, creds Credentials, knownEmails []string) ([]VendorEnrollment, error)
		// FetchProgress drains the vendor's progress data filtered to the
		// known (email, course) pairs. Same degradation policy as
		// FetchEnrollments; percentages are clamped to [0,100].
		FetchProgress(ctx context.Context, creds Credentials, known []VendorEnrollment) ([]VendorProgress, error)
	}

	// AdapterRegistry maps a platform identifier to its singleton Adapter.
	// The only extension point for adding a vendor.
	AdapterRegistry interface {
		GetAdapter(platform Platform) (Adapter, error)
	}

	// ConnectionTester performs a minimal authenticated round trip per vendor,
	// independent of the full adapter. It never fails hard: all failures
	// become TestResult{Success: false}.
	ConnectionTester interface {
		TestConnection(ctx context.Context, platform Platform, creds Credentials) TestResult
	}
)

var (
	ErrNotFound         = errors.New("platform config not found")
	ErrSyncInProgress   = errors.New("a sync is already running for this platform")
	ErrPlatformDisabled = errors.New("platform integration is disabled")
)

type unsupportedPlatformError struct {
	value string
}

// NewUnsupportedPlatformError reports a platform identifier outside the
// supported set, naming the bad value.
func NewUnsupportedPlatformError(value string) error {
	return &unsupportedPlatformError{value: value}
}

func (e unsupportedPlatformError) Error() string {
	return fmt.Sprintf("unsupported learning platform: %q", e.value)
}

func IsUnsupportedPlatform(err error) bool {
	_, ok := errors.Cause(err).(*unsupportedPlatformError)
	return ok
}
