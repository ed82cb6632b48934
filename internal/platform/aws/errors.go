package aws

import (
	"errors"
	"strings"

	"github.com/aws/smithy-go"
)

// IsThrottling checks if an error indicates API rate limiting.
// These errors are retryable.
func IsThrottling(err error) bool {
	return isAPIErrorCode(err,
		"Throttling",
		"ThrottlingException",
		"RequestLimitExceeded",
		"RequestThrottled",
		"TooManyRequestsException",
	)
}

// IsNotFound checks if an error indicates a missing resource. EC2 uses
// per-resource codes like InvalidAMIID.NotFound and InvalidSnapshot.NotFound.
func IsNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return strings.HasSuffix(apiErr.ErrorCode(), ".NotFound")
	}
	return false
}

// IsInvalidParameter checks if an error indicates invalid request parameters.
// These errors are fatal and should not be retried.
func IsInvalidParameter(err error) bool {
	return isAPIErrorCode(err,
		"InvalidParameterValue",
		"InvalidParameterCombination",
		"MissingParameter",
		"ValidationError",
	)
}

// IsQuotaExceeded checks if an error indicates a resource quota was hit.
// Retrying will not help within the lifetime of one publish run.
func IsQuotaExceeded(err error) bool {
	return isAPIErrorCode(err,
		"ResourceLimitExceeded",
		"SnapshotLimitExceeded",
		"ConcurrentSnapshotLimitExceeded",
	)
}

// IsTransient reports whether an error is worth retrying: throttling or a
// provider-side fault.
func IsTransient(err error) bool {
	if IsThrottling(err) {
		return true
	}
	if isAPIErrorCode(err, "InternalError", "Unavailable", "ServiceUnavailable", "RequestExpired") {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorFault() == smithy.FaultServer
	}
	return false
}

// isAPIErrorCode checks if the error is an API error with one of the given codes.
func isAPIErrorCode(err error, codes ...string) bool {
	if err == nil {
		return false
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		for _, code := range codes {
			if apiErr.ErrorCode() == code {
				return true
			}
		}
	}
	return false
}
