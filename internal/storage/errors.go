package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

var (
	ErrForbiddenPath = errors.New("path is outside the user's folder")
	ErrNotFound      = errors.New("object not found")
	ErrAlreadyExists = errors.New("object already exists")
	ErrAccessDenied  = errors.New("storage access denied")
	ErrUnavailable   = errors.New("storage unavailable")
)

// classifyS3Error maps SDK errors onto the package sentinels
func classifyS3Error(err error, operation string) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s operation: %w", operation, err)
	}

	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return fmt.Errorf("%w: %s", ErrNotFound, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied":
			return fmt.Errorf("%w: %s operation", ErrAccessDenied, operation)
		case "NoSuchKey":
			return fmt.Errorf("%w: %s", ErrNotFound, err)
		case "PreconditionFailed":
			return fmt.Errorf("%w: %s operation", ErrAlreadyExists, operation)
		case "SlowDown", "ServiceUnavailable", "RequestTimeout", "NoSuchBucket":
			return fmt.Errorf("%w: %s operation (code: %s)", ErrUnavailable, operation, apiErr.ErrorCode())
		default:
			return fmt.Errorf("%s operation failed (code: %s): %w", operation, apiErr.ErrorCode(), err)
		}
	}

	return fmt.Errorf("%s operation failed: %w", operation, err)
}
