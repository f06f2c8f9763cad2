package resilience

import (
	"errors"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/smithy-go"

	"github.com/kirillkom/notation-ocr/internal/core/domain"
)

// FromAWSError converts an AWS SDK failure into a classified DependencyError.
func FromAWSError(service domain.Service, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := domain.AsDependencyError(err); ok {
		return err
	}

	var code string
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code = apiErr.ErrorCode()
	}

	var status int
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		status = respErr.HTTPStatusCode()
	}

	return NewDependencyError(service, code, status, err)
}
