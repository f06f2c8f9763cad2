package s3

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/kirillkom/notation-ocr/internal/core/domain"
	"github.com/kirillkom/notation-ocr/internal/infrastructure/resilience"
)

// Presigner mints PUT URLs bound to one key, content type and AES256
// server-side encryption.
type Presigner struct {
	presign *awss3.PresignClient
	bucket  string
}

func NewPresigner(client *awss3.Client, bucket string) *Presigner {
	return &Presigner{
		presign: awss3.NewPresignClient(client),
		bucket:  bucket,
	}
}

func (p *Presigner) Bucket() string {
	return p.bucket
}

func (p *Presigner) PresignPut(ctx context.Context, key, contentType string, ttl time.Duration) (string, error) {
	req, err := p.presign.PresignPutObject(ctx, &awss3.PutObjectInput{
		Bucket:               aws.String(p.bucket),
		Key:                  aws.String(key),
		ContentType:          aws.String(contentType),
		ServerSideEncryption: types.ServerSideEncryptionAes256,
	}, awss3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("presign put object: %w", resilience.FromAWSError(domain.ServiceObjectStore, err))
	}
	return req.URL, nil
}
