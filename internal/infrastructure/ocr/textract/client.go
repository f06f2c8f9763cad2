package textract

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awstextract "github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"

	"github.com/kirillkom/notation-ocr/internal/core/domain"
	"github.com/kirillkom/notation-ocr/internal/core/layout"
	"github.com/kirillkom/notation-ocr/internal/infrastructure/resilience"
)

const maxResultsPerPage = 1000

// API is the subset of the Textract client used for asynchronous detection.
type API interface {
	StartDocumentTextDetection(ctx context.Context, params *awstextract.StartDocumentTextDetectionInput, optFns ...func(*awstextract.Options)) (*awstextract.StartDocumentTextDetectionOutput, error)
	GetDocumentTextDetection(ctx context.Context, params *awstextract.GetDocumentTextDetectionInput, optFns ...func(*awstextract.Options)) (*awstextract.GetDocumentTextDetectionOutput, error)
}

type Client struct {
	api API
}

func New(api API) *Client {
	return &Client{api: api}
}

// StartJob submits the stored object for text detection. The request token is
// derived from the object location, so a retried start for the same upload
// returns the job Textract already created.
func (c *Client) StartJob(ctx context.Context, loc domain.StorageLocation) (string, error) {
	out, err := c.api.StartDocumentTextDetection(ctx, &awstextract.StartDocumentTextDetectionInput{
		DocumentLocation: &types.DocumentLocation{
			S3Object: &types.S3Object{
				Bucket: aws.String(loc.Bucket),
				Name:   aws.String(loc.Key),
			},
		},
		ClientRequestToken: aws.String(requestToken(loc)),
	})
	if err != nil {
		return "", fmt.Errorf("start document text detection: %w", resilience.FromAWSError(domain.ServiceOCR, err))
	}
	jobID := aws.ToString(out.JobId)
	if jobID == "" {
		return "", resilience.NewDependencyError(domain.ServiceOCR, "MissingJobId", 0, errors.New("textract returned no job id"))
	}
	return jobID, nil
}

func (c *Client) PollJob(ctx context.Context, jobID string) (domain.JobResult, error) {
	var fragments []domain.Fragment
	var nextToken *string
	for {
		out, err := c.api.GetDocumentTextDetection(ctx, &awstextract.GetDocumentTextDetectionInput{
			JobId:      aws.String(jobID),
			MaxResults: aws.Int32(maxResultsPerPage),
			NextToken:  nextToken,
		})
		if err != nil {
			return domain.JobResult{}, fmt.Errorf("get document text detection: %w", resilience.FromAWSError(domain.ServiceOCR, err))
		}

		switch out.JobStatus {
		case types.JobStatusInProgress:
			return domain.JobResult{Status: domain.JobInProgress}, nil
		case types.JobStatusFailed:
			msg := aws.ToString(out.StatusMessage)
			if msg == "" {
				msg = "text detection failed"
			}
			return domain.JobResult{}, domain.WrapError(domain.ErrJobFailed, "poll ocr job "+jobID, errors.New(msg))
		}

		fragments = append(fragments, lineFragments(out.Blocks)...)
		nextToken = out.NextToken
		if aws.ToString(nextToken) == "" {
			break
		}
	}

	text, confidence := layout.Assemble(fragments)
	return domain.JobResult{
		Status:     domain.JobSucceeded,
		Text:       text,
		Confidence: confidence,
		Fragments:  fragments,
	}, nil
}

// lineFragments keeps LINE blocks only; WORD and PAGE blocks repeat the same
// text at other granularities.
func lineFragments(blocks []types.Block) []domain.Fragment {
	out := make([]domain.Fragment, 0, len(blocks))
	for _, b := range blocks {
		if b.BlockType != types.BlockTypeLine {
			continue
		}
		text := strings.TrimSpace(aws.ToString(b.Text))
		if text == "" {
			continue
		}
		f := domain.Fragment{
			Text:       text,
			Confidence: float64(aws.ToFloat32(b.Confidence)),
		}
		if b.Geometry != nil && b.Geometry.BoundingBox != nil {
			box := b.Geometry.BoundingBox
			f.Box = &domain.BoundingBox{
				Left:   float64(box.Left),
				Top:    float64(box.Top),
				Width:  float64(box.Width),
				Height: float64(box.Height),
			}
		}
		out = append(out, f)
	}
	return out
}

func requestToken(loc domain.StorageLocation) string {
	sum := sha256.Sum256([]byte(loc.Bucket + "/" + loc.Key))
	return hex.EncodeToString(sum[:])
}
