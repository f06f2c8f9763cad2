package s3

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
)

func TestPresignPutScopesURLToKey(t *testing.T) {
	client := awss3.New(awss3.Options{
		Region:      "us-east-1",
		Credentials: credentials.NewStaticCredentialsProvider("AKIDEXAMPLE", "secret", ""),
	})
	presigner := NewPresigner(client, "notation-bucket")

	raw, err := presigner.PresignPut(context.Background(), "notation-uploads/wf-1/1718000000000-a.jpg", "image/jpeg", 5*time.Minute)
	if err != nil {
		t.Fatalf("PresignPut() error = %v", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse presigned url: %v", err)
	}
	if !strings.HasSuffix(u.Path, "/notation-uploads/wf-1/1718000000000-a.jpg") {
		t.Fatalf("url not scoped to key: %s", u.Path)
	}
	q := u.Query()
	if q.Get("X-Amz-Expires") != "300" {
		t.Fatalf("expected 300 second expiry, got %q", q.Get("X-Amz-Expires"))
	}
	signed := q.Get("X-Amz-SignedHeaders")
	if !strings.Contains(signed, "content-type") || !strings.Contains(signed, "x-amz-server-side-encryption") {
		t.Fatalf("content type and encryption must be signed, got %q", signed)
	}
}
