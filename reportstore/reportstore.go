// Package reportstore archives generated CPR report snapshots to object
// storage, one JSON document per generation, keyed by program, format,
// and timestamp. The S3 client is an interface so tests inject a mock
// and deployments point at AWS, MinIO, or any S3-compatible endpoint.
package reportstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"ironclad.dev/dpm/apperrors"
)

// S3Client is the subset of the AWS SDK S3 client the archive needs.
type S3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Format names an archived report flavor.
type Format string

const (
	FormatCPR1 Format = "cpr-format1"
	FormatCPR3 Format = "cpr-format3"
	FormatCPR5 Format = "cpr-format5"
)

// Archive stores report snapshots in one bucket.
type Archive struct {
	client S3Client
	bucket string
}

// New wraps an existing client, the injection point for tests.
func New(client S3Client, bucket string) *Archive {
	return &Archive{client: client, bucket: bucket}
}

// NewFromConfig builds an Archive against a live endpoint using the
// default AWS credential chain; static keys override it when provided
// (MinIO and other self-hosted endpoints).
func NewFromConfig(ctx context.Context, endpoint, region, accessKey, secretKey, bucket string) (*Archive, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if accessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return New(client, bucket), nil
}

func key(programID uuid.UUID, format Format, generatedAt time.Time) string {
	return fmt.Sprintf("programs/%s/reports/%s/%s.json",
		programID, format, generatedAt.UTC().Format("2006-01-02T15-04-05Z"))
}

// Put archives one report snapshot and returns its object key.
func (a *Archive) Put(ctx context.Context, programID uuid.UUID, format Format, generatedAt time.Time, report interface{}) (string, error) {
	data, err := json.Marshal(report)
	if err != nil {
		return "", fmt.Errorf("failed to marshal report: %w", err)
	}
	objectKey := key(programID, format, generatedAt)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(objectKey),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", apperrors.Transient("failed to archive report", err)
	}
	return objectKey, nil
}

// Get retrieves an archived snapshot into out.
func (a *Archive) Get(ctx context.Context, objectKey string, out interface{}) error {
	res, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		return apperrors.NotFound("archived report not found")
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return apperrors.Transient("failed to read archived report", err)
	}
	return json.Unmarshal(data, out)
}

// List returns the object keys archived for a program and format, newest
// first.
func (a *Archive) List(ctx context.Context, programID uuid.UUID, format Format) ([]string, error) {
	prefix := fmt.Sprintf("programs/%s/reports/%s/", programID, format)
	var keys []string
	var token *string
	for {
		res, err := a.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(a.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, apperrors.Transient("failed to list archived reports", err)
		}
		for _, obj := range res.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
		if res.NextContinuationToken == nil {
			break
		}
		token = res.NextContinuationToken
	}
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))
	return keys, nil
}
