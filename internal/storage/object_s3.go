package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"storepulse/pkg/logger"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"
)

var ErrObjectNotFound = errors.New("object not found")

// ObjectStore reads uploaded media from an S3-compatible bucket.
type ObjectStore struct {
	client *s3.Client
	bucket string
}

func NewObjectStore(endpoint, accessKey, secretKey, bucket, region string) (*ObjectStore, error) {
	customResolver := aws.EndpointResolverWithOptionsFunc(
		func(service, reg string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{
				URL:           endpoint,
				SigningRegion: region,
			}, nil
		})

	cfg, err := awsconfig.LoadDefaultConfig(
		context.TODO(),
		awsconfig.WithEndpointResolverWithOptions(customResolver),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		),
		awsconfig.WithRegion(region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load S3 config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})

	logger.Info("Object storage initialized", zap.String("bucket", bucket))

	return &ObjectStore{
		client: client,
		bucket: bucket,
	}, nil
}

// DownloadTo streams the object at key into w.
func (s *ObjectStore) DownloadTo(ctx context.Context, key string, w io.Writer) error {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NoSuchKey" {
			return fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		return fmt.Errorf("failed to download object: %w", err)
	}
	defer result.Body.Close()

	n, err := io.Copy(w, result.Body)
	if err != nil {
		return fmt.Errorf("failed to read object: %w", err)
	}

	logger.Debug("Object downloaded",
		zap.String("key", key),
		zap.Int64("size", n))

	return nil
}
