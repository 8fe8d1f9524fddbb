// Package s3 implements the content broker on Amazon S3 or S3-compatible
// storage.
//
// Downloads are brokered with presigned GetObject URLs: the object bytes
// flow directly between the client and S3, and the URL expires on its
// own, so an issued grant needs no server-side revocation path.
package s3

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/wardenfs/warden/pkg/content"
)

// DefaultURLExpiry is how long a signed download URL stays valid when no
// expiry is configured.
const DefaultURLExpiry = 5 * time.Minute

// S3Broker issues presigned download URLs and removes objects from an S3
// bucket. It is safe for concurrent use.
type S3Broker struct {
	client    *s3.Client
	presigner *s3.PresignClient
	bucket    string
	keyPrefix string
	urlExpiry time.Duration
}

// S3BrokerConfig contains configuration for the S3 content broker.
type S3BrokerConfig struct {
	// Client is the configured S3 client (required).
	Client *s3.Client

	// Bucket is the S3 bucket name (required).
	Bucket string

	// KeyPrefix is an optional prefix applied to every object key.
	KeyPrefix string

	// URLExpiry is the validity window of signed URLs. Zero means
	// DefaultURLExpiry.
	URLExpiry time.Duration
}

// NewS3Broker creates an S3-backed content broker and verifies bucket
// access. The bucket must already exist.
func NewS3Broker(ctx context.Context, cfg S3BrokerConfig) (*S3Broker, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if cfg.Client == nil {
		return nil, fmt.Errorf("S3 client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}

	urlExpiry := cfg.URLExpiry
	if urlExpiry == 0 {
		urlExpiry = DefaultURLExpiry
	}

	_, err := cfg.Client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(cfg.Bucket),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to access bucket %q: %w", cfg.Bucket, err)
	}

	return &S3Broker{
		client:    cfg.Client,
		presigner: s3.NewPresignClient(cfg.Client),
		bucket:    cfg.Bucket,
		keyPrefix: cfg.KeyPrefix,
		urlExpiry: urlExpiry,
	}, nil
}

func (b *S3Broker) objectKey(storagePath string) string {
	if b.keyPrefix != "" {
		return b.keyPrefix + storagePath
	}
	return storagePath
}

// SignedDownloadURL presigns a GetObject request for the object.
//
// Presigning is a local signature computation and does not verify that
// the object exists; the metadata tree is the source of truth for that.
// When a filename is given, the URL forces an attachment download under
// that name.
func (b *S3Broker) SignedDownloadURL(ctx context.Context, req content.SignedURLRequest) (*content.SignedURL, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	input := &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.objectKey(req.StoragePath)),
	}
	if req.Filename != "" {
		input.ResponseContentDisposition = aws.String(
			fmt.Sprintf("attachment; filename=%q", req.Filename),
		)
	}

	presigned, err := b.presigner.PresignGetObject(ctx, input, s3.WithPresignExpires(b.urlExpiry))
	if err != nil {
		return nil, fmt.Errorf("failed to presign download for %s: %w", req.StoragePath, err)
	}

	return &content.SignedURL{
		URL:       presigned.URL,
		ExpiresAt: time.Now().Add(b.urlExpiry),
	}, nil
}

// RemoveObjects deletes the objects in batches of up to 1000 keys, the S3
// per-request maximum, and reports per-path failures.
func (b *S3Broker) RemoveObjects(ctx context.Context, storagePaths []string) map[string]error {
	failures := make(map[string]error)

	const maxBatchSize = 1000

	for i := 0; i < len(storagePaths); i += maxBatchSize {
		if err := ctx.Err(); err != nil {
			for _, path := range storagePaths[i:] {
				failures[path] = err
			}
			return failures
		}

		end := i + maxBatchSize
		if end > len(storagePaths) {
			end = len(storagePaths)
		}
		batch := storagePaths[i:end]

		objects := make([]types.ObjectIdentifier, len(batch))
		keyToPath := make(map[string]string, len(batch))
		for j, path := range batch {
			key := b.objectKey(path)
			objects[j] = types.ObjectIdentifier{Key: aws.String(key)}
			keyToPath[key] = path
		}

		result, err := b.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(b.bucket),
			Delete: &types.Delete{
				Objects: objects,
				Quiet:   aws.Bool(true),
			},
		})
		if err != nil {
			for _, path := range batch {
				failures[path] = err
			}
			continue
		}

		for _, deleteErr := range result.Errors {
			if deleteErr.Key == nil {
				continue
			}
			path, ok := keyToPath[*deleteErr.Key]
			if !ok {
				continue
			}

			msg := "unknown error"
			if deleteErr.Code != nil && deleteErr.Message != nil {
				msg = fmt.Sprintf("%s: %s", *deleteErr.Code, *deleteErr.Message)
			}
			failures[path] = fmt.Errorf("%s", msg)
		}
	}

	return failures
}
