package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"

	"dfs-go/internal/dfs"
)

// cidMetadataKey is the object metadata field in which S3-compatible IPFS
// pinning services (Filebase and similar) report the content id.
const cidMetadataKey = "cid"

type objectUploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

type objectHeader interface {
	HeadObject(ctx context.Context, input *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3Store pins by uploading to an IPFS-backed S3-compatible bucket and reads
// the assigned content id back from the object's metadata.
type S3Store struct {
	*Gateway
	uploader objectUploader
	header   objectHeader
	bucket   string
	prefix   string
}

// S3Options configures NewS3Store.
type S3Options struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// NewS3Store builds the S3 client. With no static keys the default AWS
// credential chain is used.
func NewS3Store(ctx context.Context, opts S3Options, gateway *Gateway) (*S3Store, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 store requires s3_bucket to be set")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	return newS3Store(manager.NewUploader(client), client, opts.Bucket, opts.Prefix, gateway), nil
}

func newS3Store(uploader objectUploader, header objectHeader, bucket, prefix string, gateway *Gateway) *S3Store {
	return &S3Store{
		Gateway:  gateway,
		uploader: uploader,
		header:   header,
		bucket:   bucket,
		prefix:   prefix,
	}
}

// Pin uploads data under a fresh key and returns the content id the service
// attached to the object.
func (s *S3Store) Pin(ctx context.Context, fileName string, data []byte) (string, error) {
	key := path.Join(s.prefix, uuid.New().String()+"-"+path.Base(fileName))

	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(http.DetectContentType(data)),
	})
	if err != nil {
		return "", dfs.NewError(classifyS3(err), dfs.OpPin, fmt.Errorf("uploading %s: %w", key, err))
	}

	head, err := s.header.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", dfs.NewError(classifyS3(err), dfs.OpPin, fmt.Errorf("reading metadata of %s: %w", key, err))
	}

	contentID := head.Metadata[cidMetadataKey]
	if contentID == "" {
		return "", dfs.Errorf(dfs.KindStoreRejected, dfs.OpPin, "object %s carries no %q metadata", key, cidMetadataKey)
	}
	return contentID, nil
}

// classifyS3 maps request failures: 4xx answers are rejections (auth,
// size, bucket policy), anything else means the service was unreachable or
// failed.
func classifyS3(err error) dfs.Kind {
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		status := respErr.HTTPStatusCode()
		if status >= 400 && status < 500 && status != http.StatusRequestTimeout && status != http.StatusTooManyRequests {
			return dfs.KindStoreRejected
		}
		return dfs.KindStoreUnavailable
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorFault() == smithy.FaultClient {
		return dfs.KindStoreRejected
	}
	return dfs.KindStoreUnavailable
}

var _ dfs.ContentStore = (*S3Store)(nil)
