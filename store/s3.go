package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/cubist-project/cubist/cubisterr"
)

// S3Options configures an S3-compatible backend. Endpoint, AccessKey,
// and SecretKey default to the standard AWS_ENDPOINT_URL,
// AWS_ACCESS_KEY_ID, and AWS_SECRET_ACCESS_KEY environment variables
// when left empty, generalizing the static-credential, custom-endpoint,
// path-style session setup this system's S3 client lineage established
// against the legacy v1 SDK.
type S3Options struct {
	Bucket    string
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	// PathStyle forces path-style addressing (bucket in the URL path
	// rather than as a subdomain), required by most non-AWS S3-compatible
	// stores.
	PathStyle bool
	// MaxRetries bounds the exponential-backoff retry loop for
	// cubisterr.ErrNetworkError-classified failures. Zero uses the
	// default of 5.
	MaxRetries int
	// MaxUploadBytesPerSecond and MaxDownloadBytesPerSecond throttle PUT
	// and GET traffic respectively. Zero means unlimited.
	MaxUploadBytesPerSecond   int
	MaxDownloadBytesPerSecond int
}

// S3 is the production Backend, backed by an S3-compatible bucket.
type S3 struct {
	client     *s3.Client
	bucket     string
	maxRetries int
	uploadLim  *bandwidthLimiter
	downloadLim *bandwidthLimiter
}

// NewS3 builds an S3 Backend from opts, resolving unset credentials and
// endpoint from the environment.
func NewS3(ctx context.Context, opts S3Options) (*S3, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("%w: bucket is required", cubisterr.ErrBadConfig)
	}
	if opts.Region == "" {
		opts.Region = "us-east-1"
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 5
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	if opts.AccessKey != "" && opts.SecretKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: loading aws config: %v", cubisterr.ErrBadConfig, err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.PathStyle
	})

	return &S3{
		client:      client,
		bucket:      opts.Bucket,
		maxRetries:  opts.MaxRetries,
		uploadLim:   newBandwidthLimiter(opts.MaxUploadBytesPerSecond),
		downloadLim: newBandwidthLimiter(opts.MaxDownloadBytesPerSecond),
	}, nil
}

// retry runs f, retrying failures cubisterr.Retryable accepts with
// exponential backoff (100ms, 200ms, 400ms, ...) up to s.maxRetries
// times after the first attempt, generalized from this system's
// GCS-backend retry helper.
func (s *S3) retry(ctx context.Context, f func() error) error {
	var err error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		err = f()
		if err == nil {
			return nil
		}
		if !cubisterr.Retryable(err) || attempt == s.maxRetries {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(100<<attempt) * time.Millisecond):
		}
	}
	return err
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	var nf *types.NoSuchKey
	if errors.As(err, &nf) {
		return fmt.Errorf("%w: %v", cubisterr.ErrNotFound, err)
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.HTTPStatusCode() {
		case 404:
			return fmt.Errorf("%w: %v", cubisterr.ErrNotFound, err)
		case 401, 403:
			return fmt.Errorf("%w: %v", cubisterr.ErrAuthError, err)
		case 500, 502, 503, 504:
			return fmt.Errorf("%w: %v", cubisterr.ErrNetworkError, err)
		}
	}
	return fmt.Errorf("%w: %v", cubisterr.ErrNetworkError, err)
}

func (s *S3) Get(ctx context.Context, key string) ([]byte, error) {
	var body []byte
	err := s.retry(ctx, func() error {
		out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return classify(err)
		}
		defer out.Body.Close()
		body, err = io.ReadAll(s.downloadLim.wrap(out.Body))
		if err != nil {
			return fmt.Errorf("%w: %v", cubisterr.ErrNetworkError, err)
		}
		return nil
	})
	return body, err
}

func (s *S3) exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	classified := classify(err)
	if errors.Is(classified, cubisterr.ErrNotFound) {
		return false, nil
	}
	return false, classified
}

// PutIfAbsent checks for existence with HeadObject and then PUTs, since
// not every S3-compatible store honors If-None-Match on PutObject; per
// this is acceptable because content addressing makes a lost
// race harmless (both writers would upload byte-identical content).
func (s *S3) PutIfAbsent(ctx context.Context, key string, data []byte) (bool, error) {
	ok, err := s.exists(ctx, key)
	if err != nil {
		return false, err
	}
	if ok {
		return false, nil
	}
	if err := s.Put(ctx, key, data); err != nil {
		return false, err
	}
	return true, nil
}

func (s *S3) Put(ctx context.Context, key string, data []byte) error {
	return s.retry(ctx, func() error {
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
			Body:   s.uploadLim.wrap(bytes.NewReader(data)),
		})
		return classify(err)
	})
}

func (s *S3) Delete(ctx context.Context, key string) error {
	ok, err := s.exists(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", cubisterr.ErrNotFound, key)
	}
	return s.retry(ctx, func() error {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		return classify(err)
	})
}

func (s *S3) List(ctx context.Context, prefix string) (<-chan string, <-chan error) {
	keys := make(chan string)
	errs := make(chan error, 1)

	go func() {
		defer close(keys)
		defer close(errs)

		paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
			Bucket: aws.String(s.bucket),
			Prefix: aws.String(prefix),
		})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				errs <- classify(err)
				return
			}
			for _, obj := range page.Contents {
				select {
				case <-ctx.Done():
					errs <- ctx.Err()
					return
				case keys <- aws.ToString(obj.Key):
				}
			}
		}
	}()

	return keys, errs
}
