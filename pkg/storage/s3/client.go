package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"go.uber.org/multierr"

	"github.com/angelmondragon/contentcms/pkg/config"
	"github.com/angelmondragon/contentcms/pkg/enums"
	pkgerrors "github.com/angelmondragon/contentcms/pkg/errors"
	"github.com/angelmondragon/contentcms/pkg/logger"
)

// maxDeleteBatch is the S3 limit for keys per DeleteObjects request.
const maxDeleteBatch = 1000

// ErrObjectNotFound is returned when the requested key does not exist.
var ErrObjectNotFound = errors.New("object not found")

type api interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	PutObjectAcl(ctx context.Context, params *s3.PutObjectAclInput, optFns ...func(*s3.Options)) (*s3.PutObjectAclOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	PutBucketCors(ctx context.Context, params *s3.PutBucketCorsInput, optFns ...func(*s3.Options)) (*s3.PutBucketCorsOutput, error)
}

// Client is the object store gateway for a single bucket.
type Client struct {
	api    api
	bucket string
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// ObjectMeta describes a stored object without its body.
type ObjectMeta struct {
	Key          string
	Size         int64
	ContentType  string
	ETag         string
	LastModified time.Time
	Metadata     map[string]string
}

// Object is a fetched object with its body fully read.
type Object struct {
	ObjectMeta
	Body []byte
}

// PutInput describes an upload.
type PutInput struct {
	Key         string
	Body        []byte
	ContentType string
	Policy      enums.FilePolicy
	Metadata    map[string]string
}

type CORSRule struct {
	AllowedOrigins []string `json:"allowed_origins" validate:"required,min=1"`
	AllowedMethods []string `json:"allowed_methods" validate:"required,min=1,dive,oneof=GET PUT POST DELETE HEAD"`
	AllowedHeaders []string `json:"allowed_headers"`
	ExposeHeaders  []string `json:"expose_headers"`
	MaxAgeSeconds  int      `json:"max_age_seconds" validate:"gte=0"`
}

// New builds a client for cfg.Bucket and verifies the bucket is reachable.
func New(ctx context.Context, cfg config.S3Config, logg *logger.Logger) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	raw := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	client := &Client{api: raw, bucket: cfg.Bucket}
	if err := client.Ping(ctx); err != nil {
		return nil, fmt.Errorf("s3 health check failed: %w", err)
	}

	if logg != nil {
		logg.Info(logg.WithField(ctx, "bucket", cfg.Bucket), "s3 client initialized")
	}
	return client, nil
}

func newWithAPI(a api, bucket string) *Client {
	return &Client{api: a, bucket: bucket}
}

func (c *Client) Bucket() string {
	return c.bucket
}

// Ping checks that the bucket exists and is accessible.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.api == nil {
		return errors.New("s3 client not initialized")
	}
	_, err := c.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)})
	return err
}

// HeadObject returns ErrObjectNotFound when key is absent.
func (c *Client) HeadObject(ctx context.Context, key string) (*ObjectMeta, error) {
	out, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, storageError(err, "head object", key)
	}
	return &ObjectMeta{
		Key:          key,
		Size:         aws.ToInt64(out.ContentLength),
		ContentType:  aws.ToString(out.ContentType),
		ETag:         aws.ToString(out.ETag),
		LastModified: aws.ToTime(out.LastModified),
		Metadata:     copyMetadata(out.Metadata),
	}, nil
}

// GetObject fetches key and reads the whole body.
func (c *Client) GetObject(ctx context.Context, key string) (*Object, error) {
	out, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, storageError(err, "get object", key)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("read object %s", key))
	}
	return &Object{
		ObjectMeta: ObjectMeta{
			Key:          key,
			Size:         int64(len(body)),
			ContentType:  aws.ToString(out.ContentType),
			ETag:         aws.ToString(out.ETag),
			LastModified: aws.ToTime(out.LastModified),
			Metadata:     copyMetadata(out.Metadata),
		},
		Body: body,
	}, nil
}

func (c *Client) PutObject(ctx context.Context, in PutInput) error {
	if strings.TrimSpace(in.Key) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "object key is required")
	}
	_, err := c.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(in.Key),
		Body:          bytes.NewReader(in.Body),
		ContentLength: aws.Int64(int64(len(in.Body))),
		ContentType:   aws.String(in.ContentType),
		ACL:           CannedACL(in.Policy),
		Metadata:      copyMetadata(in.Metadata),
	})
	if err != nil {
		return storageError(err, "put object", in.Key)
	}
	return nil
}

// PutObjectACL applies the canned ACL matching policy to key.
func (c *Client) PutObjectACL(ctx context.Context, key string, policy enums.FilePolicy) error {
	_, err := c.api.PutObjectAcl(ctx, &s3.PutObjectAclInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
		ACL:    CannedACL(policy),
	})
	if err != nil {
		return storageError(err, "put object acl", key)
	}
	return nil
}

// DeleteObject removes key. Deleting a missing key succeeds.
func (c *Client) DeleteObject(ctx context.Context, key string) error {
	_, err := c.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil && !isNotFound(err) {
		return storageError(err, "delete object", key)
	}
	return nil
}

// DeleteObjects removes keys in batches and returns the keys that could not be deleted
// together with every request or per-key error.
func (c *Client) DeleteObjects(ctx context.Context, keys []string) ([]string, error) {
	var (
		failed []string
		errs   error
	)
	for start := 0; start < len(keys); start += maxDeleteBatch {
		end := min(start+maxDeleteBatch, len(keys))
		batch := keys[start:end]

		ids := make([]types.ObjectIdentifier, 0, len(batch))
		for _, key := range batch {
			ids = append(ids, types.ObjectIdentifier{Key: aws.String(key)})
		}

		out, err := c.api.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(c.bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			failed = append(failed, batch...)
			errs = multierr.Append(errs, storageError(err, "delete objects", batch[0]))
			continue
		}
		for _, e := range out.Errors {
			code := aws.ToString(e.Code)
			if code == "NoSuchKey" || code == "NotFound" {
				continue
			}
			key := aws.ToString(e.Key)
			failed = append(failed, key)
			errs = multierr.Append(errs, pkgerrors.New(pkgerrors.CodeDependency,
				fmt.Sprintf("delete %s: %s: %s", key, code, aws.ToString(e.Message))))
		}
	}
	return failed, errs
}

// ListObjects returns up to max objects under prefix. max <= 0 lists everything.
func (c *Client) ListObjects(ctx context.Context, prefix string, max int) ([]ObjectMeta, error) {
	paginator := s3.NewListObjectsV2Paginator(c.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(prefix),
	})

	var out []ObjectMeta
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, storageError(err, "list objects", prefix)
		}
		for _, obj := range page.Contents {
			out = append(out, ObjectMeta{
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				ETag:         aws.ToString(obj.ETag),
				LastModified: aws.ToTime(obj.LastModified),
			})
			if max > 0 && len(out) >= max {
				return out, nil
			}
		}
	}
	return out, nil
}

// PutBucketCORS replaces the bucket CORS configuration.
func (c *Client) PutBucketCORS(ctx context.Context, rules []CORSRule) error {
	if len(rules) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "at least one cors rule is required")
	}
	corsRules := make([]types.CORSRule, 0, len(rules))
	for _, r := range rules {
		rule := types.CORSRule{
			AllowedOrigins: r.AllowedOrigins,
			AllowedMethods: r.AllowedMethods,
			AllowedHeaders: r.AllowedHeaders,
			ExposeHeaders:  r.ExposeHeaders,
		}
		if r.MaxAgeSeconds > 0 {
			rule.MaxAgeSeconds = aws.Int32(int32(r.MaxAgeSeconds))
		}
		corsRules = append(corsRules, rule)
	}
	_, err := c.api.PutBucketCors(ctx, &s3.PutBucketCorsInput{
		Bucket:            aws.String(c.bucket),
		CORSConfiguration: &types.CORSConfiguration{CORSRules: corsRules},
	})
	if err != nil {
		return storageError(err, "put bucket cors", c.bucket)
	}
	return nil
}

// CannedACL maps a file policy onto the S3 canned ACL.
func CannedACL(policy enums.FilePolicy) types.ObjectCannedACL {
	if policy == enums.FilePolicyPublicRead {
		return types.ObjectCannedACLPublicRead
	}
	return types.ObjectCannedACLPrivate
}

func storageError(err error, op, key string) error {
	if isNotFound(err) {
		return fmt.Errorf("%s %s: %w", op, key, ErrObjectNotFound)
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("s3 %s %s", op, key))
}

func isNotFound(err error) bool {
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}

func copyMetadata(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
