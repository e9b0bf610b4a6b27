package upload

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"regexp"
	"strings"

	apperrors "github.com/alexjbarnes/hrchat/internal/errors"
	"github.com/alexjbarnes/hrchat/internal/models"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// keyPrefix namespaces chat attachments in the bucket.
const keyPrefix = "chat-files"

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// S3Config configures the S3 backend. Endpoint switches to path-style
// addressing for S3-compatible stores.
type S3Config struct {
	Region     string
	Bucket     string
	AccessKey  string
	SecretKey  string
	Endpoint   string
	PublicBase string
}

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3 uploads directly to a bucket. The descriptor id is the object key.
type S3 struct {
	cfg S3Config
	s3  objectPutter
}

// NewS3 creates an S3 backend from cfg, using static credentials when
// both keys are set and the default chain otherwise.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	if cfg.Region == "" || cfg.Bucket == "" {
		return nil, errors.New("s3 region and bucket are required")
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}

	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3{cfg: cfg, s3: client}, nil
}

// objectKey returns a collision-free key that keeps the file name
// readable.
func objectKey(fileName string) string {
	name := unsafeKeyChars.ReplaceAllString(fileName, "_")
	name = strings.Trim(name, "._")

	if name == "" {
		name = "file"
	}

	return path.Join(keyPrefix, uuid.NewString(), name)
}

// FileURL returns the public URL of key, or "" without a public base.
func (u *S3) FileURL(key string) string {
	if u.cfg.PublicBase == "" || key == "" {
		return ""
	}

	return strings.TrimRight(u.cfg.PublicBase, "/") + "/" + key
}

// Upload puts the file under a fresh key.
func (u *S3) Upload(ctx context.Context, localPath, fileName, mimeType string) (models.FileDescriptor, error) {
	fileName, mimeType = describe(localPath, fileName, mimeType)

	f, err := os.Open(localPath)
	if err != nil {
		return models.FileDescriptor{}, fmt.Errorf("%w: opening %s: %w", apperrors.ErrUploadFailed, localPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return models.FileDescriptor{}, fmt.Errorf("%w: stat %s: %w", apperrors.ErrUploadFailed, localPath, err)
	}

	key := objectKey(fileName)

	_, err = u.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.cfg.Bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentType:   aws.String(mimeType),
		ContentLength: aws.Int64(info.Size()),
	})
	if err != nil {
		return models.FileDescriptor{}, fmt.Errorf("%w: putting %s: %w", apperrors.ErrUploadFailed, key, err)
	}

	return models.FileDescriptor{
		ID:   key,
		Name: fileName,
		Type: mimeType,
		Size: info.Size(),
		URL:  u.FileURL(key),
	}, nil
}
