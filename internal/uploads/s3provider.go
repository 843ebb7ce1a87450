package uploads

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/nova-academy/backend/internal/models"
	"github.com/nova-academy/backend/pkg/storage"
)

// S3Provider is the generic object-store fallback. It negotiates a multipart
// upload session; the client streams parts directly against S3. File keys are
// opaque bucket paths (videos/{uploadId}/{filename}) with no provider prefix,
// which is the discriminator downstream subsystems rely on.
type S3Provider struct {
	s3     *storage.S3
	bucket string
	logger *zap.Logger
}

// NewS3Provider creates the S3 fallback provider. s3 may be nil when AWS is
// not configured; the provider then reports unavailable.
func NewS3Provider(s3 *storage.S3, logger *zap.Logger) *S3Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	bucket := ""
	if s3 != nil {
		bucket = s3.VideosBucket()
	}
	return &S3Provider{s3: s3, bucket: bucket, logger: logger}
}

// Name returns the provider tag used in session records.
func (p *S3Provider) Name() string { return models.ProviderS3 }

// IsAvailable reports whether the S3 client and bucket are configured.
func (p *S3Provider) IsAvailable() bool {
	return p.s3 != nil && p.bucket != ""
}

// InitVideoUpload opens a multipart upload session and returns the
// resumability parameters (multipart upload id, part size) for the client.
func (p *S3Provider) InitVideoUpload(ctx context.Context, payload InitPayload) (*InitResult, error) {
	if !p.IsAvailable() {
		return nil, fmt.Errorf("s3 provider not configured")
	}
	contentType := payload.MimeType
	if contentType == "" {
		contentType = storage.ContentTypeForFilename(payload.Filename)
	}
	key := storage.VideoKey(payload.UploadID, payload.Filename)
	multipartID, err := p.s3.CreateMultipartUpload(ctx, p.bucket, key, contentType)
	if err != nil {
		return nil, err
	}
	p.logger.Debug("s3 multipart upload opened",
		zap.String("key", key), zap.String("multipart_upload_id", multipartID))
	return &InitResult{
		FileKey:           key,
		Provider:          models.ProviderS3,
		MultipartUploadID: multipartID,
		PartSize:          p.s3.PartSize(),
	}, nil
}
