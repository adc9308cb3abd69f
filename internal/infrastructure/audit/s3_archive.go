// Package audit archives finished transfers to S3-compatible object storage.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	app "github.com/vipm/backend/internal/application/fulfillment"
	"github.com/vipm/backend/internal/domain/fulfillment"
	"github.com/vipm/backend/internal/infrastructure/config"
)

var _ app.TransferArchiver = (*S3Archive)(nil)

// ErrBucketRequired is returned when the archive has no bucket configured
var ErrBucketRequired = errors.New("audit bucket is required")

// ObjectPutter is the subset of the S3 client the archive uses
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// TransferRecord is the JSON document stored for a finished transfer
type TransferRecord struct {
	TransferID       string     `json:"transferId"`
	ProductID        string     `json:"productId"`
	AuthorizationID  string     `json:"authorizationId"`
	SellerID         string     `json:"sellerId"`
	MembershipID     string     `json:"membershipId"`
	CustomerID       string     `json:"customerId,omitempty"`
	VendorTransferID string     `json:"vendorTransferId,omitempty"`
	PlatformOrderID  string     `json:"platformOrderId,omitempty"`
	Status           string     `json:"status"`
	RetryCount       int        `json:"retryCount"`
	VendorErrorCode  string     `json:"vendorErrorCode,omitempty"`
	ErrorDescription string     `json:"errorDescription,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	CompletedAt      *time.Time `json:"completedAt,omitempty"`
	SynchronizedAt   *time.Time `json:"synchronizedAt,omitempty"`
	ArchivedAt       time.Time  `json:"archivedAt"`
}

// NewTransferRecord snapshots a transfer for archiving
func NewTransferRecord(t *fulfillment.Transfer, archivedAt time.Time) TransferRecord {
	return TransferRecord{
		TransferID:       t.ID.String(),
		ProductID:        t.ProductID,
		AuthorizationID:  t.AuthorizationID,
		SellerID:         t.SellerID,
		MembershipID:     t.MembershipID,
		CustomerID:       t.CustomerID,
		VendorTransferID: t.TransferID,
		PlatformOrderID:  t.PlatformOrderID,
		Status:           string(t.Status),
		RetryCount:       t.RetryCount,
		VendorErrorCode:  t.VendorErrorCode,
		ErrorDescription: t.ErrorDescription,
		CreatedAt:        t.CreatedAt,
		CompletedAt:      t.CompletedAt,
		SynchronizedAt:   t.SynchronizedAt,
		ArchivedAt:       archivedAt,
	}
}

// S3Archive writes synchronized and failed transfers as JSON objects
type S3Archive struct {
	client ObjectPutter
	bucket string
	prefix string
	logger *zap.Logger
	now    func() time.Time
}

// S3ArchiveOption configures an S3Archive
type S3ArchiveOption func(*S3Archive)

// WithLogger sets a custom logger
func WithLogger(logger *zap.Logger) S3ArchiveOption {
	return func(a *S3Archive) {
		a.logger = logger
	}
}

// WithClock overrides the archive timestamp source
func WithClock(now func() time.Time) S3ArchiveOption {
	return func(a *S3Archive) {
		a.now = now
	}
}

// NewS3Archive creates an archive over an existing S3 client
func NewS3Archive(client ObjectPutter, bucket, prefix string, opts ...S3ArchiveOption) (*S3Archive, error) {
	if bucket == "" {
		return nil, ErrBucketRequired
	}
	a := &S3Archive{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// NewS3ArchiveFromConfig builds the S3 client from configuration. A custom
// endpoint selects an S3-compatible store such as MinIO.
func NewS3ArchiveFromConfig(ctx context.Context, cfg config.AuditConfig, opts ...S3ArchiveOption) (*S3Archive, error) {
	if cfg.Bucket == "" {
		return nil, ErrBucketRequired
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return NewS3Archive(client, cfg.Bucket, cfg.Prefix, opts...)
}

// Key returns the object key of a transfer's audit record
func (a *S3Archive) Key(t *fulfillment.Transfer) string {
	return path.Join(a.prefix, t.MembershipID, t.ID.String()+".json")
}

// ArchiveTransfer uploads the transfer's audit record. Transfers that have
// not reached synchronized or failed are ignored.
func (a *S3Archive) ArchiveTransfer(ctx context.Context, t *fulfillment.Transfer) error {
	if t.Status != fulfillment.TransferStatusSynchronized && t.Status != fulfillment.TransferStatusFailed {
		return nil
	}

	body, err := json.Marshal(NewTransferRecord(t, a.now().UTC()))
	if err != nil {
		return fmt.Errorf("failed to encode transfer record: %w", err)
	}

	key := a.Key(t)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		a.logger.Error("Failed to archive transfer",
			zap.String("transfer_id", t.ID.String()),
			zap.String("key", key),
			zap.Error(err),
		)
		return fmt.Errorf("failed to upload transfer record: %w", err)
	}

	a.logger.Debug("Transfer archived",
		zap.String("transfer_id", t.ID.String()),
		zap.String("status", string(t.Status)),
		zap.String("key", key),
	)
	return nil
}
