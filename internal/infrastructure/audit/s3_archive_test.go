package audit

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/vipm/backend/internal/domain/fulfillment"
	"github.com/vipm/backend/internal/infrastructure/config"
)

type MockObjectPutter struct {
	mock.Mock
}

func (m *MockObjectPutter) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	args := m.Called(ctx, params)
	if out := args.Get(0); out != nil {
		return out.(*s3.PutObjectOutput), args.Error(1)
	}
	return nil, args.Error(1)
}

var archivedAt = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newArchivedTransfer(t *testing.T, status fulfillment.TransferStatus) *fulfillment.Transfer {
	t.Helper()
	transfer, err := fulfillment.NewTransfer("PRD-1", "AUTH-1", "SELLER-1", "M-1")
	require.NoError(t, err)
	transfer.Status = status
	transfer.CustomerID = "CUST-1"
	transfer.TransferID = "VT-1"
	return transfer
}

func TestNewS3Archive_RequiresBucket(t *testing.T) {
	archive, err := NewS3Archive(&MockObjectPutter{}, "", "transfers")
	assert.ErrorIs(t, err, ErrBucketRequired)
	assert.Nil(t, archive)

	archive, err = NewS3ArchiveFromConfig(context.Background(), config.AuditConfig{Region: "us-east-1"})
	assert.ErrorIs(t, err, ErrBucketRequired)
	assert.Nil(t, archive)
}

func TestS3Archive_Key(t *testing.T) {
	transfer := newArchivedTransfer(t, fulfillment.TransferStatusFailed)

	tests := []struct {
		prefix string
		want   string
	}{
		{prefix: "transfers", want: "transfers/M-1/" + transfer.ID.String() + ".json"},
		{prefix: "/audit/transfers/", want: "audit/transfers/M-1/" + transfer.ID.String() + ".json"},
		{prefix: "", want: "M-1/" + transfer.ID.String() + ".json"},
	}

	for _, tt := range tests {
		t.Run(tt.prefix, func(t *testing.T) {
			archive, err := NewS3Archive(&MockObjectPutter{}, "vipm-audit", tt.prefix)
			require.NoError(t, err)
			assert.Equal(t, tt.want, archive.Key(transfer))
		})
	}
}

func TestS3Archive_ArchiveTransfer(t *testing.T) {
	t.Run("uploads final transfers", func(t *testing.T) {
		for _, status := range []fulfillment.TransferStatus{fulfillment.TransferStatusSynchronized, fulfillment.TransferStatusFailed} {
			transfer := newArchivedTransfer(t, status)
			putter := &MockObjectPutter{}
			archive, err := NewS3Archive(putter, "vipm-audit", "transfers",
				WithLogger(zaptest.NewLogger(t)),
				WithClock(func() time.Time { return archivedAt }),
			)
			require.NoError(t, err)

			var uploaded TransferRecord
			putter.On("PutObject", mock.Anything, mock.MatchedBy(func(in *s3.PutObjectInput) bool {
				return *in.Bucket == "vipm-audit" &&
					*in.Key == archive.Key(transfer) &&
					*in.ContentType == "application/json"
			})).Run(func(args mock.Arguments) {
				body, err := io.ReadAll(args.Get(1).(*s3.PutObjectInput).Body)
				require.NoError(t, err)
				require.NoError(t, json.Unmarshal(body, &uploaded))
			}).Return(&s3.PutObjectOutput{}, nil).Once()

			require.NoError(t, archive.ArchiveTransfer(context.Background(), transfer))

			putter.AssertExpectations(t)
			assert.Equal(t, transfer.ID.String(), uploaded.TransferID)
			assert.Equal(t, string(status), uploaded.Status)
			assert.Equal(t, "VT-1", uploaded.VendorTransferID)
			assert.True(t, archivedAt.Equal(uploaded.ArchivedAt))
		}
	})

	t.Run("ignores transfers still in flight", func(t *testing.T) {
		putter := &MockObjectPutter{}
		archive, err := NewS3Archive(putter, "vipm-audit", "transfers")
		require.NoError(t, err)

		for _, status := range []fulfillment.TransferStatus{
			fulfillment.TransferStatusPending,
			fulfillment.TransferStatusRunning,
			fulfillment.TransferStatusProcessed,
		} {
			assert.NoError(t, archive.ArchiveTransfer(context.Background(), newArchivedTransfer(t, status)))
		}
		putter.AssertNotCalled(t, "PutObject", mock.Anything, mock.Anything)
	})

	t.Run("upload error is returned", func(t *testing.T) {
		putter := &MockObjectPutter{}
		putter.On("PutObject", mock.Anything, mock.Anything).Return(nil, errors.New("access denied"))
		archive, err := NewS3Archive(putter, "vipm-audit", "transfers")
		require.NoError(t, err)

		err = archive.ArchiveTransfer(context.Background(), newArchivedTransfer(t, fulfillment.TransferStatusFailed))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "access denied")
	})
}

func TestNewS3ArchiveFromConfig_PathStyleEndpoint(t *testing.T) {
	var (
		mu       sync.Mutex
		requests []string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		mu.Lock()
		requests = append(requests, r.Method+" "+r.URL.Path)
		mu.Unlock()
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	archive, err := NewS3ArchiveFromConfig(context.Background(), config.AuditConfig{
		Enabled:         true,
		Bucket:          "vipm-audit",
		Region:          "us-east-1",
		Endpoint:        server.URL,
		AccessKeyID:     "test-key",
		SecretAccessKey: "test-secret",
		Prefix:          "transfers",
		UsePathStyle:    true,
	})
	require.NoError(t, err)

	transfer := newArchivedTransfer(t, fulfillment.TransferStatusSynchronized)
	require.NoError(t, archive.ArchiveTransfer(context.Background(), transfer))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"PUT /vipm-audit/transfers/M-1/" + transfer.ID.String() + ".json"}, requests)
}
