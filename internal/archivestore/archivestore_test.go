package archivestore

import (
	"context"
	"errors"
	"io"
	"regexp"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type putterStub struct {
	input   *s3.PutObjectInput
	body    []byte
	failure error
}

func (p *putterStub) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if p.failure != nil {
		return nil, p.failure
	}
	p.input = params
	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	p.body = body

	return &s3.PutObjectOutput{}, nil
}

func TestKey(t *testing.T) {
	key := Key(12, time.Date(2024, time.March, 5, 23, 0, 0, 0, time.UTC))

	assert.Regexp(t, regexp.MustCompile(`^imports/12/2024/03/05/[0-9a-f-]{36}\.zip$`), key)
	assert.NotEqual(t, key, Key(12, time.Date(2024, time.March, 5, 23, 0, 0, 0, time.UTC)))
}

func TestPut(t *testing.T) {
	stub := &putterStub{}
	store := newWithClient(stub, "geoplaces-archives")
	store.now = func() time.Time { return time.Date(2025, time.January, 2, 10, 0, 0, 0, time.UTC) }

	key, err := store.Put(context.Background(), 3, []byte("PK zip bytes"))
	require.NoError(t, err)

	assert.Contains(t, key, "imports/3/2025/01/02/")
	require.NotNil(t, stub.input)
	assert.Equal(t, "geoplaces-archives", aws.ToString(stub.input.Bucket))
	assert.Equal(t, key, aws.ToString(stub.input.Key))
	assert.Equal(t, "application/zip", aws.ToString(stub.input.ContentType))
	assert.Equal(t, int64(12), aws.ToInt64(stub.input.ContentLength))
	assert.Equal(t, "PK zip bytes", string(stub.body))
}

func TestPutFailure(t *testing.T) {
	store := newWithClient(&putterStub{failure: errors.New("access denied")}, "bucket")

	key, err := store.Put(context.Background(), 3, []byte("zip"))
	assert.Empty(t, key)
	assert.ErrorContains(t, err, "access denied")
}

func TestNewWithStaticCredentials(t *testing.T) {
	store, err := New(context.Background(), Settings{
		Bucket:    "bucket",
		Region:    "us-east-1",
		Endpoint:  "http://127.0.0.1:9000",
		AccessKey: "minio",
		SecretKey: "minio-secret",
	})
	require.NoError(t, err)
	assert.Equal(t, "bucket", store.bucket)
	assert.IsType(t, &s3.Client{}, store.client)
}
