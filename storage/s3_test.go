package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	objects map[string][]byte
	putErr  error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{Message: aws.String("no such key")}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func TestS3Exporter_ExportImport(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	x := NewS3Exporter(fake, "trees", "ferry")

	key, err := x.Export(ctx, sampleTree("tsg-1", "run-1"))
	require.NoError(t, err)
	assert.Equal(t, "ferry/tsg-1/run-1.json", key)
	assert.Contains(t, fake.objects, "trees/ferry/tsg-1/run-1.json")

	tree, err := x.Import(ctx, "tsg-1", "run-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", tree.Metadata.RunID)
	assert.Len(t, tree.AllRecords(), 2)
}

func TestS3Exporter_Errors(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	x := NewS3Exporter(fake, "trees", "ferry")

	_, err := x.Import(ctx, "tsg-1", "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	noRun := sampleTree("tsg-1", "")
	_, err = x.Export(ctx, noRun)
	assert.Error(t, err)

	fake.putErr = errors.New("access denied")
	_, err = x.Export(ctx, sampleTree("tsg-1", "run-2"))
	assert.ErrorContains(t, err, "access denied")
}

func TestS3Exporter_Key(t *testing.T) {
	x := NewS3Exporter(newFakeS3(), "b", "")
	assert.Equal(t, "tsg/run.json", x.Key("tsg", "run"))
	assert.Equal(t, "unknown/run.json", x.Key("", "run"))
}
