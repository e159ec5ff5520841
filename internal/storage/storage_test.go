package storage

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/drip-engine/internal/config"
	"github.com/ignite/drip-engine/internal/domain"
)

func snapshot(id string, at time.Time, sent int64) domain.CampaignMetrics {
	return domain.CampaignMetrics{
		CampaignID: id,
		Status:     domain.CampaignActive,
		TotalSent:  sent,
		OpenRate:   12.5,
		ComputedAt: at,
	}
}

func TestNewLocal(t *testing.T) {
	s, err := New(context.Background(), config.StorageConfig{Type: "local", LocalPath: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &LocalStore{}, s)

	s, err = New(context.Background(), config.StorageConfig{Type: "none"})
	require.NoError(t, err)
	assert.Nil(t, s)

	_, err = New(context.Background(), config.StorageConfig{Type: "ftp"})
	assert.Error(t, err)
}

func TestLocalStoreSaveAndLatest(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	_, err = s.Latest(ctx, "c1")
	assert.ErrorIs(t, err, ErrNotFound)

	t0 := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.Save(ctx, snapshot("c1", t0, 10)))
	require.NoError(t, s.Save(ctx, snapshot("c1", t0.Add(time.Hour), 15)))

	latest, err := s.Latest(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(15), latest.TotalSent)
	assert.True(t, latest.ComputedAt.Equal(t0.Add(time.Hour)))

	names, err := s.History("c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"20250303T090000.json", "20250303T100000.json"}, names)

	names, err = s.History("unknown")
	require.NoError(t, err)
	assert.Empty(t, names)
}

type fakeS3 struct {
	keys   []string
	bodies [][]byte
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, _ := io.ReadAll(in.Body)
	f.keys = append(f.keys, aws.ToString(in.Key))
	f.bodies = append(f.bodies, body)
	return &s3.PutObjectOutput{}, nil
}

type fakeDynamo struct {
	items map[string]map[string]types.AttributeValue
}

func itemKey(pk, sk types.AttributeValue) string {
	return pk.(*types.AttributeValueMemberS).Value + "|" + sk.(*types.AttributeValueMemberS).Value
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if f.items == nil {
		f.items = map[string]map[string]types.AttributeValue{}
	}
	f.items[itemKey(in.Item["PK"], in.Item["SK"])] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	return &dynamodb.GetItemOutput{Item: f.items[itemKey(in.Key["PK"], in.Key["SK"])]}, nil
}

func TestAWSStore(t *testing.T) {
	ctx := context.Background()
	db := &fakeDynamo{}
	bucket := &fakeS3{}
	s := NewAWSStoreWithClients(db, bucket, "drip-metrics", "drip-archive")

	_, err := s.Latest(ctx, "c1")
	assert.ErrorIs(t, err, ErrNotFound)

	at := time.Date(2025, 3, 3, 9, 30, 0, 0, time.UTC)
	require.NoError(t, s.Save(ctx, snapshot("c1", at, 42)))

	assert.Equal(t, []string{"snapshots/c1/2025/03/03/093000.json"}, bucket.keys)
	assert.Contains(t, string(bucket.bodies[0]), `"total_sent": 42`)

	require.Len(t, db.items, 2)
	history := db.items["campaign#c1|2025-03-03T09:30:00Z"]
	require.NotNil(t, history)
	assert.Equal(t, &types.AttributeValueMemberN{Value: "1748770200"}, history["TTL"])
	_, hasTTL := db.items["campaign#c1|LATEST"]["TTL"]
	assert.False(t, hasTTL)

	latest, err := s.Latest(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "c1", latest.CampaignID)
	assert.Equal(t, int64(42), latest.TotalSent)
	assert.Equal(t, 12.5, latest.OpenRate)
	assert.True(t, latest.ComputedAt.Equal(at))
}
