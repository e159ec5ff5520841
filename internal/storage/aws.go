package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ignite/drip-engine/internal/domain"
)

const (
	latestSK   = "LATEST"
	historyTTL = 90 * 24 * time.Hour
)

// S3API is the subset of the S3 client used here.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// DynamoAPI is the subset of the DynamoDB client used here.
type DynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// AWSStore archives every snapshot to S3 and keeps a time-series of items
// in DynamoDB under PK "campaign#<id>": one per snapshot with a 90 day TTL
// and one with SK "LATEST" that is overwritten.
type AWSStore struct {
	dynamoDB  DynamoAPI
	s3Client  S3API
	tableName string
	bucket    string
}

// snapshotItem is the DynamoDB item layout. The metrics fields are
// flattened into the item.
type snapshotItem struct {
	PK  string `dynamodbav:"PK"`
	SK  string `dynamodbav:"SK"`
	TTL int64  `dynamodbav:"TTL,omitempty"`
	domain.CampaignMetrics
}

// NewAWSStore loads the default AWS config for region (and profile, if set).
func NewAWSStore(ctx context.Context, tableName, bucket, region, profile string) (*AWSStore, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return NewAWSStoreWithClients(dynamodb.NewFromConfig(cfg), s3.NewFromConfig(cfg), tableName, bucket), nil
}

// NewAWSStoreWithClients builds a store on existing clients.
func NewAWSStoreWithClients(db DynamoAPI, s3c S3API, tableName, bucket string) *AWSStore {
	return &AWSStore{dynamoDB: db, s3Client: s3c, tableName: tableName, bucket: bucket}
}

func (s *AWSStore) Save(ctx context.Context, m domain.CampaignMetrics) error {
	at := m.ComputedAt.UTC()
	if s.bucket != "" {
		key := fmt.Sprintf("snapshots/%s/%s/%s.json", m.CampaignID, at.Format("2006/01/02"), at.Format("150405"))
		if err := s.saveToS3(ctx, key, m); err != nil {
			return err
		}
	}

	pk := "campaign#" + m.CampaignID
	history := snapshotItem{PK: pk, SK: at.Format(time.RFC3339), TTL: at.Add(historyTTL).Unix(), CampaignMetrics: m}
	if err := s.putItem(ctx, history); err != nil {
		return err
	}
	return s.putItem(ctx, snapshotItem{PK: pk, SK: latestSK, CampaignMetrics: m})
}

func (s *AWSStore) Latest(ctx context.Context, campaignID string) (*domain.CampaignMetrics, error) {
	out, err := s.dynamoDB.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: "campaign#" + campaignID},
			"SK": &types.AttributeValueMemberS{Value: latestSK},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("getting item from DynamoDB: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}
	var item snapshotItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("unmarshaling item: %w", err)
	}
	return &item.CampaignMetrics, nil
}

func (s *AWSStore) putItem(ctx context.Context, item snapshotItem) error {
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("marshaling item: %w", err)
	}
	_, err = s.dynamoDB.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("putting item to DynamoDB: %w", err)
	}
	return nil
}

func (s *AWSStore) saveToS3(ctx context.Context, key string, data interface{}) error {
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling data: %w", err)
	}

	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(jsonData),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("putting object to S3: %w", err)
	}
	return nil
}
