package profile

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/dkeye/Mingle/internal/domain"
)

// DynamoDirectory reads display metadata from the profile table owned by
// the account service. This process never writes to it.
type DynamoDirectory struct {
	Client *dynamodb.Client
	Table  string
}

func NewDynamoDirectory(ctx context.Context, region, table string) (*DynamoDirectory, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &DynamoDirectory{Client: dynamodb.NewFromConfig(cfg), Table: table}, nil
}

func (d *DynamoDirectory) Lookup(ctx context.Context, uid domain.UserID) (*domain.Profile, error) {
	out, err := d.Client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &d.Table,
		Key: map[string]types.AttributeValue{
			"userId": &types.AttributeValueMemberS{Value: string(uid)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get profile from table '%s': %w", d.Table, err)
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}

	var p domain.Profile
	if err := attributevalue.UnmarshalMap(out.Item, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal profile: %w", err)
	}
	return &p, nil
}
