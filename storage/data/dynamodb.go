// Copyright 2026 goryl Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package data

import (
	"context"
	"net/url"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/juju/errors"
	"github.com/zaillisy/goryl/storage"
)

const (
	dynamoItemPrefix  = "ITEM#"
	dynamoUserPrefix  = "USER#"
	dynamoEventPrefix = "EVENT#"
	dynamoMetaKey     = "META"
	dynamoItemIndex   = "GSI1"
	dynamoBatchSize   = 25

	entityItem        = "item"
	entityInteraction = "interaction"
	entityEventGuard  = "event"

	// sortableTime has a fixed width so that lexical order is time order.
	sortableTime = "2006-01-02T15:04:05.000000000Z07:00"
)

type dynamoItemRecord struct {
	PK         string  `dynamodbav:"PK"`
	SK         string  `dynamodbav:"SK"`
	EntityType string  `dynamodbav:"EntityType"`
	ItemId     string  `dynamodbav:"ItemId"`
	Category   string  `dynamodbav:"Category"`
	Timestamp  string  `dynamodbav:"Timestamp"`
	IsHidden   bool    `dynamodbav:"IsHidden"`
	Popularity float64 `dynamodbav:"Popularity"`
	Comment    string  `dynamodbav:"Comment"`
}

func (record dynamoItemRecord) toItem() (Item, error) {
	timestamp, err := time.Parse(sortableTime, record.Timestamp)
	if err != nil {
		return Item{}, errors.Trace(err)
	}
	return Item{
		ItemId:     record.ItemId,
		Category:   record.Category,
		Timestamp:  timestamp.UTC(),
		IsHidden:   record.IsHidden,
		Popularity: record.Popularity,
		Comment:    record.Comment,
	}, nil
}

type dynamoInteractionRecord struct {
	PK         string  `dynamodbav:"PK"`     // USER#<user_id>
	SK         string  `dynamodbav:"SK"`     // EVENT#<timestamp>#<event_id>
	GSI1PK     string  `dynamodbav:"GSI1PK"` // ITEM#<item_id>
	GSI1SK     string  `dynamodbav:"GSI1SK"` // EVENT#<timestamp>#<event_id>
	EntityType string  `dynamodbav:"EntityType"`
	EventId    string  `dynamodbav:"EventId"`
	UserId     string  `dynamodbav:"UserId"`
	ItemId     string  `dynamodbav:"ItemId"`
	Category   string  `dynamodbav:"Category"`
	Type       string  `dynamodbav:"InteractionType"`
	Weight     float64 `dynamodbav:"Weight"`
	Timestamp  string  `dynamodbav:"Timestamp"`
}

func newDynamoInteractionRecord(interaction Interaction) dynamoInteractionRecord {
	timestamp := interaction.Timestamp.UTC().Format(sortableTime)
	sortKey := dynamoEventPrefix + timestamp + "#" + interaction.EventId
	return dynamoInteractionRecord{
		PK:         dynamoUserPrefix + interaction.UserId,
		SK:         sortKey,
		GSI1PK:     dynamoItemPrefix + interaction.ItemId,
		GSI1SK:     sortKey,
		EntityType: entityInteraction,
		EventId:    interaction.EventId,
		UserId:     interaction.UserId,
		ItemId:     interaction.ItemId,
		Category:   interaction.Category,
		Type:       interaction.Type,
		Weight:     interaction.Weight,
		Timestamp:  timestamp,
	}
}

func (record dynamoInteractionRecord) toInteraction() (Interaction, error) {
	timestamp, err := time.Parse(sortableTime, record.Timestamp)
	if err != nil {
		return Interaction{}, errors.Trace(err)
	}
	return Interaction{
		EventId:   record.EventId,
		UserId:    record.UserId,
		ItemId:    record.ItemId,
		Category:  record.Category,
		Type:      record.Type,
		Weight:    record.Weight,
		Timestamp: timestamp.UTC(),
	}, nil
}

func itemKey(itemId string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: dynamoItemPrefix + itemId},
		"SK": &types.AttributeValueMemberS{Value: dynamoMetaKey},
	}
}

// DynamoDB keeps items and interactions in a single table. Items live under
// ITEM#<id>, interactions under USER#<id> and are indexed by item in GSI1.
type DynamoDB struct {
	client    *dynamodb.Client
	tableName string
}

func openDynamoDB(ctx context.Context, path, tablePrefix string) (*DynamoDB, error) {
	parsed, err := url.Parse(path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if parsed.Host == "" {
		return nil, errors.NotValidf("dynamodb table in %s", path)
	}
	var opts []func(*awsconfig.LoadOptions) error
	if region := parsed.Query().Get("region"); region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Trace(err)
	}
	endpoint := parsed.Query().Get("endpoint")
	client := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return &DynamoDB{
		client:    client,
		tableName: storage.TablePrefix(tablePrefix).Key(parsed.Host),
	}, nil
}

// Init creates the table and its item index unless they exist.
func (d *DynamoDB) Init() error {
	ctx := context.Background()
	_, err := d.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(d.tableName)})
	if err == nil {
		return nil
	}
	var notFound *types.ResourceNotFoundException
	if !errors.As(err, &notFound) {
		return errors.Trace(err)
	}
	if _, err = d.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(d.tableName),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("PK"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("SK"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("GSI1PK"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("GSI1SK"), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("PK"), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String("SK"), KeyType: types.KeyTypeRange},
		},
		GlobalSecondaryIndexes: []types.GlobalSecondaryIndex{{
			IndexName: aws.String(dynamoItemIndex),
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String("GSI1PK"), KeyType: types.KeyTypeHash},
				{AttributeName: aws.String("GSI1SK"), KeyType: types.KeyTypeRange},
			},
			Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
		}},
		BillingMode: types.BillingModePayPerRequest,
	}); err != nil {
		return errors.Trace(err)
	}
	waiter := dynamodb.NewTableExistsWaiter(d.client)
	return errors.Trace(waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(d.tableName)}, 2*time.Minute))
}

func (d *DynamoDB) Ping() error {
	_, err := d.client.DescribeTable(context.Background(), &dynamodb.DescribeTableInput{TableName: aws.String(d.tableName)})
	return errors.Trace(err)
}

func (d *DynamoDB) Close() error {
	return nil
}

// Purge deletes every record of the table.
func (d *DynamoDB) Purge() error {
	ctx := context.Background()
	input := &dynamodb.ScanInput{
		TableName:            aws.String(d.tableName),
		ProjectionExpression: aws.String("PK, SK"),
	}
	var requests []types.WriteRequest
	for {
		result, err := d.client.Scan(ctx, input)
		if err != nil {
			return errors.Trace(err)
		}
		for _, item := range result.Items {
			requests = append(requests, types.WriteRequest{
				DeleteRequest: &types.DeleteRequest{Key: map[string]types.AttributeValue{
					"PK": item["PK"],
					"SK": item["SK"],
				}},
			})
		}
		if result.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}
	for i := 0; i < len(requests); i += dynamoBatchSize {
		end := min(i+dynamoBatchSize, len(requests))
		pending := map[string][]types.WriteRequest{d.tableName: requests[i:end]}
		for len(pending) > 0 {
			result, err := d.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
			if err != nil {
				return errors.Trace(err)
			}
			pending = result.UnprocessedItems
		}
	}
	return nil
}

func (d *DynamoDB) BatchInsertItems(ctx context.Context, items []Item) error {
	for _, item := range dedupItems(items) {
		update := expression.
			Set(expression.Name("EntityType"), expression.Value(entityItem)).
			Set(expression.Name("ItemId"), expression.Value(item.ItemId)).
			Set(expression.Name("Category"), expression.Value(item.Category)).
			Set(expression.Name("Timestamp"), expression.Value(item.Timestamp.Format(sortableTime))).
			Set(expression.Name("IsHidden"), expression.Value(item.IsHidden)).
			Set(expression.Name("Comment"), expression.Value(item.Comment)).
			Set(expression.Name("Popularity"), expression.IfNotExists(expression.Name("Popularity"), expression.Value(item.Popularity)))
		expr, err := expression.NewBuilder().WithUpdate(update).Build()
		if err != nil {
			return errors.Trace(err)
		}
		if _, err = d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:                 aws.String(d.tableName),
			Key:                       itemKey(item.ItemId),
			UpdateExpression:          expr.Update(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
		}); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func (d *DynamoDB) GetItem(ctx context.Context, itemId string) (Item, error) {
	result, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.tableName),
		Key:       itemKey(itemId),
	})
	if err != nil {
		return Item{}, errors.Trace(err)
	}
	if result.Item == nil {
		return Item{}, errors.Annotate(ErrItemNotExist, itemId)
	}
	var record dynamoItemRecord
	if err = attributevalue.UnmarshalMap(result.Item, &record); err != nil {
		return Item{}, errors.Trace(err)
	}
	return record.toItem()
}

func (d *DynamoDB) ModifyItem(ctx context.Context, itemId string, patch ItemPatch) error {
	if patch.IsHidden == nil && patch.Category == nil && patch.Comment == nil {
		_, err := d.GetItem(ctx, itemId)
		return err
	}
	var update expression.UpdateBuilder
	if patch.IsHidden != nil {
		update = update.Set(expression.Name("IsHidden"), expression.Value(*patch.IsHidden))
	}
	if patch.Category != nil {
		update = update.Set(expression.Name("Category"), expression.Value(*patch.Category))
	}
	if patch.Comment != nil {
		update = update.Set(expression.Name("Comment"), expression.Value(*patch.Comment))
	}
	expr, err := expression.NewBuilder().
		WithUpdate(update).
		WithCondition(expression.Name("PK").AttributeExists()).
		Build()
	if err != nil {
		return errors.Trace(err)
	}
	_, err = d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(d.tableName),
		Key:                       itemKey(itemId),
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	var conditionFailed *types.ConditionalCheckFailedException
	if errors.As(err, &conditionFailed) {
		return errors.Annotate(ErrItemNotExist, itemId)
	}
	return errors.Trace(err)
}

func (d *DynamoDB) scanItems(ctx context.Context, category string) ([]Item, error) {
	filter := expression.Name("EntityType").Equal(expression.Value(entityItem)).
		And(expression.Name("IsHidden").Equal(expression.Value(false)))
	if category != "" {
		filter = filter.And(expression.Name("Category").Equal(expression.Value(category)))
	}
	expr, err := expression.NewBuilder().WithFilter(filter).Build()
	if err != nil {
		return nil, errors.Trace(err)
	}
	input := &dynamodb.ScanInput{
		TableName:                 aws.String(d.tableName),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}
	var items []Item
	for {
		result, err := d.client.Scan(ctx, input)
		if err != nil {
			return nil, errors.Trace(err)
		}
		var records []dynamoItemRecord
		if err = attributevalue.UnmarshalListOfMaps(result.Items, &records); err != nil {
			return nil, errors.Trace(err)
		}
		for _, record := range records {
			item, err := record.toItem()
			if err != nil {
				return nil, errors.Trace(err)
			}
			items = append(items, item)
		}
		if result.LastEvaluatedKey == nil {
			return items, nil
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}
}

func (d *DynamoDB) ListActiveItems(ctx context.Context, n int, category string) ([]Item, error) {
	items, err := d.scanItems(ctx, category)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return selectLatest(items, n, category), nil
}

func (d *DynamoDB) ListTrendingItems(ctx context.Context, n int, category string) ([]Item, error) {
	items, err := d.scanItems(ctx, category)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return selectTrending(items, n, category), nil
}

// AppendInteraction writes the interaction together with a guard record on
// its event id, so that an event id is never written twice.
// errUnknownItem cancels an append whose popularity bump found no item.
const errUnknownItem = errors.ConstError("unknown item")

func (d *DynamoDB) AppendInteraction(ctx context.Context, interaction Interaction) error {
	err := d.appendInteraction(ctx, interaction, true)
	if errors.Is(err, errUnknownItem) {
		// interactions on unknown items are kept without popularity
		err = d.appendInteraction(ctx, interaction, false)
	}
	return err
}

// appendInteraction writes the event guard, the event and optionally the
// popularity bump of its item in one transaction.
func (d *DynamoDB) appendInteraction(ctx context.Context, interaction Interaction, bump bool) error {
	record, err := attributevalue.MarshalMap(newDynamoInteractionRecord(interaction))
	if err != nil {
		return errors.Trace(err)
	}
	notExists, err := expression.NewBuilder().WithCondition(expression.Name("PK").AttributeNotExists()).Build()
	if err != nil {
		return errors.Trace(err)
	}
	transactItems := []types.TransactWriteItem{
		{Put: &types.Put{
			TableName: aws.String(d.tableName),
			Item: map[string]types.AttributeValue{
				"PK":         &types.AttributeValueMemberS{Value: dynamoEventPrefix + interaction.EventId},
				"SK":         &types.AttributeValueMemberS{Value: dynamoMetaKey},
				"EntityType": &types.AttributeValueMemberS{Value: entityEventGuard},
			},
			ConditionExpression:      notExists.Condition(),
			ExpressionAttributeNames: notExists.Names(),
		}},
		{Put: &types.Put{
			TableName: aws.String(d.tableName),
			Item:      record,
		}},
	}
	if bump {
		expr, err := expression.NewBuilder().
			WithUpdate(expression.Add(expression.Name("Popularity"), expression.Value(1))).
			WithCondition(expression.Name("PK").AttributeExists()).
			Build()
		if err != nil {
			return errors.Trace(err)
		}
		transactItems = append(transactItems, types.TransactWriteItem{Update: &types.Update{
			TableName:                 aws.String(d.tableName),
			Key:                       itemKey(interaction.ItemId),
			UpdateExpression:          expr.Update(),
			ConditionExpression:       expr.Condition(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
		}})
	}
	_, err = d.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: transactItems})
	return appendCancelled(err, interaction.EventId)
}

// appendCancelled maps the cancellation reasons of an append transaction,
// ordered as guard, event, bump.
func appendCancelled(err error, eventId string) error {
	if err == nil {
		return nil
	}
	var cancelled *types.TransactionCanceledException
	if errors.As(err, &cancelled) {
		for i, reason := range cancelled.CancellationReasons {
			if aws.ToString(reason.Code) != "ConditionalCheckFailed" {
				continue
			}
			if i == 2 {
				return errUnknownItem
			}
			return errors.AlreadyExistsf("interaction %s", eventId)
		}
	}
	return errors.Trace(err)
}

func (d *DynamoDB) queryInteractions(ctx context.Context, index, partition, sort, key string, since *time.Time) ([]Interaction, error) {
	condition := expression.Key(partition).Equal(expression.Value(key))
	if since != nil {
		condition = condition.And(expression.Key(sort).GreaterThanEqual(expression.Value(dynamoEventPrefix + since.UTC().Format(sortableTime))))
	} else {
		condition = condition.And(expression.Key(sort).BeginsWith(dynamoEventPrefix))
	}
	expr, err := expression.NewBuilder().WithKeyCondition(condition).Build()
	if err != nil {
		return nil, errors.Trace(err)
	}
	input := &dynamodb.QueryInput{
		TableName:                 aws.String(d.tableName),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          aws.Bool(true),
	}
	if index != "" {
		input.IndexName = aws.String(index)
	}
	var interactions []Interaction
	for {
		result, err := d.client.Query(ctx, input)
		if err != nil {
			return nil, errors.Trace(err)
		}
		var records []dynamoInteractionRecord
		if err = attributevalue.UnmarshalListOfMaps(result.Items, &records); err != nil {
			return nil, errors.Trace(err)
		}
		for _, record := range records {
			interaction, err := record.toInteraction()
			if err != nil {
				return nil, errors.Trace(err)
			}
			interactions = append(interactions, interaction)
		}
		if result.LastEvaluatedKey == nil {
			return interactions, nil
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}
}

func (d *DynamoDB) QueryUserInteractions(ctx context.Context, userId string, since *time.Time) ([]Interaction, error) {
	return d.queryInteractions(ctx, "", "PK", "SK", dynamoUserPrefix+userId, since)
}

func (d *DynamoDB) QueryItemInteractions(ctx context.Context, itemId string, since *time.Time) ([]Interaction, error) {
	return d.queryInteractions(ctx, dynamoItemIndex, "GSI1PK", "GSI1SK", dynamoItemPrefix+itemId, since)
}
