package dynamo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/example/checkout-fulfillment/internal/catalog"
	"github.com/example/checkout-fulfillment/internal/inventory"
	"github.com/example/checkout-fulfillment/internal/order"
)

// Store backs the catalog, inventory ledger and order store with DynamoDB.
// Conditional writes carry both invariants: stock updates use a
// "stock >= :q" condition expression, and order creation uses
// attribute_not_exists on the payment-reference key.
type Store struct {
	client        *dynamodb.Client
	productsTable string
	ordersTable   string
}

func NewStore(client *dynamodb.Client, productsTable, ordersTable string) *Store {
	return &Store{
		client:        client,
		productsTable: productsTable,
		ordersTable:   ordersTable,
	}
}

// NewClient builds a DynamoDB client from the ambient AWS configuration.
func NewClient(ctx context.Context) (*dynamodb.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return dynamodb.NewFromConfig(cfg), nil
}

type productItem struct {
	ID        string `dynamodbav:"id"`
	Name      string `dynamodbav:"name"`
	Price     int64  `dynamodbav:"price"`
	SalePrice *int64 `dynamodbav:"sale_price,omitempty"`
	Stock     int    `dynamodbav:"stock"`
}

type orderItem struct {
	PaymentReference string       `dynamodbav:"payment_reference"`
	ID               string       `dynamodbav:"id"`
	UserID           string       `dynamodbav:"user_id"`
	Items            []order.Item `dynamodbav:"items"`
	ItemsPrice       int64        `dynamodbav:"items_price"`
	TaxPrice         int64        `dynamodbav:"tax_price"`
	ShippingPrice    int64        `dynamodbav:"shipping_price"`
	TotalPrice       int64        `dynamodbav:"total_price"`
	Paid             bool         `dynamodbav:"paid"`
	PaidAt           string       `dynamodbav:"paid_at"`
	Status           string       `dynamodbav:"status"`
	CreatedAt        string       `dynamodbav:"created_at"`
}

func (s *Store) Product(ctx context.Context, id string) (*catalog.Product, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.productsTable),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	if out.Item == nil {
		return nil, catalog.ErrProductNotFound
	}
	var item productItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("unmarshal product: %w", err)
	}
	return &catalog.Product{
		ID:        item.ID,
		Name:      item.Name,
		Price:     item.Price,
		SalePrice: item.SalePrice,
		Stock:     item.Stock,
	}, nil
}

func (s *Store) Decrement(ctx context.Context, productID string, quantity int) error {
	if quantity <= 0 {
		return inventory.ErrInvalidQuantity
	}
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.productsTable),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: productID},
		},
		UpdateExpression:    aws.String("SET stock = stock - :q"),
		ConditionExpression: aws.String("attribute_exists(id) AND stock >= :q"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":q": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", quantity)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			if _, perr := s.Product(ctx, productID); perr != nil {
				return perr
			}
			return inventory.ErrInsufficientStock
		}
		return fmt.Errorf("decrement stock: %w", err)
	}
	return nil
}

func (s *Store) Increment(ctx context.Context, productID string, quantity int) error {
	if quantity <= 0 {
		return inventory.ErrInvalidQuantity
	}
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.productsTable),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: productID},
		},
		UpdateExpression:    aws.String("SET stock = stock + :q"),
		ConditionExpression: aws.String("attribute_exists(id)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":q": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", quantity)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return catalog.ErrProductNotFound
		}
		return fmt.Errorf("increment stock: %w", err)
	}
	return nil
}

func (s *Store) FindByPaymentReference(ctx context.Context, ref string) (*order.Order, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.ordersTable),
		Key: map[string]types.AttributeValue{
			"payment_reference": &types.AttributeValueMemberS{Value: ref},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if out.Item == nil {
		return nil, nil
	}
	var item orderItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return item.toOrder()
}

// CreateIfAbsent writes the order with a not-exists condition on the
// payment-reference key, so concurrent duplicates resolve to one winner.
func (s *Store) CreateIfAbsent(ctx context.Context, o *order.Order) (bool, error) {
	item := orderItem{
		PaymentReference: o.PaymentReference,
		ID:               o.ID,
		UserID:           o.UserID,
		Items:            o.Items,
		ItemsPrice:       o.ItemsPrice,
		TaxPrice:         o.TaxPrice,
		ShippingPrice:    o.ShippingPrice,
		TotalPrice:       o.TotalPrice,
		Paid:             o.Paid,
		PaidAt:           o.PaidAt.Format(time.RFC3339Nano),
		Status:           string(o.Status),
		CreatedAt:        o.CreatedAt.Format(time.RFC3339Nano),
	}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return false, fmt.Errorf("marshal order: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.ordersTable),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(payment_reference)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return false, nil
		}
		return false, fmt.Errorf("put order: %w", err)
	}
	return true, nil
}

func (item *orderItem) toOrder() (*order.Order, error) {
	paidAt, err := time.Parse(time.RFC3339Nano, item.PaidAt)
	if err != nil {
		return nil, fmt.Errorf("parse paid_at: %w", err)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, item.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	return &order.Order{
		ID:               item.ID,
		UserID:           item.UserID,
		Items:            item.Items,
		ItemsPrice:       item.ItemsPrice,
		TaxPrice:         item.TaxPrice,
		ShippingPrice:    item.ShippingPrice,
		TotalPrice:       item.TotalPrice,
		PaymentReference: item.PaymentReference,
		Paid:             item.Paid,
		PaidAt:           paidAt,
		Status:           order.Status(item.Status),
		CreatedAt:        createdAt,
	}, nil
}
