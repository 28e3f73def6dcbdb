// Package dynamo stores contact records in a DynamoDB table keyed by
// PK=CONTACT#<id>, SK=PROFILE. Channel transitions are conditional
// UpdateItem calls on the nested Channels map, so each (contact, channel)
// entry is an independent compare-and-set.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/ignite/contact-orchestrator/internal/domain"
	"github.com/ignite/contact-orchestrator/internal/service/contact"
)

const (
	pkPrefix  = "CONTACT#"
	profileSK = "PROFILE"
)

// API is the subset of *dynamodb.Client used by the repository.
type API interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

type statusItem struct {
	State     string `dynamodbav:"State"`
	Reason    string `dynamodbav:"Reason,omitempty"`
	Retryable bool   `dynamodbav:"Retryable"`
	Attempts  int    `dynamodbav:"Attempts"`
	UpdatedAt string `dynamodbav:"UpdatedAt"`
}

type contactItem struct {
	PK           string                `dynamodbav:"PK"`
	SK           string                `dynamodbav:"SK"`
	ID           string                `dynamodbav:"ID"`
	FirstName    string                `dynamodbav:"FirstName"`
	LastName     string                `dynamodbav:"LastName"`
	PhoneNumbers []string              `dynamodbav:"PhoneNumbers,omitempty"`
	Emails       []string              `dynamodbav:"Emails,omitempty"`
	URLs         []string              `dynamodbav:"URLs,omitempty"`
	ProfileURL   string                `dynamodbav:"ProfileURL,omitempty"`
	PhotoRef     string                `dynamodbav:"PhotoRef,omitempty"`
	AudioRef     string                `dynamodbav:"AudioRef,omitempty"`
	CreatedAt    string                `dynamodbav:"CreatedAt"`
	Channels     map[string]statusItem `dynamodbav:"Channels"`
}

func toStatusItem(st domain.DispatchStatus) statusItem {
	return statusItem{
		State:     string(st.State),
		Reason:    st.Reason,
		Retryable: st.Retryable,
		Attempts:  st.Attempts,
		UpdatedAt: st.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func (s statusItem) toDomain() domain.DispatchStatus {
	t, _ := time.Parse(time.RFC3339Nano, s.UpdatedAt)
	return domain.DispatchStatus{
		State:     domain.DispatchState(s.State),
		Reason:    s.Reason,
		Retryable: s.Retryable,
		Attempts:  s.Attempts,
		UpdatedAt: t,
	}
}

func toItem(c *domain.Contact) contactItem {
	item := contactItem{
		PK:           pkPrefix + c.ID,
		SK:           profileSK,
		ID:           c.ID,
		FirstName:    c.FirstName,
		LastName:     c.LastName,
		PhoneNumbers: c.PhoneNumbers,
		Emails:       c.Emails,
		URLs:         c.URLs,
		ProfileURL:   c.ProfileURL,
		PhotoRef:     c.PhotoRef,
		AudioRef:     c.AudioRef,
		CreatedAt:    c.CreatedAt.UTC().Format(time.RFC3339Nano),
		Channels:     make(map[string]statusItem, len(c.ChannelStatus)),
	}
	for ch, st := range c.ChannelStatus {
		item.Channels[string(ch)] = toStatusItem(st)
	}
	return item
}

func (it contactItem) toDomain() *domain.Contact {
	created, _ := time.Parse(time.RFC3339Nano, it.CreatedAt)
	c := &domain.Contact{
		ID:            it.ID,
		FirstName:     it.FirstName,
		LastName:      it.LastName,
		PhoneNumbers:  it.PhoneNumbers,
		Emails:        it.Emails,
		URLs:          it.URLs,
		ProfileURL:    it.ProfileURL,
		PhotoRef:      it.PhotoRef,
		AudioRef:      it.AudioRef,
		CreatedAt:     created,
		ChannelStatus: make(map[domain.Channel]domain.DispatchStatus, len(it.Channels)),
	}
	for ch, st := range it.Channels {
		c.ChannelStatus[domain.Channel(ch)] = st.toDomain()
	}
	return c
}

func key(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pkPrefix + id},
		"SK": &types.AttributeValueMemberS{Value: profileSK},
	}
}

// ContactRepo implements contact.Repository on DynamoDB.
type ContactRepo struct {
	api   API
	table string
}

// NewContactRepo wraps an existing DynamoDB client.
func NewContactRepo(api API, table string) *ContactRepo {
	return &ContactRepo{api: api, table: table}
}

// NewContactRepoFromConfig loads AWS configuration the standard way
// (environment, shared config, instance role).
func NewContactRepoFromConfig(ctx context.Context, table, region, profile string) (*ContactRepo, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(profile))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return NewContactRepo(dynamodb.NewFromConfig(cfg), table), nil
}

func (r *ContactRepo) Create(ctx context.Context, c *domain.Contact) error {
	av, err := attributevalue.MarshalMap(toItem(c))
	if err != nil {
		return fmt.Errorf("marshaling contact: %w", err)
	}
	_, err = r.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.table),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return contact.ErrDuplicateID
	}
	if err != nil {
		return fmt.Errorf("putting contact to DynamoDB: %w", err)
	}
	return nil
}

func (r *ContactRepo) Get(ctx context.Context, id string) (*domain.Contact, error) {
	out, err := r.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.table),
		Key:            key(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("getting contact from DynamoDB: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, contact.ErrNotFound
	}
	var item contactItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("unmarshaling contact: %w", err)
	}
	return item.toDomain(), nil
}

func (r *ContactRepo) List(ctx context.Context) ([]domain.Contact, error) {
	return r.scan(ctx, nil, nil, nil)
}

func (r *ContactRepo) ListByChannelState(ctx context.Context, state domain.DispatchState) ([]domain.Contact, error) {
	names := map[string]string{"#st": "State"}
	var expr string
	for i, ch := range domain.AllChannels {
		alias := fmt.Sprintf("#c%d", i)
		names[alias] = string(ch)
		if i > 0 {
			expr += " OR "
		}
		expr += "Channels." + alias + ".#st = :state"
	}
	values := map[string]types.AttributeValue{
		":state": &types.AttributeValueMemberS{Value: string(state)},
	}
	return r.scan(ctx, aws.String(expr), names, values)
}

// scan pages through the table and sorts newest first in memory.
func (r *ContactRepo) scan(ctx context.Context, filter *string, names map[string]string, values map[string]types.AttributeValue) ([]domain.Contact, error) {
	var out []domain.Contact
	var startKey map[string]types.AttributeValue
	for {
		page, err := r.api.Scan(ctx, &dynamodb.ScanInput{
			TableName:                 aws.String(r.table),
			FilterExpression:          filter,
			ExpressionAttributeNames:  names,
			ExpressionAttributeValues: values,
			ExclusiveStartKey:         startKey,
			ConsistentRead:            aws.Bool(true),
		})
		if err != nil {
			return nil, fmt.Errorf("scanning contacts: %w", err)
		}
		for _, raw := range page.Items {
			var item contactItem
			if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
				return nil, fmt.Errorf("unmarshaling contact: %w", err)
			}
			if item.SK != profileSK {
				continue
			}
			out = append(out, *item.toDomain())
		}
		if len(page.LastEvaluatedKey) == 0 {
			break
		}
		startKey = page.LastEvaluatedKey
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (r *ContactRepo) UpdateChannelStatus(ctx context.Context, id string, ch domain.Channel, st domain.DispatchStatus) error {
	err := r.setChannel(ctx, id, ch, st, "attribute_exists(PK)", nil)
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return contact.ErrNotFound
	}
	return err
}

func (r *ContactRepo) TransitionChannel(ctx context.Context, id string, ch domain.Channel, from domain.DispatchState, next domain.DispatchStatus) error {
	err := r.setChannel(ctx, id, ch, next,
		"attribute_exists(PK) AND Channels.#ch.#st = :from",
		map[string]types.AttributeValue{":from": &types.AttributeValueMemberS{Value: string(from)}})

	var ccf *types.ConditionalCheckFailedException
	if !errors.As(err, &ccf) {
		return err
	}
	if len(ccf.Item) == 0 {
		return contact.ErrNotFound
	}
	var item contactItem
	if uerr := attributevalue.UnmarshalMap(ccf.Item, &item); uerr != nil {
		return fmt.Errorf("unmarshaling conflicting contact: %w", uerr)
	}
	current := domain.StateNotApplicable
	if st, ok := item.Channels[string(ch)]; ok {
		current = domain.DispatchState(st.State)
	}
	return &contact.StateConflictError{Channel: ch, Current: current}
}

func (r *ContactRepo) setChannel(ctx context.Context, id string, ch domain.Channel, st domain.DispatchStatus, cond string, extra map[string]types.AttributeValue) error {
	next, err := attributevalue.Marshal(toStatusItem(st))
	if err != nil {
		return fmt.Errorf("marshaling status: %w", err)
	}
	values := map[string]types.AttributeValue{":next": next}
	for k, v := range extra {
		values[k] = v
	}
	names := map[string]string{"#ch": string(ch)}
	if extra != nil {
		names["#st"] = "State"
	}

	_, err = r.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                           aws.String(r.table),
		Key:                                 key(id),
		UpdateExpression:                    aws.String("SET Channels.#ch = :next"),
		ConditionExpression:                 aws.String(cond),
		ExpressionAttributeNames:            names,
		ExpressionAttributeValues:           values,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	var ccf *types.ConditionalCheckFailedException
	if err != nil && !errors.As(err, &ccf) {
		return fmt.Errorf("updating channel status in DynamoDB: %w", err)
	}
	return err
}

// Close is a no-op; the SDK client holds no long-lived resources.
func (r *ContactRepo) Close() error { return nil }
