package storage

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"

	"taskboard/domain"
)

const (
	appsPartition  = "apps"
	usersPartition = "users"
)

// ConfigStore persists per-app configuration and the admin app index.
type ConfigStore interface {
	GetConfig(ctx context.Context, appID string) (*domain.AppConfig, error)
	PutConfig(ctx context.Context, appID string, cfg domain.AppConfig) error
	GetUserApps(ctx context.Context, userID string) ([]string, error)
	PutUserApps(ctx context.Context, userID string, appIDs []string) error
}

type entityTable interface {
	GetEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.GetEntityOptions) (aztables.GetEntityResponse, error)
	UpsertEntity(ctx context.Context, entity []byte, options *aztables.UpsertEntityOptions) (aztables.UpsertEntityResponse, error)
}

// TableConfigStore keeps configurations in one Azure table.
type TableConfigStore struct {
	table entityTable
}

func tablesClientOptions() *aztables.ClientOptions {
	return &aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
}

// NewTableConfigStore connects to configTable using connStr.
func NewTableConfigStore(connStr, configTable string) (*TableConfigStore, error) {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, tablesClientOptions())
	if err != nil {
		return nil, err
	}
	return &TableConfigStore{table: svc.NewClient(configTable)}, nil
}

type configEntity struct {
	aztables.Entity
	Config string `json:"Config"`
}

type userAppsEntity struct {
	aztables.Entity
	Apps string `json:"Apps"`
}

// GetConfig returns nil without error when the app has never been configured.
func (s *TableConfigStore) GetConfig(ctx context.Context, appID string) (*domain.AppConfig, error) {
	resp, err := s.table.GetEntity(ctx, appsPartition, appID, nil)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	cfg, err := decodeConfigEntity(resp.Value)
	if err != nil {
		return nil, err
	}
	if cfg.ID == "" {
		cfg.ID = appID
	}
	return &cfg, nil
}

func (s *TableConfigStore) PutConfig(ctx context.Context, appID string, cfg domain.AppConfig) error {
	cfg.ID = appID
	payload, err := sonic.Marshal(cfg)
	if err != nil {
		return err
	}
	ent := configEntity{
		Entity: aztables.Entity{PartitionKey: appsPartition, RowKey: appID},
		Config: string(payload),
	}
	data, err := sonic.Marshal(ent)
	if err != nil {
		return err
	}
	_, err = s.table.UpsertEntity(ctx, data, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeReplace})
	return err
}

func (s *TableConfigStore) GetUserApps(ctx context.Context, userID string) ([]string, error) {
	resp, err := s.table.GetEntity(ctx, usersPartition, userID, nil)
	if err != nil {
		if isNotFound(err) {
			return []string{}, nil
		}
		return nil, err
	}
	var ent userAppsEntity
	if err := sonic.Unmarshal(resp.Value, &ent); err != nil {
		return nil, err
	}
	apps := []string{}
	if ent.Apps != "" {
		if err := sonic.UnmarshalString(ent.Apps, &apps); err != nil {
			return nil, err
		}
	}
	return apps, nil
}

func (s *TableConfigStore) PutUserApps(ctx context.Context, userID string, appIDs []string) error {
	payload, err := sonic.Marshal(appIDs)
	if err != nil {
		return err
	}
	data, err := sonic.Marshal(userAppsEntity{
		Entity: aztables.Entity{PartitionKey: usersPartition, RowKey: userID},
		Apps:   string(payload),
	})
	if err != nil {
		return err
	}
	_, err = s.table.UpsertEntity(ctx, data, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeReplace})
	return err
}

func decodeConfigEntity(data []byte) (domain.AppConfig, error) {
	var ent configEntity
	if err := sonic.Unmarshal(data, &ent); err != nil {
		return domain.AppConfig{}, err
	}
	var cfg domain.AppConfig
	if err := sonic.UnmarshalString(ent.Config, &cfg); err != nil {
		return domain.AppConfig{}, err
	}
	return cfg, nil
}

func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}

func queueClientOptions() *azqueue.ClientOptions {
	return &azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
}
