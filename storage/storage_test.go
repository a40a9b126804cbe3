package storage

import (
	"context"
	"net/http"
	"reflect"
	"sync"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"

	"taskboard/domain"
)

type memTable struct {
	mu   sync.Mutex
	rows map[string][]byte
}

func newMemTable() *memTable {
	return &memTable{rows: make(map[string][]byte)}
}

func (m *memTable) GetEntity(ctx context.Context, pk, rk string, _ *aztables.GetEntityOptions) (aztables.GetEntityResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.rows[pk+"/"+rk]
	if !ok {
		return aztables.GetEntityResponse{}, &azcore.ResponseError{StatusCode: http.StatusNotFound, ErrorCode: "ResourceNotFound"}
	}
	return aztables.GetEntityResponse{Value: data}, nil
}

func (m *memTable) UpsertEntity(ctx context.Context, entity []byte, _ *aztables.UpsertEntityOptions) (aztables.UpsertEntityResponse, error) {
	var keys struct {
		PartitionKey string `json:"PartitionKey"`
		RowKey       string `json:"RowKey"`
	}
	if err := sonic.Unmarshal(entity, &keys); err != nil {
		return aztables.UpsertEntityResponse{}, err
	}
	m.mu.Lock()
	m.rows[keys.PartitionKey+"/"+keys.RowKey] = entity
	m.mu.Unlock()
	return aztables.UpsertEntityResponse{}, nil
}

func TestTableConfigStoreRoundTrip(t *testing.T) {
	store := &TableConfigStore{table: newMemTable()}
	ctx := context.Background()

	missing, err := store.GetConfig(ctx, "app-1")
	if err != nil || missing != nil {
		t.Fatalf("expected absent config, got %v, %v", missing, err)
	}

	cfg := domain.AppConfig{
		AirtableAPIKey:     "key",
		BaseID:             "base",
		TableID:            "tbl",
		DefaultChannelType: "client",
		Controls:           domain.Controls{AllowAddingItems: true, AllowUpdatingStatus: true},
	}
	if err := store.PutConfig(ctx, "app-1", cfg); err != nil {
		t.Fatalf("put config: %v", err)
	}
	got, err := store.GetConfig(ctx, "app-1")
	if err != nil {
		t.Fatalf("get config: %v", err)
	}
	cfg.ID = "app-1"
	if !reflect.DeepEqual(*got, cfg) {
		t.Fatalf("unexpected config\n got: %+v\nwant: %+v", *got, cfg)
	}
}

func TestTableConfigStoreUserApps(t *testing.T) {
	store := &TableConfigStore{table: newMemTable()}
	ctx := context.Background()

	apps, err := store.GetUserApps(ctx, "admin@example.com")
	if err != nil || len(apps) != 0 {
		t.Fatalf("expected empty index, got %v, %v", apps, err)
	}
	if err := store.PutUserApps(ctx, "admin@example.com", []string{"a", "b"}); err != nil {
		t.Fatalf("put apps: %v", err)
	}
	apps, err = store.GetUserApps(ctx, "admin@example.com")
	if err != nil || !reflect.DeepEqual(apps, []string{"a", "b"}) {
		t.Fatalf("unexpected apps %v, %v", apps, err)
	}
}

func TestDecodeConfigEntity(t *testing.T) {
	data := []byte(`{"PartitionKey":"apps","RowKey":"a1","Config":"{\"id\":\"a1\",\"googleSheetId\":\"s1\",\"controls\":{\"allowUpdatingStatus\":true}}"}`)
	cfg, err := decodeConfigEntity(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cfg.GoogleSheetID != "s1" || !cfg.Controls.AllowUpdatingStatus || cfg.Backend() != domain.BackendGoogleSheet {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}
