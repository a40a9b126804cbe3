package storage

import (
	"errors"
	"testing"

	"taskboard/domain"
)

func TestFactoryCachesPerAppAndRebuildsOnChange(t *testing.T) {
	f := NewFactory(Options{}, DefaultBreakerConfig(), nil)
	var builds int
	f.build = func(cfg domain.AppConfig, opts Options) (TaskRepository, error) {
		builds++
		return &stubRepository{}, nil
	}
	cfg := domain.AppConfig{ID: "a", AirtableAPIKey: "k", BaseID: "b", TableID: "t"}

	first, err := f.Repository(cfg)
	if err != nil {
		t.Fatalf("repository: %v", err)
	}
	second, _ := f.Repository(cfg)
	if first != second || builds != 1 {
		t.Fatalf("expected cached repository, builds=%d", builds)
	}

	cfg.TableID = "t2"
	third, _ := f.Repository(cfg)
	if third == first || builds != 2 {
		t.Fatalf("expected rebuild after config change, builds=%d", builds)
	}

	f.Forget("a")
	_, _ = f.Repository(cfg)
	if builds != 3 {
		t.Fatalf("expected rebuild after forget, builds=%d", builds)
	}
}

func TestNewRepositorySelectsBackend(t *testing.T) {
	repo, err := NewRepository(domain.AppConfig{ID: "a", AirtableAPIKey: "k", BaseID: "b", TableID: "t"}, Options{})
	if err != nil {
		t.Fatalf("airtable: %v", err)
	}
	if _, ok := repo.(*AirtableRepository); !ok {
		t.Fatalf("expected airtable repository, got %T", repo)
	}

	repo, err = NewRepository(domain.AppConfig{ID: "a", GoogleSheetID: "s"}, Options{SheetsClientEmail: "bot@example.com", SheetsPrivateKey: "pem"})
	if err != nil {
		t.Fatalf("sheets: %v", err)
	}
	if _, ok := repo.(*SheetsRepository); !ok {
		t.Fatalf("expected sheets repository, got %T", repo)
	}

	_, err = NewRepository(domain.AppConfig{ID: "a"}, Options{})
	var cfgErr *domain.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected config error, got %v", err)
	}
}
