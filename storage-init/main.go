package main

import (
	"context"
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

const queueAlreadyExists = "QueueAlreadyExists"

// resource is one table or queue the API expects to exist.
type resource struct {
	kind   string
	name   string
	create func(ctx context.Context) error
	exists string
}

func main() {
	_ = godotenv.Load()
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}

	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	if connStr == "" {
		log.Fatal("missing STORAGE_CONNECTION_STRING")
	}
	configTable := os.Getenv("CONFIG_TABLE")
	deadLetterQueue := os.Getenv("DEAD_LETTER_QUEUE")
	if configTable == "" || deadLetterQueue == "" {
		log.Fatal("missing CONFIG_TABLE or DEAD_LETTER_QUEUE")
	}

	resources, err := plan(connStr, configTable, deadLetterQueue)
	if err != nil {
		log.Fatalf("storage clients: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	for _, r := range resources {
		if err := ensure(ctx, r); err != nil {
			log.WithFields(log.Fields{"kind": r.kind, "name": r.name}).Fatalf("create: %v", err)
		}
	}
	log.WithField("resources", len(resources)).Info("storage init complete")
}

func plan(connStr, table, queue string) ([]resource, error) {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, nil)
	if err != nil {
		return nil, err
	}
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, queue, nil)
	if err != nil {
		return nil, err
	}
	tc := svc.NewClient(table)
	return []resource{
		{
			kind: "table",
			name: table,
			create: func(ctx context.Context) error {
				_, err := tc.CreateTable(ctx, nil)
				return err
			},
			exists: string(aztables.TableAlreadyExists),
		},
		{
			kind: "queue",
			name: queue,
			create: func(ctx context.Context) error {
				_, err := q.Create(ctx, nil)
				return err
			},
			exists: queueAlreadyExists,
		},
	}, nil
}

// ensure creates r, retrying while the storage emulator is still starting.
func ensure(ctx context.Context, r resource) error {
	backoff := 500 * time.Millisecond
	for {
		err := r.create(ctx)
		if err == nil {
			log.WithFields(log.Fields{"kind": r.kind, "name": r.name}).Info("created")
			return nil
		}
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) {
			if respErr.ErrorCode == r.exists {
				log.WithFields(log.Fields{"kind": r.kind, "name": r.name}).Debug("already exists")
				return nil
			}
			return err
		}
		log.WithError(err).WithField("name", r.name).Warn("storage not reachable, retrying")
		select {
		case <-ctx.Done():
			return err
		case <-time.After(backoff):
		}
		if backoff < 8*time.Second {
			backoff *= 2
		}
	}
}
