// Package memorystorage is the default storage used when neither a database
// DSN nor a storage file is configured. Data lives only as long as the process.
package memorystorage

import (
	"github.com/patric-chuzhbe/geoplaces/internal/db/jsondb"
)

type MemoryStorage struct {
	*jsondb.JSONDB
}

func New() (*MemoryStorage, error) {
	return &MemoryStorage{
		JSONDB: jsondb.NewInMemory(),
	}, nil
}

func (theStorage *MemoryStorage) Close() error {
	return nil
}
