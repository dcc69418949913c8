// Package storage implements the admission store over database/sql for
// SQLite and Postgres.
package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"net"

	sq "github.com/Masterminds/squirrel"

	"CorpusCurator/internal/domain"
	"CorpusCurator/internal/ports"
)

// dialect captures the engine-specific parts of the store.
type dialect interface {
	name() string
	placeholder() sq.PlaceholderFormat
	schema(dimensions int) []string
	embeddingValue(v []float32) (any, error)
	decodeEmbedding(raw []byte) ([]float32, error)
	querySimilar(ctx context.Context, s *Store, embedding []float32, threshold float64, limit int) ([]ports.Match, error)
	// classify maps a driver error to an admission error kind. An empty
	// kind means the error is not a recognised storage condition.
	classify(err error) (domain.AdmissionErrorKind, string)
}

// connectivityErr recognises driver-independent connection failures.
func connectivityErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
