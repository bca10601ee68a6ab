package ingest

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/estatepulse/property-crawler-service/common"
)

func TestClassifyStoreErr(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{
			name: "unique violation is a retriable conflict",
			err:  &pgconn.PgError{Code: "23505", ConstraintName: "properties_pkey"},
			want: common.ErrStoreConflict,
		},
		{
			name: "not null violation is fatal",
			err:  &pgconn.PgError{Code: "23502"},
			want: common.ErrStoreFatal,
		},
		{
			name: "check violation is fatal",
			err:  &pgconn.PgError{Code: "23514"},
			want: common.ErrStoreFatal,
		},
		{
			name: "value too long is fatal",
			err:  &pgconn.PgError{Code: "22001"},
			want: common.ErrStoreFatal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyStoreErr(tt.err)
			if !errors.Is(got, tt.want) {
				t.Errorf("classifyStoreErr() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClassifyStoreErrPassesThroughUnknown(t *testing.T) {
	plain := errors.New("connection refused")
	if got := classifyStoreErr(plain); got != plain {
		t.Errorf("classifyStoreErr() = %v, want the original error", got)
	}

	if got := classifyStoreErr(&pgconn.PgError{Code: "42P01"}); errors.Is(got, common.ErrStoreFatal) || errors.Is(got, common.ErrStoreConflict) {
		t.Errorf("unrelated SQL error was reclassified: %v", got)
	}
}

func TestConflictIsRetriable(t *testing.T) {
	err := classifyStoreErr(&pgconn.PgError{Code: "23505"})
	if !common.IsRetriable(err) {
		t.Error("store conflict should be retriable")
	}

	err = classifyStoreErr(&pgconn.PgError{Code: "23502"})
	if common.IsRetriable(err) {
		t.Error("fatal store error should not be retriable")
	}
}
