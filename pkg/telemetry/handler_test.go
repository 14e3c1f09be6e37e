package telemetry_test

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"testing"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/go-vetgraph/pkg/telemetry"
	"github.com/soundprediction/go-vetgraph/pkg/types"
)

func TestDuckDBHandlerRecordsErrorsOnly(t *testing.T) {
	db, err := sql.Open("duckdb", "")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	defer db.Close()

	handler, err := telemetry.NewDuckDBHandler(slog.DiscardHandler, db)
	require.NoError(t, err)
	logger := slog.New(handler).With("component", "update")

	ctx := context.WithValue(context.Background(), types.ContextKeyKBID, "kb1")
	ctx = context.WithValue(ctx, types.ContextKeyDocID, "doc1")
	logger.InfoContext(ctx, "ignored")
	logger.ErrorContext(ctx, "bulk insert failed", "error", errors.New("boom"))
	handler.Flush()

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM execution_errors").Scan(&count))
	assert.Equal(t, 1, count)

	var kb, doc, msg, level, attrs string
	require.NoError(t, db.QueryRow("SELECT kb_id, doc_id, message, level, CAST(attributes AS VARCHAR) FROM execution_errors").
		Scan(&kb, &doc, &msg, &level, &attrs))
	assert.Equal(t, "kb1", kb)
	assert.Equal(t, "doc1", doc)
	assert.Equal(t, "bulk insert failed", msg)
	assert.Equal(t, "ERROR", level)
	assert.Contains(t, attrs, `"boom"`)
	assert.Contains(t, attrs, `"update"`)
}
