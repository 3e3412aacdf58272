package driver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/agenthands/catalog-dedup/internal/core/model"
)

// BigQueryStore reads catalog tables with a query job and writes results with a
// truncating load job.
type BigQueryStore struct {
	Client    *bigquery.Client
	ProjectID string
	IDField   string
}

func NewBigQueryStore(ctx context.Context, projectID, idField string) (*BigQueryStore, error) {
	if projectID == "" {
		return nil, fmt.Errorf("bigquery store requires a project id")
	}
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create bigquery client: %w", err)
	}
	return &BigQueryStore{Client: client, ProjectID: projectID, IDField: idField}, nil
}

func selectQuery(project string, ref TableRef, limit int) string {
	q := fmt.Sprintf("SELECT * FROM `%s.%s.%s`", project, ref.Dataset, ref.Table)
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", limit)
	}
	return q
}

func (s *BigQueryStore) Fetch(ctx context.Context, ref TableRef, limit int) (*model.RecordSet, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	it, err := s.Client.Query(selectQuery(s.ProjectID, ref, limit)).Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", ref, err)
	}

	var rows []map[string]any
	for {
		var row map[string]bigquery.Value
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", ref, err)
		}
		out := make(map[string]any, len(row))
		for k, v := range row {
			out[k] = v
		}
		rows = append(rows, out)
	}
	return model.NewRecordSet(rows, s.IDField), nil
}

func (s *BigQueryStore) Persist(ctx context.Context, ref TableRef, rs *model.RecordSet) (string, error) {
	if err := ref.Validate(); err != nil {
		return "", err
	}
	schema := inferSchema(rs)
	payload, err := encodeNDJSON(rs, schema)
	if err != nil {
		return "", err
	}

	source := bigquery.NewReaderSource(bytes.NewReader(payload))
	source.SourceFormat = bigquery.JSON
	source.Schema = schema

	loader := s.Client.Dataset(ref.Dataset).Table(ref.ResultsTable()).LoaderFrom(source)
	loader.WriteDisposition = bigquery.WriteTruncate
	loader.CreateDisposition = bigquery.CreateIfNeeded

	job, err := loader.Run(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to start load job: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to wait for load job: %w", err)
	}
	if err := status.Err(); err != nil {
		return "", fmt.Errorf("load job failed: %w", err)
	}

	return fmt.Sprintf("%s.%s.%s", s.ProjectID, ref.Dataset, ref.ResultsTable()), nil
}

func (s *BigQueryStore) Close() error {
	return s.Client.Close()
}

// inferSchema types each source column from its first non-null value and
// falls back to STRING. Annotation columns have fixed types.
func inferSchema(rs *model.RecordSet) bigquery.Schema {
	fixed := map[string]bigquery.FieldType{
		model.ColumnGroupID:        bigquery.StringFieldType,
		model.ColumnMatchType:      bigquery.StringFieldType,
		model.ColumnConfidence:     bigquery.FloatFieldType,
		model.ColumnReviewRequired: bigquery.BooleanFieldType,
	}

	var schema bigquery.Schema
	for _, col := range rs.Columns() {
		ft, ok := fixed[col]
		if !ok {
			ft = bigquery.StringFieldType
			for _, r := range rs.Records {
				if v, present := r.Fields[col]; present && v != nil {
					ft = fieldType(v)
					break
				}
			}
		}
		schema = append(schema, &bigquery.FieldSchema{Name: col, Type: ft})
	}
	return schema
}

func fieldType(v any) bigquery.FieldType {
	switch v.(type) {
	case bool:
		return bigquery.BooleanFieldType
	case int, int32, int64:
		return bigquery.IntegerFieldType
	case float32, float64:
		return bigquery.FloatFieldType
	case time.Time:
		return bigquery.TimestampFieldType
	default:
		return bigquery.StringFieldType
	}
}

// encodeNDJSON writes one JSON object per record. Values that do not match
// their column type are stringified or dropped to null.
func encodeNDJSON(rs *model.RecordSet, schema bigquery.Schema) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, rec := range rs.Records {
		row := rec.Row()
		out := make(map[string]any, len(schema))
		for _, f := range schema {
			out[f.Name] = coerce(row[f.Name], f.Type)
		}
		if err := enc.Encode(out); err != nil {
			return nil, fmt.Errorf("failed to encode record %s: %w", rec.ID, err)
		}
	}
	return buf.Bytes(), nil
}

func coerce(v any, ft bigquery.FieldType) any {
	if v == nil {
		return nil
	}
	if ft == bigquery.StringFieldType {
		switch t := v.(type) {
		case string:
			return t
		case []byte:
			return string(t)
		default:
			return fmt.Sprint(t)
		}
	}
	if fieldType(v) != ft {
		return nil
	}
	if f, ok := v.(float64); ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
		return nil
	}
	return v
}
