package audit

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

// ExportResult references the artefacts produced by one export run.
type ExportResult struct {
	CSVPath     string
	ParquetPath string
	Rows        int

	AdminCSVPath     string
	AdminParquetPath string
	AdminRows        int
}

// Export writes the authorizations issued inside [start, end), and the admin
// interventions from the same window, to CSV and Parquet files under dir.
// Each artefact pair carries the same rows so the reconciliation side can
// pick whichever format its tooling prefers.
func (s *Store) Export(dir string, start, end time.Time) (*ExportResult, error) {
	rows, err := s.Authorizations(start, end)
	if err != nil {
		return nil, err
	}
	actions, err := s.AdminActions(start, end)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("audit: create export dir: %w", err)
	}

	stamp := time.Now().UTC().Format("20060102T150405Z")
	csvPath := filepath.Join(dir, "authorizations-"+stamp+".csv")
	parquetPath := filepath.Join(dir, "authorizations-"+stamp+".parquet")
	adminCSVPath := filepath.Join(dir, "admin-actions-"+stamp+".csv")
	adminParquetPath := filepath.Join(dir, "admin-actions-"+stamp+".parquet")

	if err := writeCSV(csvPath, rows); err != nil {
		return nil, err
	}
	if err := writeParquet(parquetPath, rows); err != nil {
		return nil, err
	}
	if err := writeAdminCSV(adminCSVPath, actions); err != nil {
		return nil, err
	}
	if err := writeAdminParquet(adminParquetPath, actions); err != nil {
		return nil, err
	}
	return &ExportResult{
		CSVPath:          csvPath,
		ParquetPath:      parquetPath,
		Rows:             len(rows),
		AdminCSVPath:     adminCSVPath,
		AdminParquetPath: adminParquetPath,
		AdminRows:        len(actions),
	}, nil
}

func writeCSV(path string, rows []Authorization) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("audit: create csv: %w", err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	header := []string{"id", "kind", "player", "amount", "nonce", "item_id", "instance_id", "created_at"}
	if err := w.Write(header); err != nil {
		return fmt.Errorf("audit: write csv header: %w", err)
	}
	for _, row := range rows {
		record := []string{
			row.ID.String(),
			row.Kind,
			row.Player,
			row.Amount,
			strconv.FormatUint(row.Nonce, 10),
			row.ItemID,
			row.InstanceID,
			row.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("audit: write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("audit: flush csv: %w", err)
	}
	return nil
}

type parquetRow struct {
	ID         string `parquet:"name=id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Kind       string `parquet:"name=kind, type=BYTE_ARRAY, convertedtype=UTF8"`
	Player     string `parquet:"name=player, type=BYTE_ARRAY, convertedtype=UTF8"`
	Amount     string `parquet:"name=amount, type=BYTE_ARRAY, convertedtype=UTF8"`
	Nonce      int64  `parquet:"name=nonce, type=INT64"`
	ItemID     string `parquet:"name=item_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	InstanceID string `parquet:"name=instance_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	CreatedAt  string `parquet:"name=created_at, type=BYTE_ARRAY, convertedtype=UTF8"`
}

func writeParquet(path string, rows []Authorization) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("audit: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(parquetRow), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("audit: parquet schema: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, row := range rows {
		pr := &parquetRow{
			ID:         row.ID.String(),
			Kind:       row.Kind,
			Player:     row.Player,
			Amount:     row.Amount,
			Nonce:      int64(row.Nonce),
			ItemID:     row.ItemID,
			InstanceID: row.InstanceID,
			CreatedAt:  row.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := pw.Write(pr); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("audit: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("audit: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("audit: close parquet: %w", err)
	}
	return nil
}

func writeAdminCSV(path string, actions []AdminAction) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("audit: create csv: %w", err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	header := []string{"id", "action", "player", "instance_id", "previous_nonce", "reason", "created_at"}
	if err := w.Write(header); err != nil {
		return fmt.Errorf("audit: write csv header: %w", err)
	}
	for _, action := range actions {
		record := []string{
			action.ID.String(),
			action.Action,
			action.Player,
			action.InstanceID,
			strconv.FormatUint(action.PreviousNonce, 10),
			action.Reason,
			action.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("audit: write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("audit: flush csv: %w", err)
	}
	return nil
}

type adminParquetRow struct {
	ID            string `parquet:"name=id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Action        string `parquet:"name=action, type=BYTE_ARRAY, convertedtype=UTF8"`
	Player        string `parquet:"name=player, type=BYTE_ARRAY, convertedtype=UTF8"`
	InstanceID    string `parquet:"name=instance_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	PreviousNonce int64  `parquet:"name=previous_nonce, type=INT64"`
	Reason        string `parquet:"name=reason, type=BYTE_ARRAY, convertedtype=UTF8"`
	CreatedAt     string `parquet:"name=created_at, type=BYTE_ARRAY, convertedtype=UTF8"`
}

func writeAdminParquet(path string, actions []AdminAction) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("audit: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(adminParquetRow), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("audit: parquet schema: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, action := range actions {
		pr := &adminParquetRow{
			ID:            action.ID.String(),
			Action:        action.Action,
			Player:        action.Player,
			InstanceID:    action.InstanceID,
			PreviousNonce: int64(action.PreviousNonce),
			Reason:        action.Reason,
			CreatedAt:     action.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := pw.Write(pr); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("audit: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("audit: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("audit: close parquet: %w", err)
	}
	return nil
}
