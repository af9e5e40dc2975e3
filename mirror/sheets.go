package mirror

import (
	"context"
	"fmt"
	"log/slog"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
	"homeus/config"
	"homeus/models"
)

// SheetsSink appends new listings as rows of a Google Sheets worksheet.
type SheetsSink struct {
	svc           *sheets.Service
	spreadsheetID string
	worksheet     string
	logger        *slog.Logger
}

func NewSheetsSink(ctx context.Context, cfg config.SheetsConfig, logger *slog.Logger) (*SheetsSink, error) {
	svc, err := sheets.NewService(ctx,
		option.WithCredentialsFile(cfg.ServiceAccountFile),
		option.WithScopes(sheets.SpreadsheetsScope),
	)
	if err != nil {
		return nil, fmt.Errorf("sheets client: %w", err)
	}
	return newSheetsSink(ctx, svc, cfg, logger)
}

func newSheetsSink(ctx context.Context, svc *sheets.Service, cfg config.SheetsConfig, logger *slog.Logger) (*SheetsSink, error) {
	s := &SheetsSink{
		svc:           svc,
		spreadsheetID: cfg.SheetID,
		worksheet:     cfg.WorksheetName,
		logger:        logger.With("sink", "google_sheets"),
	}
	if err := s.ensureWorksheet(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// ensureWorksheet creates the worksheet with a header row when the
// spreadsheet does not have it yet.
func (s *SheetsSink) ensureWorksheet(ctx context.Context) error {
	spreadsheet, err := s.svc.Spreadsheets.Get(s.spreadsheetID).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("open spreadsheet %s: %w", s.spreadsheetID, err)
	}
	for _, sheet := range spreadsheet.Sheets {
		if sheet.Properties != nil && sheet.Properties.Title == s.worksheet {
			return nil
		}
	}

	resp, err := s.svc.Spreadsheets.BatchUpdate(s.spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			AddSheet: &sheets.AddSheetRequest{
				Properties: &sheets.SheetProperties{
					Title:          s.worksheet,
					GridProperties: &sheets.GridProperties{RowCount: 1000, ColumnCount: 20},
				},
			},
		}},
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("add worksheet %s: %w", s.worksheet, err)
	}
	s.logger.Info("created worksheet", "worksheet", s.worksheet)

	var sheetID int64
	if len(resp.Replies) > 0 && resp.Replies[0].AddSheet != nil {
		sheetID = resp.Replies[0].AddSheet.Properties.SheetId
	}
	return s.writeHeaders(ctx, sheetID)
}

func (s *SheetsSink) writeHeaders(ctx context.Context, sheetID int64) error {
	_, err := s.svc.Spreadsheets.Values.Update(s.spreadsheetID, s.rangeRef("A1:S1"), &sheets.ValueRange{
		Values: [][]interface{}{Headers},
	}).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("write headers: %w", err)
	}

	_, err = s.svc.Spreadsheets.BatchUpdate(s.spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			RepeatCell: &sheets.RepeatCellRequest{
				Range: &sheets.GridRange{SheetId: sheetID, StartRowIndex: 0, EndRowIndex: 1, StartColumnIndex: 0, EndColumnIndex: int64(len(Headers))},
				Cell: &sheets.CellData{UserEnteredFormat: &sheets.CellFormat{
					TextFormat:      &sheets.TextFormat{Bold: true},
					BackgroundColor: &sheets.Color{Red: 0.9, Green: 0.9, Blue: 0.9},
				}},
				Fields: "userEnteredFormat(textFormat,backgroundColor)",
			},
		}},
	}).Context(ctx).Do()
	if err != nil {
		s.logger.Warn("header formatting failed", "error", err)
	}
	return nil
}

func (s *SheetsSink) AppendOne(ctx context.Context, l *models.Listing) error {
	if err := s.append(ctx, [][]interface{}{Row(l)}); err != nil {
		return fmt.Errorf("sheets append %s: %w", l.ExternalID, err)
	}
	s.logger.Debug("row appended", "id", l.ExternalID)
	return nil
}

func (s *SheetsSink) AppendBatch(ctx context.Context, listings []models.Listing) error {
	if len(listings) == 0 {
		return nil
	}
	rows := make([][]interface{}, 0, len(listings))
	for i := range listings {
		rows = append(rows, Row(&listings[i]))
	}
	if err := s.append(ctx, rows); err != nil {
		return fmt.Errorf("sheets append batch: %w", err)
	}
	s.logger.Info("rows appended", "count", len(rows))
	return nil
}

// Reset clears the worksheet and rewrites the header row.
func (s *SheetsSink) Reset(ctx context.Context) error {
	_, err := s.svc.Spreadsheets.Values.Clear(s.spreadsheetID, s.rangeRef("A:S"), &sheets.ClearValuesRequest{}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("clear worksheet: %w", err)
	}

	var sheetID int64
	spreadsheet, err := s.svc.Spreadsheets.Get(s.spreadsheetID).Context(ctx).Do()
	if err == nil {
		for _, sheet := range spreadsheet.Sheets {
			if sheet.Properties != nil && sheet.Properties.Title == s.worksheet {
				sheetID = sheet.Properties.SheetId
			}
		}
	}
	return s.writeHeaders(ctx, sheetID)
}

func (s *SheetsSink) Close() error {
	return nil
}

// URL is the browser link to the spreadsheet.
func (s *SheetsSink) URL() string {
	return "https://docs.google.com/spreadsheets/d/" + s.spreadsheetID
}

func (s *SheetsSink) append(ctx context.Context, rows [][]interface{}) error {
	_, err := s.svc.Spreadsheets.Values.Append(s.spreadsheetID, s.rangeRef("A1"), &sheets.ValueRange{
		Values: rows,
	}).ValueInputOption("USER_ENTERED").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	return err
}

func (s *SheetsSink) rangeRef(cells string) string {
	return fmt.Sprintf("'%s'!%s", s.worksheet, cells)
}
