// Package export writes confirmed interview sessions to XLSX workbooks.
package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"mockpair/internal/models"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

const (
	sessionsSheet = "Sessions"
	summarySheet  = "Summary"
)

// RecordSource lists booking records whose session starts in [from, to).
type RecordSource interface {
	GetBookingRecordsBetween(ctx context.Context, from, to time.Time) ([]*models.BookingRecord, error)
}

// Session is one confirmed room. Each room has two mirrored records; a
// session is built from whichever arrives first.
type Session struct {
	RoomID       string
	ScheduleTime time.Time
	MockType     models.MockType
	FirstUserID  string
	FirstTicket  string
	SecondUserID string
	SecondTicket string
}

type Exporter struct {
	source RecordSource
	dir    string
	loc    *time.Location
	logger *zerolog.Logger
}

func NewExporter(source RecordSource, dir string, loc *time.Location, logger *zerolog.Logger) *Exporter {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Exporter{source: source, dir: dir, loc: loc, logger: logger}
}

// Sessions collapses the mirrored records in [from, to) into one entry per
// room, ordered by time.
func (e *Exporter) Sessions(ctx context.Context, from, to time.Time) ([]Session, error) {
	records, err := e.source.GetBookingRecordsBetween(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("load booking records: %w", err)
	}

	seen := make(map[string]bool, len(records)/2)
	sessions := make([]Session, 0, len(records)/2)
	for _, rec := range records {
		if seen[rec.RoomID] {
			continue
		}
		seen[rec.RoomID] = true

		first, second := *rec, rec.Mirror()
		if first.MyUserID > second.MyUserID {
			first, second = second, first
		}
		sessions = append(sessions, Session{
			RoomID:       rec.RoomID,
			ScheduleTime: rec.BookingTime,
			MockType:     rec.MockType,
			FirstUserID:  first.MyUserID,
			FirstTicket:  first.MyTicketID,
			SecondUserID: second.MyUserID,
			SecondTicket: second.MyTicketID,
		})
	}

	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].ScheduleTime.Before(sessions[j].ScheduleTime)
	})
	return sessions, nil
}

// Export writes the sessions starting in [from, to) to a new workbook under
// the export directory and returns its path.
func (e *Exporter) Export(ctx context.Context, from, to time.Time) (string, error) {
	if !to.After(from) {
		return "", fmt.Errorf("empty export range %s - %s", from.Format(time.RFC3339), to.Format(time.RFC3339))
	}
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %w", err)
	}

	sessions, err := e.Sessions(ctx, from, to)
	if err != nil {
		return "", err
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := e.writeSessions(f, sessions, from, to); err != nil {
		return "", err
	}
	if err := e.writeSummary(f, sessions); err != nil {
		return "", err
	}
	_ = f.DeleteSheet("Sheet1")

	fileName := fmt.Sprintf("sessions_%s_to_%s.xlsx",
		from.In(e.loc).Format("2006-01-02"),
		to.In(e.loc).Format("2006-01-02"))
	filePath := filepath.Join(e.dir, fileName)

	if err := f.SaveAs(filePath); err != nil {
		return "", fmt.Errorf("error saving file: %w", err)
	}

	e.logger.Info().Str("file_path", filePath).Int("sessions", len(sessions)).Msg("Session export created")
	return filePath, nil
}

func (e *Exporter) writeSessions(f *excelize.File, sessions []Session, from, to time.Time) error {
	index, err := f.NewSheet(sessionsSheet)
	if err != nil {
		return fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)

	_ = f.SetCellValue(sessionsSheet, "A1", fmt.Sprintf("Period: %s - %s (%s)",
		from.In(e.loc).Format("02.01.2006"), to.In(e.loc).Format("02.01.2006"), e.loc))
	_ = f.MergeCell(sessionsSheet, "A1", "H1")
	titleStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 14},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	_ = f.SetCellStyle(sessionsSheet, "A1", "A1", titleStyle)

	headers := []string{"Date", "Time", "Mock type", "Room", "Participant", "Ticket", "Partner", "Partner ticket"}
	if err := writeHeader(f, sessionsSheet, 2, headers); err != nil {
		return err
	}

	for i, s := range sessions {
		local := s.ScheduleTime.In(e.loc)
		row := []any{
			local.Format("2006-01-02"),
			local.Format("15:04"),
			string(s.MockType),
			s.RoomID,
			s.FirstUserID,
			s.FirstTicket,
			s.SecondUserID,
			s.SecondTicket,
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+3)
		if err := f.SetSheetRow(sessionsSheet, cell, &row); err != nil {
			return fmt.Errorf("write session row: %w", err)
		}
	}

	_ = f.SetColWidth(sessionsSheet, "A", "C", 14)
	_ = f.SetColWidth(sessionsSheet, "D", "H", 38)
	return nil
}

// writeSummary counts sessions per day and mock type.
func (e *Exporter) writeSummary(f *excelize.File, sessions []Session) error {
	if _, err := f.NewSheet(summarySheet); err != nil {
		return fmt.Errorf("error creating sheet: %w", err)
	}
	if err := writeHeader(f, summarySheet, 1, []string{"Date", "Mock type", "Sessions"}); err != nil {
		return err
	}

	type key struct {
		day      string
		mockType models.MockType
	}
	counts := make(map[key]int)
	var order []key
	for _, s := range sessions {
		k := key{day: s.ScheduleTime.In(e.loc).Format("2006-01-02"), mockType: s.MockType}
		if counts[k] == 0 {
			order = append(order, k)
		}
		counts[k]++
	}

	for i, k := range order {
		row := []any{k.day, string(k.mockType), counts[k]}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(summarySheet, cell, &row); err != nil {
			return fmt.Errorf("write summary row: %w", err)
		}
	}
	_ = f.SetColWidth(summarySheet, "A", "B", 16)
	return nil
}

func writeHeader(f *excelize.File, sheet string, row int, headers []string) error {
	style, err := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, row)
		_ = f.SetCellValue(sheet, cell, h)
		_ = f.SetCellStyle(sheet, cell, cell, style)
	}
	return nil
}
