// Package export renders bookings as Excel workbooks.
package export

import (
	"fmt"
	"io"
	"sort"

	"github.com/xuri/excelize/v2"

	"studiobook/internal/booking"
)

const maxSheetName = 31

var bookingColumns = []string{
	"ID", "Date", "Start", "End", "Duration (min)", "Purpose", "User", "Status", "Series", "Comment",
}

// sheetWriter appends rows to the sheets of one workbook.
type sheetWriter struct {
	file  *excelize.File
	sheet string
	row   int
	bold  int
}

func newSheetWriter() *sheetWriter {
	f := excelize.NewFile()
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		bold = 0
	}
	return &sheetWriter{file: f, bold: bold}
}

func (w *sheetWriter) addSheet(name string) error {
	if len([]rune(name)) > maxSheetName {
		name = string([]rune(name)[:maxSheetName])
	}
	if w.sheet == "" {
		// Reuse the default sheet for the first studio.
		if err := w.file.SetSheetName("Sheet1", name); err != nil {
			return fmt.Errorf("rename sheet %s: %w", name, err)
		}
	} else if _, err := w.file.NewSheet(name); err != nil {
		return fmt.Errorf("create sheet %s: %w", name, err)
	}
	w.sheet = name
	w.row = 1
	return nil
}

func (w *sheetWriter) writeRow(values []interface{}, header bool) error {
	for i, v := range values {
		cell, err := excelize.CoordinatesToCellName(i+1, w.row)
		if err != nil {
			return err
		}
		if err := w.file.SetCellValue(w.sheet, cell, v); err != nil {
			return err
		}
	}
	if header && w.bold != 0 {
		first, _ := excelize.CoordinatesToCellName(1, w.row)
		last, _ := excelize.CoordinatesToCellName(len(values), w.row)
		_ = w.file.SetCellStyle(w.sheet, first, last, w.bold)
	}
	w.row++
	return nil
}

// WriteBookings writes one sheet per studio, rows ordered by start time.
// An empty input yields a single "Bookings" sheet with only the header.
func WriteBookings(out io.Writer, bookings []booking.Booking) error {
	w := newSheetWriter()
	defer w.file.Close()

	groups := make(map[string][]booking.Booking)
	var names []string
	for _, b := range bookings {
		name := sheetName(b)
		if _, ok := groups[name]; !ok {
			names = append(names, name)
		}
		groups[name] = append(groups[name], b)
	}
	sort.Strings(names)
	if len(names) == 0 {
		names = []string{"Bookings"}
	}

	header := make([]interface{}, len(bookingColumns))
	for i, c := range bookingColumns {
		header[i] = c
	}

	for _, name := range names {
		if err := w.addSheet(name); err != nil {
			return err
		}
		if err := w.writeRow(header, true); err != nil {
			return err
		}
		rows := groups[name]
		sort.SliceStable(rows, func(i, j int) bool { return rows[i].StartTime.Before(rows[j].StartTime) })
		for _, b := range rows {
			if err := w.writeRow(bookingRow(b), false); err != nil {
				return fmt.Errorf("write booking %d: %w", b.ID, err)
			}
		}
		_ = w.file.SetColWidth(w.sheet, "F", "F", 30)
	}

	return w.file.Write(out)
}

func sheetName(b booking.Booking) string {
	if b.StudioName != "" {
		return b.StudioName
	}
	return fmt.Sprintf("Studio %d", b.StudioID)
}

func bookingRow(b booking.Booking) []interface{} {
	return []interface{}{
		b.ID,
		b.StartTime.Format("2006-01-02"),
		b.StartTime.Format("15:04"),
		b.EndTime.Format("15:04"),
		int(b.EndTime.Sub(b.StartTime).Minutes()),
		b.Purpose,
		b.UserID,
		string(b.Status),
		b.RecurringGroupID,
		b.Comment,
	}
}
