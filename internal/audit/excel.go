// Package audit exports bookings to spreadsheets for reconciliation.
package audit

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/dennisukpong/transport-booking/internal/models"
)

const bookingsSheet = "Bookings"

var bookingColumns = []string{
	"Reference", "User", "Route", "Departs", "Vehicle", "Passengers",
	"Amount", "Currency", "Status", "Payment", "Payment reference", "Created",
}

// BookingSource lists bookings created inside a time range.
type BookingSource interface {
	ListBookingsBetween(ctx context.Context, from, to time.Time) ([]models.BookingSummary, error)
}

// Exporter renders bookings as an xlsx workbook.
type Exporter struct {
	source BookingSource
	loc    *time.Location
}

func NewExporter(source BookingSource, loc *time.Location) *Exporter {
	if loc == nil {
		loc = time.UTC
	}
	return &Exporter{source: source, loc: loc}
}

// Export writes the bookings created in [from, to) to w and returns how many
// rows were written.
func (e *Exporter) Export(ctx context.Context, w io.Writer, from, to time.Time) (int, error) {
	if !from.Before(to) {
		return 0, fmt.Errorf("empty export range %s..%s", from.Format(time.RFC3339), to.Format(time.RFC3339))
	}
	list, err := e.source.ListBookingsBetween(ctx, from, to)
	if err != nil {
		return 0, fmt.Errorf("list bookings: %w", err)
	}
	if err := WriteBookings(w, list, e.loc); err != nil {
		return 0, err
	}
	return len(list), nil
}

// WriteBookings writes one sheet with a row per booking.
func WriteBookings(w io.Writer, list []models.BookingSummary, loc *time.Location) error {
	sw := newSheetWriter()
	defer sw.close()

	if err := sw.addSheet(bookingsSheet); err != nil {
		return err
	}
	if err := sw.writeHeader(bookingColumns); err != nil {
		return err
	}
	for i := range list {
		b := &list[i]
		row := []interface{}{
			b.Reference,
			b.UserID,
			b.Origin + " - " + b.Destination,
			b.DepartsAt.In(loc).Format("2006-01-02 15:04"),
			b.VehicleLabel,
			b.Passengers,
			b.TotalAmount,
			b.Currency,
			b.Status,
			b.PaymentStatus,
			b.PaymentReference,
			b.CreatedAt.In(loc).Format("2006-01-02 15:04:05"),
		}
		if err := sw.writeRow(row); err != nil {
			return fmt.Errorf("write booking %s: %w", b.Reference, err)
		}
	}
	return sw.save(w)
}

type sheetWriter struct {
	file  *excelize.File
	sheet string
	row   int
}

func newSheetWriter() *sheetWriter {
	return &sheetWriter{file: excelize.NewFile()}
}

func (w *sheetWriter) addSheet(name string) error {
	// Excel caps sheet names at 31 chars.
	if len(name) > 31 {
		name = name[:31]
	}
	if w.sheet == "" {
		if err := w.file.SetSheetName("Sheet1", name); err != nil {
			return fmt.Errorf("rename sheet: %w", err)
		}
	} else if _, err := w.file.NewSheet(name); err != nil {
		return fmt.Errorf("create sheet %s: %w", name, err)
	}
	w.sheet = name
	w.row = 1
	return nil
}

func (w *sheetWriter) writeHeader(columns []string) error {
	cells := make([]interface{}, len(columns))
	for i, c := range columns {
		cells[i] = c
	}
	start := w.row
	if err := w.writeRow(cells); err != nil {
		return err
	}

	style, err := w.file.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil
	}
	first, _ := excelize.CoordinatesToCellName(1, start)
	last, _ := excelize.CoordinatesToCellName(len(columns), start)
	_ = w.file.SetCellStyle(w.sheet, first, last, style)
	return nil
}

func (w *sheetWriter) writeRow(values []interface{}) error {
	if w.sheet == "" {
		return fmt.Errorf("no active sheet")
	}
	cell, err := excelize.CoordinatesToCellName(1, w.row)
	if err != nil {
		return err
	}
	if err := w.file.SetSheetRow(w.sheet, cell, &values); err != nil {
		return err
	}
	w.row++
	return nil
}

func (w *sheetWriter) save(out io.Writer) error {
	return w.file.Write(out)
}

func (w *sheetWriter) close() {
	_ = w.file.Close()
}
