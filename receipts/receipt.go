// Package receipts renders settlement receipts for finished bookings and
// archives them as PDFs.
package receipts

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"time"

	"github.com/anjiri1684/rental_escrow/booking"
	"github.com/anjiri1684/rental_escrow/models"
)

//go:embed templates/receipt.html
var templateFS embed.FS

var receiptTmpl = template.Must(template.ParseFS(templateFS, "templates/receipt.html"))

var ErrNotSettled = errors.New("booking has not been settled")

const (
	KindReleased = "released"
	KindRefunded = "refunded"
)

type receiptData struct {
	Reference     string
	Title         string
	PaymentAmount string
	ServiceFee    string
	TotalAmount   string
	PayoutLabel   string
	Payout        string
	Method        string
	SettledAt     string
}

// Kind reports which settlement b went through, or "" if none yet.
func Kind(b models.Booking) string {
	switch {
	case b.Status == models.StatusCompleted && b.PaymentStatus == models.PaymentCompleted:
		return KindReleased
	case b.Status == models.StatusRefunded && b.PaymentStatus == models.PaymentRefunded:
		return KindRefunded
	}
	return ""
}

// RenderHTML renders the receipt for a settled booking.
func RenderHTML(b models.Booking) ([]byte, error) {
	data := receiptData{
		Reference:     b.ID.String(),
		PaymentAmount: money(b.PaymentAmount),
		ServiceFee:    money(b.ServiceFee),
		TotalAmount:   money(b.TotalAmount),
		Payout:        money(b.PaymentAmount),
		Method:        b.PaymentMethod,
	}

	var settled *time.Time
	switch Kind(b) {
	case KindReleased:
		data.Title = "Payment released"
		data.PayoutLabel = "Paid to owner"
		settled = b.PaymentReleasedAt
	case KindRefunded:
		data.Title = "Refund issued"
		data.PayoutLabel = "Refunded to renter"
		settled = b.RefundedAt
	default:
		return nil, ErrNotSettled
	}
	if settled == nil {
		settled = &b.UpdatedAt
	}
	data.SettledAt = settled.UTC().Format("2 January 2006 15:04 MST")

	var buf bytes.Buffer
	if err := receiptTmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render receipt: %w", err)
	}
	return buf.Bytes(), nil
}

func money(v float64) string {
	return fmt.Sprintf("%.2f", v)
}

type PDFRenderer interface {
	RenderPDF(ctx context.Context, html []byte) ([]byte, error)
}

type Uploader interface {
	Upload(ctx context.Context, data []byte, publicID string) (string, error)
}

type Store interface {
	SaveReceipt(ctx context.Context, r *models.Receipt) error
}

// Service archives a PDF receipt whenever a booking settles.
type Service struct {
	store    Store
	pdf      PDFRenderer
	uploader Uploader
	logger   *slog.Logger
}

func NewService(store Store, pdf PDFRenderer, uploader Uploader, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, pdf: pdf, uploader: uploader, logger: logger.With("component", "receipts")}
}

// OnSettled is registered as a notification hook for booking_completed
// and refund_processed.
func (s *Service) OnSettled(ctx context.Context, n booking.Notice) error {
	b := n.Booking
	kind := Kind(b)
	if kind == "" {
		return nil
	}

	html, err := RenderHTML(b)
	if err != nil {
		return err
	}
	pdf, err := s.pdf.RenderPDF(ctx, html)
	if err != nil {
		return fmt.Errorf("render receipt pdf: %w", err)
	}
	url, err := s.uploader.Upload(ctx, pdf, fmt.Sprintf("receipts/%s_%s", b.ID, kind))
	if err != nil {
		return fmt.Errorf("upload receipt: %w", err)
	}

	r := &models.Receipt{BookingID: b.ID, Kind: kind, URL: url, CreatedAt: n.At}
	if err := s.store.SaveReceipt(ctx, r); err != nil {
		return fmt.Errorf("save receipt: %w", err)
	}
	s.logger.Info("receipt archived", "booking_id", b.ID, "kind", kind, "url", url)
	return nil
}
