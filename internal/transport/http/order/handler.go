package order

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Additional-Code/allot/internal/dto"
	"github.com/Additional-Code/allot/internal/entity"
	"github.com/Additional-Code/allot/internal/presentation/http/response"
	service "github.com/Additional-Code/allot/internal/service/order"
	"github.com/Additional-Code/allot/pkg/errorbank"
)

var httpTracer = otel.Tracer("github.com/Additional-Code/allot/transport/http/order")

// PrincipalHeader carries the caller id resolved by the upstream gateway.
const PrincipalHeader = "X-Principal-ID"

// OrderService is the order surface exposed over HTTP.
type OrderService interface {
	Ingest(ctx context.Context, file io.Reader, createdBy int64) (*entity.Order, error)
	Get(ctx context.Context, id int64) (*entity.Order, error)
	ListVouchers(ctx context.Context, orderID int64, status string) ([]entity.Voucher, error)
	Materialize(ctx context.Context, id int64) (*entity.Order, error)
	ProcessOrder(ctx context.Context, id int64) (*service.DispatchReport, error)
}

// Handler exposes order endpoints over HTTP.
type Handler struct {
	svc OrderService
}

// NewHandler constructs an order Handler.
func NewHandler(svc OrderService) *Handler {
	return &Handler{svc: svc}
}

// Register routes with provided Echo group.
func Register(e *echo.Echo, h *Handler) {
	g := e.Group("/orders")
	g.POST("", h.ingest)
	g.GET("/:id", h.getByID)
	g.GET("/:id/vouchers", h.listVouchers)
	g.POST("/:id/materialize", h.materialize)
	g.POST("/:id/dispatch", h.dispatch)
}

func (h *Handler) getByID(c echo.Context) error {
	b := response.New(c)

	id, err := parseID(c)
	if err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.getByID", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	order, err := h.svc.Get(ctx, id)
	if err != nil {
		return b.WithError(err).Build()
	}

	return b.WithData(toDTO(order)).Build()
}

func (h *Handler) ingest(c echo.Context) error {
	b := response.New(c)

	principal, err := strconv.ParseInt(strings.TrimSpace(c.Request().Header.Get(PrincipalHeader)), 10, 64)
	if err != nil || principal <= 0 {
		return b.WithError(errorbank.BadRequest("missing or invalid " + PrincipalHeader)).Build()
	}

	header, err := c.FormFile("file")
	if err != nil {
		return b.WithError(errorbank.BadRequest("multipart field \"file\" is required", errorbank.WithCause(err))).Build()
	}
	file, err := header.Open()
	if err != nil {
		return b.WithError(errorbank.BadRequest("failed to open upload", errorbank.WithCause(err))).Build()
	}
	defer file.Close()

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.ingest", trace.WithAttributes(
		attribute.Int64("order.created_by", principal),
		attribute.String("upload.filename", header.Filename),
		attribute.Int64("upload.size", header.Size),
	))
	defer span.End()

	order, err := h.svc.Ingest(ctx, file, principal)
	if err != nil {
		return b.WithError(err).Build()
	}

	return b.WithStatus(http.StatusCreated).
		WithLocation(fmt.Sprintf("/orders/%d", order.ID)).
		WithData(toDTO(order)).
		Build()
}

func (h *Handler) listVouchers(c echo.Context) error {
	b := response.New(c)

	id, err := parseID(c)
	if err != nil {
		return b.WithError(err).Build()
	}
	status := strings.ToUpper(strings.TrimSpace(c.QueryParam("status")))

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.listVouchers", trace.WithAttributes(
		attribute.Int64("order.id", id),
		attribute.String("voucher.status", status),
	))
	defer span.End()

	vouchers, err := h.svc.ListVouchers(ctx, id, status)
	if err != nil {
		return b.WithError(err).Build()
	}

	out := make([]dto.VoucherResponse, 0, len(vouchers))
	for _, v := range vouchers {
		out = append(out, toVoucherDTO(v))
	}
	return b.WithData(out).WithMeta("count", len(out)).Build()
}

func (h *Handler) materialize(c echo.Context) error {
	b := response.New(c)

	id, err := parseID(c)
	if err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.materialize", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	order, err := h.svc.Materialize(ctx, id)
	if err != nil {
		return b.WithError(err).Build()
	}

	return b.WithData(toDTO(order)).Build()
}

func (h *Handler) dispatch(c echo.Context) error {
	b := response.New(c)

	id, err := parseID(c)
	if err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.dispatch", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	report, err := h.svc.ProcessOrder(ctx, id)
	if err != nil {
		return b.WithError(err).Build()
	}

	return b.WithData(dto.DispatchResponse{
		OrderID:   report.OrderID,
		Status:    report.Status.String(),
		Attempted: report.Attempted,
		Delivered: report.Delivered,
		Failed:    report.Failed,
		Skipped:   report.Skipped,
		Completed: report.Completed,
	}).Build()
}

func parseID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return 0, errorbank.BadRequest("invalid id", errorbank.WithCause(err))
	}
	return id, nil
}

func toDTO(order *entity.Order) dto.OrderResponse {
	return dto.OrderResponse{
		ID:               order.ID,
		ExternalRef:      order.ExternalRef,
		Status:           order.Status.String(),
		VoucherCount:     order.VoucherCount,
		ArtifactLocation: order.ArtifactLocation,
		CreatedBy:        order.CreatedBy,
		CreatedAt:        order.CreatedAt,
		UpdatedAt:        order.UpdatedAt,
	}
}

func toVoucherDTO(v entity.Voucher) dto.VoucherResponse {
	out := dto.VoucherResponse{
		ID:              v.ID,
		Code:            v.Code,
		Row:             v.RowIndex,
		RecipientName:   v.RecipientName,
		RecipientMobile: v.RecipientMobile,
		RecipientIDType: string(v.RecipientIDType),
		Status:          v.Status.String(),
		RetryCount:      v.RetryCount,
		Exhausted:       v.Exhausted,
		IssuerID:        v.IssuerID,
		UpdatedAt:       v.UpdatedAt,
	}
	if v.LastError != nil {
		out.LastError = *v.LastError
	}
	return out
}
