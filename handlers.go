package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type Handlers struct {
	cfg                 Config
	clock               clock.Clock
	orderService        *OrderService
	paymentService      *PaymentService
	queueService        *QueueService
	kioskLock           *KioskLock
	checkoutService     *CheckoutService
	dispatcher          *Dispatcher
	notificationService *NotificationService
	stream              *QueueStream
	commands            *CommandService
}

// respondError maps an error class onto a status code. Anything unclassified is
// logged and answered with a generic 500.
func respondError(c echo.Context, err error) error {
	var code int
	switch {
	case errors.Is(err, ErrValidation):
		code = http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		code = http.StatusUnauthorized
	case errors.Is(err, ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, ErrConflict):
		code = http.StatusConflict
	case errors.Is(err, ErrNotificationsDisabled):
		code = http.StatusServiceUnavailable
	default:
		slog.Error(fmt.Sprintf("%s %s", c.Request().Method, c.Path()), "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}
	return c.JSON(code, map[string]string{"error": err.Error()})
}

// bindValid binds the request body and runs the struct validator.
func bindValid(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return validationError("Invalid request")
	}
	return c.Validate(req)
}

func (h *Handlers) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":      "healthy",
		"timestamp":   h.clock.Now(),
		"service":     "kiosk-queue",
		"environment": h.cfg.Environment,
	})
}

func (h *Handlers) GetMenu(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"drinks":   SampleDrinks,
		"toppings": SampleToppings,
	})
}

// Orders

func (h *Handlers) CreateOrder(c echo.Context) error {
	var req CreateOrderRequest
	if err := bindValid(c, &req); err != nil {
		return respondError(c, err)
	}

	order, err := h.checkoutService.CreateOrder(req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, order)
}

func (h *Handlers) GetOrder(c echo.Context) error {
	order, err := h.orderService.Get(c.Param("orderId"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, order)
}

type lockRequest struct {
	OrderID string `json:"orderId" validate:"required"`
}

func (h *Handlers) LockKiosk(c echo.Context) error {
	var req lockRequest
	if err := bindValid(c, &req); err != nil {
		return respondError(c, err)
	}

	res := h.kioskLock.Lock(req.OrderID)
	if !res.Success {
		LockConflictsTotal.Inc()
		return c.JSON(http.StatusConflict, map[string]string{"error": res.Message})
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handlers) UnlockKiosk(c echo.Context) error {
	if c.QueryParam("force") == "true" {
		return c.JSON(http.StatusOK, h.kioskLock.ForceUnlock())
	}
	return c.JSON(http.StatusOK, h.kioskLock.Unlock())
}

func (h *Handlers) KioskLockStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, h.kioskLock.Status())
}

// Payments

type createPaymentRequest struct {
	OrderID string  `json:"orderId" validate:"required"`
	Amount  float64 `json:"amount" validate:"min=0"`
}

func (h *Handlers) CreatePayment(c echo.Context) error {
	var req createPaymentRequest
	if err := bindValid(c, &req); err != nil {
		return respondError(c, err)
	}

	result, err := h.checkoutService.CreatePayment(req.OrderID, req.Amount)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

func (h *Handlers) GetPaymentStatus(c echo.Context) error {
	orderID := c.Param("orderId")
	return c.JSON(http.StatusOK, map[string]any{
		"orderId": orderID,
		"status":  h.paymentService.Status(orderID),
	})
}

type webhookRequest struct {
	OrderID   string        `json:"orderId" validate:"required"`
	Status    PaymentStatus `json:"status" validate:"omitempty,oneof=PAID EXPIRED CANCELLED"`
	SessionID string        `json:"sessionId"`
}

func (h *Handlers) MockWebhook(c echo.Context) error {
	var req webhookRequest
	if err := bindValid(c, &req); err != nil {
		return respondError(c, err)
	}

	order, err := h.checkoutService.ConfirmPayment(req.OrderID, req.Status, req.SessionID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success":     true,
		"orderId":     order.ID,
		"orderStatus": order.Status,
		"status":      h.paymentService.Status(order.ID),
	})
}

// Queue

func (h *Handlers) GetQueue(c echo.Context) error {
	snap := h.queueService.Snapshot()
	return c.JSON(http.StatusOK, map[string]any{
		"success":      true,
		"queue":        snap.Queue,
		"totalInQueue": snap.TotalInQueue,
	})
}

func (h *Handlers) AddToQueue(c echo.Context) error {
	var req AddToQueueRequest
	if err := bindValid(c, &req); err != nil {
		return respondError(c, err)
	}

	entry, err := h.checkoutService.AdmitToQueue(req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"queueOrder": map[string]any{
			"id":            entry.ID,
			"queuePosition": entry.QueuePosition,
			"estimatedTime": entry.EstimatedTime,
			"status":        entry.Status,
		},
	})
}

func (h *Handlers) GetProgress(c echo.Context) error {
	progress, err := h.queueService.GetProgress(c.Param("orderId"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, progress)
}

// Device

type startDeviceRequest struct {
	OrderID string `json:"orderId" validate:"required"`
}

func (h *Handlers) StartDevice(c echo.Context) error {
	var req startDeviceRequest
	if err := bindValid(c, &req); err != nil {
		return respondError(c, err)
	}

	res, err := h.checkoutService.StartDevice(req.OrderID)
	if errors.Is(err, ErrKioskLocked) {
		return c.JSON(http.StatusConflict, map[string]string{"error": res.Message})
	}
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handlers) DeviceHeartbeat(c echo.Context) error {
	active := []string{}
	for _, e := range h.queueService.GetQueueStatus() {
		if e.Status.InFlight() {
			active = append(active, e.OrderID)
		}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status":       "online",
		"activeOrders": active,
		"hardware":     h.queueService.ListHardware(),
		"timestamp":    h.clock.Now().UnixMilli(),
	})
}

// Hardware

func (h *Handlers) PollHardwareOrder(c echo.Context) error {
	hardwareID := c.QueryParam("hardwareId")
	if hardwareID == "" {
		hardwareID = DefaultHardwareID
	}

	entry, err := h.dispatcher.Poll(hardwareID)
	if err != nil {
		return respondError(c, err)
	}
	if entry == nil {
		return c.JSON(http.StatusOK, map[string]any{
			"success": true,
			"order":   nil,
			"message": "No pending orders",
		})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"order": map[string]any{
			"id":            entry.OrderID,
			"orderId":       entry.OrderID,
			"drinkName":     entry.Order.DrinkName,
			"toppings":      entry.Order.Toppings,
			"size":          entry.Order.Size,
			"queuePosition": entry.QueuePosition,
		},
		"message": "New order assigned to hardware",
	})
}

func (h *Handlers) ReportHardwareStatus(c echo.Context) error {
	var req StatusReport
	if err := bindValid(c, &req); err != nil {
		return respondError(c, err)
	}

	if err := h.dispatcher.Report(req); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"message": fmt.Sprintf("Order %s updated to %s", req.OrderID, req.Status),
	})
}

func (h *Handlers) GetHardwareStatus(c echo.Context) error {
	hardwareID := c.QueryParam("hardwareId")
	if hardwareID == "" {
		hardwareID = DefaultHardwareID
	}

	info, err := h.dispatcher.HardwareStatus(hardwareID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, info)
}

// TriggerCommand queues a one-off command for a device.
func (h *Handlers) TriggerCommand(c echo.Context) error {
	var req TriggerRequest
	if err := bindValid(c, &req); err != nil {
		return respondError(c, err)
	}

	cmd, err := h.commands.Enqueue(req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success":   true,
		"message":   "Command queued for hardware",
		"commandId": cmd.ID,
	})
}

func (h *Handlers) PollCommand(c echo.Context) error {
	cmd, err := h.commands.NextPending(c.QueryParam("hardwareId"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"command": cmd,
	})
}

func (h *Handlers) CompleteCommand(c echo.Context) error {
	cmd, err := h.commands.Complete(c.QueryParam("hardwareId"), c.Param("commandId"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"command": cmd,
	})
}

// StartTestBrew runs a canned order on the device. POST takes the order details,
// GET uses a generated test order.
func (h *Handlers) StartTestBrew(c echo.Context) error {
	req := TestBrewRequest{
		OrderID:    "test_" + uuid.New().String(),
		DrinkName:  "ชาไทย (ทดสอบ)",
		Toppings:   []string{"ไข่มุก", "วิปครีม"},
		HardwareID: c.QueryParam("hardwareId"),
	}
	if c.Request().Method == http.MethodPost {
		req = TestBrewRequest{}
		if err := c.Bind(&req); err != nil {
			return respondError(c, validationError("Invalid request"))
		}
	}

	entry, err := h.dispatcher.StartTestBrew(req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"message": fmt.Sprintf("Test brewing started for %s", entry.Order.DrinkName),
		"testOrder": map[string]any{
			"orderId":    entry.OrderID,
			"drinkName":  entry.Order.DrinkName,
			"toppings":   entry.Order.Toppings,
			"status":     entry.Status,
			"hardwareId": entry.HardwareID,
		},
	})
}

// Notifications

func (h *Handlers) NotificationToken(c echo.Context) error {
	token, err := h.notificationService.GrantToken(c.Request().Context())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"token": token})
}
