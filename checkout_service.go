package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
)

// TaskEnqueuer is the part of *asynq.Client the services need.
type TaskEnqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type CreateOrderRequest struct {
	DrinkID string       `json:"drinkId" validate:"required"`
	Options OrderOptions `json:"options"`
	Amount  *float64     `json:"amount,omitempty" validate:"omitempty,min=0"`
}

// CheckoutService drives an order from creation through payment into the queue.
type CheckoutService struct {
	orders   *OrderService
	payments *PaymentService
	queue    *QueueService
	lock     *KioskLock
	tasks    TaskEnqueuer
}

func NewCheckoutService(orders *OrderService, payments *PaymentService, queue *QueueService, lock *KioskLock, tasks TaskEnqueuer) *CheckoutService {
	return &CheckoutService{
		orders:   orders,
		payments: payments,
		queue:    queue,
		lock:     lock,
		tasks:    tasks,
	}
}

func (cs *CheckoutService) CreateOrder(req CreateOrderRequest) (Order, error) {
	drink, ok := FindDrink(req.DrinkID)
	if !ok {
		return Order{}, fmt.Errorf("drink %s: %w", req.DrinkID, ErrDrinkNotFound)
	}

	amount := CalculateAmount(drink, req.Options)
	if req.Amount != nil {
		amount = *req.Amount
	}
	order := cs.orders.Create(drink.ID, req.Options, amount)
	slog.Info("Order created", "orderID", order.ID, "drinkID", drink.ID, "amount", amount)
	return order, nil
}

// CreatePayment issues the QR payload for an order. An amount of zero charges the
// order amount. The payment expires server-side after the payment window.
func (cs *CheckoutService) CreatePayment(orderID string, amount float64) (PaymentResult, error) {
	order, err := cs.orders.Get(orderID)
	if err != nil {
		return PaymentResult{}, err
	}
	if amount == 0 {
		amount = order.Amount
	}

	result, err := cs.payments.Create(orderID, amount)
	if err != nil {
		return PaymentResult{}, err
	}
	if _, err := cs.orders.UpdateStatus(orderID, OrderAwaitingPayment); err != nil {
		return PaymentResult{}, err
	}

	if err := cs.scheduleExpiry(orderID); err != nil {
		slog.Error(fmt.Sprintf("cs.scheduleExpiry(%v)", orderID), "error", err)
	}
	return result, nil
}

func (cs *CheckoutService) scheduleExpiry(orderID string) error {
	task, err := NewPaymentExpireTask(orderID)
	if err != nil {
		return err
	}
	_, err = cs.tasks.Enqueue(task,
		asynq.ProcessIn(cs.payments.Expiry()),
		asynq.TaskID(TypePaymentExpire+":"+orderID),
		asynq.Queue("critical"),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

// ConfirmPayment handles the provider webhook. A paid order is admitted to the
// queue under sessionID; an expired or cancelled one is cancelled everywhere.
func (cs *CheckoutService) ConfirmPayment(orderID string, status PaymentStatus, sessionID string) (Order, error) {
	if status == "" {
		status = PaymentPaid
	}
	if status != PaymentPaid && status != PaymentExpired && status != PaymentCancelled {
		return Order{}, validationError("unsupported payment status %q", status)
	}
	current, err := cs.orders.Get(orderID)
	if err != nil {
		return Order{}, err
	}
	if info := cs.payments.Info(orderID); info.Exists && info.Status != PaymentPending {
		if info.Status == status {
			// Redelivered webhook.
			return current, nil
		}
		return Order{}, fmt.Errorf("payment for %s is %s: %w", orderID, info.Status, ErrPaymentNotPending)
	}

	switch status {
	case PaymentPaid:
		cs.payments.MarkAsPaid(orderID)
	case PaymentExpired:
		cs.payments.MarkAsExpired(orderID)
	case PaymentCancelled:
		cs.payments.MarkAsCancelled(orderID)
	}

	if status == PaymentPaid {
		order, err := cs.orders.UpdateStatus(orderID, OrderPaid)
		if err != nil {
			return Order{}, err
		}
		if _, err := cs.queue.AddToQueue(queueRequestFor(order, sessionID)); err != nil {
			return Order{}, err
		}
		return order, nil
	}
	return cs.cancel(orderID)
}

// ExpirePayment is run when the payment window closes. A payment settled in the
// meantime is left alone.
func (cs *CheckoutService) ExpirePayment(orderID string) (bool, error) {
	if !cs.payments.ExpireIfPending(orderID) {
		return false, nil
	}
	if _, err := cs.cancel(orderID); err != nil {
		return true, err
	}
	slog.Info("Payment expired", "orderID", orderID)
	return true, nil
}

func (cs *CheckoutService) cancel(orderID string) (Order, error) {
	order, err := cs.orders.UpdateStatus(orderID, OrderCancelled)
	if err != nil {
		return Order{}, err
	}
	if entry, err := cs.queue.GetEntry(orderID); err == nil && entry.Status == QueuePending {
		if err := cs.queue.CancelOrder(orderID); err != nil {
			return Order{}, err
		}
	}
	return order, nil
}

// AdmitToQueue is explicit admission for clients that build the summary themselves.
func (cs *CheckoutService) AdmitToQueue(req AddToQueueRequest) (QueueEntry, error) {
	return cs.queue.AddToQueue(req)
}

// StartDevice reserves the kiosk for a paid order that is next in line.
func (cs *CheckoutService) StartDevice(orderID string) (LockResult, error) {
	order, err := cs.orders.Get(orderID)
	if err != nil {
		return LockResult{}, err
	}
	if order.Status != OrderPaid {
		return LockResult{}, validationError("Order status is %s, expected PAID", order.Status)
	}
	if next := cs.queue.GetNextOrder(); next != nil && next.OrderID != orderID {
		return LockResult{}, fmt.Errorf("%w: order %s is next in queue", ErrConflict, next.OrderID)
	}

	res := cs.lock.Hold(orderID)
	if !res.Success {
		LockConflictsTotal.Inc()
		return res, fmt.Errorf("%w: %s", ErrKioskLocked, res.Message)
	}
	if _, err := cs.orders.UpdateStatus(orderID, OrderDispensing); err != nil {
		return LockResult{}, err
	}
	return LockResult{Success: true, Message: fmt.Sprintf("Device started for order %s", orderID)}, nil
}

func queueRequestFor(order Order, sessionID string) AddToQueueRequest {
	name := order.DrinkID
	if drink, ok := FindDrink(order.DrinkID); ok {
		name = drink.Name
	}
	toppings := make([]string, 0, len(order.Options.Toppings))
	for _, t := range order.Options.Toppings {
		if known, ok := FindTopping(t.ID); ok {
			toppings = append(toppings, known.Name)
		} else if t.Name != "" {
			toppings = append(toppings, t.Name)
		}
	}
	return AddToQueueRequest{
		OrderID:   order.ID,
		SessionID: sessionID,
		DrinkName: name,
		Toppings:  toppings,
		Total:     order.Amount,
		Size:      SizeLabel(order.Options.Size),
	}
}
