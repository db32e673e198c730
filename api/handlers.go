package api

import (
	"net/http"

	"github.com/adonese/allocation/allocator"
	"github.com/adonese/allocation/apperr"
	"github.com/adonese/allocation/stock"
	"github.com/adonese/allocation/store"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// Service holds the HTTP handlers for the allocation endpoints.
type Service struct {
	Bus    *allocator.Service
	Store  *store.Store
	Config stock.Config
	Logger *logrus.Logger
}

// AddBatch registers a new batch of purchased stock.
func (s *Service) AddBatch(c *fiber.Ctx) error {
	var cmd stock.CreateBatch
	switch bindingErr := bindJSON(c, &cmd).(type) {
	case validator.ValidationErrors:
		payload := apperr.WithFields(apperr.ErrValidation, validationFields(bindingErr))
		return jsonResponse(c, http.StatusBadRequest, apperr.Payload(payload))
	case nil:
		if _, err := s.Bus.Handle(c.UserContext(), cmd); err != nil {
			s.Logger.WithError(err).WithField("batchref", cmd.Ref).Error("add batch failed")
			return jsonResponse(c, apperr.Status(err), apperr.Payload(err))
		}
		return jsonResponse(c, http.StatusCreated, fiber.Map{"batchref": cmd.Ref})
	default:
		return jsonResponse(c, http.StatusBadRequest, fiber.Map{"code": "bad_request", "message": bindingErr.Error()})
	}
}

// Allocate allocates an order line and returns the chosen batch.
func (s *Service) Allocate(c *fiber.Ctx) error {
	var cmd stock.Allocate
	switch bindingErr := bindJSON(c, &cmd).(type) {
	case validator.ValidationErrors:
		payload := apperr.WithFields(apperr.ErrValidation, validationFields(bindingErr))
		return jsonResponse(c, http.StatusBadRequest, apperr.Payload(payload))
	case nil:
		results, err := s.Bus.Handle(c.UserContext(), cmd)
		if err != nil {
			s.Logger.WithError(err).WithField("orderid", cmd.OrderID).Error("allocate failed")
			return jsonResponse(c, apperr.Status(err), apperr.Payload(err))
		}
		if len(results) == 0 || results[0] == "" {
			return jsonResponse(c, apperr.ErrOutOfStock.Status,
				apperr.Payload(apperr.New(apperr.ErrOutOfStock.Code, apperr.ErrOutOfStock.Status,
					"out of stock for sku "+cmd.Sku)))
		}
		allocationsCounter.WithLabelValues(cmd.Sku).Inc()
		return jsonResponse(c, http.StatusAccepted, fiber.Map{"batchref": results[0]})
	default:
		return jsonResponse(c, http.StatusBadRequest, fiber.Map{"code": "bad_request", "message": bindingErr.Error()})
	}
}

// Allocations returns the read-model rows for one order.
func (s *Service) Allocations(c *fiber.Ctx) error {
	orderID := c.Params("orderid")
	views, err := s.Store.AllocationsByOrderID(c.UserContext(), orderID)
	if err != nil {
		s.Logger.WithError(err).WithField("orderid", orderID).Error("allocations view failed")
		return jsonResponse(c, http.StatusInternalServerError, apperr.Payload(apperr.Wrap(err, apperr.ErrDatabase, "")))
	}
	if len(views) == 0 {
		return jsonResponse(c, http.StatusNotFound, fiber.Map{"code": "not_found", "message": "order " + orderID + " has no allocations"})
	}
	return jsonResponse(c, http.StatusOK, views)
}

// Batch returns a single batch with its availability.
func (s *Service) Batch(c *fiber.Ctx) error {
	ref := c.Params("ref")
	record, err := s.Store.GetBatchByRef(c.UserContext(), ref)
	if err != nil {
		if store.ErrNotFound(err) {
			return jsonResponse(c, http.StatusNotFound, fiber.Map{"code": "not_found", "message": "unknown batch " + ref})
		}
		s.Logger.WithError(err).WithField("batchref", ref).Error("get batch failed")
		return jsonResponse(c, http.StatusInternalServerError, apperr.Payload(apperr.Wrap(err, apperr.ErrDatabase, "")))
	}
	return jsonResponse(c, http.StatusOK, fiber.Map{
		"batch":              record,
		"available_quantity": record.AvailableQuantity(),
	})
}

// IsAlive is the liveness probe.
func (s *Service) IsAlive(c *fiber.Ctx) error {
	return jsonResponse(c, http.StatusOK, fiber.Map{"message": true})
}
