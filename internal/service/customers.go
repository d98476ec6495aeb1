package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"lpgdepot/backend/internal/domain"
	"lpgdepot/backend/internal/store"
	"lpgdepot/backend/internal/xid"
)

var phonePattern = regexp.MustCompile(`^[0-9+][0-9\-\s]{6,14}$`)

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerCreateRequest) (domain.Customer, error) {
	_, ownerID, err := s.requireCapability(ctx, domain.CapCustomerWrite)
	if err != nil {
		return domain.Customer{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Phone = strings.TrimSpace(req.Phone)
	if req.Name == "" || !phonePattern.MatchString(req.Phone) {
		return domain.Customer{}, store.ErrValidation
	}
	if req.CreditLimit < 0 {
		return domain.Customer{}, store.ErrValidation
	}

	customer := domain.Customer{
		ID:          xid.New("cust"),
		OwnerID:     ownerID,
		Name:        req.Name,
		Phone:       req.Phone,
		Email:       strings.TrimSpace(req.Email),
		Premises:    req.Premises,
		LoyaltyTier: domain.TierBronze,
		CreditLimit: req.CreditLimit,
		Active:      true,
		CreatedAt:   time.Now().UTC(),
	}

	created, err := s.repo.CreateCustomer(ctx, customer)
	if err != nil {
		return domain.Customer{}, err
	}

	s.logAudit(ctx, "customer_create", domain.ResourceCustomer, created.ID,
		fmt.Sprintf("name=%s,phone=%s", created.Name, created.Phone))

	return *created, nil
}

func (s *Service) GetCustomer(ctx context.Context, customerID string) (domain.Customer, error) {
	_, ownerID, err := s.requireCapability(ctx, domain.CapCustomerRead)
	if err != nil {
		return domain.Customer{}, err
	}
	customer, err := s.repo.GetCustomerByID(ctx, ownerID, customerID)
	if err != nil {
		return domain.Customer{}, err
	}
	return *customer, nil
}

func (s *Service) ListCustomers(ctx context.Context, search string, page, limit int) ([]domain.Customer, int, error) {
	_, ownerID, err := s.requireCapability(ctx, domain.CapCustomerRead)
	if err != nil {
		return nil, 0, err
	}
	if limit < 1 {
		limit = 50
	}
	return s.repo.ListCustomers(ctx, ownerID, search, page, limit)
}

func (s *Service) UpdateCustomer(ctx context.Context, customerID string, req domain.CustomerUpdateRequest) (domain.Customer, error) {
	_, ownerID, err := s.requireCapability(ctx, domain.CapCustomerWrite)
	if err != nil {
		return domain.Customer{}, err
	}

	existing, err := s.repo.GetCustomerByID(ctx, ownerID, customerID)
	if err != nil {
		return domain.Customer{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Customer{}, store.ErrValidation
		}
		updated.Name = name
	}
	if req.Phone != nil {
		phone := strings.TrimSpace(*req.Phone)
		if !phonePattern.MatchString(phone) {
			return domain.Customer{}, store.ErrValidation
		}
		updated.Phone = phone
	}
	if req.Email != nil {
		updated.Email = strings.TrimSpace(*req.Email)
	}
	if req.Premises != nil {
		updated.Premises = *req.Premises
	}
	if req.CreditLimit != nil {
		if *req.CreditLimit < 0 {
			return domain.Customer{}, store.ErrValidation
		}
		if *req.CreditLimit < updated.CurrentCredit {
			return domain.Customer{}, fmt.Errorf("%w: credit limit below outstanding credit", store.ErrConflict)
		}
		updated.CreditLimit = *req.CreditLimit
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}

	saved, err := s.repo.UpdateCustomer(ctx, updated)
	if err != nil {
		return domain.Customer{}, err
	}

	s.logAudit(ctx, "customer_update", domain.ResourceCustomer, saved.ID,
		fmt.Sprintf("active=%t,credit_limit=%d", saved.Active, saved.CreditLimit))

	return *saved, nil
}
